// Package config loads and validates the elfmagic.hcl project configuration.
// It normalizes field aliases, applies mode defaults, and compiles the glob
// patterns once so the resolver works on validated values only.
package config

import (
	"fmt"

	"github.com/vk/elfmagic/internal/pattern"
)

// Mode is the selection policy governing default inclusion polarity.
type Mode int

const (
	// ModeMagic includes every candidate in the current workspace.
	ModeMagic Mode = iota
	// ModePermissive includes everything not matched by a deny pattern.
	ModePermissive
	// ModeLaserEyes includes only candidates matched by a workspace's only list.
	ModeLaserEyes
)

// String returns the mode's config-file spelling.
func (m Mode) String() string {
	switch m {
	case ModePermissive:
		return "permissive"
	case ModeLaserEyes:
		return "laser-eyes"
	default:
		return "magic"
	}
}

// Workspace is one validated workspace entry.
type Workspace struct {
	// ManifestPath is resolved relative to the config file's directory.
	ManifestPath string
	// Deny holds the workspace-local deny patterns (permissive mode).
	Deny []pattern.Pattern
	// Only holds the inclusion patterns (laser-eyes mode). It is non-nil in
	// laser-eyes mode even when empty: an empty list means "build nothing
	// from this workspace".
	Only []pattern.Pattern
}

// Config is the validated project configuration for one run.
type Config struct {
	Mode       Mode
	GlobalDeny []pattern.Pattern
	Workspaces []Workspace

	// ConstantOverrides maps a candidate manifest path to an explicit
	// constant name, taking precedence over the derived one.
	ConstantOverrides map[string]string
	// TargetOverrides maps a candidate manifest path to a replacement
	// artifact base name.
	TargetOverrides map[string]string

	// Warnings accumulates non-fatal findings (malformed patterns); they are
	// surfaced in the run report, never aborting the run.
	Warnings []string

	// BaseDir is the directory the config file lives in; relative paths in
	// the file resolve against it.
	BaseDir string
}

// Error is the fatal configuration error: a missing required field, an
// unrecognized mode, or unparseable HCL. It aborts the run before any
// discovery or building happens.
type Error struct {
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to parse config: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("failed to parse config: %s", e.Message)
}

// Unwrap exposes the underlying cause, when any.
func (e *Error) Unwrap() error {
	return e.Err
}

func configErrorf(format string, args ...any) *Error {
	return &Error{Message: fmt.Sprintf(format, args...)}
}
