// Package catalog defines the candidate model and the workspace metadata
// provider interface the engine consumes. The provider is authoritative for
// which compiled-artifact targets exist in a workspace; the engine never
// second-guesses it.
package catalog

import (
	"context"
	"fmt"
)

// Candidate is one discoverable compiled-artifact target within a workspace.
// Its identity (workspace + target name) is immutable for a run.
type Candidate struct {
	// TargetName is the library target name, unique within its workspace.
	TargetName string
	// PackageName is the owning package's name, which may differ from the
	// target name.
	PackageName string
	// ManifestPath is the absolute path to the candidate's own manifest.
	ManifestPath string
	// PackageDir is the directory holding the candidate's manifest and
	// sources; it is the root for fingerprinting.
	PackageDir string
	// WorkspaceRoot is the root directory of the owning workspace, where
	// build artifacts land.
	WorkspaceRoot string
	// ArtifactName is the base name of the produced artifact. It defaults to
	// TargetName and may be rewritten by a target override.
	ArtifactName string

	// WorkspaceIdx is the declaration order of the owning workspace in the
	// configuration; DiscoveryIdx is the candidate's order within it. The
	// pair fixes the deterministic output order for the whole run.
	WorkspaceIdx int
	DiscoveryIdx int
}

// ID returns the stable cache identity for the candidate.
func (c Candidate) ID() string {
	return c.ManifestPath + "::" + c.TargetName
}

// String renders the candidate the way reports refer to it.
func (c Candidate) String() string {
	return fmt.Sprintf("%s (%s)", c.TargetName, c.ManifestPath)
}

// Provider discovers the candidate catalog for a workspace manifest. It is
// treated as synchronous and authoritative; a failure is fatal for that
// workspace.
type Provider interface {
	Discover(ctx context.Context, manifestPath string) ([]Candidate, error)
}

// DiscoveryError is the fatal error raised when the metadata provider fails
// for a workspace manifest.
type DiscoveryError struct {
	ManifestPath string
	Err          error
}

// Error implements the error interface.
func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("failed to discover workspace %s: %v", e.ManifestPath, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *DiscoveryError) Unwrap() error {
	return e.Err
}

// Deduplicate collapses candidates that share a manifest path, keeping the
// first occurrence. Two workspaces can legitimately discover the same package
// (shared path dependencies); building it twice would emit duplicate
// constants.
func Deduplicate(candidates []Candidate) []Candidate {
	seen := make(map[string]struct{}, len(candidates))
	out := candidates[:0:0]
	for _, c := range candidates {
		if _, dup := seen[c.ManifestPath]; dup {
			continue
		}
		seen[c.ManifestPath] = struct{}{}
		out = append(out, c)
	}
	return out
}
