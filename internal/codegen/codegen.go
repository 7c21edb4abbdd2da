// Package codegen turns built artifacts into the consumable output directory:
// copied .so blobs, a Go embed source file, and a machine-readable manifest.
package codegen

import (
	"fmt"
	"strings"

	"github.com/vk/elfmagic/internal/catalog"
)

// Input is one successfully resolved program ready for emission.
type Input struct {
	Candidate    catalog.Candidate
	ArtifactPath string
}

// Binding is the fully derived emission row: the Go constant name, the file
// the bytes are copied to, and where they came from.
type Binding struct {
	Constant    string
	FileName    string
	TargetName  string
	CandidateID string
	SourcePath  string
}

// IdentifierCollisionError reports two programs deriving the same constant
// name. It is fatal and raised before any output is written.
type IdentifierCollisionError struct {
	Constant string
	Targets  []string
}

// Error implements the error interface.
func (e *IdentifierCollisionError) Error() string {
	return fmt.Sprintf("constant %s is derived from multiple programs (%s); disambiguate with a constants override",
		e.Constant, strings.Join(e.Targets, ", "))
}

// DeriveConstant maps a target name to its Go constant form: uppercased, with
// every run of non-alphanumeric characters collapsed to a single underscore,
// and a leading digit guarded by an underscore prefix.
func DeriveConstant(name string) string {
	var b strings.Builder
	inRun := false
	for _, r := range strings.ToUpper(name) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			inRun = false
		} else if !inRun {
			b.WriteByte('_')
			inRun = true
		}
	}
	s := b.String()
	if s == "" {
		return "_"
	}
	if s[0] >= '0' && s[0] <= '9' {
		s = "_" + s
	}
	return s
}

// PlanBindings derives every binding and validates uniqueness. overrides maps
// a candidate's manifest path to an explicit constant name that takes
// precedence over derivation. Input order is preserved.
func PlanBindings(inputs []Input, overrides map[string]string) ([]Binding, error) {
	bindings := make([]Binding, 0, len(inputs))
	byConstant := map[string][]string{}
	byFile := map[string][]string{}

	for _, in := range inputs {
		c := in.Candidate
		constant, ok := overrides[c.ManifestPath]
		if !ok {
			constant = DeriveConstant(c.TargetName)
		}
		file := c.TargetName + ".so"

		byConstant[constant] = append(byConstant[constant], c.TargetName)
		byFile[file] = append(byFile[file], c.TargetName)
		bindings = append(bindings, Binding{
			Constant:    constant,
			FileName:    file,
			TargetName:  c.TargetName,
			CandidateID: c.ID(),
			SourcePath:  in.ArtifactPath,
		})
	}

	for _, b := range bindings {
		if targets := byConstant[b.Constant]; len(targets) > 1 {
			return nil, &IdentifierCollisionError{Constant: b.Constant, Targets: targets}
		}
		if targets := byFile[b.FileName]; len(targets) > 1 {
			return nil, &IdentifierCollisionError{Constant: b.FileName, Targets: targets}
		}
	}
	return bindings, nil
}
