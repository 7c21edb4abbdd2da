// Package buildexec wraps the native build executor the orchestrator drives.
// One invocation builds one candidate and either yields the path to its
// artifact bytes or a failure detail; invocations are assumed independent of
// one another.
package buildexec

import (
	"context"
	"fmt"

	"github.com/vk/elfmagic/internal/catalog"
)

// Executor produces a candidate's compiled artifact. Implementations must
// respect ctx cancellation; the orchestrator uses it for per-build timeouts
// and whole-run interrupts.
type Executor interface {
	Build(ctx context.Context, c catalog.Candidate) (artifactPath string, err error)
}

// BuildError is the non-fatal per-candidate failure: the candidate is
// excluded from the run's output and the run continues.
type BuildError struct {
	Target string
	Err    error
}

// Error implements the error interface.
func (e *BuildError) Error() string {
	return fmt.Sprintf("failed to build program %s: %v", e.Target, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *BuildError) Unwrap() error {
	return e.Err
}
