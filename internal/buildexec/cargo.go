package buildexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/vk/elfmagic/internal/catalog"
	"github.com/vk/elfmagic/internal/ctxlog"
)

// CargoSBF builds candidates with `cargo build-sbf`. Artifacts land in the
// workspace's target/deploy directory (or CARGO_TARGET_DIR when set).
type CargoSBF struct{}

// NewCargoSBF returns the production build executor.
func NewCargoSBF() *CargoSBF {
	return &CargoSBF{}
}

// Build implements Executor.
func (e *CargoSBF) Build(ctx context.Context, c catalog.Candidate) (string, error) {
	logger := ctxlog.FromContext(ctx).With("target", c.TargetName)
	logger.Info("building program")

	cmd := exec.CommandContext(ctx, "cargo", "build-sbf", "--manifest-path", c.ManifestPath)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if errors.Is(ctxErr, context.DeadlineExceeded) {
				return "", &BuildError{Target: c.TargetName, Err: fmt.Errorf("build timed out")}
			}
			return "", &BuildError{Target: c.TargetName, Err: ctxErr}
		}
		detail := bytes.TrimSpace(stderr.Bytes())
		if len(detail) > 0 {
			err = fmt.Errorf("cargo build-sbf: %s", detail)
		}
		return "", &BuildError{Target: c.TargetName, Err: err}
	}

	artifact := filepath.Join(e.targetDir(c), "deploy", c.ArtifactName+".so")
	if _, err := os.Stat(artifact); err != nil {
		return "", &BuildError{Target: c.TargetName, Err: fmt.Errorf("build succeeded but artifact %s is missing", artifact)}
	}

	logger.Info("program built", "artifact", artifact)
	return artifact, nil
}

// targetDir honors CARGO_TARGET_DIR, falling back to the workspace's own
// target directory.
func (e *CargoSBF) targetDir(c catalog.Candidate) string {
	if dir := os.Getenv("CARGO_TARGET_DIR"); dir != "" {
		return dir
	}
	return filepath.Join(c.WorkspaceRoot, "target")
}
