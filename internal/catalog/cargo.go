package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"

	"github.com/vk/elfmagic/internal/ctxlog"
)

// cargoMetadata mirrors the slice of `cargo metadata` JSON output the
// provider cares about.
type cargoMetadata struct {
	WorkspaceRoot string         `json:"workspace_root"`
	Packages      []cargoPackage `json:"packages"`
}

type cargoPackage struct {
	Name         string        `json:"name"`
	ManifestPath string        `json:"manifest_path"`
	Targets      []cargoTarget `json:"targets"`
}

type cargoTarget struct {
	Name       string   `json:"name"`
	CrateTypes []string `json:"crate_types"`
}

// CargoProvider discovers candidates by shelling out to `cargo metadata`.
// It yields one candidate per cdylib target in the workspace.
type CargoProvider struct{}

// NewCargoProvider returns the production metadata provider.
func NewCargoProvider() *CargoProvider {
	return &CargoProvider{}
}

// Discover implements Provider.
func (p *CargoProvider) Discover(ctx context.Context, manifestPath string) ([]Candidate, error) {
	logger := ctxlog.FromContext(ctx)

	cmd := exec.CommandContext(ctx, "cargo", "metadata",
		"--format-version", "1",
		"--no-deps",
		"--manifest-path", manifestPath,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := bytes.TrimSpace(stderr.Bytes())
		if len(detail) > 0 {
			err = fmt.Errorf("cargo metadata: %s", detail)
		} else {
			err = fmt.Errorf("cargo metadata: %w", err)
		}
		return nil, &DiscoveryError{ManifestPath: manifestPath, Err: err}
	}

	candidates, err := decodeMetadata(stdout.Bytes())
	if err != nil {
		return nil, &DiscoveryError{ManifestPath: manifestPath, Err: err}
	}

	logger.Debug("workspace discovered", "manifest", manifestPath, "candidates", len(candidates))
	return candidates, nil
}

// decodeMetadata extracts one candidate per cdylib target from raw
// `cargo metadata` JSON.
func decodeMetadata(raw []byte) ([]Candidate, error) {
	var meta cargoMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("decode cargo metadata: %w", err)
	}

	var candidates []Candidate
	for _, pkg := range meta.Packages {
		for _, target := range pkg.Targets {
			if !containsCrateType(target.CrateTypes, "cdylib") {
				continue
			}
			candidates = append(candidates, Candidate{
				TargetName:    target.Name,
				PackageName:   pkg.Name,
				ManifestPath:  pkg.ManifestPath,
				PackageDir:    filepath.Dir(pkg.ManifestPath),
				WorkspaceRoot: meta.WorkspaceRoot,
				ArtifactName:  target.Name,
			})
		}
	}
	return candidates, nil
}

func containsCrateType(types []string, want string) bool {
	for _, t := range types {
		if t == want {
			return true
		}
	}
	return false
}
