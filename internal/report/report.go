// Package report renders a run's outcome for humans (stdout) and for
// machines (YAML file).
package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Row is one candidate's line in the report.
type Row struct {
	Target string `yaml:"target"`
	// Included is false for candidates the resolver excluded.
	Included bool `yaml:"included"`
	// Reason explains an exclusion or a failure; empty for clean inclusions.
	Reason string `yaml:"reason,omitempty"`
	// Cached marks inclusions satisfied without a build.
	Cached bool `yaml:"cached,omitempty"`
	// Failed marks inclusions whose build failed.
	Failed bool `yaml:"failed,omitempty"`
}

// Workspace groups rows under the workspace that discovered them.
type Workspace struct {
	ManifestPath string `yaml:"manifest_path"`
	Rows         []Row  `yaml:"programs"`
}

// Report is the complete run summary.
type Report struct {
	Mode       string      `yaml:"mode"`
	Workspaces []Workspace `yaml:"workspaces"`
	Built      int         `yaml:"built"`
	Cached     int         `yaml:"cached"`
	Excluded   int         `yaml:"excluded"`
	Failed     int         `yaml:"failed"`
	Warnings   []string    `yaml:"warnings,omitempty"`
	// DryRun renders inclusions as pending work instead of finished builds.
	DryRun bool `yaml:"dry_run,omitempty"`
}

// Render writes the human-readable report.
func (r *Report) Render(w io.Writer) {
	fmt.Fprintf(w, "Mode: %s (%d workspaces specified)\n", r.Mode, len(r.Workspaces))

	for _, ws := range r.Workspaces {
		fmt.Fprintf(w, "\nworkspace %s:\n", ws.ManifestPath)
		for _, row := range ws.Rows {
			fmt.Fprintf(w, "  %s\n", r.formatRow(row))
		}
		if len(ws.Rows) == 0 {
			fmt.Fprintln(w, "  (no programs discovered)")
		}
	}

	fmt.Fprintf(w, "\nbuilt %d, cached %d, excluded %d, failed %d\n", r.Built, r.Cached, r.Excluded, r.Failed)

	if len(r.Warnings) > 0 {
		fmt.Fprintln(w, "\nwarnings:")
		for _, warning := range r.Warnings {
			fmt.Fprintf(w, "  - %s\n", warning)
		}
	}
}

func (r *Report) formatRow(row Row) string {
	switch {
	case !row.Included:
		return fmt.Sprintf("- %s (%s)", row.Target, row.Reason)
	case row.Failed:
		return fmt.Sprintf("- %s (build failed: %s)", row.Target, row.Reason)
	case row.Cached:
		return fmt.Sprintf("+ %s (cached)", row.Target)
	case r.DryRun:
		return fmt.Sprintf("+ %s (would build)", row.Target)
	default:
		return fmt.Sprintf("+ %s", row.Target)
	}
}

// WriteYAML persists the report to path for downstream tooling.
func (r *Report) WriteYAML(path string) error {
	out, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("write report %s: %w", path, err)
		}
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("write report %s: %w", path, err)
	}
	return nil
}
