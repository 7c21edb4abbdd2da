package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/elfmagic/internal/ctxlog"
	"github.com/vk/elfmagic/internal/pattern"
)

// fileRoot is the raw shape of an elfmagic.hcl file before validation.
type fileRoot struct {
	Mode       *string          `hcl:"mode,optional"`
	GlobalDeny *[]string        `hcl:"global_deny,optional"`
	Workspaces []workspaceBlock `hcl:"workspace,block"`
	Constants  hcl.Expression   `hcl:"constants,optional"`
	Targets    hcl.Expression   `hcl:"targets,optional"`
}

// workspaceBlock is one raw `workspace { ... }` block. Pointer fields
// distinguish an absent attribute from an explicitly empty list, which
// matters for laser-eyes validation.
type workspaceBlock struct {
	ManifestPath string    `hcl:"manifest_path"`
	Deny         *[]string `hcl:"deny,optional"`
	Exclude      *[]string `hcl:"exclude,optional"`
	Only         *[]string `hcl:"only,optional"`
}

// Load reads and validates the configuration file at path. A missing file is
// not an error: it yields the default magic-mode configuration rooted at the
// file's directory, matching the "absent mode means magic" default.
func Load(ctx context.Context, path string) (*Config, error) {
	logger := ctxlog.FromContext(ctx)

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, &Error{Message: fmt.Sprintf("resolve config path %s", path), Err: err}
	}
	baseDir := filepath.Dir(abs)

	if _, err := os.Stat(abs); os.IsNotExist(err) {
		logger.Debug("no config file found, defaulting to magic mode", "path", abs)
		return Default(baseDir), nil
	}

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(abs)
	if diags.HasErrors() {
		return nil, &Error{Message: fmt.Sprintf("invalid HCL in %s", path), Err: diags}
	}

	var root fileRoot
	if diags := gohcl.DecodeBody(file.Body, nil, &root); diags.HasErrors() {
		return nil, &Error{Message: fmt.Sprintf("invalid config in %s", path), Err: diags}
	}

	cfg, err := translate(&root, baseDir)
	if err != nil {
		return nil, err
	}

	logger.Debug("configuration loaded",
		"mode", cfg.Mode.String(),
		"workspaces", len(cfg.Workspaces),
		"warnings", len(cfg.Warnings),
	)
	return cfg, nil
}

// Default returns the magic-mode configuration used when no config file
// exists: the workspace rooted at baseDir, everything included.
func Default(baseDir string) *Config {
	return &Config{
		Mode:    ModeMagic,
		BaseDir: baseDir,
		Workspaces: []Workspace{
			{ManifestPath: filepath.Join(baseDir, "Cargo.toml")},
		},
	}
}

// translate validates the raw file shape into a Config, applying mode
// defaults and normalizing the deny/exclude alias.
func translate(root *fileRoot, baseDir string) (*Config, error) {
	cfg := &Config{Mode: ModeMagic, BaseDir: baseDir}

	if root.Mode != nil {
		switch *root.Mode {
		case "magic":
			cfg.Mode = ModeMagic
		case "permissive":
			cfg.Mode = ModePermissive
		case "laser-eyes":
			cfg.Mode = ModeLaserEyes
		default:
			return nil, configErrorf("unknown mode %q; expected \"magic\", \"permissive\", or \"laser-eyes\"", *root.Mode)
		}
	}

	var err error
	if cfg.ConstantOverrides, err = decodeOverrideMap(root.Constants, "constants", baseDir); err != nil {
		return nil, err
	}
	if cfg.TargetOverrides, err = decodeOverrideMap(root.Targets, "targets", baseDir); err != nil {
		return nil, err
	}

	switch cfg.Mode {
	case ModeMagic:
		if len(root.Workspaces) > 0 {
			return nil, configErrorf("magic mode takes no workspace blocks; use permissive or laser-eyes mode")
		}
		if root.GlobalDeny != nil {
			return nil, configErrorf("magic mode takes no global_deny patterns")
		}
		cfg.Workspaces = Default(baseDir).Workspaces

	case ModePermissive:
		if len(root.Workspaces) == 0 {
			return nil, configErrorf("permissive mode requires a workspaces list")
		}
		if root.GlobalDeny != nil {
			cfg.GlobalDeny = cfg.compilePatterns(*root.GlobalDeny)
		}
		for _, ws := range root.Workspaces {
			if ws.Only != nil {
				return nil, configErrorf("workspace %s: \"only\" is a laser-eyes field; use \"deny\" in permissive mode", ws.ManifestPath)
			}
			deny := ws.Deny
			if ws.Exclude != nil {
				if deny != nil {
					return nil, configErrorf("workspace %s: \"deny\" and \"exclude\" are aliases; set only one", ws.ManifestPath)
				}
				deny = ws.Exclude
			}
			entry := Workspace{ManifestPath: resolvePath(baseDir, ws.ManifestPath)}
			if deny != nil {
				entry.Deny = cfg.compilePatterns(*deny)
			}
			cfg.Workspaces = append(cfg.Workspaces, entry)
		}

	case ModeLaserEyes:
		if len(root.Workspaces) == 0 {
			return nil, configErrorf("laser-eyes mode requires a workspaces list")
		}
		if root.GlobalDeny != nil {
			return nil, configErrorf("laser-eyes mode takes no global_deny patterns; use per-workspace \"only\" lists")
		}
		for _, ws := range root.Workspaces {
			if ws.Deny != nil || ws.Exclude != nil {
				return nil, configErrorf("workspace %s: deny patterns are a permissive-mode field; laser-eyes uses \"only\"", ws.ManifestPath)
			}
			if ws.Only == nil {
				return nil, configErrorf("workspace %s: laser-eyes mode requires an explicit \"only\" list (an empty list means build nothing)", ws.ManifestPath)
			}
			entry := Workspace{
				ManifestPath: resolvePath(baseDir, ws.ManifestPath),
				Only:         cfg.compilePatterns(*ws.Only),
			}
			cfg.Workspaces = append(cfg.Workspaces, entry)
		}
	}

	return cfg, nil
}

// compilePatterns parses each pattern string, keeping malformed ones as
// always-false patterns and recording one warning per occurrence.
func (c *Config) compilePatterns(sources []string) []pattern.Pattern {
	out := make([]pattern.Pattern, 0, len(sources))
	for _, src := range sources {
		p, err := pattern.Parse(src)
		if err != nil {
			c.Warnings = append(c.Warnings, err.Error())
		}
		out = append(out, p)
	}
	return out
}

// decodeOverrideMap evaluates a constants/targets attribute into a map keyed
// by resolved manifest-or-package paths.
func decodeOverrideMap(expr hcl.Expression, name, baseDir string) (map[string]string, error) {
	if expr == nil {
		return nil, nil
	}
	val, diags := expr.Value(nil)
	if diags.HasErrors() {
		return nil, &Error{Message: fmt.Sprintf("invalid %s map", name), Err: diags}
	}
	if val.IsNull() {
		return nil, nil
	}
	ty := val.Type()
	if !ty.IsObjectType() && !ty.IsMapType() {
		return nil, configErrorf("%s must be a map of path to name, got %s", name, ty.FriendlyName())
	}

	out := make(map[string]string)
	for key, v := range val.AsValueMap() {
		if v.Type() != cty.String || v.IsNull() {
			return nil, configErrorf("%s[%q] must be a string", name, key)
		}
		out[resolvePath(baseDir, key)] = v.AsString()
	}
	return out, nil
}

func resolvePath(baseDir, path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Clean(filepath.Join(baseDir, path))
}
