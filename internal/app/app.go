// Package app wires the full pipeline: configuration, discovery, resolution,
// cached builds, and output generation. The CLI layer stays thin; everything
// testable lives here behind injected provider and executor implementations.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vk/elfmagic/internal/buildexec"
	"github.com/vk/elfmagic/internal/cache"
	"github.com/vk/elfmagic/internal/catalog"
	"github.com/vk/elfmagic/internal/codegen"
	"github.com/vk/elfmagic/internal/config"
	"github.com/vk/elfmagic/internal/ctxlog"
	"github.com/vk/elfmagic/internal/orchestrator"
	"github.com/vk/elfmagic/internal/pattern"
	"github.com/vk/elfmagic/internal/report"
	"github.com/vk/elfmagic/internal/resolver"
)

// Options carries one run's effective runtime settings.
type Options struct {
	ConfigPath   string
	Workers      int
	BuildTimeout time.Duration
	CachePath    string
	OutDir       string
	ReportFile   string
	// DryRun resolves and reports without building or writing output.
	DryRun bool
}

// App is the engine with its two external effect points injected.
type App struct {
	provider catalog.Provider
	executor buildexec.Executor
}

// New constructs the engine around a metadata provider and build executor.
func New(provider catalog.Provider, executor buildexec.Executor) *App {
	return &App{provider: provider, executor: executor}
}

// Run executes one full pipeline pass and returns the run report. The error
// is non-nil only for fatal conditions (config, discovery, identifier
// collision); individual build failures are carried inside the report.
func (a *App) Run(ctx context.Context, opts Options) (*report.Report, error) {
	logger := ctxlog.FromContext(ctx)

	cfg, err := config.Load(ctx, opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	warnings := append([]string(nil), cfg.Warnings...)

	candidates, err := a.discoverAll(ctx, cfg)
	if err != nil {
		return nil, err
	}
	candidates = catalog.Deduplicate(candidates)

	decisions := resolveAll(cfg, candidates)
	var included []catalog.Candidate
	for _, d := range decisions {
		if d.Included {
			included = append(included, d.Candidate)
		}
	}
	logger.Info("candidates resolved",
		"mode", cfg.Mode.String(),
		"discovered", len(candidates),
		"included", len(included),
	)

	// Collisions abort before any artifact is built or file written.
	if _, err := planBindings(included, nil, cfg.ConstantOverrides); err != nil {
		return nil, err
	}

	store, storeWarning := a.openStore(ctx, opts)
	if storeWarning != "" {
		warnings = append(warnings, storeWarning)
	}

	var outcomes []orchestrator.Outcome
	if opts.DryRun {
		outcomes = planOutcomes(store, included)
	} else {
		outcomes = orchestrator.New(a.executor, store, opts.Workers, opts.BuildTimeout).Run(ctx, included)

		bindings, err := planBindings(nil, successes(outcomes), cfg.ConstantOverrides)
		if err != nil {
			return nil, err
		}
		if err := codegen.NewGenerator(opts.OutDir).Emit(ctx, bindings); err != nil {
			return nil, err
		}
	}

	rep := buildReport(cfg, decisions, outcomes, warnings, opts.DryRun)
	if opts.ReportFile != "" {
		if err := rep.WriteYAML(opts.ReportFile); err != nil {
			return rep, err
		}
	}
	return rep, nil
}

// discoverAll walks the configured workspaces in declaration order, applies
// target overrides, and stamps each candidate's deterministic position.
func (a *App) discoverAll(ctx context.Context, cfg *config.Config) ([]catalog.Candidate, error) {
	var all []catalog.Candidate
	for wsIdx, ws := range cfg.Workspaces {
		found, err := a.provider.Discover(ctx, ws.ManifestPath)
		if err != nil {
			if _, ok := err.(*catalog.DiscoveryError); ok {
				return nil, err
			}
			return nil, &catalog.DiscoveryError{ManifestPath: ws.ManifestPath, Err: err}
		}
		for i, c := range found {
			c.WorkspaceIdx = wsIdx
			c.DiscoveryIdx = i
			if name, ok := cfg.TargetOverrides[c.ManifestPath]; ok {
				c.TargetName = name
				c.ArtifactName = name
			}
			all = append(all, c)
		}
	}
	return all, nil
}

// resolveAll runs the resolver per workspace with that workspace's local
// patterns, preserving the deterministic candidate order.
func resolveAll(cfg *config.Config, candidates []catalog.Candidate) []resolver.Decision {
	decisions := make([]resolver.Decision, 0, len(candidates))
	for wsIdx, ws := range cfg.Workspaces {
		var local []pattern.Pattern
		switch cfg.Mode {
		case config.ModePermissive:
			local = ws.Deny
		case config.ModeLaserEyes:
			local = ws.Only
		}
		for _, c := range candidates {
			if c.WorkspaceIdx != wsIdx {
				continue
			}
			decisions = append(decisions, resolver.Decide(cfg.Mode, c, cfg.GlobalDeny, local))
		}
	}
	return decisions
}

// openStore opens the file-backed cache, degrading to an empty store with a
// report warning when the file is unreadable.
func (a *App) openStore(ctx context.Context, opts Options) (cache.Store, string) {
	store, err := cache.Open(opts.CachePath)
	if err != nil {
		ctxlog.FromContext(ctx).Warn("cache store unreadable, rebuilding everything", "error", err)
		return store, fmt.Sprintf("cache store unreadable, rebuilding everything: %v", err)
	}
	return store, ""
}

// planOutcomes classifies included candidates for a dry run: cache hits are
// reported as skips, the rest as pending builds.
func planOutcomes(store cache.Store, included []catalog.Candidate) []orchestrator.Outcome {
	outcomes := make([]orchestrator.Outcome, 0, len(included))
	for _, c := range included {
		fp, err := cache.Fingerprint(c)
		if err == nil {
			if entry, ok := cache.Hit(store, c, fp); ok {
				outcomes = append(outcomes, orchestrator.Outcome{Candidate: c, Status: orchestrator.StatusSkipped, ArtifactPath: entry.ArtifactPath})
				continue
			}
		}
		outcomes = append(outcomes, orchestrator.Outcome{Candidate: c, Status: orchestrator.StatusBuilt})
	}
	return outcomes
}

// successes extracts the built-or-cached outcomes in their deterministic order.
func successes(outcomes []orchestrator.Outcome) []codegen.Input {
	var inputs []codegen.Input
	for _, out := range outcomes {
		if out.Status == orchestrator.StatusFailed {
			continue
		}
		inputs = append(inputs, codegen.Input{Candidate: out.Candidate, ArtifactPath: out.ArtifactPath})
	}
	return inputs
}

// planBindings validates constant uniqueness. Exactly one of candidates or
// inputs is set: the pre-build collision check passes candidates only, the
// post-build emission passes the built inputs.
func planBindings(candidates []catalog.Candidate, inputs []codegen.Input, overrides map[string]string) ([]codegen.Binding, error) {
	if inputs == nil {
		inputs = make([]codegen.Input, 0, len(candidates))
		for _, c := range candidates {
			inputs = append(inputs, codegen.Input{Candidate: c})
		}
	}
	return codegen.PlanBindings(inputs, overrides)
}

// buildReport assembles the per-workspace rows from resolution decisions and
// build outcomes.
func buildReport(cfg *config.Config, decisions []resolver.Decision, outcomes []orchestrator.Outcome, warnings []string, dryRun bool) *report.Report {
	byID := make(map[string]orchestrator.Outcome, len(outcomes))
	for _, out := range outcomes {
		byID[out.Candidate.ID()] = out
	}

	rep := &report.Report{Mode: cfg.Mode.String(), Warnings: warnings, DryRun: dryRun}
	for _, ws := range cfg.Workspaces {
		rep.Workspaces = append(rep.Workspaces, report.Workspace{ManifestPath: ws.ManifestPath})
	}

	for _, d := range decisions {
		row := report.Row{Target: d.Candidate.TargetName, Included: d.Included}
		if !d.Included {
			row.Reason = d.Reason
			rep.Excluded++
		} else if out, ok := byID[d.Candidate.ID()]; ok {
			switch out.Status {
			case orchestrator.StatusSkipped:
				row.Cached = true
				rep.Cached++
			case orchestrator.StatusFailed:
				row.Failed = true
				if out.Err != nil {
					// The formatter prepends "build failed:", so keep only
					// the cause here.
					cause := out.Err
					if inner := errors.Unwrap(cause); inner != nil {
						cause = inner
					}
					row.Reason = cause.Error()
				}
				rep.Failed++
			default:
				rep.Built++
			}
		}
		ws := &rep.Workspaces[d.Candidate.WorkspaceIdx]
		ws.Rows = append(ws.Rows, row)
	}
	return rep
}
