package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vk/elfmagic/internal/app"
	"github.com/vk/elfmagic/internal/buildexec"
	"github.com/vk/elfmagic/internal/catalog"
)

// newGenerateCommand creates "generate", the full pipeline run. It is also
// what a bare `elfmagic` invocation does.
func newGenerateCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "generate",
		Short: "Build selected programs and generate the embed package",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPipeline(cmd.Context(), opts, false)
		},
	}
}

// newPlanCommand creates "plan": resolve and report without building or
// writing any output.
func newPlanCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Show what a generate run would build, without building",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPipeline(cmd.Context(), opts, true)
		},
	}
}

// runPipeline wires the production provider and executor into the engine,
// prints the report, and converts build failures into a non-zero exit.
func runPipeline(ctx context.Context, opts *Options, dryRun bool) error {
	engine := app.New(catalog.NewCargoProvider(), buildexec.NewCargoSBF())

	rep, err := engine.Run(ctx, app.Options{
		ConfigPath:   opts.ConfigPath,
		Workers:      opts.Workers,
		BuildTimeout: opts.BuildTimeout,
		CachePath:    opts.CachePath,
		OutDir:       opts.OutDir,
		ReportFile:   opts.ReportFile,
		DryRun:       dryRun,
	})
	if rep != nil {
		rep.Render(os.Stdout)
	}
	if err != nil {
		return err
	}
	if rep.Failed > 0 {
		return fmt.Errorf("%d program(s) failed to build", rep.Failed)
	}
	return nil
}
