// Package cli defines the command-line interface for elfmagic.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vk/elfmagic/internal/ctxlog"
	"github.com/vk/elfmagic/internal/logging"
	"github.com/vk/elfmagic/internal/settings"
)

const defaultConfigPath = "elfmagic.hcl"

// Options stores the global CLI options shared between commands. Defaults
// come from the environment settings; flags override them.
type Options struct {
	ConfigPath   string
	Workers      int
	BuildTimeout time.Duration
	CachePath    string
	OutDir       string
	ReportFile   string
	LogLevel     string
}

// Execute builds the root command and runs it with the provided args. SIGINT
// and SIGTERM cancel the run context; in-flight builds are killed and the
// cache keeps whatever completed.
func Execute(args []string) error {
	s, err := settings.Load()
	if err != nil {
		return err
	}

	opts := &Options{
		ConfigPath:   defaultConfigPath,
		Workers:      s.Workers,
		BuildTimeout: s.BuildTimeout,
		CachePath:    s.CachePath,
		OutDir:       s.OutDir,
		ReportFile:   s.ReportFile,
		LogLevel:     s.LogLevel,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand(opts)
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(ctx)
}

// newRootCommand constructs the root cobra.Command with global flags and
// subcommands. A bare `elfmagic` invocation runs the generate pipeline.
func newRootCommand(opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "elfmagic",
		Short: "elfmagic builds and embeds compiled Solana program artifacts",
		Long: "elfmagic discovers the program crates in your workspaces, builds the ones\n" +
			"your configuration selects, and generates a Go package embedding the\n" +
			"resulting ELF artifacts.",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			level := logging.ParseLevel(cmd.Flag("log-level").Value.String())
			logger := logging.NewLogger(os.Stderr, level)
			cmd.SetContext(ctxlog.WithLogger(cmd.Context(), logger))
			logger.Debug("logger initialized", "level", level)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPipeline(cmd.Context(), opts, false)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", opts.ConfigPath, "Path to the elfmagic.hcl configuration file")
	cmd.PersistentFlags().IntVar(&opts.Workers, "workers", opts.Workers, "Maximum concurrent builds")
	cmd.PersistentFlags().DurationVar(&opts.BuildTimeout, "timeout", opts.BuildTimeout, "Per-build timeout (0 disables)")
	cmd.PersistentFlags().StringVar(&opts.CachePath, "cache", opts.CachePath, "Path to the build cache file")
	cmd.PersistentFlags().StringVar(&opts.OutDir, "out", opts.OutDir, "Output directory for artifacts and generated source")
	cmd.PersistentFlags().StringVar(&opts.ReportFile, "report-file", opts.ReportFile, "Write the run report as YAML to this path")
	cmd.PersistentFlags().String("log-level", opts.LogLevel, "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		newGenerateCommand(opts),
		newPlanCommand(opts),
		newCleanCommand(opts),
	)

	return cmd
}
