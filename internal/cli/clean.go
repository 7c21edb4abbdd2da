package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/vk/elfmagic/internal/ctxlog"
)

// newCleanCommand creates "clean": remove the output directory and the build
// cache so the next run starts cold.
func newCleanCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Remove the output directory and build cache",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := ctxlog.FromContext(cmd.Context())

			if err := os.RemoveAll(opts.OutDir); err != nil {
				return err
			}
			logger.Info("output directory removed", "dir", opts.OutDir)

			if err := os.Remove(opts.CachePath); err != nil && !os.IsNotExist(err) {
				return err
			}
			logger.Info("build cache removed", "path", opts.CachePath)
			return nil
		},
	}
}
