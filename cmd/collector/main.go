// Command collector runs the YouTube stats collector: channel population,
// upload discovery, hourly sampling ticks, the asynq worker and the admin API.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/ad-tracker/youtube-stats-collector/internal/config"
	"github.com/ad-tracker/youtube-stats-collector/pkg/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfg *config.Config

	root := &cobra.Command{
		Use:           "collector",
		Short:         "Collects YouTube channel, video and engagement statistics",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := config.Load()
			if err != nil {
				return err
			}
			if err := loaded.Validate(); err != nil {
				return err
			}
			if err := logger.Init(loaded.Logging.Level, loaded.Logging.File); err != nil {
				return err
			}
			*cfg = *loaded
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = logger.Sync()
		},
	}
	cfg = &config.Config{}

	root.AddCommand(
		newPopulateCmd(cfg),
		newDiscoverCmd(cfg),
		newTickCmd(cfg),
		newWorkerCmd(cfg),
		newServeCmd(cfg),
	)
	return root
}
