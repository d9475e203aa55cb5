// Package cmd defines and implements the CLI commands for the feedscope
// executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/feedscope/feedscope/internal/config"
	"github.com/feedscope/feedscope/internal/logging"
)

var cfgFile string

// newRootCmd creates and configures the root command. Configuration is
// loaded in PersistentPreRunE so every subcommand sees the same Config and
// logger.
func newRootCmd() *cobra.Command {
	var (
		cfg    config.Config
		logger *zap.Logger
	)
	cmd := &cobra.Command{
		Use:   "feedscope",
		Short: "Analyze paginated OPDS and ODL catalog feeds.",
		Long: `feedscope walks a paginated catalog feed, fetches its pages under
bounded parallelism, classifies every publication record (format, DRM,
publication type, license terms) and reports aggregate statistics.`,

		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cfg, err = config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err = logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			return nil
		},

		PersistentPostRun: func(*cobra.Command, []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional)")

	cmd.AddCommand(newAnalyzeCmd(&cfg, &logger))
	cmd.AddCommand(newServeCmd(&cfg, &logger))

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
