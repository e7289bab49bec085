// Package cmd defines and implements the CLI commands for the npscrawl
// executable.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nps-senti/crawler/internal/config"
	"github.com/nps-senti/crawler/internal/logging"
	"github.com/nps-senti/crawler/internal/metrics"
)

var (
	cfgFile  string
	dataDir  string
	logLevel string
	devLog   bool
)

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "npscrawl",
		Short: "Collects Korean national pension discourse from news, forums and video.",
		Long: `npscrawl discovers, fetches and stores documents about the national
pension from the GDELT news index, Korean community boards and YouTube.
Accepted documents are appended as JSON lines under the output root; the
autocrawl subcommands backfill months that are short of their target.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default params.yaml when present)")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "output directory override (also NPS_DATA_DIR)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	cmd.PersistentFlags().BoolVar(&devLog, "dev-log", false, "human-readable development log output")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newAutocrawlCmd())
	cmd.AddCommand(newDedupeCmd())
	cmd.AddCommand(newMergeCmd())
	return cmd
}

// setup builds the logger and loads configuration the same way for every
// subcommand. Each run gets a fresh run id unless the config pins one.
func setup() (config.Config, *zap.Logger, error) {
	logger, err := logging.New(devLog, logLevel)
	if err != nil {
		return config.Config{}, nil, err
	}
	zap.ReplaceGlobals(logger)

	path := cfgFile
	if path == "" {
		if _, statErr := os.Stat("params.yaml"); statErr == nil {
			path = "params.yaml"
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, nil, err
	}
	if dataDir != "" {
		cfg.Output.Root = dataDir
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	metrics.Init()
	return cfg, logger, nil
}

// Execute is the main entry point. It wires signal handling so an in-flight
// run can finish its current candidates and flush the index.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
