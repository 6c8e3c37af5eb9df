// Package cmd defines the CLI for the crawl orchestrator and its worker.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-orchestrator/internal/config"
	"github.com/JakeFAU/crawl-orchestrator/internal/logging"
)

// cli carries state shared by every subcommand: the config path and the
// Viper instance flags are bound to.
type cli struct {
	cfgFile string
	v       *viper.Viper
}

// load resolves the configuration and builds the logger it asks for.
func (c *cli) load() (config.Config, *zap.Logger, error) {
	cfg, err := config.LoadFrom(c.v, c.cfgFile)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("logger init failed: %w", err)
	}
	return cfg, logger, nil
}

func syncLogger(logger *zap.Logger) {
	if err := logger.Sync(); err != nil {
		// stderr/stdout sinks return EINVAL on Sync under most terminals.
		logger.Debug("logger sync failed", zap.Error(err))
	}
}

// newRootCmd creates the root command and its subcommands.
func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}

	cmd := &cobra.Command{
		Use:   "crawl-orchestrator",
		Short: "Resumable multi-level crawl orchestrator.",
		Long: `crawl-orchestrator drives a breadth-first crawl of a URL graph, dispatching
one stateless worker invocation per URL. Progress is persisted after every
transition so an interrupted run resumes where it stopped.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&c.cfgFile, "config", "", "config file (yaml, json or toml)")

	cmd.AddCommand(newCrawlCmd(c), newWorkerCmd(c), newStatusCmd(c))
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
