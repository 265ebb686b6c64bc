package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/sevigo/policyrag/config"
)

var version = "dev"

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "policybot",
	Short: "Answer questions about policy documents",
	Long: `policybot ingests a directory of policy documents (.txt, .csv, .tsv),
indexes them for vector and keyword search and answers questions
grounded in the retrieved passages.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the YAML configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// loadConfig reads the configuration and installs the process logger.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	logger := cfg.NewLogger(os.Stderr)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func buildApp(ctx context.Context) (*config.App, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}
	app, err := cfg.Build(ctx, logger)
	if err != nil {
		return nil, fmt.Errorf("configure assistant: %w", err)
	}
	return app, nil
}
