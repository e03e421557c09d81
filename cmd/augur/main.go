// Package main is the entry point for the augur service and CLI.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/szaher/augur/internal/runtime"
	"github.com/szaher/augur/internal/secrets"
	"github.com/szaher/augur/internal/telemetry"
)

// Version information set at build time.
var version = "0.1.0"

// Global flags.
var (
	configFile string
	logLevel   string
	verbose    bool
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "augur",
		Short: "Conversational numerology and tarot service",
		Long: `Augur routes each message to a welcome, numerology or tarot specialist,
keeps per-session history and serves the result over HTTP.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&configFile, "config", "c", os.Getenv("AUGUR_CONFIG"), "Path to config file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable verbose output")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newServeCmd())
	root.AddCommand(newAskCmd())
	root.AddCommand(newDrawCmd())
	root.AddCommand(newPromptsCmd())
	root.AddCommand(newConfigCmd())

	return root
}

// loadConfig reads the config, applies adjust, resolves secrets and
// validates. The returned logger redacts every resolved secret.
func loadConfig(ctx context.Context, adjust func(*runtime.Config)) (*runtime.Config, *slog.Logger, error) {
	cfg, err := runtime.LoadConfig(configFile)
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	if adjust != nil {
		adjust(cfg)
	}

	level, err := telemetry.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	logger, filter := telemetry.NewLogger(os.Stderr, level)
	slog.SetDefault(logger)

	if err := cfg.ResolveSecrets(ctx, secrets.NewEnvResolver(), filter); err != nil {
		return nil, nil, fmt.Errorf("resolve secrets: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, logger, nil
}

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
