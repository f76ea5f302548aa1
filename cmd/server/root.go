package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/warp/points-ledger/config"
	"github.com/warp/points-ledger/pkg/logger"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	LogLevel   string
	LogFormat  string
}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Points ledger with optimistic updates and server reconciliation",
	}

	// Global flags
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to YAML config file")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "debug|info|warn|error (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "", "json|text (overrides config)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewTwinCommand(opts))
	cmd.AddCommand(NewReconcileCommand(opts))

	return cmd
}

// load reads the config and applies the global flags on top.
func (o *RootOptions) load() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	if o.LogLevel != "" {
		cfg.Log.Level = o.LogLevel
	}
	if o.LogFormat != "" {
		cfg.Log.Format = o.LogFormat
	}

	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		return config.Config{}, nil, err
	}
	log := logger.New(level, cfg.Log.Format)
	slog.SetDefault(log)
	return cfg, log, nil
}
