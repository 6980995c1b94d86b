// Package cli implements the auditflow command line.
package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/telhawk-systems/auditflow/internal/config"
	"github.com/telhawk-systems/auditflow/internal/logging"
)

var (
	cfgFile string
	envFile string
)

var rootCmd = &cobra.Command{
	Use:   "auditflow",
	Short: "Conditional routing of audit events",
	Long: `auditflow consumes audit events from NATS JetStream or Kafka and routes
each one through the configured pipelines: a condition decides whether the
pipeline applies, an optional transformer rewrites the event and a sink
delivers it.`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadEnv(envFile)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml or /etc/auditflow/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file with AUDITFLOW_* overrides (default: .env when present)")
}

// loadEnv exports the variables of a dotenv file. A missing default .env is
// not an error; a missing explicit file is.
func loadEnv(path string) error {
	if path == "" {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the process logger from the logging section and installs
// it as the slog default.
func newLogger(cfg *config.Config, service string) *logging.Logger {
	logger := logging.NewWithOptions(logging.Options{
		Level:  logging.ParseLevel(cfg.Logging.Level),
		Format: cfg.Logging.Format,
		File: logging.FileOptions{
			Path:       cfg.Logging.File.Path,
			MaxSizeMB:  cfg.Logging.File.MaxSizeMB,
			MaxBackups: cfg.Logging.File.MaxBackups,
			MaxAgeDays: cfg.Logging.File.MaxAgeDays,
			Compress:   cfg.Logging.File.Compress,
		},
	})
	logger = logger.With(logging.Service(service))
	logging.SetDefault(logger)

	slog.Info("Starting "+service,
		slog.String("log_level", cfg.Logging.Level),
		slog.String("log_format", cfg.Logging.Format),
		slog.String("broker", cfg.Broker.Type),
	)
	if cfgFile != "" {
		slog.Info("Loaded configuration", slog.String("config_path", cfgFile))
	}
	return logger
}
