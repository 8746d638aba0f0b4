package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tendant/content-store/pkg/contentstore"
	"github.com/tendant/content-store/pkg/contentstore/config"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode distinguishes missing content from other failures
func exitCode(err error) int {
	if errors.Is(err, contentstore.ErrNotFound) {
		return 2
	}
	return 1
}

type globalFlags struct {
	envFile    string
	configFile string
	storageURL string
	bucket     string
	verbose    bool
	metrics    bool
}

func NewRootCommand() *cobra.Command {
	var flags globalFlags

	rootCmd := &cobra.Command{
		Use:   "contentctl",
		Short: "Content store command line client",
		Long: `Content store command line client

Stores, fetches and removes content in any supported backend:
memory, filesystem, embedded kv, S3, SQLite or PostgreSQL blob tables.

Configuration is read from CONTENT_* and AWS_* environment variables
(see "contentctl env"), optionally from a .env file and a config file.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "dotenv file to load if present")
	rootCmd.PersistentFlags().StringVarP(&flags.configFile, "config", "c", "", "YAML, JSON or TOML config file")
	rootCmd.PersistentFlags().StringVarP(&flags.storageURL, "storage", "s", "", "storage URL (overrides CONTENT_STORAGE_URL)")
	rootCmd.PersistentFlags().StringVarP(&flags.bucket, "bucket", "b", "", "bucket for the content")
	rootCmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().BoolVar(&flags.metrics, "metrics", false, "print store metrics to stderr on exit")

	rootCmd.AddCommand(NewPutCommand(&flags))
	rootCmd.AddCommand(NewGetCommand(&flags))
	rootCmd.AddCommand(NewRemoveCommand(&flags))
	rootCmd.AddCommand(NewStatCommand(&flags))
	rootCmd.AddCommand(NewEnvCommand())

	return rootCmd
}

// loadConfig layers the dotenv file, the config file, the environment and
// the command line flags, in that order
func loadConfig(flags *globalFlags) (*config.Config, error) {
	if flags.envFile != "" {
		if err := godotenv.Load(flags.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", flags.envFile, err)
		}
	}

	opts := []config.Option{config.WithEnv()}
	if flags.configFile != "" {
		opts = []config.Option{config.WithFile(flags.configFile)}
	}
	if flags.storageURL != "" {
		opts = append(opts, config.WithStorageURL(flags.storageURL))
	}
	if flags.verbose {
		opts = append(opts, config.WithLogLevel("debug"))
	}
	return config.Load(opts...)
}

// openClient builds the store described by the configuration. The returned
// function releases the backend and flushes the logger.
func openClient(ctx context.Context, flags *globalFlags) (*Client, func(), error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, nil, err
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		return nil, nil, err
	}
	logger.Debug("opening content store", zap.String("storage", redact(cfg.StorageURL)))

	registry := prometheus.NewRegistry()
	metrics, err := contentstore.NewMetrics(registry)
	if err != nil {
		return nil, nil, err
	}

	store, closeStore, err := cfg.Build(ctx, logger, contentstore.WithMetrics(metrics))
	if err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}

	client := NewClient(store, flags.bucket)
	release := func() {
		if flags.metrics {
			if err := writeMetrics(os.Stderr, registry); err != nil {
				logger.Warn("failed to write metrics", zap.Error(err))
			}
		}
		if err := closeStore(); err != nil {
			logger.Warn("failed to close content store", zap.Error(err))
		}
		_ = logger.Sync()
	}
	return client, release, nil
}

// redact hides the password of a connection string
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Redacted()
}
