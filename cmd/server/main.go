package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"workflow-provisioner/internal/config"
	"workflow-provisioner/internal/logging"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

var envFile string

var rootCmd = &cobra.Command{
	Use:           "provisioner",
	Short:         "GitHub Actions workflow provisioning service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env", "", "Path to .env file")
	rootCmd.AddCommand(newServeCmd(), newMigrateCmd(), newTemplatesCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadRuntime loads configuration and builds the logger it describes.
func loadRuntime() (*config.Config, *logging.Logger, error) {
	cfg, err := config.LoadConfig(envFile)
	if err != nil {
		return nil, nil, fmt.Errorf("configuration loading failed: %w", err)
	}
	logger, err := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("logger setup failed: %w", err)
	}
	return cfg, logger, nil
}
