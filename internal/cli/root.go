// Package cli implements the driftwatch command tree.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"driftwatch/internal/config"
	"driftwatch/internal/logging"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "driftwatch",
	Short: "File integrity monitoring and synchronization for tracked collections",
	Long: "Driftwatch watches configured directory trees for changes, keeps a\n" +
		"content-hash registry of tracked collection files in sync with disk,\n" +
		"snapshots files before destructive operations, and classifies\n" +
		"suspicious activity into severity-ranked findings.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (TOML or YAML)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig resolves the effective configuration for a command.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// loadInspectConfig is loadConfig without the watch-path requirement,
// for commands that only read persisted state.
func loadInspectConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.LoadInspect(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// buildLogger creates the logger the config asks for.
func buildLogger(cfg *config.Config) (*logging.Logger, *slog.Logger, error) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, nil, err
	}
	format, err := logging.ParseFormat(cfg.Logging.Format)
	if err != nil {
		return nil, nil, err
	}
	l, err := logging.New(&logging.Config{
		Level:      level,
		Format:     format,
		Output:     cfg.Logging.Output,
		FilePath:   cfg.Logging.FilePath,
		MaxSize:    cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
		Component:  "driftwatch",
	})
	if err != nil {
		return nil, nil, err
	}
	return l, l.Logger, nil
}
