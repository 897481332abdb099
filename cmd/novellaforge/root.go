package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/henribesnard/novellaforge/internal/config"
	"github.com/henribesnard/novellaforge/version"
)

var (
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "novellaforge",
	Short: "Long-form serial fiction generation engine",
	Long: `NovellaForge generates serial fiction chapter by chapter while keeping
the story coherent over hundreds of chapters.

The pipeline includes:
  - Plan-driven chapter generation with beat expansion
  - Continuity memory: fact extraction, merge, and a structured graph
  - RAG over approved chapters plus a style memory
  - A critic and quality gate driving automatic revision loops`,
	Version: version.GitRelease,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.novellaforge/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&logLevel, "log-level", "info", "log level: debug, info, warn, error",
	)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(initConfigCmd)
	rootCmd.AddCommand(versionCmd)
}

// newLogger builds the process logger from the --log-level flag.
func newLogger() *slog.Logger {
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

// loadConfig loads configuration with env and file overrides applied.
func loadConfig() (*config.Config, error) {
	mgr, err := config.NewManager(cfgFile)
	if err != nil {
		return nil, err
	}
	return mgr.Get(), nil
}
