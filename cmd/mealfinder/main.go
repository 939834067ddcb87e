package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sachiniyer/meal-finder/internal/config"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "mealfinder",
	Short: "Conversational restaurant finder backend",
	Long:  "mealfinder serves a websocket chat API backed by an agentic restaurant search assistant.",
}

func init() {
	defaultPath := filepath.Join(os.Getenv("HOME"), ".mealfinder", "config.json")
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", defaultPath, "path to config file")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func setupLogging(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
