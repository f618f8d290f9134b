package main

import (
	"context"
	"errors"
	"os"

	"github.com/lucky-verma/music-discovery/internal/shared"
	"github.com/urfave/cli/v3"
)

func main() {
	logger := shared.NewLogger(nil)

	config := shared.DefaultConfig()
	configPath := ""
	if _, err := os.Stat("config.toml"); err == nil {
		if loadedConfig, err := shared.LoadConfig("config.toml"); err == nil {
			config = loadedConfig
			configPath = "config.toml"
		}
	}

	runner := NewRunner(RunnerOpts{
		Config:     config,
		ConfigPath: configPath,
		Logger:     logger,
	})

	app := &cli.Command{
		Name:     "musicd",
		Usage:    "Self-hosted music discovery and download pipeline",
		Version:  "0.3.0",
		Commands: runner.register(),
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		if errors.Is(err, shared.ErrMissingArgument) || errors.Is(err, shared.ErrInvalidInput) {
			logger.Error(err.Error())
			os.Exit(2)
		}
		logger.Fatalf("application error: %v", err)
	}
}
