package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"ropacal-forecast/internal/config"
	"ropacal-forecast/internal/logger"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:          "forecastctl",
	Short:        "Run the bin fill forecast engine against the configured database",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "configuration file (default $FORECAST_CONFIG or forecast.yaml)")
}

// Execute runs the CLI.
func Execute() error { return rootCmd.Execute() }

// setup loads configuration and returns a context cancelled on SIGINT/SIGTERM.
func setup() (context.Context, context.CancelFunc, *config.Config, logger.Logger, error) {
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger.SetLevel(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	return ctx, stop, cfg, logger.New("forecastctl"), nil
}
