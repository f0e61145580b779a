package main

import (
	"github.com/spf13/cobra"

	"github.com/i474232898/disease-trend-forecast/internal/config"
	"github.com/i474232898/disease-trend-forecast/internal/logging"
)

// cfg is loaded once before any subcommand runs.
var cfg *config.AppConfig

var rootCmd = &cobra.Command{
	Use:   "medguard",
	Short: "Disease trend and forecast service",
	Long: `medguard serves per-city disease case histories, 30-day forecasts and
live updates over HTTP. Configuration comes from the environment (and .env).`,
	SilenceUsage: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		loaded, err := config.Load()
		if err != nil {
			return err
		}
		cfg = loaded
		logging.Init(cfg.LoggingConfig())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, migrateCmd, seedCmd)
}
