package main

import (
	"os"

	"github.com/i474232898/disease-trend-forecast/internal/logging"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		logging.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
