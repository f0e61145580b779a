package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/i474232898/disease-trend-forecast/internal/config"
	"github.com/i474232898/disease-trend-forecast/internal/store/sqlstore"
)

var migrateDown bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply or roll back the trend_observations schema",
	Long: `Apply every embedded migration for the configured SQL backend, or roll them
all back with --down. BACKEND must be sqlite, postgresql or mysql.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		dialect, dsn, err := sqlTarget(cfg)
		if err != nil {
			return err
		}
		dir := sqlstore.Up
		if migrateDown {
			dir = sqlstore.Down
		}
		return sqlstore.Migrate(cmd.Context(), dialect, dsn, dir)
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateDown, "down", false, "roll back all migrations")
}

// defaultSQLitePath is used when BACKEND=sqlite and BACKEND_DSN is empty.
const defaultSQLitePath = "medguard.db"

// sqlTarget returns the SQL dialect and DSN from configuration.
func sqlTarget(c *config.AppConfig) (sqlstore.Dialect, string, error) {
	dialect, err := sqlstore.ParseDialect(c.Backend)
	if err != nil {
		return "", "", fmt.Errorf("BACKEND=%s has no SQL schema: %w", c.Backend, err)
	}
	dsn := c.BackendDSN
	if dsn == "" && dialect == sqlstore.SQLite {
		dsn = defaultSQLitePath
	}
	return dialect, dsn, nil
}
