// Package sqlstore implements trend.Backend on top of a relational database.
// SQLite, PostgreSQL and MySQL are supported; the schema is managed by Migrate.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
	_ "modernc.org/sqlite"             // SQLite driver

	"github.com/i474232898/disease-trend-forecast/internal/trend"
)

// Dialect names a supported database backend.
type Dialect string

const (
	SQLite     Dialect = "sqlite"
	PostgreSQL Dialect = "postgresql"
	MySQL      Dialect = "mysql"
)

const (
	tableName  = "trend_observations"
	dateLayout = "2006-01-02"
)

// ParseDialect validates a backend name from configuration.
func ParseDialect(name string) (Dialect, error) {
	switch d := Dialect(strings.ToLower(strings.TrimSpace(name))); d {
	case SQLite, PostgreSQL, MySQL:
		return d, nil
	default:
		return "", fmt.Errorf("unsupported sql backend: %q", name)
	}
}

func (d Dialect) driverName() string {
	switch d {
	case PostgreSQL:
		return "pgx"
	case MySQL:
		return "mysql"
	default:
		return "sqlite"
	}
}

// placeholder returns the n-th (1-based) bind parameter for the dialect.
func (d Dialect) placeholder(n int) string {
	if d == PostgreSQL {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// Backend reads persisted observations from a trend_observations table.
type Backend struct {
	db      *sql.DB
	dialect Dialect

	rangeQuery  string
	upsertQuery string
}

var _ trend.Backend = (*Backend)(nil)

// Open connects to the database and verifies the connection. It does not create
// the schema; run Migrate first.
func Open(ctx context.Context, dialect Dialect, dsn string) (*Backend, error) {
	if dsn == "" {
		return nil, fmt.Errorf("%s backend requires a DSN", dialect)
	}
	db, err := openDB(ctx, dialect, dsn)
	if err != nil {
		return nil, err
	}
	return &Backend{
		db:          db,
		dialect:     dialect,
		rangeQuery:  buildRangeQuery(dialect),
		upsertQuery: buildUpsertQuery(dialect),
	}, nil
}

func openDB(ctx context.Context, dialect Dialect, dsn string) (*sql.DB, error) {
	db, err := sql.Open(dialect.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dialect, err)
	}
	if dialect == SQLite {
		// Avoid "database is locked" errors with concurrent writers.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", dialect, err)
	}
	return db, nil
}

// Name implements trend.Backend.
func (b *Backend) Name() string { return string(b.dialect) }

// Ping implements trend.Backend.
func (b *Backend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

// Close releases the connection pool.
func (b *Backend) Close() error {
	return b.db.Close()
}

// Range implements trend.Backend. Both bounds are inclusive.
func (b *Backend) Range(ctx context.Context, key trend.SeriesKey, from, to time.Time) ([]trend.ObservationPoint, error) {
	rows, err := b.db.QueryContext(ctx, b.rangeQuery,
		key.City, key.Disease, from.UTC().Format(dateLayout), to.UTC().Format(dateLayout))
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", key, err)
	}
	defer func() { _ = rows.Close() }()

	var pts []trend.ObservationPoint
	for rows.Next() {
		var (
			date string
			p    trend.ObservationPoint
		)
		if err := rows.Scan(&date, &p.Cases, &p.AvgTemp, &p.AQI); err != nil {
			return nil, fmt.Errorf("scan %s: %w", key, err)
		}
		p.Date, err = time.Parse(dateLayout, strings.TrimSpace(date))
		if err != nil {
			return nil, fmt.Errorf("parse obs_date %q: %w", date, err)
		}
		pts = append(pts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", key, err)
	}
	return pts, nil
}

// Upsert writes points for key in one transaction. Serving never writes; this is
// used by the seed command to populate a database.
func (b *Backend) Upsert(ctx context.Context, key trend.SeriesKey, pts ...trend.ObservationPoint) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, b.upsertQuery)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, p := range pts {
		_, err := stmt.ExecContext(ctx, key.City, key.Disease, trend.Day(p.Date).Format(dateLayout), p.Cases, p.AvgTemp, p.AQI)
		if err != nil {
			return fmt.Errorf("upsert %s %s: %w", key, p.Date.Format(dateLayout), err)
		}
	}
	return tx.Commit()
}

func buildRangeQuery(d Dialect) string {
	return fmt.Sprintf(`SELECT obs_date, cases, avg_temp, real_time_aqi FROM %s
		WHERE city = %s AND disease = %s AND obs_date >= %s AND obs_date <= %s
		ORDER BY obs_date`,
		tableName, d.placeholder(1), d.placeholder(2), d.placeholder(3), d.placeholder(4))
}

func buildUpsertQuery(d Dialect) string {
	switch d {
	case MySQL:
		return fmt.Sprintf(`INSERT INTO %s (city, disease, obs_date, cases, avg_temp, real_time_aqi) VALUES (?, ?, ?, ?, ?, ?) AS new
			ON DUPLICATE KEY UPDATE cases = new.cases, avg_temp = new.avg_temp, real_time_aqi = new.real_time_aqi`, tableName)

	case PostgreSQL:
		return fmt.Sprintf(`INSERT INTO %s (city, disease, obs_date, cases, avg_temp, real_time_aqi) VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (city, disease, obs_date) DO UPDATE SET cases = EXCLUDED.cases, avg_temp = EXCLUDED.avg_temp, real_time_aqi = EXCLUDED.real_time_aqi`, tableName)

	default: // SQLite
		return fmt.Sprintf(`INSERT INTO %s (city, disease, obs_date, cases, avg_temp, real_time_aqi) VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (city, disease, obs_date) DO UPDATE SET cases = excluded.cases, avg_temp = excluded.avg_temp, real_time_aqi = excluded.real_time_aqi`, tableName)
	}
}
