package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/disease-trend-forecast/internal/cities"
	"github.com/i474232898/disease-trend-forecast/internal/config"
	"github.com/i474232898/disease-trend-forecast/internal/store"
	"github.com/i474232898/disease-trend-forecast/internal/store/sqlstore"
	"github.com/i474232898/disease-trend-forecast/internal/synthetic"
	"github.com/i474232898/disease-trend-forecast/internal/trend"
)

func testConfig(backend, dsn string) *config.AppConfig {
	return &config.AppConfig{
		Backend:         backend,
		BackendDSN:      dsn,
		BackendTimeout:  time.Second,
		HistoryCacheTTL: time.Minute,
	}
}

func TestSQLTarget(t *testing.T) {
	d, dsn, err := sqlTarget(testConfig("sqlite", ""))
	require.NoError(t, err)
	assert.Equal(t, sqlstore.SQLite, d)
	assert.Equal(t, defaultSQLitePath, dsn)

	_, _, err = sqlTarget(testConfig("memory", ""))
	assert.Error(t, err)
}

func TestBuildSeriesStore(t *testing.T) {
	registry := cities.Default()
	gen := synthetic.New(registry)
	ctx := context.Background()

	s, checks, closeFn := buildSeriesStore(ctx, testConfig(config.BackendNone, ""), registry, gen)
	defer closeFn()
	assert.IsType(t, &store.SyntheticStore{}, s)
	assert.Empty(t, checks)

	s, checks, closeFn = buildSeriesStore(ctx, testConfig(config.BackendMemory, ""), registry, gen)
	defer closeFn()
	assert.IsType(t, &store.BackedStore{}, s)
	assert.Contains(t, checks, "backend")

	series, err := s.Fetch(ctx, trend.SeriesKey{City: "Mumbai", Disease: "dengue"})
	require.NoError(t, err)
	assert.Equal(t, trend.SourceBackend, series.Source, "memory backend starts seeded")
	assert.Len(t, series.Points, trend.HistoryWindow)
}

func TestSeedObservations(t *testing.T) {
	registry := cities.Default()
	gen := synthetic.New(registry)
	mem := store.NewMemoryBackend(0, 0)
	to := trend.Day(time.Now())
	from := to.AddDate(0, 0, -9)

	var seeded []trend.SeriesKey
	rows, err := seedObservations(context.Background(), mem, registry, gen, []string{"pune", "Surat"}, []string{"flu", "Dengue"}, from, to,
		func(key trend.SeriesKey) { seeded = append(seeded, key) })
	require.NoError(t, err)
	assert.Equal(t, 40, rows)
	assert.Equal(t, []trend.SeriesKey{
		{City: "Pune", Disease: "flu"},
		{City: "Pune", Disease: "dengue"},
		{City: "Surat", Disease: "flu"},
		{City: "Surat", Disease: "dengue"},
	}, seeded)

	pts, err := mem.Range(context.Background(), trend.SeriesKey{City: "Surat", Disease: "dengue"}, from, to)
	require.NoError(t, err)
	assert.Equal(t, gen.Series(trend.SeriesKey{City: "Surat", Disease: "dengue"}, from, to), pts)

	_, err = seedObservations(context.Background(), mem, registry, gen, []string{"Atlantis"}, []string{"flu"}, from, to, nil)
	assert.ErrorIs(t, err, trend.ErrUnknownCity)
}

func TestBuildSeriesStoreWithSQLite(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "serve.db")
	require.NoError(t, sqlstore.Migrate(ctx, sqlstore.SQLite, dsn, sqlstore.Up))

	registry := cities.Default()
	gen := synthetic.New(registry)
	s, checks, closeFn := buildSeriesStore(ctx, testConfig(config.BackendSQLite, dsn), registry, gen)
	defer closeFn()

	require.Contains(t, checks, "backend")
	assert.NoError(t, checks["backend"](ctx))

	series, err := s.Fetch(ctx, trend.SeriesKey{City: "Pune", Disease: "flu"})
	require.NoError(t, err)
	assert.Equal(t, trend.SourceSynthetic, series.Source, "empty table serves synthetic history")
	assert.Len(t, series.Points, trend.HistoryWindow)
}
