package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/i474232898/disease-trend-forecast/internal/cities"
	"github.com/i474232898/disease-trend-forecast/internal/logging"
	"github.com/i474232898/disease-trend-forecast/internal/store/rediscache"
	"github.com/i474232898/disease-trend-forecast/internal/store/sqlstore"
	"github.com/i474232898/disease-trend-forecast/internal/synthetic"
	"github.com/i474232898/disease-trend-forecast/internal/trend"
)

var (
	seedDays     int
	seedCities   []string
	seedDiseases []string
	seedMigrate  bool
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Populate the SQL backend with synthetic observations",
	Long: `Write synthetic daily observations ending today into the configured SQL backend.
Existing rows for the same (city, disease, day) are replaced.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		log := logging.Component("seed")

		if seedDays < 1 {
			return fmt.Errorf("--days must be at least 1, got %d", seedDays)
		}

		dialect, dsn, err := sqlTarget(cfg)
		if err != nil {
			return err
		}
		if seedMigrate {
			if err := sqlstore.Migrate(ctx, dialect, dsn, sqlstore.Up); err != nil {
				return err
			}
		}

		backend, err := sqlstore.Open(ctx, dialect, dsn)
		if err != nil {
			return err
		}
		defer func() { _ = backend.Close() }()

		// Cached ranges would hide the new rows until they expire.
		var cache *rediscache.Backend
		if cfg.RedisURL != "" {
			cache, err = rediscache.New(ctx, cfg.RedisURL, backend, cfg.HistoryCacheTTL)
			if err != nil {
				log.Warn().Err(err).Msg("redis unavailable, cached ranges will expire on their own")
			} else {
				defer func() { _ = cache.Close() }()
			}
		}

		registry := cities.Default()
		gen := synthetic.New(registry)

		names := seedCities
		if len(names) == 0 {
			names = cityNames(registry)
		}

		to := trend.Day(time.Now())
		from := to.AddDate(0, 0, -(seedDays - 1))
		rows, err := seedObservations(ctx, backend, registry, gen, names, seedDiseases, from, to, func(key trend.SeriesKey) {
			if cache == nil {
				return
			}
			if err := cache.Invalidate(ctx, key); err != nil {
				log.Warn().Err(err).Str("key", key.String()).Msg("redis invalidate failed")
			}
		})
		if err != nil {
			return err
		}

		log.Info().Int("rows", rows).Int("cities", len(names)).Strs("diseases", seedDiseases).
			Str("from", from.Format("2006-01-02")).Str("to", to.Format("2006-01-02")).Msg("seeded observations")
		return nil
	},
}

// defaultSeedDiseases are seeded when --diseases is not given.
var defaultSeedDiseases = []string{"flu", "dengue", "malaria"}

func cityNames(registry *cities.Registry) []string {
	all := registry.All()
	names := make([]string, len(all))
	for i, c := range all {
		names[i] = c.Name
	}
	return names
}

// observationWriter is a backend that accepts seeded observations.
type observationWriter interface {
	Upsert(ctx context.Context, key trend.SeriesKey, points ...trend.ObservationPoint) error
}

// seedObservations writes synthetic observations for every city × disease over
// [from, to] and calls seeded after each key. It returns the number of rows written.
func seedObservations(ctx context.Context, w observationWriter, registry *cities.Registry, gen *synthetic.Generator,
	names, diseases []string, from, to time.Time, seeded func(trend.SeriesKey)) (int, error) {
	rows := 0
	for _, name := range names {
		for _, disease := range diseases {
			key, err := registry.Key(name, disease)
			if err != nil {
				return rows, err
			}
			pts := gen.Series(key, from, to)
			if err := w.Upsert(ctx, key, pts...); err != nil {
				return rows, err
			}
			rows += len(pts)
			if seeded != nil {
				seeded(key)
			}
		}
	}
	return rows, nil
}

func init() {
	seedCmd.Flags().IntVar(&seedDays, "days", 60, "number of days to write, ending today")
	seedCmd.Flags().StringSliceVar(&seedCities, "cities", nil, "cities to seed (default: all)")
	seedCmd.Flags().StringSliceVar(&seedDiseases, "diseases", defaultSeedDiseases, "diseases to seed")
	seedCmd.Flags().BoolVar(&seedMigrate, "migrate", true, "apply migrations before seeding")
}
