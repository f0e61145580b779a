package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	httpapi "github.com/i474232898/disease-trend-forecast/internal/api/http"
	"github.com/i474232898/disease-trend-forecast/internal/cities"
	"github.com/i474232898/disease-trend-forecast/internal/config"
	"github.com/i474232898/disease-trend-forecast/internal/forecast"
	"github.com/i474232898/disease-trend-forecast/internal/livefeed"
	"github.com/i474232898/disease-trend-forecast/internal/logging"
	"github.com/i474232898/disease-trend-forecast/internal/query"
	"github.com/i474232898/disease-trend-forecast/internal/scheduler"
	"github.com/i474232898/disease-trend-forecast/internal/store"
	"github.com/i474232898/disease-trend-forecast/internal/store/rediscache"
	"github.com/i474232898/disease-trend-forecast/internal/store/sqlstore"
	"github.com/i474232898/disease-trend-forecast/internal/synthetic"
	"github.com/i474232898/disease-trend-forecast/internal/trend"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return serve(cmd.Context(), cfg)
	},
}

func serve(ctx context.Context, cfg *config.AppConfig) error {
	log := logging.Component("serve")

	registry := cities.Default()
	gen := synthetic.New(registry)

	seriesStore, checks, closeStore := buildSeriesStore(ctx, cfg, registry, gen)
	defer closeStore()

	engine := forecast.NewEngine()
	cache := forecast.NewCache(cfg.ForecastTTL)
	feed := livefeed.New(gen,
		livefeed.WithInterval(cfg.LiveInterval),
		livefeed.WithBuffer(cfg.LiveBuffer),
	)
	defer feed.Close()

	service := query.NewService(registry, seriesStore, engine, cache, feed)

	// Scheduler that keeps configured forecasts warm.
	sched := scheduler.New(scheduler.Keys(cfg.PrewarmCities, cfg.PrewarmDiseases), cfg.PrewarmInterval, service)
	if err := sched.Start(); err != nil {
		return err
	}
	defer sched.Stop()

	app := httpapi.NewApp(service, httpapi.DefaultOptions(), checks)

	go func() {
		log.Info().Str("port", cfg.Port).Str("backend", cfg.Backend).Msg("listening")
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Error().Err(err).Msg("fiber server stopped")
		}
	}()

	// Wait for termination signal
	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()
	log.Info().Msg("shutting down")

	// Ending live subscriptions first lets open SSE responses finish.
	feed.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during shutdown")
	}
	return nil
}

// memorySeedDays is how much history the memory backend starts with.
const memorySeedDays = 60

// buildSeriesStore selects the SeriesStore strategy for the configured backend.
// A backend that cannot be reached at startup is logged and replaced by the
// synthetic store; the service always starts.
func buildSeriesStore(ctx context.Context, cfg *config.AppConfig, registry *cities.Registry, gen *synthetic.Generator) (trend.SeriesStore, map[string]httpapi.HealthCheck, func()) {
	log := logging.Component("serve")
	checks := map[string]httpapi.HealthCheck{}
	closers := []func(){}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var backend trend.Backend
	switch cfg.Backend {
	case config.BackendNone:
		log.Info().Msg("no backend configured; serving synthetic history")
		return store.NewSyntheticStore(gen, registry), checks, closeAll

	case config.BackendMemory:
		mem := store.NewMemoryBackend(0, 0)
		to := trend.Day(time.Now())
		rows, err := seedObservations(ctx, mem, registry, gen, cityNames(registry), defaultSeedDiseases,
			to.AddDate(0, 0, -(memorySeedDays-1)), to, nil)
		if err != nil {
			log.Error().Err(err).Msg("seeding memory backend failed; serving synthetic history")
			return store.NewSyntheticStore(gen, registry), checks, closeAll
		}
		log.Info().Int("rows", rows).Msg("memory backend seeded with synthetic history")
		backend = mem

	default:
		dialect, dsn, err := sqlTarget(cfg)
		if err != nil {
			log.Error().Err(err).Msg("invalid backend; serving synthetic history")
			return store.NewSyntheticStore(gen, registry), checks, closeAll
		}
		openCtx, cancel := context.WithTimeout(ctx, cfg.BackendTimeout)
		db, err := sqlstore.Open(openCtx, dialect, dsn)
		cancel()
		if err != nil {
			log.Error().Err(err).Msg("backend unavailable; serving synthetic history")
			return store.NewSyntheticStore(gen, registry), checks, closeAll
		}
		closers = append(closers, func() { _ = db.Close() })
		backend = db
	}
	checks["backend"] = backend.Ping

	if cfg.RedisURL != "" {
		cached, err := rediscache.New(ctx, cfg.RedisURL, backend, cfg.HistoryCacheTTL)
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable; reading backend directly")
		} else {
			closers = append(closers, func() { _ = cached.Close() })
			checks["redis"] = cached.PingCache
			backend = cached
		}
	}

	return store.NewBackedStore(backend, gen, registry, store.WithTimeout(cfg.BackendTimeout)), checks, closeAll
}
