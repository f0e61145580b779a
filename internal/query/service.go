// Package query is the single entry point the transport layer uses to read
// history, forecasts and live updates.
package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/i474232898/disease-trend-forecast/internal/cities"
	"github.com/i474232898/disease-trend-forecast/internal/forecast"
	"github.com/i474232898/disease-trend-forecast/internal/livefeed"
	"github.com/i474232898/disease-trend-forecast/internal/logging"
	"github.com/i474232898/disease-trend-forecast/internal/trend"
)

// forecastFetchTimeout bounds the history fetch behind a forecast computation.
// The computation is shared between callers, so it does not inherit any one
// caller's context.
const forecastFetchTimeout = 10 * time.Second

// Service orchestrates the series store, forecast engine, forecast cache and
// live feed. All collaborators are injected; Service holds no global state.
type Service struct {
	registry *cities.Registry
	store    trend.SeriesStore
	engine   *forecast.Engine
	cache    *forecast.Cache
	feed     *livefeed.Feed
	log      zerolog.Logger
}

// NewService creates a new Service.
func NewService(registry *cities.Registry, store trend.SeriesStore, engine *forecast.Engine, cache *forecast.Cache, feed *livefeed.Feed) *Service {
	return &Service{
		registry: registry,
		store:    store,
		engine:   engine,
		cache:    cache,
		feed:     feed,
		log:      logging.Component("query"),
	}
}

// ResolveKey validates city against the registry and normalizes disease.
// Unrecognized diseases are accepted.
func (s *Service) ResolveKey(city, disease string) (trend.SeriesKey, error) {
	key, err := s.registry.Key(city, disease)
	if err != nil {
		return trend.SeriesKey{}, err
	}
	if err := trend.CheckDisease(key.Disease); err != nil {
		s.log.Debug().Str("key", key.String()).Msg("serving unrecognized disease label")
	}
	return key, nil
}

// GetHistory returns the historical window for (city, disease).
func (s *Service) GetHistory(ctx context.Context, city, disease string) (trend.HistoricalSeries, error) {
	key, err := s.ResolveKey(city, disease)
	if err != nil {
		return trend.HistoricalSeries{}, err
	}
	return s.store.Fetch(ctx, key)
}

// MaxExportDays caps the number of daily rows one export may request.
const MaxExportDays = 3650

// Export returns the last days days of history for (city, disease), backed by
// the persistent backend where it has data and synthetic data elsewhere.
func (s *Service) Export(ctx context.Context, city, disease string, days int) (trend.HistoricalSeries, error) {
	key, err := s.ResolveKey(city, disease)
	if err != nil {
		return trend.HistoricalSeries{}, err
	}
	if days < 1 || days > MaxExportDays {
		return trend.HistoricalSeries{}, fmt.Errorf("export days must be between 1 and %d, got %d", MaxExportDays, days)
	}
	return s.store.FetchDays(ctx, key, days)
}

// GetForecast returns the cached forecast for (city, disease), computing it at
// most once per key when missing or stale.
func (s *Service) GetForecast(ctx context.Context, city, disease string) (trend.Forecast, error) {
	key, err := s.ResolveKey(city, disease)
	if err != nil {
		return trend.Forecast{}, err
	}
	if err := ctx.Err(); err != nil {
		return trend.Forecast{}, err
	}

	return s.cache.GetOrCompute(key, func() (trend.Forecast, error) {
		fetchCtx, cancel := context.WithTimeout(context.Background(), forecastFetchTimeout)
		defer cancel()

		series, err := s.store.Fetch(fetchCtx, key)
		if err != nil {
			return trend.Forecast{}, fmt.Errorf("fetch history for %s: %w", key, err)
		}
		fc, err := s.engine.Forecast(series)
		if err != nil {
			return trend.Forecast{}, fmt.Errorf("forecast %s: %w", key, err)
		}
		s.log.Debug().Str("key", key.String()).Str("source", string(series.Source)).
			Float64("slope", fc.Model.Slope).Float64("noise", fc.Model.BaseNoise).Msg("forecast computed")
		return fc, nil
	})
}

// RefreshForecast drops the cached forecast for (city, disease) and computes a
// new one. Readers arriving meanwhile share the new computation.
func (s *Service) RefreshForecast(ctx context.Context, city, disease string) (trend.Forecast, error) {
	key, err := s.ResolveKey(city, disease)
	if err != nil {
		return trend.Forecast{}, err
	}
	s.cache.Invalidate(key)
	return s.GetForecast(ctx, key.City, key.Disease)
}

// Prediction is history and forecast for one key, as returned together by the predict endpoint.
type Prediction struct {
	History  trend.HistoricalSeries
	Forecast trend.Forecast
}

// GetPrediction returns the history window and the forecast for (city, disease).
func (s *Service) GetPrediction(ctx context.Context, city, disease string) (Prediction, error) {
	history, err := s.GetHistory(ctx, city, disease)
	if err != nil {
		return Prediction{}, err
	}
	fc, err := s.GetForecast(ctx, city, disease)
	if err != nil {
		return Prediction{}, err
	}
	return Prediction{History: history, Forecast: fc}, nil
}

// Subscribe registers for live updates on (city, disease). An unknown city is
// rejected before anything is registered.
func (s *Service) Subscribe(city, disease string) (<-chan trend.LiveUpdate, func(), error) {
	key, err := s.ResolveKey(city, disease)
	if err != nil {
		return nil, nil, err
	}
	ch, unsubscribe := s.feed.Subscribe(key)
	return ch, unsubscribe, nil
}

// Cities lists the registry.
func (s *Service) Cities() []cities.City {
	return s.registry.All()
}

// CacheStats exposes forecast cache counters.
func (s *Service) CacheStats() forecast.Stats {
	return s.cache.Stats()
}

// LiveKeys returns how many keys currently have live subscribers.
func (s *Service) LiveKeys() int {
	return s.feed.ActiveKeys()
}

// IsNotFound reports whether err means the requested key does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, trend.ErrUnknownCity)
}
