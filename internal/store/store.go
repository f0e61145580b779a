// Package store implements the SeriesStore strategies: a purely synthetic store and
// a store backed by a persistent trend.Backend that degrades to synthetic data.
package store

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/i474232898/disease-trend-forecast/internal/cities"
	"github.com/i474232898/disease-trend-forecast/internal/logging"
	"github.com/i474232898/disease-trend-forecast/internal/metrics"
	"github.com/i474232898/disease-trend-forecast/internal/synthetic"
	"github.com/i474232898/disease-trend-forecast/internal/trend"
)

// DefaultBackendTimeout bounds a single backend read.
const DefaultBackendTimeout = 2 * time.Second

// Option configures a store.
type Option func(*options)

type options struct {
	now     func() time.Time
	timeout time.Duration
	breaker gobreaker.Settings
}

// WithClock overrides the clock that anchors the history window.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithTimeout sets the per-read backend timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithBreakerSettings replaces the backend circuit breaker settings.
func WithBreakerSettings(s gobreaker.Settings) Option {
	return func(o *options) { o.breaker = s }
}

func buildOptions(opts []Option) options {
	o := options{
		now:     time.Now,
		timeout: DefaultBackendTimeout,
		breaker: gobreaker.Settings{
			Name:        "series-backend",
			MaxRequests: 5,
			Interval:    1 * time.Minute,
			Timeout:     30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// canonicalKey validates the city and normalizes the key.
func canonicalKey(registry *cities.Registry, key trend.SeriesKey) (trend.SeriesKey, error) {
	c, err := registry.Lookup(key.City)
	if err != nil {
		return trend.SeriesKey{}, err
	}
	return trend.SeriesKey{City: c.Name, Disease: trend.NormalizeDisease(key.Disease)}, nil
}

// SyntheticStore generates every window with the synthetic generator.
type SyntheticStore struct {
	gen      *synthetic.Generator
	registry *cities.Registry
	now      func() time.Time
}

var _ trend.SeriesStore = (*SyntheticStore)(nil)

// NewSyntheticStore creates a store with no persistent backend.
func NewSyntheticStore(gen *synthetic.Generator, registry *cities.Registry, opts ...Option) *SyntheticStore {
	o := buildOptions(opts)
	return &SyntheticStore{gen: gen, registry: registry, now: o.now}
}

// Fetch implements trend.SeriesStore.
func (s *SyntheticStore) Fetch(ctx context.Context, key trend.SeriesKey) (trend.HistoricalSeries, error) {
	return s.FetchDays(ctx, key, trend.HistoryWindow)
}

// FetchDays implements trend.SeriesStore.
func (s *SyntheticStore) FetchDays(_ context.Context, key trend.SeriesKey, days int) (trend.HistoricalSeries, error) {
	key, err := canonicalKey(s.registry, key)
	if err != nil {
		return trend.HistoricalSeries{}, err
	}
	from, to := trend.WindowDays(s.now(), days)
	metrics.SeriesFetches.WithLabelValues(string(trend.SourceSynthetic)).Inc()
	return trend.HistoricalSeries{
		Key:    key,
		Points: s.gen.Series(key, from, to),
		Source: trend.SourceSynthetic,
		To:     to,
	}, nil
}

// BackedStore reads persisted history through a circuit breaker and pads or
// replaces it with synthetic data. Backend problems are logged, never returned.
type BackedStore struct {
	backend  trend.Backend
	gen      *synthetic.Generator
	registry *cities.Registry
	breaker  *gobreaker.CircuitBreaker
	timeout  time.Duration
	now      func() time.Time
	log      zerolog.Logger
}

var _ trend.SeriesStore = (*BackedStore)(nil)

// NewBackedStore creates a store over backend.
func NewBackedStore(backend trend.Backend, gen *synthetic.Generator, registry *cities.Registry, opts ...Option) *BackedStore {
	o := buildOptions(opts)
	log := logging.Component("series-store").With().Str("backend", backend.Name()).Logger()

	settings := o.breaker
	settings.OnStateChange = func(name string, from, to gobreaker.State) {
		log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("backend circuit breaker state changed")
	}

	return &BackedStore{
		backend:  backend,
		gen:      gen,
		registry: registry,
		breaker:  gobreaker.NewCircuitBreaker(settings),
		timeout:  o.timeout,
		now:      o.now,
		log:      log,
	}
}

// Fetch implements trend.SeriesStore.
func (s *BackedStore) Fetch(ctx context.Context, key trend.SeriesKey) (trend.HistoricalSeries, error) {
	return s.FetchDays(ctx, key, trend.HistoryWindow)
}

// FetchDays implements trend.SeriesStore. Days before the earliest persisted point
// are filled with synthetic data; later gaps are kept.
func (s *BackedStore) FetchDays(ctx context.Context, key trend.SeriesKey, days int) (trend.HistoricalSeries, error) {
	key, err := canonicalKey(s.registry, key)
	if err != nil {
		return trend.HistoricalSeries{}, err
	}
	from, to := trend.WindowDays(s.now(), days)

	persisted, err := s.read(ctx, key, from, to)
	if err != nil {
		reason := failureReason(err)
		metrics.BackendFailures.WithLabelValues(s.backend.Name(), reason).Inc()
		s.log.Warn().Err(err).Str("key", key.String()).Str("reason", reason).Msg("backend read failed; using synthetic history")
		return s.synthetic(key, from, to), nil
	}

	persisted = normalize(persisted, from, to)
	if len(persisted) == 0 {
		return s.synthetic(key, from, to), nil
	}

	series := trend.HistoricalSeries{Key: key, Source: trend.SourceBackend, To: to}
	if earliest := persisted[0].Date; earliest.After(from) {
		series.Points = s.gen.Series(key, from, earliest.AddDate(0, 0, -1))
		series.Source = trend.SourceMixed
	}
	series.Points = append(series.Points, persisted...)

	metrics.SeriesFetches.WithLabelValues(string(series.Source)).Inc()
	return series, nil
}

func (s *BackedStore) synthetic(key trend.SeriesKey, from, to time.Time) trend.HistoricalSeries {
	metrics.SeriesFetches.WithLabelValues(string(trend.SourceSynthetic)).Inc()
	return trend.HistoricalSeries{Key: key, Points: s.gen.Series(key, from, to), Source: trend.SourceSynthetic, To: to}
}

func (s *BackedStore) read(ctx context.Context, key trend.SeriesKey, from, to time.Time) ([]trend.ObservationPoint, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := s.breaker.Execute(func() (interface{}, error) {
		return s.backend.Range(ctx, key, from, to)
	})
	if err != nil {
		return nil, err
	}
	pts, _ := result.([]trend.ObservationPoint)
	return pts, nil
}

// normalize truncates dates to days, drops points outside the window, clamps negative
// counts, keeps the last point per day and sorts ascending.
func normalize(pts []trend.ObservationPoint, from, to time.Time) []trend.ObservationPoint {
	byDay := make(map[time.Time]trend.ObservationPoint, len(pts))
	for _, p := range pts {
		p.Date = trend.Day(p.Date)
		if p.Date.Before(from) || p.Date.After(to) {
			continue
		}
		if p.Cases < 0 {
			p.Cases = 0
		}
		byDay[p.Date] = p
	}

	out := make([]trend.ObservationPoint, 0, len(byDay))
	for _, p := range byDay {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "circuit_open"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}
