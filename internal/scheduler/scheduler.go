package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"

	"github.com/i474232898/disease-trend-forecast/internal/logging"
	"github.com/i474232898/disease-trend-forecast/internal/trend"
)

// Forecaster is the part of the query service the scheduler drives.
type Forecaster interface {
	RefreshForecast(ctx context.Context, city, disease string) (trend.Forecast, error)
}

// Scheduler periodically recomputes forecasts for configured keys so that
// readers find fresh ones in the cache.
type Scheduler struct {
	scheduler  *gocron.Scheduler
	forecaster Forecaster
	keys       []trend.SeriesKey
	interval   time.Duration
	log        zerolog.Logger
}

// New creates a new Scheduler.
func New(keys []trend.SeriesKey, interval time.Duration, forecaster Forecaster) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	return &Scheduler{
		scheduler:  s,
		forecaster: forecaster,
		keys:       keys,
		interval:   interval,
		log:        logging.Component("scheduler"),
	}
}

// Start schedules the periodic job and starts the underlying scheduler.
// The first run happens immediately.
func (s *Scheduler) Start() error {
	if len(s.keys) == 0 {
		s.log.Info().Msg("no prewarm keys configured; nothing to schedule")
		return nil
	}

	interval := s.interval
	if interval <= 0 {
		interval = 15 * time.Minute
	}

	_, err := s.scheduler.Every(interval).Do(s.RunOnce)
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	s.log.Info().Int("keys", len(s.keys)).Dur("interval", interval).Msg("forecast prewarm scheduled")
	return nil
}

// RunOnce warms every configured key concurrently and waits for them.
func (s *Scheduler) RunOnce() {
	s.log.Debug().Msg("running forecast prewarm job")
	start := time.Now()

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed int
	)
	for _, key := range s.keys {
		wg.Add(1)
		go func(key trend.SeriesKey) {
			defer wg.Done()

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			if _, err := s.forecaster.RefreshForecast(ctx, key.City, key.Disease); err != nil {
				s.log.Warn().Err(err).Str("key", key.String()).Msg("prewarm failed")
				mu.Lock()
				failed++
				mu.Unlock()
			}
		}(key)
	}
	wg.Wait()

	s.log.Debug().Int("keys", len(s.keys)).Int("failed", failed).Dur("took", time.Since(start)).Msg("completed forecast prewarm job")
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}

// Keys expands cities × diseases into prewarm keys. Entries are used as given;
// the query service resolves them on every run.
func Keys(cities, diseases []string) []trend.SeriesKey {
	if len(diseases) == 0 {
		diseases = []string{trend.DefaultDisease}
	}
	keys := make([]trend.SeriesKey, 0, len(cities)*len(diseases))
	for _, c := range cities {
		for _, d := range diseases {
			keys = append(keys, trend.SeriesKey{City: c, Disease: d})
		}
	}
	return keys
}
