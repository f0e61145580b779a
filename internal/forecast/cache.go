package forecast

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/i474232898/disease-trend-forecast/internal/metrics"
	"github.com/i474232898/disease-trend-forecast/internal/trend"
)

// DefaultTTL is how long a computed forecast is served before recomputation.
const DefaultTTL = 10 * time.Minute

// minSweepSlots is the slot count below which creating a slot never sweeps.
const minSweepSlots = 64

// ComputeFunc produces a fresh forecast for one key.
type ComputeFunc func() (trend.Forecast, error)

// Stats is a snapshot of cache activity.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Coalesced uint64 `json:"coalesced"`
	Errors    uint64 `json:"errors"`
	Keys      int    `json:"keys"`  // slots held, fresh or not
	Fresh     int    `json:"fresh"` // keys with a forecast inside the TTL
}

// call is one in-flight computation shared by every caller that arrives while it runs.
type call struct {
	done chan struct{}
	val  trend.Forecast
	err  error
}

// slot holds the cached forecast and in-flight computation for one key. A removed
// slot is no longer in the map; callers still holding it must look the key up again.
type slot struct {
	mu       sync.Mutex
	val      trend.Forecast
	storedAt time.Time
	valid    bool
	inflight *call
	removed  bool
}

// idleAndStale reports whether s can be dropped. s.mu must be held.
func (s *slot) idleAndStale(now time.Time, ttl time.Duration) bool {
	return s.inflight == nil && (!s.valid || now.Sub(s.storedAt) >= ttl)
}

// Cache memoizes forecasts per key with a TTL. At most one computation per key
// runs at a time; callers for other keys are never blocked by it.
type Cache struct {
	ttl time.Duration
	now func() time.Time

	mu        sync.Mutex // guards slots and sweep state, never held during computation
	slots     map[trend.SeriesKey]*slot
	nextSweep int
	lastSweep time.Time

	hits      atomic.Uint64
	misses    atomic.Uint64
	coalesced atomic.Uint64
	errors    atomic.Uint64
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithCacheClock overrides the clock used for expiry checks.
func WithCacheClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

// NewCache creates a cache whose entries expire ttl after they were computed.
func NewCache(ttl time.Duration, opts ...CacheOption) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		ttl:       ttl,
		now:       time.Now,
		slots:     make(map[trend.SeriesKey]*slot),
		nextSweep: minSweepSlots,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.lastSweep = c.now()
	return c
}

// GetOrCompute returns the cached forecast for key while it is fresh. Otherwise it
// runs compute, or waits for the computation already running for key, and returns
// that result. Errors are delivered to every waiting caller and are never cached.
func (c *Cache) GetOrCompute(key trend.SeriesKey, compute ComputeFunc) (trend.Forecast, error) {
	return c.getOrCompute(c.slot(key), key, compute)
}

// getOrCompute runs GetOrCompute starting from s, which may have been removed
// since it was looked up.
func (c *Cache) getOrCompute(s *slot, key trend.SeriesKey, compute ComputeFunc) (trend.Forecast, error) {
	s.mu.Lock()
	for s.removed {
		s.mu.Unlock()
		s = c.slot(key)
		s.mu.Lock()
	}
	if s.valid && c.now().Sub(s.storedAt) < c.ttl {
		val := s.val
		s.mu.Unlock()
		c.hits.Inc()
		metrics.ForecastCacheRequests.WithLabelValues("hit").Inc()
		return val, nil
	}
	if cl := s.inflight; cl != nil {
		s.mu.Unlock()
		c.coalesced.Inc()
		metrics.ForecastCacheRequests.WithLabelValues("coalesced").Inc()
		<-cl.done
		return cl.val, cl.err
	}
	cl := &call{done: make(chan struct{})}
	s.inflight = cl
	s.mu.Unlock()

	c.misses.Inc()
	metrics.ForecastCacheRequests.WithLabelValues("miss").Inc()

	cl.val, cl.err = c.run(compute)

	s.mu.Lock()
	s.inflight = nil
	if cl.err == nil {
		s.val = cl.val
		s.storedAt = cl.val.ComputedAt
		if s.storedAt.IsZero() {
			s.storedAt = c.now()
		}
		s.valid = true
	} else {
		s.val = trend.Forecast{}
		s.valid = false
	}
	s.mu.Unlock()
	close(cl.done)

	return cl.val, cl.err
}

func (c *Cache) run(compute ComputeFunc) (fc trend.Forecast, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			fc, err = trend.Forecast{}, fmt.Errorf("forecast computation panicked: %v", r)
		}
		metrics.ForecastComputeDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			c.errors.Inc()
			metrics.ForecastComputeErrors.Inc()
		}
	}()
	return compute()
}

// slot returns the slot for key, creating it if needed. Creating a slot sweeps
// idle stale slots once the map has doubled or a TTL has passed since the last sweep.
func (c *Cache) slot(key trend.SeriesKey) *slot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.slots[key]
	if !ok {
		now := c.now()
		if len(c.slots) >= c.nextSweep || now.Sub(c.lastSweep) >= c.ttl {
			c.sweepLocked(now)
		}
		s = &slot{}
		c.slots[key] = s
		metrics.ForecastCacheEntries.Set(float64(len(c.slots)))
	}
	return s
}

// sweepLocked drops idle slots without a fresh forecast. c.mu must be held.
func (c *Cache) sweepLocked(now time.Time) {
	for key, s := range c.slots {
		s.mu.Lock()
		if s.idleAndStale(now, c.ttl) {
			s.removed = true
			delete(c.slots, key)
		}
		s.mu.Unlock()
	}
	c.lastSweep = now
	c.nextSweep = 2 * len(c.slots)
	if c.nextSweep < minSweepSlots {
		c.nextSweep = minSweepSlots
	}
	metrics.ForecastCacheEntries.Set(float64(len(c.slots)))
}

// Invalidate drops the cached forecast for key so the next request recomputes it.
// A computation already running for key still completes and stores its result.
func (c *Cache) Invalidate(key trend.SeriesKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.slots[key]
	if !ok {
		return
	}
	s.mu.Lock()
	s.valid = false
	s.val = trend.Forecast{}
	if s.inflight == nil {
		s.removed = true
		delete(c.slots, key)
		metrics.ForecastCacheEntries.Set(float64(len(c.slots)))
	}
	s.mu.Unlock()
}

// Stats returns a snapshot of cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	slots := make([]*slot, 0, len(c.slots))
	for _, s := range c.slots {
		slots = append(slots, s)
	}
	c.mu.Unlock()

	now := c.now()
	fresh := 0
	for _, s := range slots {
		s.mu.Lock()
		if s.valid && now.Sub(s.storedAt) < c.ttl {
			fresh++
		}
		s.mu.Unlock()
	}
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Coalesced: c.coalesced.Load(),
		Errors:    c.errors.Load(),
		Keys:      len(slots),
		Fresh:     fresh,
	}
}
