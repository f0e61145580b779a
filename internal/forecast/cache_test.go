package forecast

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/i474232898/disease-trend-forecast/internal/trend"
)

// fakeClock is a settable clock shared by the cache and the computed forecasts.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func forecastAt(key trend.SeriesKey, at time.Time, estimate float64) trend.Forecast {
	return trend.Forecast{
		Key:        key,
		ComputedAt: at,
		Points:     []trend.ForecastPoint{{Date: at, PointEstimate: estimate, LowerBound: estimate, UpperBound: estimate}},
	}
}

func TestCacheHitWithinTTL(t *testing.T) {
	clock := &fakeClock{now: fixedNow}
	c := NewCache(time.Minute, WithCacheClock(clock.Now))
	var calls atomic.Int32
	compute := func() (trend.Forecast, error) {
		calls.Inc()
		return forecastAt(testKey, clock.Now(), float64(calls.Load())), nil
	}

	first, err := c.GetOrCompute(testKey, compute)
	require.NoError(t, err)
	clock.Advance(59 * time.Second)
	second, err := c.GetOrCompute(testKey, compute)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, calls.Load())
	assert.Equal(t, 1, c.Stats().Fresh)

	clock.Advance(time.Second)
	third, err := c.GetOrCompute(testKey, compute)
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())
	assert.InDelta(t, 2.0, third.Points[0].PointEstimate, 1e-9)

	st := c.Stats()
	assert.EqualValues(t, 1, st.Hits)
	assert.EqualValues(t, 2, st.Misses)
	assert.Equal(t, 1, st.Keys)
}

func TestCacheCoalescesConcurrentCallers(t *testing.T) {
	c := NewCache(time.Minute)
	var calls atomic.Int32
	release := make(chan struct{})
	started := make(chan struct{})

	compute := func() (trend.Forecast, error) {
		if calls.Inc() == 1 {
			close(started)
		}
		<-release
		return forecastAt(testKey, time.Now(), 7), nil
	}

	const callers = 50
	results := make([]trend.Forecast, callers)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		fc, err := c.GetOrCompute(testKey, compute)
		assert.NoError(t, err)
		results[0] = fc
	}()
	<-started

	for i := 1; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			fc, err := c.GetOrCompute(testKey, compute)
			assert.NoError(t, err)
			results[i] = fc
		}(i)
	}

	// Every late caller is parked on the in-flight computation.
	require.Eventually(t, func() bool { return c.Stats().Coalesced == callers-1 }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, calls.Load())
	for i := range results {
		assert.Equal(t, results[0], results[i])
	}
}

func TestCacheKeysDoNotBlockEachOther(t *testing.T) {
	c := NewCache(time.Minute)
	other := trend.SeriesKey{City: "Pune", Disease: "flu"}
	release := make(chan struct{})
	started := make(chan struct{})

	go func() {
		_, _ = c.GetOrCompute(testKey, func() (trend.Forecast, error) {
			close(started)
			<-release
			return forecastAt(testKey, time.Now(), 1), nil
		})
	}()
	<-started
	defer close(release)

	done := make(chan struct{})
	go func() {
		defer close(done)
		fc, err := c.GetOrCompute(other, func() (trend.Forecast, error) {
			return forecastAt(other, time.Now(), 2), nil
		})
		assert.NoError(t, err)
		assert.Equal(t, other, fc.Key)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("computation for one key blocked another key")
	}
}

func TestCacheErrorsReachAllWaitersAndAreNotCached(t *testing.T) {
	c := NewCache(time.Minute)
	boom := errors.New("backend exploded")
	release := make(chan struct{})
	started := make(chan struct{})
	var calls atomic.Int32

	failing := func() (trend.Forecast, error) {
		if calls.Inc() == 1 {
			close(started)
		}
		<-release
		return trend.Forecast{}, boom
	}

	const callers = 10
	errs := make(chan error, callers)
	go func() {
		_, err := c.GetOrCompute(testKey, failing)
		errs <- err
	}()
	<-started
	for i := 1; i < callers; i++ {
		go func() {
			_, err := c.GetOrCompute(testKey, failing)
			errs <- err
		}()
	}
	require.Eventually(t, func() bool { return c.Stats().Coalesced == callers-1 }, time.Second, time.Millisecond)
	close(release)

	for i := 0; i < callers; i++ {
		assert.ErrorIs(t, <-errs, boom)
	}
	assert.EqualValues(t, 1, calls.Load())
	assert.Zero(t, c.Stats().Fresh)

	fc, err := c.GetOrCompute(testKey, func() (trend.Forecast, error) {
		return forecastAt(testKey, time.Now(), 3), nil
	})
	require.NoError(t, err)
	assert.InDelta(t, 3.0, fc.Points[0].PointEstimate, 1e-9)
}

func TestCacheRecoversFromPanic(t *testing.T) {
	c := NewCache(time.Minute)

	_, err := c.GetOrCompute(testKey, func() (trend.Forecast, error) {
		panic("division by zero")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")

	_, err = c.GetOrCompute(testKey, func() (trend.Forecast, error) {
		return forecastAt(testKey, time.Now(), 1), nil
	})
	assert.NoError(t, err)
	assert.EqualValues(t, 1, c.Stats().Errors)
}

func TestCacheInvalidate(t *testing.T) {
	c := NewCache(time.Minute)
	var calls atomic.Int32
	compute := func() (trend.Forecast, error) {
		calls.Inc()
		return forecastAt(testKey, time.Now(), 1), nil
	}

	_, err := c.GetOrCompute(testKey, compute)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Stats().Fresh)

	c.Invalidate(testKey)
	assert.Zero(t, c.Stats().Fresh)
	assert.Zero(t, c.Stats().Keys)

	_, err = c.GetOrCompute(testKey, compute)
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())

	c.Invalidate(trend.SeriesKey{City: "Nowhere"})
}

func TestCacheUsesEngineForecasts(t *testing.T) {
	clock := &fakeClock{now: fixedNow}
	engine := NewEngine(WithEngineClock(clock.Now))
	c := NewCache(10*time.Minute, WithCacheClock(clock.Now))
	s := seriesFromFunc(30, func(i int) int { return 20 + i })

	compute := func() (trend.Forecast, error) { return engine.Forecast(s) }
	a, err := c.GetOrCompute(testKey, compute)
	require.NoError(t, err)

	clock.Advance(5 * time.Minute)
	b, err := c.GetOrCompute(testKey, compute)
	require.NoError(t, err)
	assert.Equal(t, a.ComputedAt, b.ComputedAt)

	clock.Advance(5 * time.Minute)
	fresh, err := c.GetOrCompute(testKey, compute)
	require.NoError(t, err)
	assert.Equal(t, fixedNow.Add(10*time.Minute), fresh.ComputedAt)
}

func TestCacheCallerOnInvalidatedSlotJoinsCurrentComputation(t *testing.T) {
	c := NewCache(time.Minute)
	stale := c.slot(testKey)
	c.Invalidate(testKey)

	gate := make(chan struct{})
	var calls atomic.Int32
	compute := func() (trend.Forecast, error) {
		calls.Inc()
		<-gate
		return forecastAt(testKey, time.Now(), 3), nil
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := c.GetOrCompute(testKey, compute)
		assert.NoError(t, err)
	}()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)

	// A caller that looked the slot up before Invalidate removed it.
	wg.Add(1)
	go func() {
		defer wg.Done()
		fc, err := c.getOrCompute(stale, testKey, compute)
		assert.NoError(t, err)
		assert.InDelta(t, 3.0, fc.Points[0].PointEstimate, 1e-9)
	}()
	require.Eventually(t, func() bool { return c.Stats().Coalesced == 1 }, time.Second, time.Millisecond)

	close(gate)
	wg.Wait()
	assert.EqualValues(t, 1, calls.Load())
	assert.Equal(t, 1, c.Stats().Keys)
}

func TestCacheDropsExpiredSlots(t *testing.T) {
	clock := &fakeClock{now: fixedNow}
	c := NewCache(time.Minute, WithCacheClock(clock.Now))
	compute := func() (trend.Forecast, error) { return forecastAt(testKey, clock.Now(), 1), nil }

	for i := 0; i < 500; i++ {
		_, err := c.GetOrCompute(trend.SeriesKey{City: "Pune", Disease: fmt.Sprintf("label-%d", i)}, compute)
		require.NoError(t, err)
	}
	assert.Equal(t, 500, c.Stats().Keys)
	assert.Equal(t, 500, c.Stats().Fresh)

	clock.Advance(time.Minute)
	_, err := c.GetOrCompute(trend.SeriesKey{City: "Pune", Disease: "after-expiry"}, compute)
	require.NoError(t, err)

	st := c.Stats()
	assert.Equal(t, 1, st.Keys)
	assert.Equal(t, 1, st.Fresh)
}

func TestCacheBoundsFailedKeys(t *testing.T) {
	clock := &fakeClock{now: fixedNow}
	c := NewCache(time.Hour, WithCacheClock(clock.Now))
	fail := func() (trend.Forecast, error) { return trend.Forecast{}, errors.New("no data") }

	for i := 0; i < 1000; i++ {
		_, err := c.GetOrCompute(trend.SeriesKey{City: "Pune", Disease: fmt.Sprintf("label-%d", i)}, fail)
		require.Error(t, err)
	}
	assert.LessOrEqual(t, c.Stats().Keys, minSweepSlots)
}
