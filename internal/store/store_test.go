package store

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/disease-trend-forecast/internal/cities"
	"github.com/i474232898/disease-trend-forecast/internal/synthetic"
	"github.com/i474232898/disease-trend-forecast/internal/trend"
)

var (
	fixedNow = time.Date(2026, 6, 30, 15, 4, 5, 0, time.UTC)
	key      = trend.SeriesKey{City: "Mumbai", Disease: "flu"}
)

func clock() time.Time { return fixedNow }

// failingBackend fails every read and counts calls.
type failingBackend struct {
	calls atomic.Int32
	err   error
	delay time.Duration
}

func (f *failingBackend) Name() string               { return "failing" }
func (f *failingBackend) Ping(context.Context) error { return f.err }
func (f *failingBackend) Range(ctx context.Context, _ trend.SeriesKey, _, _ time.Time) ([]trend.ObservationPoint, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, f.err
}

func newGen() *synthetic.Generator { return synthetic.New(cities.Default()) }

func TestSyntheticStoreDeterministic(t *testing.T) {
	s := NewSyntheticStore(newGen(), cities.Default(), WithClock(clock))

	a, err := s.Fetch(context.Background(), key)
	require.NoError(t, err)
	b, err := s.Fetch(context.Background(), key)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	require.Len(t, a.Points, trend.HistoryWindow)
	assert.Equal(t, trend.SourceSynthetic, a.Source)
	assert.Equal(t, trend.Day(fixedNow), a.Points[len(a.Points)-1].Date)
}

func TestSyntheticStoreCanonicalizesKey(t *testing.T) {
	s := NewSyntheticStore(newGen(), cities.Default(), WithClock(clock))

	got, err := s.Fetch(context.Background(), trend.SeriesKey{City: "mumbai", Disease: " FLU "})
	require.NoError(t, err)
	assert.Equal(t, key, got.Key)
}

func TestStoresRejectUnknownCity(t *testing.T) {
	backend := &failingBackend{}
	stores := map[string]trend.SeriesStore{
		"synthetic": NewSyntheticStore(newGen(), cities.Default()),
		"backed":    NewBackedStore(backend, newGen(), cities.Default()),
	}
	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			_, err := s.Fetch(context.Background(), trend.SeriesKey{City: "Atlantis", Disease: "flu"})
			assert.ErrorIs(t, err, trend.ErrUnknownCity)
		})
	}
	assert.Zero(t, backend.calls.Load())
}

func TestBackedStoreFullHistory(t *testing.T) {
	mem := NewMemoryBackend(0, 0)
	from, to := trend.Window(fixedNow)
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		mem.Save(key, trend.ObservationPoint{Date: d, Cases: 100, AvgTemp: 30, AQI: 90})
	}

	s := NewBackedStore(mem, newGen(), cities.Default(), WithClock(clock))
	got, err := s.Fetch(context.Background(), key)
	require.NoError(t, err)

	assert.Equal(t, trend.SourceBackend, got.Source)
	require.Len(t, got.Points, trend.HistoryWindow)
	for _, p := range got.Points {
		assert.Equal(t, 100, p.Cases)
	}
}

func TestBackedStorePadsLeadingDays(t *testing.T) {
	mem := NewMemoryBackend(0, 0)
	_, to := trend.Window(fixedNow)
	for i := 0; i < 10; i++ {
		mem.Save(key, trend.ObservationPoint{Date: to.AddDate(0, 0, -i), Cases: 7})
	}

	gen := newGen()
	s := NewBackedStore(mem, gen, cities.Default(), WithClock(clock))
	got, err := s.Fetch(context.Background(), key)
	require.NoError(t, err)

	assert.Equal(t, trend.SourceMixed, got.Source)
	require.Len(t, got.Points, trend.HistoryWindow)
	for i, p := range got.Points {
		if i < 20 {
			assert.Equal(t, gen.Observation(key, p.Date), p, "padded day %d", i)
		} else {
			assert.Equal(t, 7, p.Cases)
		}
	}

	again, err := s.Fetch(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, got, again)
}

func TestBackedStoreKeepsInteriorGaps(t *testing.T) {
	mem := NewMemoryBackend(0, 0)
	from, to := trend.Window(fixedNow)
	mem.Save(key,
		trend.ObservationPoint{Date: from, Cases: 1},
		trend.ObservationPoint{Date: from.AddDate(0, 0, 10), Cases: 2},
		trend.ObservationPoint{Date: to, Cases: 3},
	)

	s := NewBackedStore(mem, newGen(), cities.Default(), WithClock(clock))
	got, err := s.Fetch(context.Background(), key)
	require.NoError(t, err)

	assert.Equal(t, trend.SourceBackend, got.Source)
	require.Len(t, got.Points, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{got.Points[0].Cases, got.Points[1].Cases, got.Points[2].Cases})
}

func TestBackedStoreKeepsTrailingGap(t *testing.T) {
	mem := NewMemoryBackend(0, 0)
	_, to := trend.Window(fixedNow)
	stale := to.AddDate(0, 0, -10)
	for i := 0; i < 20; i++ {
		mem.Save(key, trend.ObservationPoint{Date: stale.AddDate(0, 0, -i), Cases: 40})
	}

	s := NewBackedStore(mem, newGen(), cities.Default(), WithClock(clock))
	got, err := s.Fetch(context.Background(), key)
	require.NoError(t, err)

	assert.Equal(t, trend.SourceBackend, got.Source)
	require.Len(t, got.Points, 20)
	assert.Equal(t, stale, got.Points[len(got.Points)-1].Date)
	assert.Equal(t, to, got.To)
}

func TestFetchDays(t *testing.T) {
	mem := NewMemoryBackend(0, 0)
	_, to := trend.Window(fixedNow)
	for i := 0; i < 5; i++ {
		mem.Save(key, trend.ObservationPoint{Date: to.AddDate(0, 0, -i), Cases: 3})
	}

	stores := map[string]trend.SeriesStore{
		"synthetic": NewSyntheticStore(newGen(), cities.Default(), WithClock(clock)),
		"backed":    NewBackedStore(mem, newGen(), cities.Default(), WithClock(clock)),
	}
	for name, st := range stores {
		t.Run(name, func(t *testing.T) {
			got, err := st.FetchDays(context.Background(), key, 400)
			require.NoError(t, err)
			require.Len(t, got.Points, 400)
			assert.Equal(t, to.AddDate(0, 0, -399), got.Points[0].Date)
			assert.Equal(t, to, got.Points[399].Date)
			assert.Equal(t, to, got.To)

			one, err := st.FetchDays(context.Background(), key, 0)
			require.NoError(t, err)
			assert.Len(t, one.Points, 1)

			_, err = st.FetchDays(context.Background(), trend.SeriesKey{City: "Atlantis"}, 10)
			assert.ErrorIs(t, err, trend.ErrUnknownCity)
		})
	}

	backed, err := stores["backed"].FetchDays(context.Background(), key, 400)
	require.NoError(t, err)
	assert.Equal(t, trend.SourceMixed, backed.Source)
	assert.Equal(t, 3, backed.Points[399].Cases)
}

func TestBackedStoreEmptyBackendIsSynthetic(t *testing.T) {
	s := NewBackedStore(NewMemoryBackend(0, 0), newGen(), cities.Default(), WithClock(clock))
	got, err := s.Fetch(context.Background(), key)
	require.NoError(t, err)

	want, err := NewSyntheticStore(newGen(), cities.Default(), WithClock(clock)).Fetch(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestBackedStoreDegradesOnFailure(t *testing.T) {
	backend := &failingBackend{err: errors.New("connection refused")}
	s := NewBackedStore(backend, newGen(), cities.Default(), WithClock(clock))

	got, err := s.Fetch(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, trend.SourceSynthetic, got.Source)
	assert.Len(t, got.Points, trend.HistoryWindow)
	assert.EqualValues(t, 1, backend.calls.Load())
}

func TestBackedStoreDegradesOnTimeout(t *testing.T) {
	backend := &failingBackend{delay: time.Second}
	s := NewBackedStore(backend, newGen(), cities.Default(), WithClock(clock), WithTimeout(20*time.Millisecond))

	start := time.Now()
	got, err := s.Fetch(context.Background(), key)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, trend.SourceSynthetic, got.Source)
}

func TestBackedStoreBreakerSkipsBackend(t *testing.T) {
	backend := &failingBackend{err: errors.New("down")}
	s := NewBackedStore(backend, newGen(), cities.Default(), WithClock(clock),
		WithBreakerSettings(gobreaker.Settings{
			Name:    "test",
			Timeout: time.Minute,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 2
			},
		}))

	for i := 0; i < 5; i++ {
		got, err := s.Fetch(context.Background(), key)
		require.NoError(t, err)
		assert.Equal(t, trend.SourceSynthetic, got.Source)
	}
	assert.EqualValues(t, 2, backend.calls.Load())
}

func TestNormalizeDedupesAndClamps(t *testing.T) {
	from, to := trend.Window(fixedNow)
	pts := normalize([]trend.ObservationPoint{
		{Date: to.Add(6 * time.Hour), Cases: 5},
		{Date: from.AddDate(0, 0, -3), Cases: 9},
		{Date: from, Cases: -4},
		{Date: to, Cases: 6},
	}, from, to)

	require.Len(t, pts, 2)
	assert.Equal(t, from, pts[0].Date)
	assert.Equal(t, 0, pts[0].Cases)
	assert.Equal(t, 6, pts[1].Cases)
}
