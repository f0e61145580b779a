package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/i474232898/disease-trend-forecast/internal/trend"
)

// pointHistory holds a date-ordered list of observations for one key.
type pointHistory struct {
	points []trend.ObservationPoint
}

// MemoryBackend is a concurrency-safe in-memory implementation of trend.Backend.
type MemoryBackend struct {
	mu sync.RWMutex

	// key: series key, value: history
	data map[string]*pointHistory

	// retention configuration
	maxHistory int           // max number of points per key
	maxAge     time.Duration // optional max age of points
	now        func() time.Time
}

var _ trend.Backend = (*MemoryBackend)(nil)

// NewMemoryBackend creates a MemoryBackend with optional limits.
// If maxHistory or maxAge is <= 0, it is treated as unlimited.
func NewMemoryBackend(maxHistory int, maxAge time.Duration) *MemoryBackend {
	return &MemoryBackend{
		data:       make(map[string]*pointHistory),
		maxHistory: maxHistory,
		maxAge:     maxAge,
		now:        time.Now,
	}
}

// Name implements trend.Backend.
func (m *MemoryBackend) Name() string { return "memory" }

// Ping implements trend.Backend.
func (m *MemoryBackend) Ping(context.Context) error { return nil }

// Upsert is Save in the form the seeding writers share.
func (m *MemoryBackend) Upsert(_ context.Context, key trend.SeriesKey, points ...trend.ObservationPoint) error {
	m.Save(key, points...)
	return nil
}

// Save upserts points for key (one point per day, later values win) and enforces retention.
func (m *MemoryBackend) Save(key trend.SeriesKey, points ...trend.ObservationPoint) {
	m.mu.Lock()
	defer m.mu.Unlock()

	history, ok := m.data[key.String()]
	if !ok {
		history = &pointHistory{}
		m.data[key.String()] = history
	}

	byDay := make(map[time.Time]trend.ObservationPoint, len(history.points)+len(points))
	for _, p := range history.points {
		byDay[p.Date] = p
	}
	for _, p := range points {
		p.Date = trend.Day(p.Date)
		byDay[p.Date] = p
	}

	merged := make([]trend.ObservationPoint, 0, len(byDay))
	for _, p := range byDay {
		merged = append(merged, p)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Date.Before(merged[j].Date) })

	// Enforce retention by count.
	if m.maxHistory > 0 && len(merged) > m.maxHistory {
		merged = merged[len(merged)-m.maxHistory:]
	}

	// Enforce retention by age.
	if m.maxAge > 0 {
		cutoff := trend.Day(m.now().Add(-m.maxAge))
		i := 0
		for ; i < len(merged); i++ {
			if !merged[i].Date.Before(cutoff) {
				break
			}
		}
		merged = merged[i:]
	}

	history.points = merged
}

// Range implements trend.Backend. Both bounds are inclusive.
func (m *MemoryBackend) Range(_ context.Context, key trend.SeriesKey, from, to time.Time) ([]trend.ObservationPoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	history, ok := m.data[key.String()]
	if !ok {
		return nil, nil
	}

	var result []trend.ObservationPoint
	for _, p := range history.points {
		if !p.Date.Before(from) && !p.Date.After(to) {
			result = append(result, p)
		}
	}
	return result, nil
}
