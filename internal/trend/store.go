package trend

import (
	"context"
	"time"
)

// SeriesStore resolves the historical window for a key. Implementations never
// surface backend unavailability; only ErrUnknownCity is returned to callers.
// Fetch is FetchDays with HistoryWindow days.
type SeriesStore interface {
	Fetch(ctx context.Context, key SeriesKey) (HistoricalSeries, error)
	FetchDays(ctx context.Context, key SeriesKey, days int) (HistoricalSeries, error)
}

// Backend is the read-only persistent time series lookup consulted by a backed SeriesStore.
// Range returns the persisted points for key with from <= Date <= to, ordered by date.
type Backend interface {
	Name() string
	Range(ctx context.Context, key SeriesKey, from, to time.Time) ([]ObservationPoint, error)
	Ping(ctx context.Context) error
}
