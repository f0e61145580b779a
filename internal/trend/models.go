package trend

import (
	"strings"
	"time"
)

const (
	// HistoryWindow is the number of daily points in a HistoricalSeries.
	HistoryWindow = 30

	// ForecastHorizon is the number of future days in a Forecast.
	ForecastHorizon = 30

	// DefaultDisease labels series requested without a disease.
	DefaultDisease = "unknown"
)

// Source describes where the points of a HistoricalSeries came from.
type Source string

const (
	SourceSynthetic Source = "synthetic"
	SourceBackend   Source = "backend"
	SourceMixed     Source = "backend+synthetic"
)

// SeriesKey identifies the (city, disease) pair under which history,
// forecasts and subscriptions are tracked.
// City holds the registry's canonical spelling; Disease is normalized with NormalizeDisease.
type SeriesKey struct {
	City    string `json:"city"`
	Disease string `json:"disease"`
}

// String returns a canonical string key for indexing this series in stores and caches.
func (k SeriesKey) String() string {
	return k.City + ":" + k.Disease
}

// NormalizeDisease trims and lower-cases a disease label. Empty labels become DefaultDisease.
func NormalizeDisease(disease string) string {
	d := strings.ToLower(strings.TrimSpace(disease))
	if d == "" {
		return DefaultDisease
	}
	return d
}

// ObservationPoint is one day of observed (or synthesized) data.
type ObservationPoint struct {
	Date    time.Time `json:"date"` // UTC midnight
	Cases   int       `json:"cases"`
	AvgTemp float64   `json:"avgTemp"`
	AQI     float64   `json:"aqi"`
}

// HistoricalSeries is an immutable, date-ascending snapshot of the most recent
// days for one key, HistoryWindow unless requested otherwise. Persisted series
// may contain gaps, including trailing ones: To is the last day of the window,
// not the date of the last point.
type HistoricalSeries struct {
	Key    SeriesKey          `json:"key"`
	Points []ObservationPoint `json:"points"`
	Source Source             `json:"source"`
	To     time.Time          `json:"to"`
}

// Len returns the number of points in the series.
func (s HistoricalSeries) Len() int {
	return len(s.Points)
}

// Latest returns the most recent point, if any.
func (s HistoricalSeries) Latest() (ObservationPoint, bool) {
	if len(s.Points) == 0 {
		return ObservationPoint{}, false
	}
	return s.Points[len(s.Points)-1], true
}

// ForecastPoint is one projected day. LowerBound <= PointEstimate <= UpperBound always holds.
type ForecastPoint struct {
	Date          time.Time `json:"date"`
	PointEstimate float64   `json:"pointEstimate"`
	LowerBound    float64   `json:"lowerBound"`
	UpperBound    float64   `json:"upperBound"`
}

// Band returns the half-width of the uncertainty interval above the point estimate.
func (p ForecastPoint) Band() float64 {
	return p.UpperBound - p.PointEstimate
}

// ModelSummary records the fitted components behind a Forecast.
type ModelSummary struct {
	Intercept       float64    `json:"intercept"`
	Slope           float64    `json:"slope"`
	SeasonalOffsets [7]float64 `json:"seasonalOffsets"` // indexed by time.Weekday
	Seasonal        bool       `json:"seasonal"`
	BaseNoise       float64    `json:"baseNoise"`
	Observations    int        `json:"observations"`
}

// Forecast is a ForecastHorizon-day projection for one key. Cached forecasts are
// never mutated; recomputation replaces them wholesale.
type Forecast struct {
	Key        SeriesKey       `json:"key"`
	Points     []ForecastPoint `json:"points"`
	ComputedAt time.Time       `json:"computedAt"`
	Model      ModelSummary    `json:"model"`
}

// LiveUpdate is a synthetic "latest observation" pushed to subscribers on each tick.
type LiveUpdate struct {
	Timestamp time.Time `json:"timestamp"`
	City      string    `json:"city"`
	Disease   string    `json:"disease"`
	Cases     int       `json:"cases"`
	AvgTemp   float64   `json:"avgTemp"`
	AQI       float64   `json:"aqi"`
}

// Day truncates t to UTC midnight.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Window returns the first and last day of the HistoryWindow days ending on now's UTC day.
func Window(now time.Time) (from, to time.Time) {
	return WindowDays(now, HistoryWindow)
}

// WindowDays returns the first and last day of the days-long window ending on
// now's UTC day. days below one is treated as one.
func WindowDays(now time.Time, days int) (from, to time.Time) {
	if days < 1 {
		days = 1
	}
	to = Day(now)
	from = to.AddDate(0, 0, -(days - 1))
	return from, to
}
