// Package forecast projects historical case counts forward and caches the results.
package forecast

import (
	"math"
	"time"

	"github.com/i474232898/disease-trend-forecast/internal/trend"
)

// minSeasonalPoints is the smallest series that gets weekday offsets.
const minSeasonalPoints = 7

// Engine fits a linear trend with weekday seasonality and projects it
// trend.ForecastHorizon days past the end of the history window. It is stateless
// apart from its clock and safe for concurrent use.
type Engine struct {
	now func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEngineClock overrides the clock used for Forecast.ComputedAt.
func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an Engine.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Forecast projects series forward from series.To, or from the last point when
// To is unset. Points must be date-ascending; gaps are allowed.
// The band around each estimate is baseNoise·√h, where baseNoise is the standard
// deviation of the residuals left after the trend and weekday terms.
func (e *Engine) Forecast(series trend.HistoricalSeries) (trend.Forecast, error) {
	if len(series.Points) == 0 {
		return trend.Forecast{}, trend.ErrEmptySeries
	}

	model := Fit(series.Points)
	last := trend.Day(series.Points[len(series.Points)-1].Date)
	if end := trend.Day(series.To); !series.To.IsZero() && end.After(last) {
		last = end
	}
	origin := trend.Day(series.Points[0].Date)
	lastX := daysBetween(origin, last)

	points := make([]trend.ForecastPoint, trend.ForecastHorizon)
	for h := 1; h <= trend.ForecastHorizon; h++ {
		date := last.AddDate(0, 0, h)
		estimate := math.Max(0, model.Intercept+model.Slope*float64(lastX+h)+model.SeasonalOffsets[date.Weekday()])
		band := model.BaseNoise * math.Sqrt(float64(h))
		points[h-1] = trend.ForecastPoint{
			Date:          date,
			PointEstimate: estimate,
			LowerBound:    math.Max(0, estimate-band),
			UpperBound:    estimate + band,
		}
	}

	return trend.Forecast{
		Key:        series.Key,
		Points:     points,
		ComputedAt: e.now(),
		Model:      model,
	}, nil
}

// Fit estimates the trend, weekday offsets and residual noise of pts.
func Fit(pts []trend.ObservationPoint) trend.ModelSummary {
	model := trend.ModelSummary{Observations: len(pts)}
	if len(pts) == 0 {
		return model
	}

	origin := trend.Day(pts[0].Date)
	xs := make([]float64, len(pts))
	ys := make([]float64, len(pts))
	for i, p := range pts {
		xs[i] = float64(daysBetween(origin, trend.Day(p.Date)))
		ys[i] = float64(p.Cases)
	}
	model.Intercept, model.Slope = leastSquares(xs, ys)

	residuals := make([]float64, len(pts))
	for i := range pts {
		residuals[i] = ys[i] - (model.Intercept + model.Slope*xs[i])
	}

	if len(pts) >= minSeasonalPoints {
		var sums [7]float64
		var counts [7]int
		for i, p := range pts {
			wd := p.Date.Weekday()
			sums[wd] += residuals[i]
			counts[wd]++
		}
		for wd := range sums {
			if counts[wd] > 0 {
				model.SeasonalOffsets[wd] = sums[wd] / float64(counts[wd])
			}
		}
		model.Seasonal = true
	}

	var ss float64
	for i, p := range pts {
		r := residuals[i] - model.SeasonalOffsets[p.Date.Weekday()]
		ss += r * r
	}
	model.BaseNoise = math.Sqrt(ss / float64(len(pts)))
	return model
}

// leastSquares returns the ordinary least squares line through (xs, ys). With
// fewer than two distinct x values the line is flat at the mean of ys.
func leastSquares(xs, ys []float64) (intercept, slope float64) {
	n := float64(len(xs))
	var sumX, sumY float64
	for i := range xs {
		sumX += xs[i]
		sumY += ys[i]
	}
	meanX, meanY := sumX/n, sumY/n

	var sxx, sxy float64
	for i := range xs {
		dx := xs[i] - meanX
		sxx += dx * dx
		sxy += dx * (ys[i] - meanY)
	}
	if sxx == 0 {
		return meanY, 0
	}
	slope = sxy / sxx
	return meanY - slope*meanX, slope
}

func daysBetween(from, to time.Time) int {
	return int(math.Round(to.Sub(from).Hours() / 24))
}
