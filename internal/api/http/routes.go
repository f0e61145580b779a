package httpapi

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/disease-trend-forecast/internal/query"
	"github.com/i474232898/disease-trend-forecast/internal/trend"
)

var validate = validator.New()

// Options tunes transport behavior.
type Options struct {
	// Heartbeat is the interval between SSE keep-alive comments.
	Heartbeat time.Duration
	// StreamLimit ends an SSE stream after this many updates; 0 means unlimited.
	StreamLimit int
}

// DefaultOptions returns the production transport settings.
func DefaultOptions() Options {
	return Options{Heartbeat: 15 * time.Second}
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, service *query.Service, opts Options) {
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = DefaultOptions().Heartbeat
	}
	v1 := app.Group("/api/v1")

	v1.Get("/cities", func(c *fiber.Ctx) error {
		all := service.Cities()
		return c.JSON(fiber.Map{
			"count":  len(all),
			"cities": all,
		})
	})

	v1.Get("/trends/history", func(c *fiber.Ctx) error {
		q, err := parseSeriesQuery(c)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		series, err := service.GetHistory(c.UserContext(), q.City, q.Disease)
		if err != nil {
			return mapError(err, "failed to fetch trend history")
		}

		return c.JSON(fiber.Map{
			"city":    series.Key.City,
			"disease": series.Key.Disease,
			"source":  series.Source,
			"summary": trend.Summarize(series),
			"history": series.Points,
		})
	})

	v1.Get("/trends/forecast", func(c *fiber.Ctx) error {
		q, err := parseSeriesQuery(c)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		fc, err := service.GetForecast(c.UserContext(), q.City, q.Disease)
		if err != nil {
			return mapError(err, "failed to compute forecast")
		}

		return c.JSON(fiber.Map{
			"city":       fc.Key.City,
			"disease":    fc.Key.Disease,
			"computedAt": fc.ComputedAt,
			"model":      fc.Model,
			"forecast":   fc.Points,
		})
	})

	v1.Get("/trends/predict", func(c *fiber.Ctx) error {
		q, err := parseSeriesQuery(c)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		p, err := service.GetPrediction(c.UserContext(), q.City, q.Disease)
		if err != nil {
			return mapError(err, "failed to compute prediction")
		}

		return c.JSON(fiber.Map{
			"city":    p.History.Key.City,
			"disease": p.History.Key.Disease,
			"data":    predictionRows(p),
		})
	})

	v1.Get("/trends/export", func(c *fiber.Ctx) error {
		q, err := parseExportQuery(c)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		series, err := service.Export(c.UserContext(), q.City, q.Disease, q.Rows)
		if err != nil {
			return mapError(err, "failed to export trend rows")
		}

		return c.JSON(fiber.Map{
			"city":    series.Key.City,
			"disease": series.Key.Disease,
			"source":  series.Source,
			"columns": exportColumns,
			"rows":    exportRows(series),
		})
	})

	v1.Get("/trends/stream", streamHandler(service, opts))
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

// RegisterHealth adds /health reporting the status of every named check.
// Failing checks degrade the status but never fail the request, since the
// service keeps answering from synthetic data.
func RegisterHealth(app *fiber.App, service *query.Service, checks map[string]HealthCheck) {
	app.Get("/health", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()

		status := "ok"
		deps := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				deps[name] = "unavailable: " + err.Error()
				status = "degraded"
				continue
			}
			deps[name] = "ok"
		}

		return c.JSON(fiber.Map{
			"status":       status,
			"service":      "disease-trend-forecast",
			"dependencies": deps,
			"liveKeys":     service.LiveKeys(),
			"cache":        service.CacheStats(),
		})
	})
}

// seriesQuery holds query parameters identifying a series.
type seriesQuery struct {
	City    string `validate:"required,max=100"`
	Disease string `validate:"max=100"`
}

func parseSeriesQuery(c *fiber.Ctx) (seriesQuery, error) {
	var q seriesQuery

	q.City = c.Query("city")
	q.Disease = c.Query("disease")

	if err := validate.Struct(q); err != nil {
		return q, err
	}

	return q, nil
}

// defaultExportRows is the export size when rows is omitted.
const defaultExportRows = 1000

// exportQuery holds the export parameters.
type exportQuery struct {
	seriesQuery
	Rows int `validate:"min=1,max=3650"`
}

func parseExportQuery(c *fiber.Ctx) (exportQuery, error) {
	q := exportQuery{Rows: c.QueryInt("rows", defaultExportRows)}
	q.City = c.Query("city")
	q.Disease = c.Query("disease")

	if err := validate.Struct(q); err != nil {
		return q, err
	}
	return q, nil
}

var exportColumns = []string{"date", "cases", "avg_temp", "aqi"}

// exportRows flattens a series into positional rows matching exportColumns.
func exportRows(series trend.HistoricalSeries) [][]any {
	rows := make([][]any, len(series.Points))
	for i, p := range series.Points {
		rows[i] = []any{p.Date.Format("2006-01-02"), p.Cases, p.AvgTemp, p.AQI}
	}
	return rows
}

// mapError converts service errors into Fiber errors.
func mapError(err error, fallback string) error {
	switch {
	case query.IsNotFound(err):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fiber.NewError(fiber.StatusServiceUnavailable, "request canceled")
	default:
		return fiber.NewError(fiber.StatusInternalServerError, fallback)
	}
}

// predictionRow is one day of the merged history/forecast table. History rows
// carry Y; forecast rows carry YHat and its bounds.
type predictionRow struct {
	Date       string   `json:"ds"`
	Y          *int     `json:"y"`
	YHat       *float64 `json:"yhat"`
	YHatLower  *float64 `json:"yhat_lower"`
	YHatUpper  *float64 `json:"yhat_upper"`
	IsForecast bool     `json:"is_forecast"`
}

func predictionRows(p query.Prediction) []predictionRow {
	rows := make([]predictionRow, 0, len(p.History.Points)+len(p.Forecast.Points))
	for _, pt := range p.History.Points {
		cases := pt.Cases
		rows = append(rows, predictionRow{Date: pt.Date.Format("2006-01-02"), Y: &cases})
	}
	for _, pt := range p.Forecast.Points {
		yhat, lower, upper := pt.PointEstimate, pt.LowerBound, pt.UpperBound
		rows = append(rows, predictionRow{
			Date:       pt.Date.Format("2006-01-02"),
			YHat:       &yhat,
			YHatLower:  &lower,
			YHatUpper:  &upper,
			IsForecast: true,
		})
	}
	return rows
}
