// Package httpapi exposes the query service over HTTP with Fiber.
package httpapi

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/i474232898/disease-trend-forecast/internal/query"
)

// NewApp builds the Fiber application with middleware, API routes, /health and /metrics.
func NewApp(service *query.Service, opts Options, checks map[string]HealthCheck) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "disease-trend-forecast",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		// No WriteTimeout: SSE responses stay open.
		JSONEncoder:  json.Marshal,
		JSONDecoder:  json.Unmarshal,
		ErrorHandler: ErrorHandler,
	})

	app.Use(recover.New())
	app.Use(RequestLogger())

	RegisterHealth(app, service, checks)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	RegisterRoutes(app, service, opts)

	return app
}
