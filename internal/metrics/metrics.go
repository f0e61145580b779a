// Package metrics holds the Prometheus instrumentation shared by the service.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Forecast cache
	ForecastCacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forecast_cache_requests_total",
			Help: "Forecast cache lookups by result (hit, miss, coalesced)",
		},
		[]string{"result"},
	)

	ForecastComputeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "forecast_compute_duration_seconds",
			Help:    "Duration of forecast computations including history fetch",
			Buckets: prometheus.DefBuckets,
		},
	)

	ForecastComputeErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "forecast_compute_errors_total",
			Help: "Forecast computations that returned an error",
		},
	)

	ForecastCacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "forecast_cache_entries",
			Help: "Keys currently tracked by the forecast cache",
		},
	)

	// Series store
	SeriesFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "series_fetch_total",
			Help: "Historical series fetches by resulting source",
		},
		[]string{"source"},
	)

	BackendFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "series_backend_failures_total",
			Help: "Backend reads that degraded to synthetic data",
		},
		[]string{"backend", "reason"},
	)

	// Live feed
	LiveActiveKeys = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "livefeed_active_keys",
			Help: "Keys with at least one subscriber and a running ticker",
		},
	)

	LiveSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "livefeed_subscribers",
			Help: "Currently registered live update subscriptions",
		},
	)

	LiveTicks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "livefeed_ticks_total",
			Help: "Live updates generated",
		},
	)

	LiveDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "livefeed_dropped_total",
			Help: "Live updates dropped because a subscriber buffer was full",
		},
	)

	// HTTP
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "HTTP requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// RecordAPIRequest records one HTTP request.
func RecordAPIRequest(method, route string, status int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
