package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the collectors exported on /metrics.
type Metrics struct {
	// APIRequests counts calls to the events API by operation and outcome.
	APIRequests *prometheus.CounterVec

	// APIRequestDuration tracks events API latency by operation.
	APIRequestDuration *prometheus.HistogramVec

	// ScreenStatus is 1 for the current screen status and 0 for the others.
	ScreenStatus *prometheus.GaugeVec

	// ScreenEvents is the number of events currently shown.
	ScreenEvents prometheus.Gauge

	// HTTPRequests counts requests served by the screen server.
	HTTPRequests *prometheus.CounterVec
}

// New registers all collectors with reg. Passing a fresh registry keeps
// tests isolated from the default one.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		APIRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ithappened_api_requests_total",
				Help: "The total number of events API calls",
			},
			[]string{"operation", "outcome"},
		),
		APIRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ithappened_api_request_duration_seconds",
				Help:    "The duration of events API calls in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		ScreenStatus: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ithappened_screen_status",
				Help: "The current screen status (1 for the active status)",
			},
			[]string{"status"},
		),
		ScreenEvents: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "ithappened_screen_events",
				Help: "The number of events currently on screen",
			},
		),
		HTTPRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ithappened_http_requests_total",
				Help: "The total number of screen server requests",
			},
			[]string{"route", "status"},
		),
	}
}
