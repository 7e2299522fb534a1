// Package metrics provides Prometheus metrics for the departures engine.
package metrics

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Registry is the Prometheus registry for this metrics instance
	Registry *prometheus.Registry

	// Remote gateway metrics
	RemoteFetchesTotal   *prometheus.CounterVec
	RemoteFetchDuration  *prometheus.HistogramVec
	OfflineFallbackTotal *prometheus.CounterVec

	// Offline dataset metrics
	OfflineQueryDuration prometheus.Histogram
	SlowQueriesTotal     prometheus.Counter

	// Window metrics
	WindowRefreshesTotal *prometheus.CounterVec
	WindowSize           prometheus.Gauge

	// logger for error reporting
	logger *slog.Logger
}

// New creates and registers all application metrics with a new registry.
func New() *Metrics {
	return NewWithLogger(nil)
}

// NewWithLogger creates metrics with a logger for error reporting.
func NewWithLogger(logger *slog.Logger) *Metrics {
	registry := prometheus.NewRegistry()

	remoteFetchesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "departures_remote_fetches_total",
			Help: "Total number of remote departure page fetches",
		},
		[]string{"direction", "outcome"},
	)

	remoteFetchDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "departures_remote_fetch_duration_seconds",
			Help:    "Remote departure fetch latency distribution",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"direction"},
	)

	offlineFallbackTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "departures_offline_fallback_total",
			Help: "Total number of fallbacks to the offline schedule",
		},
		[]string{"reason"},
	)

	offlineQueryDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "departures_offline_query_duration_seconds",
		Help:    "Offline schedule query latency distribution",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
	})

	slowQueriesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "departures_offline_slow_queries_total",
		Help: "Offline schedule queries that exceeded the 100ms budget",
	})

	windowRefreshesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "departures_window_refreshes_total",
			Help: "Total number of periodic window refreshes",
		},
		[]string{"outcome"},
	)

	windowSize := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "departures_window_size",
		Help: "Number of departures currently held in the window",
	})

	// Register all metrics with the custom registry
	registry.MustRegister(
		remoteFetchesTotal,
		remoteFetchDuration,
		offlineFallbackTotal,
		offlineQueryDuration,
		slowQueriesTotal,
		windowRefreshesTotal,
		windowSize,
	)

	return &Metrics{
		Registry:             registry,
		RemoteFetchesTotal:   remoteFetchesTotal,
		RemoteFetchDuration:  remoteFetchDuration,
		OfflineFallbackTotal: offlineFallbackTotal,
		OfflineQueryDuration: offlineQueryDuration,
		SlowQueriesTotal:     slowQueriesTotal,
		WindowRefreshesTotal: windowRefreshesTotal,
		WindowSize:           windowSize,
		logger:               logger,
	}
}
