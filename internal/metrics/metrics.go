// Package metrics exposes Prometheus collectors for the harvester.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Status label values.
const (
	StatusOK        = "ok"
	StatusFailed    = "failed"
	StatusEmpty     = "empty"
	StatusDuplicate = "duplicate"
)

var (
	harvesterPagesTotal           *prometheus.CounterVec
	harvesterItemsTotal           *prometheus.CounterVec
	harvesterCheckpointsTotal     *prometheus.CounterVec
	harvesterSessionRestartsTotal *prometheus.CounterVec
	harvesterFetchAttemptsTotal   *prometheus.CounterVec
	harvesterItemsCollected       prometheus.Gauge
	harvesterCurrentPage          prometheus.Gauge
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		harvesterPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_listing_pages_total",
				Help: "Total number of listing pages processed, labeled by status.",
			},
			[]string{"status"},
		)

		harvesterItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_items_total",
				Help: "Total number of detail pages considered, labeled by status.",
			},
			[]string{"status"},
		)

		harvesterCheckpointsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_checkpoints_total",
				Help: "Total number of checkpoints written, labeled by status.",
			},
			[]string{"status"},
		)

		harvesterSessionRestartsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_session_restarts_total",
				Help: "Total number of browser session replacements, labeled by reason.",
			},
			[]string{"reason"},
		)

		harvesterFetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_fetch_attempts_total",
				Help: "Total number of navigation attempts, labeled by outcome class.",
			},
			[]string{"class"},
		)

		harvesterItemsCollected = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_items_collected",
				Help: "Number of records currently held in the dataset.",
			},
		)

		harvesterCurrentPage = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_current_page",
				Help: "Listing page currently being processed.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Observation helpers are no-ops until Init has been called.

// ObservePage counts a processed listing page.
func ObservePage(status string) {
	if harvesterPagesTotal == nil {
		return
	}
	harvesterPagesTotal.WithLabelValues(status).Inc()
}

// ObserveItem counts a considered detail page.
func ObserveItem(status string) {
	if harvesterItemsTotal == nil {
		return
	}
	harvesterItemsTotal.WithLabelValues(status).Inc()
}

// ObserveCheckpoint counts a checkpoint attempt.
func ObserveCheckpoint(status string) {
	if harvesterCheckpointsTotal == nil {
		return
	}
	harvesterCheckpointsTotal.WithLabelValues(status).Inc()
}

// ObserveSessionRestart counts a session replacement.
func ObserveSessionRestart(reason string) {
	if harvesterSessionRestartsTotal == nil {
		return
	}
	harvesterSessionRestartsTotal.WithLabelValues(reason).Inc()
}

// ObserveFetchAttempt counts one navigation attempt by outcome class.
func ObserveFetchAttempt(class string) {
	if harvesterFetchAttemptsTotal == nil {
		return
	}
	harvesterFetchAttemptsTotal.WithLabelValues(class).Inc()
}

// SetItemsCollected records the dataset size.
func SetItemsCollected(n int) {
	if harvesterItemsCollected == nil {
		return
	}
	harvesterItemsCollected.Set(float64(n))
}

// SetCurrentPage records the listing page being processed.
func SetCurrentPage(page int) {
	if harvesterCurrentPage == nil {
		return
	}
	harvesterCurrentPage.Set(float64(page))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
