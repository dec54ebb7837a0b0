// Package metrics exposes Prometheus collectors for the link validator.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JakeFAU/link-validator/internal/links"
)

var (
	linkValidationsTotal       *prometheus.CounterVec
	linkValidationLatency      prometheus.Histogram
	linkStoreRetriesTotal      prometheus.Counter
	linkTasksPublishedTotal    *prometheus.CounterVec
	linkPublishFailuresTotal   prometheus.Counter
	linkActiveWorkers          prometheus.Gauge
	linkProbeRateLimitDelays   prometheus.Histogram
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors. Safe to call more than once.
func Init() {
	once.Do(func() {
		linkValidationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "link_validations_total",
				Help: "Completed validations, labeled by resulting status.",
			},
			[]string{"status"},
		)

		linkValidationLatency = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "link_validation_latency_seconds",
				Help:    "Time from task receipt to recorded outcome.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
		)

		linkStoreRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "link_store_retries_total",
				Help: "Store operations retried by validation workers.",
			},
		)

		linkTasksPublishedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "link_tasks_published_total",
				Help: "Validation tasks published, labeled by source.",
			},
			[]string{"source"},
		)

		linkPublishFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "link_tasks_publish_failures_total",
				Help: "Validation tasks that could not be published after the record was stored.",
			},
		)

		linkActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "link_active_workers",
				Help: "Number of running validation subscriptions.",
			},
		)

		// Hosts come from user input, so they are never used as a label.
		linkProbeRateLimitDelays = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "link_probe_rate_limit_delays_seconds",
				Help:    "Histogram of per-host pacing waits before a probe.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
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

// ObserveValidation counts a recorded outcome and its end-to-end latency.
func ObserveValidation(status links.Status, latency time.Duration) {
	Init()
	linkValidationsTotal.WithLabelValues(string(status)).Inc()
	linkValidationLatency.Observe(latency.Seconds())
}

// ObserveStoreRetry counts one retried store call.
func ObserveStoreRetry() {
	Init()
	linkStoreRetriesTotal.Inc()
}

// ObservePublished counts a published task. source is "submit", "amend" or "reconcile".
func ObservePublished(source string) {
	Init()
	linkTasksPublishedTotal.WithLabelValues(source).Inc()
}

// ObservePublishFailure counts a task that was stored but never published.
func ObservePublishFailure() {
	Init()
	linkPublishFailuresTotal.Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	linkActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	linkActiveWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a pacing wait.
func ObserveRateLimitDelay(duration time.Duration) {
	Init()
	linkProbeRateLimitDelays.Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
