// Package metrics exposes Prometheus collectors for the discovery service.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchesTotal          *prometheus.CounterVec
	complianceBlocksTotal *prometheus.CounterVec
	jobsTotal             *prometheus.CounterVec
	phaseDurationSeconds  *prometheus.HistogramVec
	rateLimitDelaySeconds prometheus.Histogram
	activeWorkers         prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "discovery_fetches_total",
				Help: "Total page fetches, labeled by mode and outcome.",
			},
			[]string{"mode", "outcome"},
		)

		complianceBlocksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "discovery_compliance_blocks_total",
				Help: "Total compliance gate rejections, labeled by check.",
			},
			[]string{"check"},
		)

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "discovery_jobs_total",
				Help: "Total jobs processed, labeled by kind and status.",
			},
			[]string{"kind", "status"},
		)

		phaseDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "discovery_phase_duration_seconds",
				Help:    "Histogram of pipeline phase durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"phase"},
		)

		rateLimitDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "discovery_rate_limit_delay_seconds",
				Help:    "Histogram of delays introduced by the per-origin rate limiter.",
				Buckets: []float64{0.05, 0.25, 0.5, 1, 2, 4},
			},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "discovery_active_workers",
				Help: "Number of workers currently executing a job.",
			},
		)
	})
}

// ObserveFetch records one fetch attempt.
func ObserveFetch(mode, outcome string) {
	if fetchesTotal != nil {
		fetchesTotal.WithLabelValues(mode, outcome).Inc()
	}
}

// ObserveComplianceBlock records one gate rejection.
func ObserveComplianceBlock(check string) {
	if complianceBlocksTotal != nil {
		complianceBlocksTotal.WithLabelValues(check).Inc()
	}
}

// ObserveJob records one processed job.
func ObserveJob(kind, status string) {
	if jobsTotal != nil {
		jobsTotal.WithLabelValues(kind, status).Inc()
	}
}

// ObservePhase records a pipeline phase duration.
func ObservePhase(phase string, d time.Duration) {
	if phaseDurationSeconds != nil {
		phaseDurationSeconds.WithLabelValues(phase).Observe(d.Seconds())
	}
}

// ObserveRateLimitDelay records how long a caller was paced.
func ObserveRateLimitDelay(d time.Duration) {
	if rateLimitDelaySeconds != nil {
		rateLimitDelaySeconds.Observe(d.Seconds())
	}
}

// WorkerStarted increments the active worker gauge.
func WorkerStarted() {
	if activeWorkers != nil {
		activeWorkers.Inc()
	}
}

// WorkerFinished decrements the active worker gauge.
func WorkerFinished() {
	if activeWorkers != nil {
		activeWorkers.Dec()
	}
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
