// Package metrics exposes Prometheus collectors for the crawler service.
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

// Read outcomes recorded by ObserveRead.
const (
	ReadEvents    = "events"
	ReadExhausted = "exhausted"
	ReadError     = "error"
)

// Commit outcomes recorded by ObserveCommit.
const (
	CommitOK    = "ok"
	CommitError = "error"
)

var (
	crawlerReadsTotal          *prometheus.CounterVec
	crawlerEventsReadTotal     *prometheus.CounterVec
	crawlerCommitsTotal        *prometheus.CounterVec
	crawlerRoundsTotal         *prometheus.CounterVec
	crawlerQueueDepth          *prometheus.GaugeVec
	crawlerTrackedSources      *prometheus.GaugeVec
	rateLimitDelaySeconds      prometheus.Histogram
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerReadsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_reads_total",
				Help: "Total number of source reads, labeled by crawler and outcome.",
			},
			[]string{"crawler", "outcome"},
		)

		crawlerEventsReadTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_events_read_total",
				Help: "Total number of events returned by reads, labeled by crawler.",
			},
			[]string{"crawler"},
		)

		crawlerCommitsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_commits_total",
				Help: "Total number of work item transactions, labeled by crawler and outcome.",
			},
			[]string{"crawler", "outcome"},
		)

		crawlerRoundsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_rounds_total",
				Help: "Total number of producer rounds, labeled by crawler and whether every source was exhausted.",
			},
			[]string{"crawler", "exhausted"},
		)

		crawlerQueueDepth = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "crawler_queue_depth",
				Help: "Number of work items waiting in the queue.",
			},
			[]string{"crawler"},
		)

		crawlerTrackedSources = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "crawler_tracked_sources",
				Help: "Number of sources in the progress mapping at round start.",
			},
			[]string{"crawler"},
		)

		rateLimitDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "discord_rate_limit_delay_seconds",
				Help:    "Time REST reads spent waiting on the local rate limiter.",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
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

// ObserveRead counts one source read.
func ObserveRead(crawler, outcome string) {
	crawlerReadsTotal.WithLabelValues(crawler, outcome).Inc()
}

// ObserveEventsRead adds n to the events read counter.
func ObserveEventsRead(crawler string, n int) {
	if n > 0 {
		crawlerEventsReadTotal.WithLabelValues(crawler).Add(float64(n))
	}
}

// ObserveCommit counts one work item transaction.
func ObserveCommit(crawler, outcome string) {
	crawlerCommitsTotal.WithLabelValues(crawler, outcome).Inc()
}

// ObserveRound counts one completed producer round.
func ObserveRound(crawler string, exhausted bool) {
	crawlerRoundsTotal.WithLabelValues(crawler, strconv.FormatBool(exhausted)).Inc()
}

// SetQueueDepth records the current queue length.
func SetQueueDepth(crawler string, n int) {
	crawlerQueueDepth.WithLabelValues(crawler).Set(float64(n))
}

// SetTrackedSources records how many sources a round covers.
func SetTrackedSources(crawler string, n int) {
	crawlerTrackedSources.WithLabelValues(crawler).Set(float64(n))
}

// ObserveRateLimitDelay records time spent waiting for a REST token.
func ObserveRateLimitDelay(d time.Duration) {
	rateLimitDelaySeconds.Observe(d.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
