package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Node metrics
	NodesActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "buildgraph_nodes_active",
			Help: "Number of worker nodes currently active, by node type",
		},
		[]string{"node_type"},
	)

	NodesCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "buildgraph_nodes_created_total",
			Help: "Total number of worker nodes created, by node type",
		},
		[]string{"node_type"},
	)

	NodesFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "buildgraph_nodes_failed_total",
			Help: "Total number of worker nodes that transitioned to Failed or ConnectionFailed",
		},
		[]string{"reason"},
	)

	// Scheduler metrics
	RequestsScheduledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "buildgraph_requests_scheduled_total",
			Help: "Total number of build requests scheduled onto a node, by action kind",
		},
		[]string{"action"},
	)

	RequestsCircularTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "buildgraph_requests_circular_total",
			Help: "Total number of requests failed due to circular dependency detection",
		},
	)

	SchedulingLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "buildgraph_scheduling_latency_seconds",
			Help:    "Time taken to produce a scheduling action for one report",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Cache metrics
	ConfigCacheSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "buildgraph_config_cache_size",
			Help: "Number of configurations currently held in the config cache",
		},
	)

	ResultsCacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "buildgraph_results_cache_hits_total",
			Help: "Total number of results cache lookups that found a cached result",
		},
	)

	ResultsCacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "buildgraph_results_cache_misses_total",
			Help: "Total number of results cache lookups that found nothing",
		},
	)

	// Build manager metrics
	SubmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "buildgraph_submissions_total",
			Help: "Total number of submissions completed, by outcome",
		},
		[]string{"outcome"},
	)

	SubmissionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "buildgraph_submission_duration_seconds",
			Help:    "Wall-clock time from pend to completion for a submission",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Tracking-log engine metrics
	TlogSourcesStaleTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "buildgraph_tlog_sources_stale_total",
			Help: "Total number of sources found out of date, by reason",
		},
		[]string{"reason"},
	)

	TlogParseWarningsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "buildgraph_tlog_parse_warnings_total",
			Help: "Total number of tracking logs discarded due to a malformed line",
		},
	)
)

func init() {
	prometheus.MustRegister(NodesActive)
	prometheus.MustRegister(NodesCreatedTotal)
	prometheus.MustRegister(NodesFailedTotal)
	prometheus.MustRegister(RequestsScheduledTotal)
	prometheus.MustRegister(RequestsCircularTotal)
	prometheus.MustRegister(SchedulingLatency)
	prometheus.MustRegister(ConfigCacheSize)
	prometheus.MustRegister(ResultsCacheHitsTotal)
	prometheus.MustRegister(ResultsCacheMissesTotal)
	prometheus.MustRegister(SubmissionsTotal)
	prometheus.MustRegister(SubmissionDuration)
	prometheus.MustRegister(TlogSourcesStaleTotal)
	prometheus.MustRegister(TlogParseWarningsTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vector with labels.
func (t *Timer) ObserveDurationVec(histogram *prometheus.HistogramVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
