/*
Package metrics defines and registers buildgraph's Prometheus metrics and
exposes them over HTTP for scraping.

# Metrics Catalog

Node metrics:

buildgraph_nodes_active{node_type}:
  - Gauge, set by Collector from a BuildManager's live node counts; the
    scheduler also adds to it when nodes are reported created
  - node_type: in-process, out-of-process, task-host

buildgraph_nodes_created_total{node_type}:
  - Counter, incremented by buildmanager for each node nodemanager creates

buildgraph_nodes_failed_total{reason}:
  - Counter, registered; nothing in this module increments it

Scheduler metrics:

buildgraph_requests_scheduled_total{action}:
  - Counter of scheduling actions produced per report, by action kind

buildgraph_requests_circular_total:
  - Counter, circular dependency detections

buildgraph_scheduling_latency_seconds:
  - Histogram, time to produce one scheduling action

Cache metrics:

buildgraph_config_cache_size:
  - Gauge, set by Collector from a BuildManager's configuration cache; the
    build manager also sets it after adding configurations

buildgraph_results_cache_hits_total / buildgraph_results_cache_misses_total:
  - Counters, results cache lookups; registered, nothing in this module
    increments them

Build manager metrics:

buildgraph_submissions_total{outcome}:
  - Counter, submissions completed by types.Outcome

buildgraph_submission_duration_seconds:
  - Histogram, wall-clock pend-to-completion time; registered, nothing in
    this module observes it

Tracking-log metrics:

buildgraph_tlog_sources_stale_total{reason}:
  - Counter, sources found out of date by reason

buildgraph_tlog_parse_warnings_total:
  - Counter, tracking logs discarded for a malformed line

# Usage

	metrics.NodesCreatedTotal.WithLabelValues("in-process").Inc()

	timer := metrics.NewTimer()
	// ... schedule a report ...
	timer.ObserveDuration(metrics.SchedulingLatency)

	http.Handle("/metrics", metrics.Handler())

# Collector

Counters and histograms, where anything updates them, are updated inline
by the packages that cause them. The gauges that reflect a BuildManager's
current state (active node counts, config cache size) get some inline
updates too, but not on every change (a node shutting down, for one, is
never subtracted); Collector periodically overwrites them with values
polled from the StatsSource interface, which a *buildmanager.BuildManager
satisfies without either package importing the other.
*/
package metrics
