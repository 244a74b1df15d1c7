// Package metrics exposes the Prometheus counters and histograms the engine
// updates as it processes change events and maintains query results.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "viewstream_events_processed_total",
		Help: "The total number of change events processed per query.",
	}, []string{"query_id"})

	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "viewstream_events_dropped_total",
		Help: "The total number of change events dropped per query, by reason.",
	}, []string{"query_id", "reason"})

	ResultsAdded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "viewstream_results_added_total",
		Help: "The total number of result rows added per query.",
	}, []string{"query_id"})

	ResultsUpdated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "viewstream_results_updated_total",
		Help: "The total number of result rows updated per query.",
	}, []string{"query_id"})

	ResultsDeleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "viewstream_results_deleted_total",
		Help: "The total number of result rows deleted per query.",
	}, []string{"query_id"})

	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "viewstream_cache_hits_total",
		Help: "The total number of result cache Get hits.",
	}, []string{"query_id"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "viewstream_cache_misses_total",
		Help: "The total number of result cache Get misses.",
	}, []string{"query_id"})

	BackpressureDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "viewstream_backpressure_drops_total",
		Help: "The total number of ResultChange values dropped from a full output queue.",
	}, []string{"query_id"})

	ActiveQueries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "viewstream_active_queries_total",
		Help: "The number of continuous queries currently registered.",
	})

	ProcessingLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "viewstream_event_processing_duration_seconds",
		Help:    "Time taken to turn one change event into its result deltas.",
		Buckets: prometheus.DefBuckets,
	}, []string{"query_id"})
)
