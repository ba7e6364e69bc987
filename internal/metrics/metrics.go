// Package metrics defines the Prometheus instrumentation shared by the
// ingestion pipeline and the retrieval engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsIngested counts pipeline completions by outcome
	// ("processed", "duplicate", "dead_letter").
	EventsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hindsight_events_ingested_total",
		Help: "Ingested source events by outcome.",
	}, []string{"source", "outcome"})

	// StageRetries counts stage-local retry attempts.
	StageRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hindsight_stage_retries_total",
		Help: "Retry attempts per pipeline stage.",
	}, []string{"stage"})

	// PipelineDuration observes end-to-end ingestion latency.
	PipelineDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hindsight_pipeline_seconds",
		Help:    "End-to-end ingestion pipeline duration.",
		Buckets: prometheus.DefBuckets,
	})

	// SearchPathDuration observes per-path retrieval latency.
	SearchPathDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hindsight_search_path_seconds",
		Help:    "Retrieval latency per search path.",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"path"})

	// SearchPathFailures counts path errors and budget overruns; these
	// degrade a response, they never fail it.
	SearchPathFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hindsight_search_path_failures_total",
		Help: "Search paths that errored or missed their time budget.",
	}, []string{"path", "reason"})

	// ConfigCacheLookups counts workspace config cache hits and misses.
	ConfigCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hindsight_config_cache_lookups_total",
		Help: "Workspace config cache lookups by result.",
	}, []string{"result"})
)
