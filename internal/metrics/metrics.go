// Package metrics holds the Prometheus instruments for event tracking and the
// analysis queue. They register on the default registry and are served at
// /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsTracked counts ingested email events by outcome
	// ("new_path" when a path entry was added, "duplicate" otherwise).
	EventsTracked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "journeys_events_tracked_total",
			Help: "Total number of email events tracked",
		},
		[]string{"result"},
	)

	// PathRebuilds counts full path rebuilds.
	PathRebuilds = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "journeys_path_rebuilds_total",
			Help: "Total number of merchant path rebuilds",
		},
	)

	AnalysisRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "journeys_analysis_runs_total",
			Help: "Total number of project analysis runs by outcome",
		},
		[]string{"outcome"}, // "completed", "failed", "timeout"
	)

	AnalysisDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "journeys_analysis_duration_seconds",
			Help:    "Duration of project analysis runs in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	AnalysisQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "journeys_analysis_queue_depth",
			Help: "Number of analysis jobs waiting behind the current one",
		},
	)

	AnalysisRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "journeys_analysis_rejected_total",
			Help: "Analysis requests rejected because the project was already queued or running",
		},
	)

	// PathEntriesPruned counts path entries removed by deletes and cleanups.
	PathEntriesPruned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "journeys_path_entries_pruned_total",
			Help: "Path entries removed by maintenance operations",
		},
		[]string{"reason"},
	)
)
