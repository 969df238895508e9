package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics definitions
var (
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "carve_runs_total",
		Help: "Total number of extraction runs by outcome.",
	}, []string{"outcome"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "carve_stage_seconds",
		Help:    "Time spent in each pipeline stage.",
		Buckets: prometheus.DefBuckets,
	}, []string{"stage"})

	ParsedFiles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "carve_parsed_files_total",
		Help: "Total number of source files parsed, by crate.",
	}, []string{"crate"})

	GraphNodes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "carve_graph_modules",
		Help: "Modules in the current reference graph.",
	})

	GraphEdges = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "carve_graph_reference_edges",
		Help: "Reference edges in the current graph.",
	})

	ModulesRetained = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "carve_modules_retained",
		Help: "Number of modules retained by the most recent closure.",
	})

	CratesRetained = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "carve_crates_retained",
		Help: "Number of crates retained by the most recent closure.",
	})

	FilesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "carve_files_written_total",
		Help: "Total number of output files written.",
	})

	CycleWarnings = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "carve_cycle_warnings",
		Help: "Reference-cycle warnings observed in the most recent closure.",
	})

	WatcherEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "carve_watcher_events_total",
		Help: "Total number of file system events received by the watcher.",
	})

	WatcherRunsThrottled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "carve_watcher_runs_throttled_total",
		Help: "Re-extraction runs skipped by the watch-mode rate limiter.",
	})
)
