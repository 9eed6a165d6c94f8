// Package metrics exposes Prometheus instrumentation for the verification
// pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DecisionsTotal counts terminal pipeline outcomes by kind.
	DecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payproof",
		Subsystem: "verification",
		Name:      "decisions_total",
		Help:      "Terminal verification outcomes by outcome kind.",
	}, []string{"outcome"})

	// StageDuration observes per-stage pipeline latency.
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "payproof",
		Subsystem: "verification",
		Name:      "stage_duration_seconds",
		Help:      "Pipeline stage latency.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"stage"})

	// ExtractorFailures counts extractor errors by backend and category.
	ExtractorFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "payproof",
		Subsystem: "extraction",
		Name:      "failures_total",
		Help:      "Extractor failures by backend and error category.",
	}, []string{"backend", "category"})

	// QueueDepth tracks submissions waiting for a worker.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "payproof",
		Subsystem: "pipeline",
		Name:      "queue_depth",
		Help:      "Submissions queued and not yet picked up by a worker.",
	})

	// DuplicatesTotal counts submissions short-circuited by content-hash
	// dedupe.
	DuplicatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "payproof",
		Subsystem: "verification",
		Name:      "duplicates_total",
		Help:      "Submissions resolved by content-hash deduplication.",
	})

	// ApproveCommitConflicts counts auto-approvals downgraded because the
	// obligation CAS lost the race.
	ApproveCommitConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "payproof",
		Subsystem: "verification",
		Name:      "approve_commit_conflicts_total",
		Help:      "Auto-approvals downgraded to manual review on commit conflict.",
	})
)
