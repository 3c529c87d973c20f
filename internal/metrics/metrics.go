// Package metrics holds the process-wide Prometheus collectors for the
// background components (tier manager, scheduler) that otherwise have
// no HTTP request to attach per-call instrumentation to.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TierManagerScans counts tier manager scan ticks by outcome
	// (completed, skipped, error).
	TierManagerScans = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "synapsed",
			Subsystem: "tiermanager",
			Name:      "scans_total",
			Help:      "Total number of tier manager scan ticks by outcome",
		},
		[]string{"outcome"},
	)

	// TierManagerMigrations counts memories migrated between tiers.
	// Labels: from, to.
	TierManagerMigrations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "synapsed",
			Subsystem: "tiermanager",
			Name:      "migrations_total",
			Help:      "Total number of memories migrated between tiers",
		},
		[]string{"from", "to"},
	)

	// TierManagerScanDuration tracks how long a full scan took.
	TierManagerScanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "synapsed",
			Subsystem: "tiermanager",
			Name:      "scan_duration_seconds",
			Help:      "Duration of a tier manager scan tick in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// TierStatisticsCount is the last-recorded per-tier active memory
	// count, relabeled on every RecordTierSnapshot call.
	TierStatisticsCount = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "synapsed",
			Subsystem: "tiermanager",
			Name:      "tier_memory_count",
			Help:      "Number of active memories in each tier as of the last snapshot",
		},
		[]string{"tier"},
	)

	// SchedulerRuns counts scheduler job executions by outcome
	// (success, failure, skipped).
	SchedulerRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "synapsed",
			Subsystem: "scheduler",
			Name:      "runs_total",
			Help:      "Total number of scheduler runs by outcome",
		},
		[]string{"outcome"},
	)

	// SchedulerRunDuration tracks how long a scheduler-driven batch job
	// took to process.
	SchedulerRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "synapsed",
			Subsystem: "scheduler",
			Name:      "run_duration_seconds",
			Help:      "Duration of a scheduler run in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// SchedulerBatchSize records the batch size a run was handed, so a
	// sustained drop to the backpressure size is visible on a dashboard.
	SchedulerBatchSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "synapsed",
			Subsystem: "scheduler",
			Name:      "last_batch_size",
			Help:      "Batch size handed to the most recent scheduler run",
		},
	)
)
