// Package metrics defines the orchestrator's Prometheus golden-signal
// instruments, grounded on the teacher's internal/pipeline/worker/metrics.go
// promauto style.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsLeasedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harmony_orchestrator_jobs_leased_total",
			Help: "Total jobs leased by the scheduler, by job type.",
		},
		[]string{"type"},
	)

	JobsDispatchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harmony_orchestrator_jobs_dispatched_total",
			Help: "Total jobs handed to a handler, by job type.",
		},
		[]string{"type"},
	)

	JobsCommittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harmony_orchestrator_jobs_committed_total",
			Help: "Total job outcomes committed to the queue store.",
		},
		[]string{"type", "status"}, // status: ok, retry, dead_letter, lost
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harmony_orchestrator_job_duration_seconds",
			Help:    "Wall-clock time a handler spent executing a job.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"type", "status"},
	)

	HeartbeatsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harmony_orchestrator_heartbeats_total",
			Help: "Total heartbeat attempts, by outcome (ok, lost).",
		},
		[]string{"type", "status"},
	)

	ReclaimedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harmony_orchestrator_reclaimed_total",
			Help: "Total jobs reclaimed from expired leases without an observed outcome.",
		},
		[]string{"type"},
	)

	DLQDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "harmony_orchestrator_dlq_depth",
			Help: "Current number of dead-lettered jobs, by type.",
		},
		[]string{"type"},
	)

	DLQOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harmony_orchestrator_dlq_operations_total",
			Help: "Total DLQ operations, by kind (dead_letter, requeued, purged).",
		},
		[]string{"kind"},
	)

	WatchlistTickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "harmony_watchlist_tick_duration_seconds",
			Help:    "Wall-clock time spent in a single watchlist tick.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 8},
		},
	)

	WatchlistEnqueuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "harmony_watchlist_enqueued_total",
			Help: "Total artist_sync jobs enqueued by the watchlist timer.",
		},
	)

	WatchlistDeferredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "harmony_watchlist_deferred_total",
			Help: "Total due artists deferred to a later tick because the tick budget was exceeded.",
		},
	)

	WatchlistDedupSkippedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "harmony_watchlist_dedup_skipped_total",
			Help: "Total due artists skipped because a prior artist_sync job was still non-terminal.",
		},
	)

	RetryExhaustedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harmony_worker_retry_exhausted_total",
			Help: "Total jobs whose retry budget was exhausted, by type.",
		},
		[]string{"type"},
	)

	InFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "harmony_orchestrator_in_flight",
			Help: "Current number of handler executions in flight, by job type.",
		},
		[]string{"type"},
	)
)
