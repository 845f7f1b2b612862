// Package metrics collects the engine's Prometheus instrumentation,
// following the teacher pack's metrics style (cuemby/warren's
// pkg/metrics): package-level collectors constructed once, registered by
// the composing facade.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// CheckpointDuration observes how long each checkpoint attempt takes.
	CheckpointDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "docengine_checkpoint_duration_seconds",
			Help:    "Time taken to complete a checkpoint, successful or not.",
			Buckets: prometheus.DefBuckets,
		},
	)

	// CheckpointsTotal counts checkpoint attempts by outcome.
	CheckpointsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docengine_checkpoints_total",
			Help: "Total number of checkpoint attempts by outcome.",
		},
		[]string{"outcome"},
	)

	// WALSizeBytes reports the on-disk WAL size observed at the last
	// checkpoint.
	WALSizeBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "docengine_wal_size_bytes",
			Help: "Size of the write-ahead log file at the last checkpoint.",
		},
	)

	// IndexOperationsTotal counts index operations by variant and kind
	// (get/put/delete/range/...).
	IndexOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docengine_index_operations_total",
			Help: "Total number of index operations by index kind and operation.",
		},
		[]string{"index", "op"},
	)

	// LockWaitersGauge reports the number of transactions currently
	// blocked waiting on a lock.
	LockWaitersGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "docengine_lock_waiters",
			Help: "Number of transactions currently blocked waiting for a lock.",
		},
	)

	// DeadlocksTotal counts transactions aborted as deadlock victims.
	DeadlocksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "docengine_deadlocks_total",
			Help: "Total number of transactions aborted as deadlock victims.",
		},
	)

	// TransactionsTotal counts transaction terminal outcomes.
	TransactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docengine_transactions_total",
			Help: "Total number of transactions by terminal state.",
		},
		[]string{"state"},
	)
)

// Collectors lists every collector this package defines, for callers that
// register them against a *prometheus.Registry instead of the default one.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		CheckpointDuration,
		CheckpointsTotal,
		WALSizeBytes,
		IndexOperationsTotal,
		LockWaitersGauge,
		DeadlocksTotal,
		TransactionsTotal,
	}
}

// MustRegister registers every collector against reg.
func MustRegister(reg *prometheus.Registry) {
	reg.MustRegister(Collectors()...)
}
