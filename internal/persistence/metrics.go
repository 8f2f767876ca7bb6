package persistence

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	checkpointAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tasksync_checkpoint_attempts_total",
		Help: "Checkpoint attempts by trigger reason and result",
	}, []string{"reason", "result"})

	checkpointDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tasksync_checkpoint_duration_seconds",
		Help:    "Duration of checkpoint writes including retention",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"backend"})

	snapshotBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tasksync_snapshot_bytes",
		Help: "Size of the newest snapshot written per topic",
	}, []string{"topic"})

	storageUsedBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tasksync_storage_used_bytes",
		Help: "Projected storage usage at the last budget check",
	})

	snapshotsQuarantinedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tasksync_snapshots_quarantined_total",
		Help: "Corrupt snapshots moved to quarantine",
	})

	retentionRemovedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tasksync_retention_removed_total",
		Help: "Snapshots removed by retention",
	})
)

// RecordQuarantine counts a quarantined snapshot. Used by recovery.
func RecordQuarantine() {
	snapshotsQuarantinedTotal.Inc()
}
