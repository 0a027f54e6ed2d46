package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Catalog metrics
	BlocksTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "coldvault_blocks_total",
			Help: "Total number of blocks referenced by the catalog",
		},
	)

	BlocksNewTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coldvault_blocks_new_total",
			Help: "Total number of previously-unseen blocks registered during backups",
		},
	)

	BlocksDuplicateTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coldvault_blocks_duplicate_total",
			Help: "Total number of blocks that deduplicated against an existing block",
		},
	)

	FilesetsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "coldvault_filesets_total",
			Help: "Total number of filesets (backup versions) in the catalog",
		},
	)

	// Volume metrics
	VolumesByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "coldvault_volumes_by_state",
			Help: "Number of remote volumes by type and state",
		},
		[]string{"type", "state"},
	)

	BytesUploadedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coldvault_bytes_uploaded_total",
			Help: "Total compressed bytes uploaded to remote volumes",
		},
	)

	WastedBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "coldvault_wasted_bytes",
			Help: "Bytes in a Blocks volume no longer referenced by any live blockset",
		},
		[]string{"volume"},
	)

	// Backup pipeline metrics
	BackupDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coldvault_backup_duration_seconds",
			Help:    "Time taken for a full backup operation",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600},
		},
	)

	FilesProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coldvault_files_processed_total",
			Help: "Total number of files processed during backup, by outcome",
		},
		[]string{"outcome"}, // added, modified, inherited, skipped, broken
	)

	// Restore pipeline metrics
	RestoreDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coldvault_restore_duration_seconds",
			Help:    "Time taken for a full restore operation",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600},
		},
	)

	BrokenFilesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coldvault_broken_files_total",
			Help: "Total number of files recorded as broken, by side (local/remote)",
		},
		[]string{"side"},
	)

	// Compaction metrics
	CompactionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coldvault_compaction_duration_seconds",
			Help:    "Time taken for a compaction cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	CompactionCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coldvault_compaction_cycles_total",
			Help: "Total number of compaction cycles completed",
		},
	)

	VolumesCompactedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coldvault_volumes_compacted_total",
			Help: "Total number of Blocks volumes rewritten by compaction",
		},
	)

	// Repair metrics
	RepairDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coldvault_repair_duration_seconds",
			Help:    "Time taken to recreate the catalog from remote volumes",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600},
		},
	)

	// Remote manager metrics
	RemoteRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coldvault_remote_retries_total",
			Help: "Total number of transient-error retries issued by the remote volume manager",
		},
	)
)

func init() {
	prometheus.MustRegister(
		BlocksTotal,
		BlocksNewTotal,
		BlocksDuplicateTotal,
		FilesetsTotal,
		VolumesByState,
		BytesUploadedTotal,
		WastedBytes,
		BackupDuration,
		FilesProcessedTotal,
		RestoreDuration,
		BrokenFilesTotal,
		CompactionDuration,
		CompactionCyclesTotal,
		VolumesCompactedTotal,
		RepairDuration,
		RemoteRetriesTotal,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
