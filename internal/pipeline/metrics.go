package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the sync counters exported on /metrics.
type Metrics struct {
	SnapshotsFetched  *prometheus.CounterVec
	SnapshotsInserted *prometheus.CounterVec
	SnapshotsSkipped  *prometheus.CounterVec
	Runs              *prometheus.CounterVec
	RunDuration       prometheus.Histogram
	RowsPublished     prometheus.Gauge
	LastSuccess       prometheus.Gauge
}

// NewMetrics creates the sync metrics and registers them on reg. A nil reg
// leaves them unregistered, which is what tests usually want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SnapshotsFetched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rankmirror_snapshots_fetched_total",
				Help: "Ranking snapshots received from Topvisor",
			},
			[]string{"project_id", "region_index"},
		),
		SnapshotsInserted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rankmirror_snapshots_inserted_total",
				Help: "Ranking snapshots written to the local store",
			},
			[]string{"project_id", "region_index"},
		),
		SnapshotsSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rankmirror_snapshots_skipped_total",
				Help: "Ranking snapshots skipped because their key was already stored",
			},
			[]string{"project_id", "region_index"},
		),
		Runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rankmirror_sync_runs_total",
				Help: "Sync runs by outcome",
			},
			[]string{"status"},
		),
		RunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "rankmirror_sync_run_duration_seconds",
				Help:    "Wall time of a sync run",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
		),
		RowsPublished: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "rankmirror_rows_published",
				Help: "Data rows written to the spreadsheet by the last republish",
			},
		),
		LastSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "rankmirror_last_success_timestamp_seconds",
				Help: "Unix time of the last successful sync run",
			},
		),
	}
	if reg != nil {
		reg.MustRegister(
			m.SnapshotsFetched,
			m.SnapshotsInserted,
			m.SnapshotsSkipped,
			m.Runs,
			m.RunDuration,
			m.RowsPublished,
			m.LastSuccess,
		)
	}
	return m
}
