package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RunsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "annotator_runs_processed_total",
		Help: "Total number of annotation runs, by outcome",
	}, []string{"status"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "annotator_stage_duration_seconds",
		Help:    "Duration of annotation pipeline stages",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"stage"})

	DetectionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "annotator_detection_duration_seconds",
		Help:    "Duration of a single detector call",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
	})

	FramesSampledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "annotator_frames_sampled_total",
		Help: "Total number of sampled and annotated frames across all runs",
	})

	ActiveRuns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "annotator_active_runs",
		Help: "Number of annotation runs currently in progress",
	})

	SchemaRepairsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "annotator_schema_repairs_total",
		Help: "Total number of storage schema repairs, by mode",
	}, []string{"mode"})

	StoredRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "annotator_stored_records",
		Help: "Number of records seen by the last listing",
	})
)
