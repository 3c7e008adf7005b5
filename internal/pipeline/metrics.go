package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deeplinker_pipeline_jobs_total",
		Help: "Pipeline jobs by stage and terminal state.",
	}, []string{"stage", "state"})

	artifactsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deeplinker_pipeline_artifacts_total",
		Help: "Artifacts recorded by stage and status.",
	}, []string{"stage", "status"})

	coalescedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deeplinker_pipeline_coalesced_total",
		Help: "Submissions answered with an already in-flight job.",
	})

	busyTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deeplinker_pipeline_busy_total",
		Help: "Reservations rejected because the queue was full.",
	})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "deeplinker_pipeline_queue_depth",
		Help: "Jobs waiting for a worker, including reserved slots.",
	})

	runningJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "deeplinker_pipeline_running_jobs",
		Help: "Jobs currently executing.",
	})

	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "deeplinker_pipeline_stage_duration_seconds",
		Help:    "Wall time of executed stages.",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"stage"})

	sourceDownloadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deeplinker_pipeline_source_materializations_total",
		Help: "Remote sources materialized into the shared source cache.",
	})
)
