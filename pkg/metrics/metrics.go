package metrics

import (
	"time"

	"github.com/kubev2v/cutout/internal/jobs"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	cutout = "cutout"

	// Stage metrics
	jobsFinishedTotal    = "jobs_finished_total"
	stageDurationSeconds = "stage_duration_seconds"

	// Worker metrics
	workerRestartsTotal    = "worker_restarts_total"
	modelLoadAttemptsTotal = "model_load_attempts_total"

	// Labels
	stageLabel  = "stage"
	statusLabel = "status"
	poolLabel   = "pool"
	reasonLabel = "reason"
	resultLabel = "result"

	resultLoaded = "loaded"
	resultFailed = "failed"
)

/**
* Metrics definition
**/
var jobsFinishedTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: cutout,
		Name:      jobsFinishedTotal,
		Help:      "number of jobs that reached a terminal status, by the stage they finished in",
	},
	[]string{stageLabel, statusLabel},
)

var stageDurationSecondsMetric = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Subsystem: cutout,
		Name:      stageDurationSeconds,
		Help:      "time a job spent on a stage worker",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	},
	[]string{stageLabel},
)

var workerRestartsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: cutout,
		Name:      workerRestartsTotal,
		Help:      "number of worker recreations by pool and reason",
	},
	[]string{poolLabel, reasonLabel},
)

var modelLoadAttemptsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: cutout,
		Name:      modelLoadAttemptsTotal,
		Help:      "number of model load outcomes reported by segmentation workers",
	},
	[]string{resultLabel},
)

func IncreaseJobsFinishedMetric(stage string, status jobs.Status) {
	labels := prometheus.Labels{
		stageLabel:  stage,
		statusLabel: string(status),
	}
	jobsFinishedTotalMetric.With(labels).Inc()
}

func ObserveStageDurationMetric(stage string, d time.Duration) {
	stageDurationSecondsMetric.With(prometheus.Labels{stageLabel: stage}).Observe(d.Seconds())
}

func IncreaseWorkerRestartsMetric(pool, reason string) {
	labels := prometheus.Labels{
		poolLabel:   pool,
		reasonLabel: reason,
	}
	workerRestartsTotalMetric.With(labels).Inc()
}

func IncreaseModelLoadAttemptsMetric(loaded bool) {
	result := resultFailed
	if loaded {
		result = resultLoaded
	}
	modelLoadAttemptsTotalMetric.With(prometheus.Labels{resultLabel: result}).Inc()
}

// Observer records stage events into the package metrics.
type Observer struct{}

func (Observer) WorkerRestarted(pool, reason string) {
	IncreaseWorkerRestartsMetric(pool, reason)
}

func (Observer) JobFinished(stage string, job jobs.Job) {
	IncreaseJobsFinishedMetric(stage, job.Status)
}

func (Observer) StageCompleted(stage string, d time.Duration) {
	ObserveStageDurationMetric(stage, d)
}

func (Observer) ModelLoadAttempt(_ int, loaded bool) {
	IncreaseModelLoadAttemptsMetric(loaded)
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(jobsFinishedTotalMetric)
	prometheus.MustRegister(stageDurationSecondsMetric)
	prometheus.MustRegister(workerRestartsTotalMetric)
	prometheus.MustRegister(modelLoadAttemptsTotalMetric)
}
