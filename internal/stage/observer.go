package stage

import (
	"time"

	"github.com/kubev2v/cutout/internal/jobs"
	"github.com/kubev2v/cutout/internal/worker"
)

// Observer receives stage events for metrics and history.
type Observer interface {
	worker.Observer
	// JobFinished is called once a job reached a terminal status in stage.
	JobFinished(stage string, job jobs.Job)
	StageCompleted(stage string, d time.Duration)
	ModelLoadAttempt(slot int, loaded bool)
}

type NoopObserver struct{}

func (NoopObserver) WorkerRestarted(string, string)       {}
func (NoopObserver) JobFinished(string, jobs.Job)         {}
func (NoopObserver) StageCompleted(string, time.Duration) {}
func (NoopObserver) ModelLoadAttempt(int, bool)           {}
