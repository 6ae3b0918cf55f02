package pipeline

import (
	"time"

	"github.com/kubev2v/cutout/internal/jobs"
	"github.com/kubev2v/cutout/internal/stage"
)

type observers []stage.Observer

// Observers fans stage events out to every non-nil observer.
func Observers(list ...stage.Observer) stage.Observer {
	out := observers{}
	for _, o := range list {
		if o != nil {
			out = append(out, o)
		}
	}
	return out
}

func (o observers) WorkerRestarted(pool, reason string) {
	for _, v := range o {
		v.WorkerRestarted(pool, reason)
	}
}

func (o observers) JobFinished(name string, job jobs.Job) {
	for _, v := range o {
		v.JobFinished(name, job)
	}
}

func (o observers) StageCompleted(name string, d time.Duration) {
	for _, v := range o {
		v.StageCompleted(name, d)
	}
}

func (o observers) ModelLoadAttempt(slot int, loaded bool) {
	for _, v := range o {
		v.ModelLoadAttempt(slot, loaded)
	}
}
