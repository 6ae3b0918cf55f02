package history

import (
	"time"

	"go.uber.org/zap"

	"github.com/kubev2v/cutout/internal/jobs"
	"github.com/kubev2v/cutout/internal/stage"
	"github.com/kubev2v/cutout/internal/store/model"
)

// Recorder is a stage.Observer that archives every finished job.
type Recorder struct {
	stage.NoopObserver
	producer *Producer
}

func NewRecorder(p *Producer) *Recorder {
	return &Recorder{producer: p}
}

func (r *Recorder) JobFinished(stageName string, job jobs.Job) {
	if err := r.producer.Write(NewRecord(stageName, job)); err != nil {
		zap.S().Named("history").Debugw("dropping record", "job_id", job.ID, "error", err)
	}
}

func NewRecord(stageName string, job jobs.Job) model.JobRecord {
	finished := job.UpdatedAt
	if finished.IsZero() {
		finished = time.Now().UTC()
	}
	return model.JobRecord{
		JobID:      job.ID,
		Name:       job.Name,
		Status:     string(job.Status),
		Error:      job.Error,
		Stage:      stageName,
		ResultSize: len(job.Result),
		CreatedAt:  job.CreatedAt,
		FinishedAt: finished,
	}
}
