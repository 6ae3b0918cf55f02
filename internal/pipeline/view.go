package pipeline

import (
	"time"

	"github.com/kubev2v/cutout/internal/jobs"
	"github.com/kubev2v/cutout/internal/stage"
	"github.com/kubev2v/cutout/internal/worker"
)

// JobView is the read-only projection of a job handed to collaborators.
type JobView struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Status    jobs.Status `json:"status"`
	Error     string      `json:"error,omitempty"`
	HasResult bool        `json:"hasResult"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

func newJobView(job jobs.Job) JobView {
	return JobView{
		ID:        job.ID,
		Name:      job.Name,
		Status:    job.Status,
		Error:     job.Error,
		HasResult: len(job.Result) > 0,
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
	}
}

type ModelStatus struct {
	stage.ModelState
	Error string `json:"error,omitempty"`
}

type StageStatus struct {
	Name    string             `json:"name"`
	Queued  int                `json:"queued"`
	Workers []worker.SlotState `json:"workers"`
}

type Status struct {
	BatchActive bool                `json:"batchActive"`
	Model       ModelStatus         `json:"model"`
	Stages      []StageStatus       `json:"stages"`
	Jobs        map[jobs.Status]int `json:"jobs"`
	Total       int                 `json:"total"`
}
