package jobs

import (
	"image"
	"time"

	"github.com/google/uuid"
)

// Status is the sole coordination signal between stages. A job holds exactly one.
type Status string

const (
	StatusPendingPreprocessing  Status = "pending_preprocessing"
	StatusPreprocessing         Status = "preprocessing"
	StatusPendingSegmentation   Status = "pending_segmentation"
	StatusQueued                Status = "queued"
	StatusSegmentation          Status = "segmentation"
	StatusPendingPostprocessing Status = "pending_postprocessing"
	StatusPostprocessing        Status = "postprocessing"
	StatusCompleted             Status = "completed"
	StatusError                 Status = "error"
)

var AllStatuses = []Status{
	StatusPendingPreprocessing,
	StatusPreprocessing,
	StatusPendingSegmentation,
	StatusQueued,
	StatusSegmentation,
	StatusPendingPostprocessing,
	StatusPostprocessing,
	StatusCompleted,
	StatusError,
}

// IsTerminal reports whether a job in this status will never be assigned again.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError
}

func (s Status) String() string {
	return string(s)
}

// CanTransition enforces the job state machine edges.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	if to == StatusError {
		return !from.IsTerminal()
	}
	switch from {
	case StatusPendingPreprocessing:
		return to == StatusPreprocessing
	case StatusPreprocessing:
		// a dispatch that could not reach its worker reverts to pending
		return to == StatusPendingPreprocessing || to == StatusPendingSegmentation || to == StatusQueued
	case StatusPendingSegmentation:
		return to == StatusQueued
	case StatusQueued:
		return to == StatusPendingSegmentation || to == StatusSegmentation
	case StatusSegmentation:
		return to == StatusQueued || to == StatusPendingSegmentation || to == StatusPendingPostprocessing
	case StatusPendingPostprocessing:
		return to == StatusPostprocessing
	case StatusPostprocessing:
		return to == StatusPendingPostprocessing || to == StatusCompleted
	default:
		return false
	}
}

// Job is one image tracked end-to-end. Artifacts are owned by the job until the
// next stage consumes them and are never mutated after they are produced.
type Job struct {
	ID     string
	Name   string
	Status Status
	// Error is set only when Status is StatusError.
	Error string

	Original     []byte
	Preprocessed *image.NRGBA
	ModelInput   *image.NRGBA
	Mask         *image.Alpha
	Result       []byte

	CreatedAt      time.Time
	UpdatedAt      time.Time
	StageStartedAt time.Time
}

func NewJob(name string, original []byte) Job {
	now := time.Now().UTC()
	return Job{
		ID:        uuid.NewString(),
		Name:      name,
		Status:    StatusPendingPreprocessing,
		Original:  original,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Fail returns a copy of the job in the error state.
func (j Job) Fail(message string) Job {
	j.Status = StatusError
	j.Error = message
	return j
}
