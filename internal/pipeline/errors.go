package pipeline

import (
	"errors"
	"fmt"

	"github.com/kubev2v/cutout/internal/jobs"
)

const ModelErrorAllFailed = "all segmentation workers failed to load the model"

var (
	ErrEmptyUpload      = errors.New("upload is empty")
	ErrModelUnavailable = errors.New(ModelErrorAllFailed)
)

type ErrJobNotFound struct {
	error
}

func NewErrJobNotFound(id string) *ErrJobNotFound {
	return &ErrJobNotFound{fmt.Errorf("job %s: %w", id, jobs.ErrJobNotFound)}
}

func (e *ErrJobNotFound) Unwrap() error {
	return e.error
}

type ErrNoResult struct {
	error
}

func NewErrNoResult(id string, status jobs.Status) *ErrNoResult {
	return &ErrNoResult{fmt.Errorf("job %s has no result, status is %s", id, status)}
}
