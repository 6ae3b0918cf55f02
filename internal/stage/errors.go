package stage

import (
	"errors"
	"fmt"
)

var ErrNoOutput = errors.New("worker returned no output")

// Error attributes a failure to the stage and job it happened in.
type Error struct {
	Stage string
	JobID string
	Err   error
}

func NewError(stage, jobID string, err error) *Error {
	return &Error{Stage: stage, JobID: jobID, Err: err}
}

func (e *Error) Error() string {
	if e.JobID == "" {
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s job %s: %v", e.Stage, e.JobID, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
