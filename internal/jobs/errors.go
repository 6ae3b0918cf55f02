package jobs

import (
	"errors"
	"fmt"
)

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrJobExists         = errors.New("job already exists")
	ErrInvalidTransition = errors.New("invalid status transition")
)

func newTransitionError(id string, from, to Status) error {
	return fmt.Errorf("%w: job %s %s -> %s", ErrInvalidTransition, id, from, to)
}
