package worker

import "errors"

var (
	// ErrUnavailable is returned when the target worker is missing or not ready.
	ErrUnavailable = errors.New("worker unavailable")
	ErrUnknownSlot = errors.New("unknown worker slot")
)
