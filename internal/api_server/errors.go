package apiserver

import "fmt"

type ErrBadRequest struct {
	error
}

func newBadRequest(format string, args ...any) *ErrBadRequest {
	return &ErrBadRequest{fmt.Errorf(format, args...)}
}
