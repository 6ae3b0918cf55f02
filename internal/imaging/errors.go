package imaging

import (
	"errors"
	"fmt"
)

var (
	ErrModelNotLoaded = errors.New("segmentation model is not loaded")
	ErrEmptyImage     = errors.New("image has no pixels")
)

type ErrUnsupportedImage struct {
	error
}

func NewErrUnsupportedImage(name string, cause error) *ErrUnsupportedImage {
	return &ErrUnsupportedImage{fmt.Errorf("unsupported image %q: %v", name, cause)}
}

type ErrInvalidModel struct {
	error
}

func NewErrInvalidModel(source string, cause error) *ErrInvalidModel {
	return &ErrInvalidModel{fmt.Errorf("invalid model parameters in %s: %v", source, cause)}
}
