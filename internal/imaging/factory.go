package imaging

import (
	"fmt"

	"github.com/kubev2v/cutout/internal/stage"
	"github.com/kubev2v/cutout/internal/worker"
)

type Options struct {
	MaxImageDimension int
	ModelInputSize    int
	FeatherRadius     int
	InboxSize         int
	// Repository is shared by every segmentation worker.
	Repository *ModelRepository
}

// NewFactory returns the worker factory of the named stage.
func NewFactory(kind string, opts Options) (worker.Factory, error) {
	var newProcessor func() Processor
	switch kind {
	case stage.NamePreprocess:
		newProcessor = func() Processor {
			return NewPreprocessor(opts.MaxImageDimension, opts.ModelInputSize)
		}
	case stage.NameSegment:
		repo := opts.Repository
		if repo == nil {
			repo = NewModelRepository("")
		}
		newProcessor = func() Processor { return NewSegmenter(repo) }
	case stage.NamePostprocess:
		newProcessor = func() Processor { return NewCompositor(opts.FeatherRadius) }
	default:
		return nil, fmt.Errorf("unknown stage %q", kind)
	}

	return func(slot int, ep worker.Endpoint) (worker.Worker, error) {
		return NewRuntime(slot, ep, newProcessor(), opts.InboxSize), nil
	}, nil
}
