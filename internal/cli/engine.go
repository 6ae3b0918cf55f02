package cli

import (
	"context"

	"go.uber.org/zap"

	"github.com/kubev2v/cutout/internal/config"
	"github.com/kubev2v/cutout/internal/imaging"
	"github.com/kubev2v/cutout/internal/loop"
	"github.com/kubev2v/cutout/internal/pipeline"
	"github.com/kubev2v/cutout/internal/stage"
	"github.com/kubev2v/cutout/internal/worker"
	"github.com/kubev2v/cutout/pkg/log"
)

// Engine is a running coordinator loop with the pipeline on top of it.
type Engine struct {
	Pipeline *pipeline.Pipeline
	loop     *loop.Loop
	cancel   context.CancelFunc
}

// NewEngine starts the coordinator loop. It runs until Stop or until ctx is done.
func NewEngine(ctx context.Context, cfg *config.Config, observer stage.Observer) (*Engine, error) {
	factories, err := newFactories(cfg)
	if err != nil {
		return nil, err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	l := loop.New()
	go l.Run(loopCtx)

	return &Engine{
		Pipeline: pipeline.New(pipelineConfig(cfg), l, factories, observer),
		loop:     l,
		cancel:   cancel,
	}, nil
}

// Stop terminates the workers and the loop.
func (e *Engine) Stop(ctx context.Context) {
	if err := e.Pipeline.Shutdown(ctx); err != nil {
		zap.S().Named("engine").Warnw("pipeline shutdown failed", "error", err)
	}
	e.cancel()
	<-e.loop.Done()
}

func pipelineConfig(cfg *config.Config) pipeline.Config {
	pc := cfg.Pipeline
	return pipeline.Config{
		PreprocessWorkers:   pc.PreprocessWorkers,
		SegmentationWorkers: pc.SegmentationWorkers,
		PostprocessWorkers:  pc.PostprocessWorkers,
		Pool: worker.Config{
			InitTimeout:      pc.InitTimeout.Duration(),
			InitRetryBackoff: pc.InitRetryBackoff.Duration(),
			InitMaxRetries:   pc.InitMaxRetries,
			RecreateDelay:    pc.RecreateDelay.Duration(),
		},
		Rollout: stage.RolloutConfig{
			LoadRetries:  pc.ModelLoadRetries,
			RetryBackoff: pc.ModelRetryBackoff.Duration(),
		},
		ReleasePoolsWhenIdle: pc.ReleasePoolsWhenIdle,
	}
}

func newFactories(cfg *config.Config) (pipeline.Factories, error) {
	opts := imaging.Options{
		MaxImageDimension: cfg.Pipeline.MaxImageDimension,
		ModelInputSize:    cfg.Pipeline.ModelInputSize,
		FeatherRadius:     cfg.Pipeline.FeatherRadius,
		InboxSize:         cfg.Pipeline.InboxSize,
		Repository:        imaging.NewModelRepository(cfg.Pipeline.ModelPath),
	}

	var (
		f   pipeline.Factories
		err error
	)
	if f.Preprocess, err = imaging.NewFactory(stage.NamePreprocess, opts); err != nil {
		return f, err
	}
	if f.Segment, err = imaging.NewFactory(stage.NameSegment, opts); err != nil {
		return f, err
	}
	if f.Postprocess, err = imaging.NewFactory(stage.NamePostprocess, opts); err != nil {
		return f, err
	}
	return f, nil
}

// initLogger installs the global zap logger. The returned func restores the
// previous one.
func initLogger(cfg *config.Config) func() {
	logger := log.InitLog(log.ParseLevel(cfg.Service.LogLevel), cfg.Service.LogFormat)
	undo := zap.ReplaceGlobals(logger)
	return func() {
		_ = logger.Sync()
		undo()
	}
}
