// Package pipeline wires the three stages together and exposes the control
// surface used by the API and the commands. Every method hops onto the
// coordinator, so callers may use it from any goroutine.
package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/kubev2v/cutout/internal/jobs"
	"github.com/kubev2v/cutout/internal/loop"
	"github.com/kubev2v/cutout/internal/stage"
	"github.com/kubev2v/cutout/internal/worker"
)

type Config struct {
	PreprocessWorkers   int
	SegmentationWorkers int
	PostprocessWorkers  int
	Pool                worker.Config
	Rollout             stage.RolloutConfig
	// ReleasePoolsWhenIdle tears every pool down at the end of a batch.
	ReleasePoolsWhenIdle bool
}

func DefaultConfig() Config {
	return Config{
		PreprocessWorkers:   2,
		SegmentationWorkers: 2,
		PostprocessWorkers:  2,
		Pool:                worker.DefaultConfig(""),
		Rollout:             stage.DefaultRolloutConfig(),
	}
}

type Factories struct {
	Preprocess  worker.Factory
	Segment     worker.Factory
	Postprocess worker.Factory
}

type Pipeline struct {
	cfg   Config
	exec  loop.Coordinator
	store *jobs.Store

	pre  *stage.Preprocess
	seg  *stage.Segment
	post *stage.Postprocess

	batchActive      bool
	poolsStarted     bool
	rebuildAttempted bool
	modelError       string
	pumping          bool
	waiters          []chan error
}

func New(cfg Config, exec loop.Coordinator, factories Factories, observer stage.Observer) *Pipeline {
	if observer == nil {
		observer = stage.NoopObserver{}
	}
	p := &Pipeline{
		cfg:   cfg,
		exec:  exec,
		store: jobs.NewStore(),
	}

	options := func(size int, factory worker.Factory, next stage.Next) stage.Options {
		return stage.Options{
			Exec:     exec,
			Store:    p.store,
			Factory:  factory,
			Pool:     cfg.Pool,
			Size:     size,
			Next:     next,
			Observer: observer,
			Notify:   p.pump,
		}
	}
	p.post = stage.NewPostprocess(options(cfg.PostprocessWorkers, factories.Postprocess, nil))
	p.seg = stage.NewSegment(stage.SegmentOptions{
		Options:     options(cfg.SegmentationWorkers, factories.Segment, p.post),
		Rollout:     cfg.Rollout,
		OnLoaded:    p.modelLoaded,
		OnAllFailed: func() { exec.Post(p.allFailed) },
	})
	p.pre = stage.NewPreprocess(options(cfg.PreprocessWorkers, factories.Preprocess, p.seg))
	return p
}

// AddJob stores a new job and queues it for preprocessing. It is picked up
// by the current batch, or by the next StartBatch.
func (p *Pipeline) AddJob(ctx context.Context, name string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyUpload
	}
	var (
		id  string
		err error
	)
	callErr := p.exec.Call(ctx, func() {
		job := jobs.NewJob(name, data)
		if err = p.store.Add(job); err != nil {
			return
		}
		if err = p.pre.Enqueue(job); err != nil {
			p.store.Remove(job.ID)
			return
		}
		id = job.ID
		p.log().Debugw("job added", "job", id, "name", name, "size", len(data))
		p.pump()
	})
	if callErr != nil {
		return "", callErr
	}
	return id, err
}

// StartBatch starts processing every queued job. Pools are created on the first call.
func (p *Pipeline) StartBatch(ctx context.Context) error {
	return p.exec.Call(ctx, func() {
		if !p.poolsStarted {
			p.log().Infow("starting worker pools",
				"preprocessing", p.cfg.PreprocessWorkers,
				"segmentation", p.cfg.SegmentationWorkers,
				"postprocessing", p.cfg.PostprocessWorkers)
			p.pre.Start()
			p.seg.Start()
			p.post.Start()
			p.poolsStarted = true
		}
		if !p.batchActive {
			p.log().Infow("batch started", "jobs", p.store.Len())
		}
		p.batchActive = true
		p.pump()
	})
}

// ClearAll drops every job. Results still in flight are discarded on arrival.
func (p *Pipeline) ClearAll(ctx context.Context) error {
	return p.exec.Call(ctx, func() {
		p.pre.Clear()
		p.seg.Clear()
		p.post.Clear()
		n := p.store.Len()
		p.store.Clear()
		p.rebuildAttempted = false
		p.modelError = ""
		p.log().Infow("all jobs cleared", "jobs", n)
		p.endBatch()
	})
}

func (p *Pipeline) RemoveJob(ctx context.Context, id string) error {
	var err error
	callErr := p.exec.Call(ctx, func() {
		if !p.store.Remove(id) {
			err = NewErrJobNotFound(id)
			return
		}
		p.pre.Remove(id)
		p.seg.Remove(id)
		p.post.Remove(id)
		p.log().Debugw("job removed", "job", id)
		p.pump()
	})
	if callErr != nil {
		return callErr
	}
	return err
}

func (p *Pipeline) Snapshot(ctx context.Context) ([]JobView, error) {
	var views []JobView
	err := p.exec.Call(ctx, func() {
		list := p.store.List()
		views = make([]JobView, 0, len(list))
		for _, job := range list {
			views = append(views, newJobView(job))
		}
	})
	return views, err
}

func (p *Pipeline) Job(ctx context.Context, id string) (JobView, error) {
	var (
		view  JobView
		found bool
	)
	if err := p.exec.Call(ctx, func() {
		var job jobs.Job
		if job, found = p.store.Get(id); found {
			view = newJobView(job)
		}
	}); err != nil {
		return JobView{}, err
	}
	if !found {
		return JobView{}, NewErrJobNotFound(id)
	}
	return view, nil
}

// Result returns the encoded output of a completed job.
func (p *Pipeline) Result(ctx context.Context, id string) ([]byte, error) {
	var (
		job   jobs.Job
		found bool
	)
	if err := p.exec.Call(ctx, func() {
		job, found = p.store.Get(id)
	}); err != nil {
		return nil, err
	}
	if !found {
		return nil, NewErrJobNotFound(id)
	}
	if job.Status != jobs.StatusCompleted || len(job.Result) == 0 {
		return nil, NewErrNoResult(id, job.Status)
	}
	return job.Result, nil
}

func (p *Pipeline) Status(ctx context.Context) (Status, error) {
	var st Status
	err := p.exec.Call(ctx, func() {
		st = Status{
			BatchActive: p.batchActive,
			Model: ModelStatus{
				ModelState: p.seg.Rollout().State(),
				Error:      p.modelError,
			},
			Jobs:  p.store.CountByStatus(),
			Total: p.store.Len(),
		}
		for _, s := range []interface {
			Name() string
			Queue() *jobs.Queue
			Pool() *worker.Pool
		}{p.pre, p.seg, p.post} {
			st.Stages = append(st.Stages, StageStatus{
				Name:    s.Name(),
				Queued:  s.Queue().Len(),
				Workers: s.Pool().Slots(),
			})
		}
	})
	return st, err
}

// WaitIdle blocks until the current batch ended. It returns
// ErrModelUnavailable when the batch cannot progress because no worker could
// load the model.
func (p *Pipeline) WaitIdle(ctx context.Context) error {
	ch := make(chan error, 1)
	if err := p.exec.Call(ctx, func() {
		switch {
		case p.modelError != "":
			ch <- ErrModelUnavailable
		case !p.batchActive:
			ch <- nil
		default:
			p.waiters = append(p.waiters, ch)
		}
	}); err != nil {
		return err
	}

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown terminates every worker.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	return p.exec.Call(ctx, func() {
		p.shutdownPools()
		p.batchActive = false
		p.release(nil)
	})
}

// pump runs a processing pass after every coordinator event while a batch
// is active, and ends the batch once nothing is left to do.
func (p *Pipeline) pump() {
	if p.pumping || !p.batchActive {
		return
	}
	p.pumping = true
	defer func() { p.pumping = false }()

	p.post.ProcessNext()
	p.seg.ProcessNext()
	p.pre.ProcessNext()

	if !p.store.Active() {
		p.endBatch()
	}
}

func (p *Pipeline) endBatch() {
	if !p.batchActive {
		p.release(nil)
		return
	}
	p.batchActive = false
	p.log().Infow("batch finished", "jobs", p.store.CountByStatus())
	p.release(nil)
	if p.cfg.ReleasePoolsWhenIdle {
		p.shutdownPools()
	}
}

func (p *Pipeline) release(err error) {
	for _, ch := range p.waiters {
		ch <- err
	}
	p.waiters = nil
}

func (p *Pipeline) shutdownPools() {
	if !p.poolsStarted {
		return
	}
	p.log().Infow("releasing worker pools")
	p.pre.Shutdown()
	p.seg.Shutdown()
	p.post.Shutdown()
	p.poolsStarted = false
}

func (p *Pipeline) modelLoaded() {
	p.rebuildAttempted = false
	p.modelError = ""
	p.pump()
}

func (p *Pipeline) allFailed() {
	if !p.seg.Rollout().AllFailed() {
		return
	}
	if !p.rebuildAttempted {
		p.rebuildAttempted = true
		p.log().Warnw("every segmentation worker failed to load the model, rebuilding the pool")
		p.seg.Rebuild()
		return
	}
	p.modelError = ModelErrorAllFailed
	p.log().Errorw(ModelErrorAllFailed, "error", p.seg.Rollout().State().LastError)
	p.release(ErrModelUnavailable)
}

func (p *Pipeline) log() *zap.SugaredLogger {
	return zap.S().Named("pipeline")
}
