// Package imaging holds the worker side of the pipeline: a goroutine runtime
// speaking the worker message protocol and the image processors it drives.
package imaging

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/kubev2v/cutout/internal/worker"
)

const DefaultInboxSize = 8

// Processor does the work of one stage.
type Processor interface {
	Init(ctx context.Context, init worker.InitPayload) error
	Process(ctx context.Context, input worker.StageInput) (worker.StageOutput, error)
}

// ModelLoader is implemented by processors that need a model before processing.
type ModelLoader interface {
	LoadModel(ctx context.Context, authoritative bool) error
}

// Runtime runs a Processor on its own goroutine and talks to the pool
// through messages only.
type Runtime struct {
	slot  int
	ep    worker.Endpoint
	proc  Processor
	inbox chan worker.Message

	done     chan struct{}
	stopOnce sync.Once
	cancel   context.CancelFunc

	// owned by the runtime goroutine
	initialized   bool
	authoritative bool
}

func NewRuntime(slot int, ep worker.Endpoint, proc Processor, inboxSize int) *Runtime {
	if inboxSize <= 0 {
		inboxSize = DefaultInboxSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runtime{
		slot:   slot,
		ep:     ep,
		proc:   proc,
		inbox:  make(chan worker.Message, inboxSize),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	go r.run(ctx)
	return r
}

// Post queues msg without blocking. A stopped runtime or a full inbox
// reports worker.ErrUnavailable.
func (r *Runtime) Post(msg worker.Message) error {
	select {
	case <-r.done:
		return worker.ErrUnavailable
	default:
	}
	select {
	case r.inbox <- msg:
		return nil
	default:
		return worker.ErrUnavailable
	}
}

func (r *Runtime) Terminate() {
	r.stopOnce.Do(func() {
		close(r.done)
		r.cancel()
	})
}

func (r *Runtime) run(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			r.Terminate()
			zap.S().Named("runtime").Errorw("worker panicked", "slot", r.slot, "panic", rec)
			r.ep.Fail(fmt.Errorf("panic: %v", rec))
		}
	}()

	for {
		select {
		case <-r.done:
			return
		case msg := <-r.inbox:
			r.handle(ctx, msg)
		}
	}
}

func (r *Runtime) handle(ctx context.Context, msg worker.Message) {
	switch msg.Type {
	case worker.MessageInit:
		if r.initialized {
			// the coordinator resent INIT because our READY was late
			r.ep.Send(worker.NewReady(r.slot))
			return
		}
		if err := r.proc.Init(ctx, *msg.Init); err != nil {
			zap.S().Named("runtime").Warnw("worker init failed", "slot", r.slot, "error", err)
			return
		}
		r.initialized = true
		r.authoritative = msg.Init.Authoritative
		r.ep.Send(worker.NewReady(r.slot))
		if msg.Init.LoadModel {
			r.load(ctx)
		}
	case worker.MessageLoadModel:
		r.load(ctx)
	case worker.MessageProcess:
		out, err := r.proc.Process(ctx, msg.Process.Input)
		if ctx.Err() != nil {
			return
		}
		r.ep.Send(worker.NewResult(r.slot, msg.Process.JobID, out, err))
	default:
		zap.S().Named("runtime").Warnw("ignoring message", "slot", r.slot, "type", msg.Type)
	}
}

func (r *Runtime) load(ctx context.Context) {
	loader, ok := r.proc.(ModelLoader)
	if !ok {
		r.ep.Send(worker.NewModelStatus(r.slot, false, fmt.Errorf("worker %d has no model", r.slot)))
		return
	}
	err := loader.LoadModel(ctx, r.authoritative)
	if ctx.Err() != nil {
		return
	}
	r.ep.Send(worker.NewModelStatus(r.slot, err == nil, err))
}
