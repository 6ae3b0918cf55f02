// Package loop provides the coordinator: a single goroutine that runs posted
// closures one at a time. State owned by the coordinator is only touched from
// inside those closures, so it needs no locking.
package loop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

var ErrStopped = errors.New("coordinator loop stopped")

// Executor schedules work on the coordinator.
type Executor interface {
	// Post queues fn to run on the coordinator. It never blocks.
	Post(fn func())
	// AfterFunc runs fn on the coordinator once d has elapsed.
	// The returned stop function reports whether the timer was stopped before it fired.
	AfterFunc(d time.Duration, fn func()) (stop func() bool)
}

// Coordinator is an Executor that callers outside the loop can synchronize with.
type Coordinator interface {
	Executor
	// Call runs fn on the coordinator and waits for it to return.
	// It must not be called from a closure already running on the coordinator.
	Call(ctx context.Context, fn func()) error
}

type Loop struct {
	buffer   *buffer
	wakeCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

func New() *Loop {
	return &Loop{
		buffer: newBuffer(),
		wakeCh: make(chan struct{}, 1),
		doneCh: make(chan struct{}),
	}
}

// Run executes posted tasks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	defer l.stopOnce.Do(func() { close(l.doneCh) })
	zap.S().Named("loop").Debug("coordinator loop started")

	for {
		select {
		case <-ctx.Done():
			zap.S().Named("loop").Debugw("coordinator loop stopped", "pending", l.buffer.Size())
			return
		default:
		}

		t := l.buffer.Pop()
		if t == nil {
			select {
			case <-l.wakeCh:
			case <-ctx.Done():
			}
			continue
		}
		l.exec(t)
	}
}

func (l *Loop) exec(t *task) {
	defer func() {
		if r := recover(); r != nil {
			zap.S().Named("loop").Errorw("coordinator task panicked", "error", fmt.Sprint(r))
		}
	}()
	t.fn()
}

func (l *Loop) Post(fn func()) {
	l.buffer.PushBack(&task{fn: fn})
	select {
	case l.wakeCh <- struct{}{}:
	default:
	}
}

func (l *Loop) AfterFunc(d time.Duration, fn func()) func() bool {
	t := time.AfterFunc(d, func() { l.Post(fn) })
	return t.Stop
}

func (l *Loop) Call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	l.Post(func() {
		defer close(done)
		fn()
	})

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.doneCh:
		return ErrStopped
	}
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.doneCh
}
