// Package history archives jobs that reached a terminal status. Records are
// buffered so the coordinator never waits on the database.
package history

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kubev2v/cutout/internal/store/model"
)

const (
	defaultMaxPending   = 1024
	defaultWriteTimeout = 5 * time.Second
	defaultCloseTimeout = 5 * time.Second
)

var ErrClosed = errors.New("history producer closed")

// Writer is implemented by the record sinks.
type Writer interface {
	Write(ctx context.Context, record model.JobRecord) error
	Close(ctx context.Context) error
}

// Producer queues records and hands them to a Writer on its own goroutine.
type Producer struct {
	buffer       *buffer
	wakeCh       chan struct{}
	doneCh       chan struct{}
	stoppedCh    chan struct{}
	writer       Writer
	maxPending   int
	writeTimeout time.Duration
	closeOnce    sync.Once
	dropped      atomic.Int64
}

func NewProducer(w Writer, opts ...ProducerOption) *Producer {
	p := &Producer{
		buffer:       newBuffer(),
		wakeCh:       make(chan struct{}, 1),
		doneCh:       make(chan struct{}),
		stoppedCh:    make(chan struct{}),
		writer:       w,
		maxPending:   defaultMaxPending,
		writeTimeout: defaultWriteTimeout,
	}

	for _, o := range opts {
		o(p)
	}

	go p.run()
	return p
}

// Write queues record. It never blocks; when the buffer is full the record
// is dropped and logged.
func (p *Producer) Write(record model.JobRecord) error {
	select {
	case <-p.doneCh:
		return ErrClosed
	default:
	}

	if p.buffer.Size() >= p.maxPending {
		dropped := p.dropped.Add(1)
		p.log().Warnw("history buffer full, dropping record", "job_id", record.JobID, "dropped", dropped)
		return nil
	}

	if prev := p.buffer.PushBack(&entry{record: record}); prev == 0 {
		select {
		case p.wakeCh <- struct{}{}:
		default:
		}
	}
	return nil
}

// Pending returns the number of records not yet written.
func (p *Producer) Pending() int {
	return p.buffer.Size()
}

// Close flushes the queued records and closes the writer.
func (p *Producer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), defaultCloseTimeout)
		defer cancel()

		close(p.doneCh)

		g, ctx := errgroup.WithContext(closeCtx)
		g.Go(func() error {
			select {
			case <-p.stoppedCh:
			case <-ctx.Done():
				return ctx.Err()
			}
			return p.writer.Close(ctx)
		})
		if err = g.Wait(); err != nil {
			p.log().Errorf("history producer closed with error: %s", err)
			return
		}
		p.log().Info("history producer closed")
	})
	return err
}

func (p *Producer) run() {
	defer close(p.stoppedCh)

	for {
		e := p.buffer.Pop()
		if e == nil {
			select {
			case <-p.wakeCh:
				continue
			case <-p.doneCh:
				if p.buffer.Size() == 0 {
					return
				}
				continue
			}
		}
		p.write(e.record)
	}
}

func (p *Producer) write(record model.JobRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), p.writeTimeout)
	defer cancel()

	if err := p.writer.Write(ctx, record); err != nil {
		p.log().Errorw("failed to write record", "error", err, "job_id", record.JobID)
	}
}

func (p *Producer) log() *zap.SugaredLogger {
	return zap.S().Named("history")
}
