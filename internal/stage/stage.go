// Package stage implements the three processing stages. Each stage owns an
// input queue and a worker pool, decides which jobs it may run, dispatches
// them and applies the results to the job store.
package stage

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kubev2v/cutout/internal/jobs"
	"github.com/kubev2v/cutout/internal/loop"
	"github.com/kubev2v/cutout/internal/worker"
)

const (
	NamePreprocess  = "preprocessing"
	NameSegment     = "segmentation"
	NamePostprocess = "postprocessing"
)

// Next is the stage a job is handed to after a successful result.
type Next interface {
	Enqueue(job jobs.Job) error
}

type Options struct {
	Exec     loop.Executor
	Store    *jobs.Store
	Factory  worker.Factory
	Pool     worker.Config
	Size     int
	Next     Next
	Observer Observer
	// Notify runs after every worker event handled by the stage pool.
	Notify func()
}

type base struct {
	name     string
	active   jobs.Status
	store    *jobs.Store
	queue    *jobs.Queue
	pool     *worker.Pool
	size     int
	next     Next
	observer Observer
}

func newBase(name string, active jobs.Status, opts Options) base {
	obs := opts.Observer
	if obs == nil {
		obs = NoopObserver{}
	}
	return base{
		name:     name,
		active:   active,
		store:    opts.Store,
		queue:    jobs.NewQueue(name),
		size:     opts.Size,
		next:     opts.Next,
		observer: obs,
	}
}

func (b *base) newPool(opts Options, handler worker.Handler) *worker.Pool {
	cfg := opts.Pool
	cfg.Name = b.name
	return worker.NewPool(cfg, opts.Exec, opts.Factory, opts.Store, b.queue, handler,
		worker.WithObserver(b.observer),
		worker.WithNotify(opts.Notify))
}

func (b *base) Name() string {
	return b.name
}

func (b *base) Queue() *jobs.Queue {
	return b.queue
}

func (b *base) Pool() *worker.Pool {
	return b.pool
}

// ProcessNext runs one scheduling pass over the stage pool.
func (b *base) ProcessNext() int {
	return b.pool.ProcessNext()
}

// Remove drops a job from the queue and severs its assignment.
func (b *base) Remove(jobID string) {
	b.queue.Remove(jobID)
	b.pool.Unassign(jobID)
}

// Clear empties the queue and severs every assignment. Workers keep running.
func (b *base) Clear() {
	b.queue.Clear()
	b.pool.UnassignAll()
}

// Busy reports whether the stage holds queued or in-flight work.
func (b *base) Busy() bool {
	if b.queue.Len() > 0 {
		return true
	}
	for _, s := range b.pool.Slots() {
		if s.JobID != "" {
			return true
		}
	}
	return false
}

func (b *base) enqueue(job jobs.Job, status jobs.Status) error {
	job.Status = status
	if err := b.store.Update(job); err != nil {
		return NewError(b.name, job.ID, err)
	}
	if !b.queue.PushBack(job.ID) {
		b.log().Warnw("job already queued", "job", job.ID)
	}
	return nil
}

// dispatch moves job to the in-progress status and posts it to slot. On any
// failure the job is returned to pending so the pool can requeue it.
func (b *base) dispatch(slot int, job jobs.Job, pending jobs.Status, input worker.StageInput) error {
	if !b.pool.Ready(slot) {
		b.revert(job.ID, pending)
		return worker.ErrUnavailable
	}

	job.Status = b.active
	job.StageStartedAt = time.Now().UTC()
	if err := b.store.Update(job); err != nil {
		return NewError(b.name, job.ID, err)
	}
	if err := b.pool.Post(slot, worker.NewProcess(slot, job.ID, input)); err != nil {
		b.revert(job.ID, pending)
		return NewError(b.name, job.ID, err)
	}
	b.log().Debugw("job dispatched", "job", job.ID, "slot", slot)
	return nil
}

func (b *base) revert(jobID string, pending jobs.Status) {
	job, found := b.store.Get(jobID)
	if !found || job.Status == pending {
		return
	}
	job.Status = pending
	if err := b.store.Update(job); err != nil {
		b.log().Errorw("failed to revert job", "job", jobID, "error", err)
	}
}

// accept frees slot and returns the job a result belongs to, or false when
// the result is stale and must be discarded.
func (b *base) accept(slot int, res *worker.ResultPayload) (jobs.Job, bool) {
	if !b.pool.Release(slot, res.JobID) {
		b.log().Debugw("discarding result of severed assignment", "job", res.JobID, "slot", slot)
		return jobs.Job{}, false
	}
	job, found := b.store.Get(res.JobID)
	if !found {
		b.log().Debugw("discarding result of removed job", "job", res.JobID)
		return jobs.Job{}, false
	}
	if job.Status != b.active {
		b.log().Warnw("discarding result, job is no longer in progress", "job", job.ID, "status", job.Status)
		return jobs.Job{}, false
	}
	b.observer.StageCompleted(b.name, time.Since(job.StageStartedAt))
	return job, true
}

func (b *base) failJob(job jobs.Job, msg string) {
	job = job.Fail(msg)
	if err := b.store.Update(job); err != nil {
		b.log().Errorw("failed to record job error", "job", job.ID, "error", err)
		return
	}
	b.log().Infow("job failed", "job", job.ID, "error", msg)
	b.observer.JobFinished(b.name, job)
}

// handoff passes job to the next stage, or completes it in the last one.
func (b *base) handoff(job jobs.Job) {
	if b.next != nil {
		if err := b.next.Enqueue(job); err != nil {
			b.log().Errorw("handoff failed", "job", job.ID, "error", err)
			b.failJob(job, err.Error())
		}
		return
	}

	job.Status = jobs.StatusCompleted
	if err := b.store.Update(job); err != nil {
		b.log().Errorw("failed to complete job", "job", job.ID, "error", err)
		return
	}
	b.log().Infow("job completed", "job", job.ID)
	b.observer.JobFinished(b.name, job)
}

// crashed fails the job that was in flight on a worker that hit a runtime error.
func (b *base) crashed(slot int, jobID string, err error) {
	if jobID == "" {
		return
	}
	job, found := b.store.Get(jobID)
	if !found || job.Status != b.active {
		return
	}
	b.failJob(job, fmt.Sprintf("%s worker %d crashed: %v", b.name, slot, err))
}

// result validates a worker result and returns its output, failing the job
// when the worker reported an error.
func (b *base) result(slot int, msg worker.Message) (jobs.Job, worker.StageOutput, bool) {
	if msg.Type != worker.MessageResult {
		b.log().Warnw("unexpected message", "slot", slot, "type", msg.Type)
		return jobs.Job{}, worker.StageOutput{}, false
	}
	job, ok := b.accept(slot, msg.Result)
	if !ok {
		return jobs.Job{}, worker.StageOutput{}, false
	}
	if msg.Result.Error != "" {
		b.failJob(job, msg.Result.Error)
		return jobs.Job{}, worker.StageOutput{}, false
	}
	return job, msg.Result.Output, true
}

func (b *base) noOutput(job jobs.Job) {
	b.failJob(job, NewError(b.name, job.ID, ErrNoOutput).Error())
}

func (b *base) log() *zap.SugaredLogger {
	return zap.S().Named("stage").With("stage", b.name)
}
