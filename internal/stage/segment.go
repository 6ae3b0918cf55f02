package stage

import (
	"github.com/kubev2v/cutout/internal/jobs"
	"github.com/kubev2v/cutout/internal/worker"
)

type SegmentOptions struct {
	Options
	Rollout RolloutConfig
	// OnLoaded runs when the model became available after being unavailable.
	OnLoaded func()
	// OnAllFailed runs when every worker gave up loading the model.
	OnAllFailed func()
}

// Segment computes the foreground mask. Jobs wait in its queue until some
// worker has the model loaded.
type Segment struct {
	base
	rollout *Rollout
}

func NewSegment(opts SegmentOptions) *Segment {
	s := &Segment{base: newBase(NameSegment, jobs.StatusSegmentation, opts.Options)}
	s.pool = s.newPool(opts.Options, s)
	s.rollout = newRollout(opts.Rollout, opts.Exec, s.pool, opts.Size, s.observer)
	s.rollout.onChange = s.syncQueue
	s.rollout.onLoaded = opts.OnLoaded
	s.rollout.onAllFailed = opts.OnAllFailed
	return s
}

func (s *Segment) Rollout() *Rollout {
	return s.rollout
}

func (s *Segment) Start() {
	if s.rollout.Phase() != PhaseIdle {
		return
	}
	s.rollout.Start()
}

func (s *Segment) Shutdown() {
	s.pool.Teardown()
	s.rollout.Reset()
}

// Rebuild recreates every worker and restarts the model rollout.
func (s *Segment) Rebuild() {
	s.Shutdown()
	s.rollout.Start()
}

func (s *Segment) pending(loaded bool) jobs.Status {
	if loaded {
		return jobs.StatusQueued
	}
	return jobs.StatusPendingSegmentation
}

func (s *Segment) Enqueue(job jobs.Job) error {
	return s.enqueue(job, s.pending(s.rollout.Loaded()))
}

func (s *Segment) Eligible(job jobs.Job) bool {
	return job.Status == jobs.StatusQueued && job.ModelInput != nil && s.rollout.Loaded()
}

func (s *Segment) Accepts(slot int) bool {
	return s.rollout.SlotReady(slot)
}

func (s *Segment) Dispatch(slot int, job jobs.Job) error {
	return s.dispatch(slot, job, s.pending(s.rollout.Loaded()), worker.StageInput{
		Name:       job.Name,
		ModelInput: job.ModelInput,
	})
}

func (s *Segment) HandleMessage(slot int, msg worker.Message) {
	if msg.Type == worker.MessageModelStatus {
		s.rollout.HandleModelStatus(slot, *msg.ModelStatus)
		return
	}

	job, out, ok := s.result(slot, msg)
	if !ok {
		return
	}
	if out.Mask == nil {
		s.noOutput(job)
		return
	}
	job.Mask = out.Mask
	job.ModelInput = nil
	s.handoff(job)
}

func (s *Segment) HandleError(slot int, jobID string, err error) {
	s.crashed(slot, jobID, err)
	s.rollout.SlotCrashed(slot)
}

func (s *Segment) WorkerReady(slot int) {
	s.rollout.WorkerReady(slot)
}

func (s *Segment) WorkerFailed(slot int) {
	s.rollout.WorkerFailed(slot)
}

// syncQueue flips waiting jobs between pending_segmentation and queued
// without moving them in the queue.
func (s *Segment) syncQueue(loaded bool) {
	want := s.pending(loaded)
	for _, id := range s.queue.IDs() {
		job, found := s.store.Get(id)
		if !found || job.Status == want {
			continue
		}
		if job.Status != jobs.StatusQueued && job.Status != jobs.StatusPendingSegmentation {
			continue
		}
		job.Status = want
		if err := s.store.Update(job); err != nil {
			s.log().Errorw("failed to update waiting job", "job", id, "error", err)
		}
	}
}
