package worker

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kubev2v/cutout/internal/jobs"
	"github.com/kubev2v/cutout/internal/loop"
)

const (
	DefaultInitTimeout      = 2 * time.Second
	DefaultInitRetryBackoff = 500 * time.Millisecond
	DefaultInitMaxRetries   = 2
	DefaultRecreateDelay    = time.Second

	// init commands sent to one worker instance before it is recreated
	maxInitSends = 2
)

// Restart reasons reported to the Observer.
const (
	ReasonCreateFailed = "create_failed"
	ReasonUnresponsive = "unresponsive"
	ReasonCrashed      = "crashed"
)

type Config struct {
	Name string
	// InitTimeout is how long a worker has to answer INIT with READY.
	InitTimeout time.Duration
	// InitRetryBackoff is the base delay before recreating a worker that failed to initialize.
	InitRetryBackoff time.Duration
	// InitMaxRetries bounds the recreations of a worker that failed to initialize.
	InitMaxRetries int
	// RecreateDelay is the delay before recreating a worker after a runtime error.
	RecreateDelay time.Duration
}

func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		InitTimeout:      DefaultInitTimeout,
		InitRetryBackoff: DefaultInitRetryBackoff,
		InitMaxRetries:   DefaultInitMaxRetries,
		RecreateDelay:    DefaultRecreateDelay,
	}
}

// Handler specializes a pool for one stage.
type Handler interface {
	// Eligible reports whether a dequeued job may be processed by this stage.
	Eligible(job jobs.Job) bool
	// Accepts reports whether a ready slot may receive work right now.
	Accepts(slot int) bool
	// Dispatch hands job to the worker in slot. A returned error puts the job
	// back at the front of the queue and frees the slot.
	Dispatch(slot int, job jobs.Job) error
	HandleMessage(slot int, msg Message)
	// HandleError is called after a worker runtime error. jobID is the job the
	// slot was assigned, or empty.
	HandleError(slot int, jobID string, err error)
}

// ReadyHook is implemented by handlers that react to a worker becoming ready.
type ReadyHook interface {
	WorkerReady(slot int)
}

// FailedHook is implemented by handlers that react to a slot giving up on initialization.
type FailedHook interface {
	WorkerFailed(slot int)
}

type Observer interface {
	WorkerRestarted(pool, reason string)
}

type noopObserver struct{}

func (noopObserver) WorkerRestarted(string, string) {}

type Option func(p *Pool)

func WithObserver(o Observer) Option {
	return func(p *Pool) {
		if o != nil {
			p.observer = o
		}
	}
}

// WithNotify registers a callback run after every worker event the pool handled.
func WithNotify(fn func()) Option {
	return func(p *Pool) {
		p.notify = fn
	}
}

// Pool owns the worker slots of one stage. All methods must run on the coordinator.
type Pool struct {
	cfg      Config
	exec     loop.Executor
	factory  Factory
	store    *jobs.Store
	queue    *jobs.Queue
	handler  Handler
	observer Observer
	notify   func()
	slots    []*slot
}

func NewPool(cfg Config, exec loop.Executor, factory Factory, store *jobs.Store, queue *jobs.Queue, handler Handler, opts ...Option) *Pool {
	p := &Pool{
		cfg:      cfg,
		exec:     exec,
		factory:  factory,
		store:    store,
		queue:    queue,
		handler:  handler,
		observer: noopObserver{},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Pool) Name() string {
	return p.cfg.Name
}

func (p *Pool) Queue() *jobs.Queue {
	return p.queue
}

// Initialize spawns slots 0..count-1.
func (p *Pool) Initialize(count int, init InitPayload) {
	for i := 0; i < count; i++ {
		p.Spawn(i, init)
	}
}

// Spawn creates the worker of one slot and starts its init handshake.
// It is a no-op for a slot that already has a live worker.
func (p *Pool) Spawn(index int, init InitPayload) {
	for len(p.slots) <= index {
		p.slots = append(p.slots, nil)
	}
	s := p.slots[index]
	if s == nil {
		s = &slot{index: index}
		p.slots[index] = s
	}
	if s.worker != nil {
		return
	}
	s.cancelTimers()
	s.init = init
	s.retries = 0
	p.start(s)
}

func (p *Pool) start(s *slot) {
	s.gen++
	s.status = InitPending
	s.ready = false
	s.jobID = ""
	s.initSends = 0

	w, err := p.factory(s.index, &endpoint{pool: p, slot: s.index, gen: s.gen})
	if err != nil {
		p.log().Warnw("failed to create worker", "slot", s.index, "error", err)
		p.retry(s, ReasonCreateFailed)
		return
	}
	s.worker = w
	p.sendInit(s)
}

func (p *Pool) sendInit(s *slot) {
	s.initSends++
	if err := s.worker.Post(NewInit(s.index, s.init)); err != nil {
		p.log().Warnw("failed to send init", "slot", s.index, "error", err)
		p.retry(s, ReasonCreateFailed)
		return
	}
	gen := s.gen
	s.stopTimer = p.exec.AfterFunc(p.cfg.InitTimeout, func() { p.initTimeout(s, gen) })
}

func (p *Pool) initTimeout(s *slot, gen int) {
	if s.gen != gen || s.status != InitPending {
		return
	}
	s.stopTimer = nil
	if s.initSends < maxInitSends {
		p.log().Warnw("worker did not confirm readiness, resending init", "slot", s.index)
		p.sendInit(s)
		return
	}
	p.log().Warnw("worker unresponsive, recreating it", "slot", s.index)
	p.retry(s, ReasonUnresponsive)
}

// retry retires the current instance and schedules a fresh one, or marks the
// slot failed once the retry budget is spent.
func (p *Pool) retry(s *slot, reason string) {
	p.retire(s)
	if s.retries >= p.cfg.InitMaxRetries {
		s.status = InitFailed
		p.log().Errorw("worker failed to initialize, giving up", "slot", s.index, "retries", s.retries)
		if hook, ok := p.handler.(FailedHook); ok {
			hook.WorkerFailed(s.index)
		}
		p.changed()
		return
	}

	s.retries++
	s.status = InitPending
	delay := p.cfg.InitRetryBackoff * time.Duration(1<<(s.retries-1))
	p.observer.WorkerRestarted(p.cfg.Name, reason)
	p.log().Infow("recreating worker", "slot", s.index, "attempt", s.retries, "delay", delay)

	gen := s.gen
	s.restart = p.exec.AfterFunc(delay, func() {
		if s.gen != gen {
			return
		}
		s.restart = nil
		p.start(s)
	})
}

// retire terminates the current instance. Messages it sends afterwards are dropped.
func (p *Pool) retire(s *slot) {
	s.cancelTimers()
	if s.worker != nil {
		s.worker.Terminate()
		s.worker = nil
	}
	s.gen++
	s.ready = false
	s.jobID = ""
}

func (p *Pool) lookup(index, gen int) *slot {
	if index < 0 || index >= len(p.slots) {
		return nil
	}
	s := p.slots[index]
	if s == nil || s.gen != gen || s.worker == nil {
		return nil
	}
	return s
}

func (p *Pool) get(index int) *slot {
	if index < 0 || index >= len(p.slots) {
		return nil
	}
	return p.slots[index]
}

func (p *Pool) deliver(index, gen int, msg Message) {
	s := p.lookup(index, gen)
	if s == nil {
		p.log().Debugw("dropping message from retired worker", "slot", index, "type", msg.Type)
		return
	}
	if err := msg.Validate(); err != nil {
		p.log().Warnw("dropping invalid message", "slot", index, "error", err)
		return
	}

	switch msg.Type {
	case MessageReady:
		if s.status == InitSuccess {
			return
		}
		if s.stopTimer != nil {
			s.stopTimer()
			s.stopTimer = nil
		}
		s.status = InitSuccess
		s.ready = true
		s.retries = 0
		p.log().Debugw("worker ready", "slot", index)
		if hook, ok := p.handler.(ReadyHook); ok {
			hook.WorkerReady(index)
		}
	default:
		p.handler.HandleMessage(index, msg)
	}
	p.changed()
}

func (p *Pool) fail(index, gen int, err error) {
	s := p.lookup(index, gen)
	if s == nil {
		return
	}
	jobID := s.jobID
	initialized := s.status == InitSuccess
	s.status = InitFailed
	s.ready = false
	s.jobID = ""
	p.log().Errorw("worker runtime error", "slot", index, "job", jobID, "error", err)

	p.handler.HandleError(index, jobID, err)
	if !initialized {
		// a worker that never answered INIT spends the init retry budget
		p.retry(s, ReasonCrashed)
		p.changed()
		return
	}
	p.retire(s)

	p.observer.WorkerRestarted(p.cfg.Name, ReasonCrashed)
	next := s.gen
	s.restart = p.exec.AfterFunc(p.cfg.RecreateDelay, func() {
		if s.gen != next {
			return
		}
		s.restart = nil
		s.retries = 0
		p.start(s)
	})
	p.changed()
}

func (p *Pool) changed() {
	if p.notify != nil {
		p.notify()
	}
}

// ProcessNext runs one scheduling pass: every initialized, ready, idle slot
// takes at most one job from the front of the queue. It never waits on a worker.
func (p *Pool) ProcessNext() int {
	assigned := 0
	for _, s := range p.slots {
		if p.queue.Len() == 0 {
			break
		}
		if s == nil || !s.schedulable() || !p.handler.Accepts(s.index) {
			continue
		}

		for p.queue.Len() > 0 {
			id, _ := p.queue.PopFront()
			job, found := p.store.Get(id)
			if !found {
				p.log().Warnw("dropping unknown job", "job", id)
				continue
			}
			if owner := p.assignee(id); owner >= 0 {
				p.log().Errorw("dropping job already assigned", "job", id, "slot", owner)
				continue
			}
			if !p.handler.Eligible(job) {
				p.log().Warnw("dropping ineligible job", "job", id, "status", job.Status)
				continue
			}

			s.jobID = id
			if err := p.handler.Dispatch(s.index, job); err != nil {
				s.jobID = ""
				p.queue.PushFront(id)
				if errors.Is(err, ErrUnavailable) {
					p.log().Debugw("worker unavailable, job requeued", "slot", s.index, "job", id)
				} else {
					p.log().Warnw("dispatch failed, job requeued", "slot", s.index, "job", id, "error", err)
				}
				break
			}
			assigned++
			break
		}
	}
	return assigned
}

func (p *Pool) assignee(jobID string) int {
	for _, s := range p.slots {
		if s != nil && s.jobID == jobID {
			return s.index
		}
	}
	return -1
}

// Release frees slot if it is still assigned jobID. A false result means the
// assignment was severed and the result must be discarded.
func (p *Pool) Release(index int, jobID string) bool {
	s := p.get(index)
	if s == nil || jobID == "" || s.jobID != jobID {
		return false
	}
	s.jobID = ""
	return true
}

func (p *Pool) Assignment(index int) string {
	if s := p.get(index); s != nil {
		return s.jobID
	}
	return ""
}

// Unassign severs jobID from whichever slot holds it.
func (p *Pool) Unassign(jobID string) bool {
	for _, s := range p.slots {
		if s != nil && jobID != "" && s.jobID == jobID {
			s.jobID = ""
			return true
		}
	}
	return false
}

func (p *Pool) UnassignAll() {
	for _, s := range p.slots {
		if s != nil {
			s.jobID = ""
		}
	}
}

// Post sends a message to the worker of slot.
func (p *Pool) Post(index int, msg Message) error {
	s := p.get(index)
	if s == nil {
		return fmt.Errorf("%w: %w %d", ErrUnavailable, ErrUnknownSlot, index)
	}
	if s.worker == nil {
		return ErrUnavailable
	}
	return s.worker.Post(msg)
}

// Ready reports whether slot has an initialized worker ready for messages.
func (p *Pool) Ready(index int) bool {
	s := p.get(index)
	return s != nil && s.worker != nil && s.status == InitSuccess && s.ready
}

func (p *Pool) Status(index int) InitStatus {
	if s := p.get(index); s != nil {
		return s.status
	}
	return ""
}

// Spawned reports whether slot was ever spawned since the last teardown.
func (p *Pool) Spawned(index int) bool {
	return p.get(index) != nil
}

func (p *Pool) Slots() []SlotState {
	out := make([]SlotState, 0, len(p.slots))
	for _, s := range p.slots {
		if s != nil {
			out = append(out, s.state())
		}
	}
	return out
}

// Size returns the number of spawned slots.
func (p *Pool) Size() int {
	n := 0
	for _, s := range p.slots {
		if s != nil {
			n++
		}
	}
	return n
}

// Teardown terminates every worker and forgets every slot. The queue is kept.
func (p *Pool) Teardown() {
	for _, s := range p.slots {
		if s != nil {
			p.retire(s)
		}
	}
	p.slots = nil
}

// Cleanup terminates every worker, clears all slot state and empties the queue.
func (p *Pool) Cleanup() {
	p.Teardown()
	p.queue.Clear()
}

func (p *Pool) log() *zap.SugaredLogger {
	return zap.S().Named("pool").With("pool", p.cfg.Name)
}
