package stage

import (
	"time"

	"go.uber.org/zap"

	"github.com/kubev2v/cutout/internal/loop"
	"github.com/kubev2v/cutout/internal/worker"
)

type Phase string

const (
	PhaseIdle                  Phase = "idle"
	PhaseInitializingFirst     Phase = "initializing_first"
	PhaseInitializingRemaining Phase = "initializing_remaining"
	PhaseAllInitialized        Phase = "all_initialized"
)

const (
	DefaultModelLoadRetries  = 2
	DefaultModelRetryBackoff = time.Second
)

type RolloutConfig struct {
	// LoadRetries bounds the load retries of one worker after its first attempt.
	LoadRetries  int
	RetryBackoff time.Duration
}

func DefaultRolloutConfig() RolloutConfig {
	return RolloutConfig{
		LoadRetries:  DefaultModelLoadRetries,
		RetryBackoff: DefaultModelRetryBackoff,
	}
}

type modelSlot struct {
	attempts  int
	loading   bool
	loaded    bool
	exhausted bool
	retry     func() bool
}

func (m *modelSlot) cancelRetry() {
	if m.retry != nil {
		m.retry()
		m.retry = nil
	}
}

// ModelState is the aggregated model readiness of the segmentation pool.
type ModelState struct {
	Phase         Phase  `json:"phase"`
	Loading       bool   `json:"loading"`
	Loaded        bool   `json:"loaded"`
	LoadedWorkers int    `json:"loadedWorkers"`
	AllFailed     bool   `json:"allFailed"`
	LastError     string `json:"lastError,omitempty"`
}

// Rollout sequences model acquisition over the segmentation pool. Slot 0
// loads alone with an authoritative load; the other slots are spawned once
// that attempt settled, and load from what slot 0 fetched.
type Rollout struct {
	cfg      RolloutConfig
	exec     loop.Executor
	pool     *worker.Pool
	size     int
	observer Observer

	phase     Phase
	slots     []*modelSlot
	loaded    bool
	allFailed bool
	lastError string

	onChange    func(loaded bool)
	onLoaded    func()
	onAllFailed func()
}

func newRollout(cfg RolloutConfig, exec loop.Executor, pool *worker.Pool, size int, observer Observer) *Rollout {
	return &Rollout{
		cfg:      cfg,
		exec:     exec,
		pool:     pool,
		size:     size,
		observer: observer,
		phase:    PhaseIdle,
	}
}

// Start spawns the first worker with an authoritative load.
func (r *Rollout) Start() {
	r.Reset()
	r.phase = PhaseInitializingFirst
	r.slots = make([]*modelSlot, r.size)
	for i := range r.slots {
		r.slots[i] = &modelSlot{}
	}
	r.log().Infow("loading model on the first worker", "workers", r.size)
	r.pool.Spawn(0, worker.InitPayload{LoadModel: true, Authoritative: true})
	r.evaluate()
}

// Reset forgets every per-slot state. The pool is torn down by the caller.
func (r *Rollout) Reset() {
	for _, ms := range r.slots {
		ms.cancelRetry()
	}
	r.slots = nil
	r.phase = PhaseIdle
	r.allFailed = false
	r.lastError = ""
	if r.loaded {
		r.loaded = false
		if r.onChange != nil {
			r.onChange(false)
		}
	}
}

func (r *Rollout) Phase() Phase {
	return r.phase
}

func (r *Rollout) slot(index int) *modelSlot {
	if index < 0 || index >= len(r.slots) {
		return nil
	}
	return r.slots[index]
}

// WorkerReady is called when a segmentation worker answered its INIT.
func (r *Rollout) WorkerReady(index int) {
	ms := r.slot(index)
	if ms == nil {
		return
	}
	if index == 0 {
		// slot 0 loads as part of its init
		ms.loading = true
		ms.attempts++
		r.evaluate()
		return
	}
	r.requestLoad(index)
}

func (r *Rollout) requestLoad(index int) {
	ms := r.slot(index)
	if ms == nil || ms.loaded || ms.loading || ms.exhausted {
		return
	}
	if r.phase == PhaseInitializingFirst && index != 0 {
		return
	}

	ms.attempts++
	ms.loading = true
	if err := r.pool.Post(index, worker.NewLoadModel(index)); err != nil {
		ms.loading = false
		r.log().Warnw("failed to request model load", "slot", index, "error", err)
		r.scheduleRetry(index, ms)
	}
	r.evaluate()
}

// HandleModelStatus applies the outcome of a load attempt.
func (r *Rollout) HandleModelStatus(index int, status worker.ModelStatusPayload) {
	ms := r.slot(index)
	if ms == nil {
		return
	}
	ms.loading = false
	r.observer.ModelLoadAttempt(index, status.Loaded)

	if status.Loaded {
		ms.loaded = true
		ms.cancelRetry()
		r.log().Infow("model loaded", "slot", index, "attempts", ms.attempts)
	} else {
		r.lastError = status.Error
		r.log().Warnw("model load failed", "slot", index, "attempt", ms.attempts, "error", status.Error)
		r.scheduleRetry(index, ms)
	}

	if r.phase == PhaseInitializingFirst && index == 0 {
		r.spawnRemaining()
	}
	r.evaluate()
}

func (r *Rollout) scheduleRetry(index int, ms *modelSlot) {
	if ms.attempts > r.cfg.LoadRetries {
		ms.exhausted = true
		r.log().Errorw("giving up on model load", "slot", index, "attempts", ms.attempts)
		return
	}
	delay := r.cfg.RetryBackoff * time.Duration(1<<(ms.attempts-1))
	ms.cancelRetry()
	ms.retry = r.exec.AfterFunc(delay, func() {
		if r.slot(index) != ms {
			return
		}
		ms.retry = nil
		// a worker that is not ready asks again on READY
		if r.pool.Ready(index) {
			r.requestLoad(index)
		}
	})
}

func (r *Rollout) spawnRemaining() {
	r.phase = PhaseInitializingRemaining
	if r.size > 1 {
		r.log().Infow("initializing remaining workers", "workers", r.size-1)
	}
	for i := 1; i < r.size; i++ {
		r.pool.Spawn(i, worker.InitPayload{})
	}
}

// WorkerFailed is called when the pool gave up initializing a slot.
func (r *Rollout) WorkerFailed(index int) {
	ms := r.slot(index)
	if ms == nil {
		return
	}
	ms.cancelRetry()
	ms.loading = false
	ms.loaded = false
	ms.exhausted = true
	if r.phase == PhaseInitializingFirst && index == 0 {
		r.spawnRemaining()
	}
	r.evaluate()
}

// SlotCrashed drops the model state of a worker that hit a runtime error.
// The recreated worker loads again once it is ready.
func (r *Rollout) SlotCrashed(index int) {
	ms := r.slot(index)
	if ms == nil {
		return
	}
	ms.cancelRetry()
	ms.loading = false
	ms.loaded = false
	ms.exhausted = false
	ms.attempts = 0
	r.evaluate()
}

func (r *Rollout) evaluate() {
	if r.phase == PhaseInitializingRemaining && r.initialized() {
		r.phase = PhaseAllInitialized
		r.log().Infow("all segmentation workers initialized", "loaded", r.LoadedWorkers())
	}

	if loaded := r.Loaded(); loaded != r.loaded {
		r.loaded = loaded
		if r.onChange != nil {
			r.onChange(loaded)
		}
		if loaded && r.onLoaded != nil {
			r.onLoaded()
		}
	}

	failed := r.AllFailed()
	if failed && !r.allFailed {
		r.allFailed = true
		r.log().Errorw("all segmentation workers failed to load the model", "error", r.lastError)
		if r.onAllFailed != nil {
			r.onAllFailed()
		}
	} else if !failed {
		r.allFailed = false
	}
}

func (r *Rollout) initialized() bool {
	for i, ms := range r.slots {
		if ms.exhausted {
			continue
		}
		if st := r.pool.Status(i); st != worker.InitSuccess && st != worker.InitFailed {
			return false
		}
	}
	return true
}

// Loaded reports whether any initialized worker has its model ready.
func (r *Rollout) Loaded() bool {
	return r.LoadedWorkers() > 0
}

func (r *Rollout) LoadedWorkers() int {
	n := 0
	for i, ms := range r.slots {
		if ms.loaded && r.pool.Status(i) == worker.InitSuccess {
			n++
		}
	}
	return n
}

// SlotReady reports whether slot may run segmentation right now.
func (r *Rollout) SlotReady(index int) bool {
	ms := r.slot(index)
	return ms != nil && ms.loaded && r.pool.Ready(index)
}

// Loading reports whether some worker is still expected to load the model.
func (r *Rollout) Loading() bool {
	switch r.phase {
	case PhaseIdle:
		return false
	case PhaseInitializingFirst:
		return true
	}
	for i, ms := range r.slots {
		if r.pool.Spawned(i) && !ms.loaded && !ms.exhausted {
			return true
		}
	}
	return false
}

// AllFailed reports whether every slot gave up without loading the model.
func (r *Rollout) AllFailed() bool {
	if r.phase == PhaseIdle || len(r.slots) == 0 {
		return false
	}
	for _, ms := range r.slots {
		if ms.loaded || !ms.exhausted {
			return false
		}
	}
	return true
}

func (r *Rollout) State() ModelState {
	return ModelState{
		Phase:         r.phase,
		Loading:       r.Loading(),
		Loaded:        r.Loaded(),
		LoadedWorkers: r.LoadedWorkers(),
		AllFailed:     r.AllFailed(),
		LastError:     r.lastError,
	}
}

func (r *Rollout) log() *zap.SugaredLogger {
	return zap.S().Named("rollout")
}
