package stage_test

import (
	"image"
	"time"

	"github.com/kubev2v/cutout/internal/jobs"
	"github.com/kubev2v/cutout/internal/loop"
	"github.com/kubev2v/cutout/internal/stage"
	"github.com/kubev2v/cutout/internal/worker"
)

type fakeWorker struct {
	ep         worker.Endpoint
	posted     []worker.Message
	postErr    error
	terminated bool
}

func (w *fakeWorker) Post(msg worker.Message) error {
	if w.postErr != nil {
		return w.postErr
	}
	w.posted = append(w.posted, msg)
	return nil
}

func (w *fakeWorker) Terminate() {
	w.terminated = true
}

func (w *fakeWorker) last() worker.Message {
	return w.posted[len(w.posted)-1]
}

func (w *fakeWorker) count(t worker.MessageType) int {
	n := 0
	for _, m := range w.posted {
		if m.Type == t {
			n++
		}
	}
	return n
}

type fakeFactory struct {
	created map[int][]*fakeWorker
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{created: map[int][]*fakeWorker{}}
}

func (f *fakeFactory) New(slot int, ep worker.Endpoint) (worker.Worker, error) {
	w := &fakeWorker{ep: ep}
	f.created[slot] = append(f.created[slot], w)
	return w, nil
}

func (f *fakeFactory) latest(slot int) *fakeWorker {
	list := f.created[slot]
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}

// harness drives fake workers on a manual executor.
type harness struct {
	exec    *loop.Manual
	factory *fakeFactory
	store   *jobs.Store
}

func newHarness() *harness {
	return &harness{exec: loop.NewManual(), factory: newFakeFactory(), store: jobs.NewStore()}
}

func (h *harness) options(size int, next stage.Next, obs stage.Observer) stage.Options {
	return stage.Options{
		Exec:     h.exec,
		Store:    h.store,
		Factory:  h.factory.New,
		Pool:     worker.DefaultConfig(""),
		Size:     size,
		Next:     next,
		Observer: obs,
	}
}

func (h *harness) send(slot int, msg worker.Message) {
	h.factory.latest(slot).ep.Send(msg)
	h.exec.Drain()
}

func (h *harness) ready(slot int) {
	h.send(slot, worker.NewReady(slot))
}

func (h *harness) add(job jobs.Job) jobs.Job {
	if err := h.store.Add(job); err != nil {
		panic(err)
	}
	return job
}

func (h *harness) get(id string) jobs.Job {
	job, _ := h.store.Get(id)
	return job
}

// fakeNext records handoffs and moves the job to the segmentation pending status.
type fakeNext struct {
	store  *jobs.Store
	status jobs.Status
	jobs   []jobs.Job
}

func (n *fakeNext) Enqueue(job jobs.Job) error {
	job.Status = n.status
	if err := n.store.Update(job); err != nil {
		return err
	}
	n.jobs = append(n.jobs, job)
	return nil
}

type recorder struct {
	finished []jobs.Job
	stages   map[string]int
	loads    []bool
}

func newRecorder() *recorder {
	return &recorder{stages: map[string]int{}}
}

func (r *recorder) WorkerRestarted(string, string) {}

func (r *recorder) JobFinished(_ string, job jobs.Job) {
	r.finished = append(r.finished, job)
}

func (r *recorder) StageCompleted(stage string, _ time.Duration) {
	r.stages[stage]++
}

func (r *recorder) ModelLoadAttempt(_ int, loaded bool) {
	r.loads = append(r.loads, loaded)
}

func testImage() *image.NRGBA {
	return image.NewNRGBA(image.Rect(0, 0, 4, 4))
}

func testMask() *image.Alpha {
	return image.NewAlpha(image.Rect(0, 0, 4, 4))
}
