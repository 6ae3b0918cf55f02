package stage_test

import (
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/kubev2v/cutout/internal/jobs"
	"github.com/kubev2v/cutout/internal/stage"
	"github.com/kubev2v/cutout/internal/worker"
)

var _ = Describe("Segment", func() {
	var (
		h         *harness
		next      *fakeNext
		rec       *recorder
		seg       *stage.Segment
		loaded    int
		allFailed int
	)

	build := func(size int) {
		seg = stage.NewSegment(stage.SegmentOptions{
			Options:     h.options(size, next, rec),
			Rollout:     stage.DefaultRolloutConfig(),
			OnLoaded:    func() { loaded++ },
			OnAllFailed: func() { allFailed++ },
		})
	}

	modelLoaded := func(slot int) {
		h.send(slot, worker.NewModelStatus(slot, true, nil))
	}

	modelFailed := func(slot int) {
		h.send(slot, worker.NewModelStatus(slot, false, errors.New("download failed")))
	}

	enqueue := func(name string) jobs.Job {
		job := jobs.NewJob(name, nil)
		job.Status = jobs.StatusPreprocessing
		job.Preprocessed = testImage()
		job.ModelInput = testImage()
		h.add(job)
		Expect(seg.Enqueue(job)).To(Succeed())
		return job
	}

	BeforeEach(func() {
		h = newHarness()
		next = &fakeNext{store: h.store, status: jobs.StatusPendingPostprocessing}
		rec = newRecorder()
		loaded = 0
		allFailed = 0
	})

	Context("phased rollout", func() {
		BeforeEach(func() {
			build(3)
			seg.Start()
		})

		It("starts with a single worker and an authoritative load", func() {
			Expect(h.factory.created).To(HaveLen(1))
			first := h.factory.latest(0).last()
			Expect(first.Type).To(Equal(worker.MessageInit))
			Expect(first.Init.LoadModel).To(BeTrue())
			Expect(first.Init.Authoritative).To(BeTrue())

			state := seg.Rollout().State()
			Expect(state.Phase).To(Equal(stage.PhaseInitializingFirst))
			Expect(state.Loading).To(BeTrue())
			Expect(state.Loaded).To(BeFalse())
		})

		It("spawns the remaining workers once the first load settled", func() {
			h.ready(0)
			Expect(h.factory.created).To(HaveLen(1))
			Expect(seg.Rollout().Phase()).To(Equal(stage.PhaseInitializingFirst))

			modelLoaded(0)
			Expect(seg.Rollout().Phase()).To(Equal(stage.PhaseInitializingRemaining))
			Expect(loaded).To(Equal(1))
			for slot := 1; slot < 3; slot++ {
				first := h.factory.latest(slot).last()
				Expect(first.Type).To(Equal(worker.MessageInit))
				Expect(first.Init.LoadModel).To(BeFalse())
				Expect(first.Init.Authoritative).To(BeFalse())
			}

			h.ready(1)
			Expect(h.factory.latest(1).count(worker.MessageLoadModel)).To(Equal(1))
			Expect(seg.Rollout().Phase()).To(Equal(stage.PhaseInitializingRemaining))
			h.ready(2)
			Expect(seg.Rollout().Phase()).To(Equal(stage.PhaseAllInitialized))
			Expect(seg.Rollout().Loading()).To(BeTrue())

			modelLoaded(1)
			modelLoaded(2)
			state := seg.Rollout().State()
			Expect(state.LoadedWorkers).To(Equal(3))
			Expect(state.Loading).To(BeFalse())
			Expect(loaded).To(Equal(1))
			Expect(rec.loads).To(Equal([]bool{true, true, true}))
		})

		It("advances past a failed first load and proceeds on a later worker", func() {
			job := enqueue("a.png")
			Expect(h.get(job.ID).Status).To(Equal(jobs.StatusPendingSegmentation))

			h.ready(0)
			modelFailed(0)
			Expect(seg.Rollout().Phase()).To(Equal(stage.PhaseInitializingRemaining))
			Expect(seg.Rollout().Loaded()).To(BeFalse())
			Expect(seg.Rollout().State().LastError).To(Equal("download failed"))

			Expect(seg.ProcessNext()).To(BeZero())
			Expect(h.get(job.ID).Status).To(Equal(jobs.StatusPendingSegmentation))

			h.ready(1)
			modelLoaded(1)

			Expect(seg.Rollout().Loaded()).To(BeTrue())
			Expect(loaded).To(Equal(1))
			Expect(h.get(job.ID).Status).To(Equal(jobs.StatusQueued))
			Expect(seg.Queue().IDs()).To(Equal([]string{job.ID}))

			Expect(seg.ProcessNext()).To(Equal(1))
			Expect(seg.Pool().Assignment(0)).To(BeEmpty())
			Expect(seg.Pool().Assignment(1)).To(Equal(job.ID))
			Expect(h.get(job.ID).Status).To(Equal(jobs.StatusSegmentation))
		})

		It("retries the first worker after its authoritative load failed", func() {
			h.ready(0)
			modelFailed(0)

			h.exec.Advance(stage.DefaultModelRetryBackoff)
			Expect(h.factory.latest(0).count(worker.MessageLoadModel)).To(Equal(1))

			modelLoaded(0)
			Expect(seg.Rollout().SlotReady(0)).To(BeTrue())
		})

		It("reloads the model on a worker recreated after its loads were exhausted", func() {
			h.ready(0)
			modelLoaded(0)
			h.ready(1)
			for i := 0; i <= stage.DefaultModelLoadRetries; i++ {
				modelFailed(1)
				h.exec.Advance(time.Minute)
			}
			Expect(h.factory.latest(1).count(worker.MessageLoadModel)).To(Equal(1 + stage.DefaultModelLoadRetries))
			Expect(seg.Rollout().SlotReady(1)).To(BeFalse())

			h.factory.latest(1).ep.Fail(errors.New("out of memory"))
			h.exec.Advance(worker.DefaultRecreateDelay)
			Expect(h.factory.created[1]).To(HaveLen(2))

			h.ready(1)
			Expect(h.factory.latest(1).count(worker.MessageLoadModel)).To(Equal(1))
			modelLoaded(1)
			Expect(seg.Rollout().SlotReady(1)).To(BeTrue())
			Expect(seg.Rollout().LoadedWorkers()).To(Equal(2))
		})

		It("does not request a load from a worker that is already loaded", func() {
			h.ready(0)
			modelLoaded(0)
			h.ready(1)
			modelLoaded(1)
			h.ready(1)
			Expect(h.factory.latest(1).count(worker.MessageLoadModel)).To(Equal(1))
		})
	})

	Context("load retries", func() {
		BeforeEach(func() {
			build(1)
			seg.Start()
			h.ready(0)
		})

		It("backs off exponentially and gives up after the retry budget", func() {
			job := enqueue("a.png")
			w := h.factory.latest(0)

			modelFailed(0)
			h.exec.Advance(stage.DefaultModelRetryBackoff - time.Millisecond)
			Expect(w.count(worker.MessageLoadModel)).To(BeZero())
			h.exec.Advance(time.Millisecond)
			Expect(w.count(worker.MessageLoadModel)).To(Equal(1))

			modelFailed(0)
			h.exec.Advance(2*stage.DefaultModelRetryBackoff - time.Millisecond)
			Expect(w.count(worker.MessageLoadModel)).To(Equal(1))
			h.exec.Advance(time.Millisecond)
			Expect(w.count(worker.MessageLoadModel)).To(Equal(2))

			Expect(allFailed).To(BeZero())
			modelFailed(0)
			h.exec.Advance(time.Minute)
			Expect(w.count(worker.MessageLoadModel)).To(Equal(2))

			Expect(seg.Rollout().AllFailed()).To(BeTrue())
			Expect(seg.Rollout().Loading()).To(BeFalse())
			Expect(allFailed).To(Equal(1))

			Expect(h.get(job.ID).Status).To(Equal(jobs.StatusPendingSegmentation))
			Expect(seg.Queue().Len()).To(Equal(1))
		})

		It("rebuilds the pool from scratch", func() {
			old := h.factory.latest(0)
			seg.Rebuild()

			Expect(old.terminated).To(BeTrue())
			Expect(h.factory.created[0]).To(HaveLen(2))
			Expect(seg.Rollout().Phase()).To(Equal(stage.PhaseInitializingFirst))
			Expect(h.factory.latest(0).last().Init.Authoritative).To(BeTrue())
		})
	})

	Context("worker crash", func() {
		BeforeEach(func() {
			build(1)
			seg.Start()
			h.ready(0)
			modelLoaded(0)
		})

		It("fails the in-flight job and recovers the slot", func() {
			first := enqueue("a.png")
			second := enqueue("b.png")
			Expect(h.get(first.ID).Status).To(Equal(jobs.StatusQueued))
			Expect(seg.ProcessNext()).To(Equal(1))

			h.factory.latest(0).ep.Fail(errors.New("out of memory"))
			h.exec.Drain()

			failed := h.get(first.ID)
			Expect(failed.Status).To(Equal(jobs.StatusError))
			Expect(failed.Error).To(ContainSubstring("crashed"))
			Expect(failed.Error).To(Equal("segmentation worker 0 crashed: out of memory"))
			Expect(seg.Rollout().Loaded()).To(BeFalse())
			Expect(h.get(second.ID).Status).To(Equal(jobs.StatusPendingSegmentation))

			h.exec.Advance(worker.DefaultRecreateDelay)
			Expect(h.factory.created[0]).To(HaveLen(2))
			Expect(h.factory.latest(0).last().Init.LoadModel).To(BeTrue())

			h.ready(0)
			modelLoaded(0)
			Expect(h.get(second.ID).Status).To(Equal(jobs.StatusQueued))
			Expect(seg.ProcessNext()).To(Equal(1))

			h.send(0, worker.NewResult(0, second.ID, worker.StageOutput{Mask: testMask()}, nil))
			Expect(next.jobs).To(HaveLen(1))
			stored := h.get(second.ID)
			Expect(stored.Status).To(Equal(jobs.StatusPendingPostprocessing))
			Expect(stored.Mask).NotTo(BeNil())
			Expect(stored.ModelInput).To(BeNil())
		})
	})
})
