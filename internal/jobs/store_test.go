package jobs_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/kubev2v/cutout/internal/jobs"
)

var _ = Describe("Store", func() {
	var store *jobs.Store

	BeforeEach(func() {
		store = jobs.NewStore()
	})

	It("keeps creation order", func() {
		ids := []string{}
		for _, name := range []string{"a", "b", "c"} {
			job := jobs.NewJob(name, nil)
			Expect(store.Add(job)).To(Succeed())
			ids = append(ids, job.ID)
		}

		list := store.List()
		Expect(list).To(HaveLen(3))
		for i, job := range list {
			Expect(job.ID).To(Equal(ids[i]))
		}
	})

	It("rejects duplicates", func() {
		job := jobs.NewJob("a", nil)
		Expect(store.Add(job)).To(Succeed())
		Expect(store.Add(job)).To(MatchError(jobs.ErrJobExists))
	})

	It("replaces the whole record on update", func() {
		job := jobs.NewJob("a", []byte("data"))
		Expect(store.Add(job)).To(Succeed())

		draft, found := store.Get(job.ID)
		Expect(found).To(BeTrue())
		draft.Status = jobs.StatusPreprocessing

		stored, _ := store.Get(job.ID)
		Expect(stored.Status).To(Equal(jobs.StatusPendingPreprocessing))

		Expect(store.Update(draft)).To(Succeed())
		stored, _ = store.Get(job.ID)
		Expect(stored.Status).To(Equal(jobs.StatusPreprocessing))
	})

	It("refuses illegal transitions", func() {
		job := jobs.NewJob("a", nil)
		Expect(store.Add(job)).To(Succeed())

		job.Status = jobs.StatusCompleted
		Expect(store.Update(job)).To(MatchError(jobs.ErrInvalidTransition))
	})

	It("refuses unknown jobs", func() {
		Expect(store.Update(jobs.NewJob("a", nil))).To(MatchError(jobs.ErrJobNotFound))
	})

	It("keeps the error only in the error state", func() {
		job := jobs.NewJob("a", nil)
		Expect(store.Add(job)).To(Succeed())
		Expect(store.Update(job.Fail("decode failed"))).To(Succeed())

		stored, _ := store.Get(job.ID)
		Expect(stored.Status).To(Equal(jobs.StatusError))
		Expect(stored.Error).To(Equal("decode failed"))
		Expect(store.Active()).To(BeFalse())
	})

	It("removes and clears", func() {
		a := jobs.NewJob("a", nil)
		b := jobs.NewJob("b", nil)
		Expect(store.Add(a)).To(Succeed())
		Expect(store.Add(b)).To(Succeed())

		Expect(store.Remove(a.ID)).To(BeTrue())
		Expect(store.Remove(a.ID)).To(BeFalse())
		Expect(store.List()).To(HaveLen(1))
		Expect(store.CountByStatus()[jobs.StatusPendingPreprocessing]).To(Equal(1))

		store.Clear()
		Expect(store.Len()).To(Equal(0))
		Expect(store.Active()).To(BeFalse())
	})
})
