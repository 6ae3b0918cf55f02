package jobs_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/kubev2v/cutout/internal/jobs"
)

var _ = Describe("Queue", func() {
	var q *jobs.Queue

	BeforeEach(func() {
		q = jobs.NewQueue("test")
	})

	It("is FIFO", func() {
		Expect(q.PushBack("1")).To(BeTrue())
		Expect(q.PushBack("2")).To(BeTrue())
		Expect(q.PushBack("3")).To(BeTrue())

		for _, want := range []string{"1", "2", "3"} {
			id, ok := q.PopFront()
			Expect(ok).To(BeTrue())
			Expect(id).To(Equal(want))
		}
		_, ok := q.PopFront()
		Expect(ok).To(BeFalse())
	})

	It("puts a recovered job at the front", func() {
		q.PushBack("1")
		q.PushBack("2")
		id, _ := q.PopFront()

		Expect(q.PushFront(id)).To(BeTrue())
		Expect(q.IDs()).To(Equal([]string{"1", "2"}))
	})

	It("never holds an id twice", func() {
		Expect(q.PushBack("1")).To(BeTrue())
		Expect(q.PushBack("1")).To(BeFalse())
		Expect(q.PushFront("1")).To(BeFalse())
		Expect(q.Len()).To(Equal(1))
	})

	It("removes by id and clears", func() {
		q.PushBack("1")
		q.PushBack("2")
		q.PushBack("3")

		Expect(q.Remove("2")).To(BeTrue())
		Expect(q.Remove("2")).To(BeFalse())
		Expect(q.IDs()).To(Equal([]string{"1", "3"}))
		Expect(q.Contains("3")).To(BeTrue())

		q.Clear()
		Expect(q.Len()).To(Equal(0))
	})
})
