package loop_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/kubev2v/cutout/internal/loop"
)

var _ = Describe("Loop", func() {
	var (
		l      *loop.Loop
		cancel context.CancelFunc
	)

	BeforeEach(func() {
		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())
		l = loop.New()
		go l.Run(ctx)
	})

	AfterEach(func() {
		cancel()
		Eventually(l.Done()).Should(BeClosed())
	})

	It("runs posted tasks in order on one goroutine", func() {
		seen := []int{}
		for i := 0; i < 100; i++ {
			i := i
			l.Post(func() { seen = append(seen, i) })
		}

		var n int
		Expect(l.Call(context.TODO(), func() { n = len(seen) })).To(Succeed())
		Expect(n).To(Equal(100))
		for i := range seen {
			Expect(seen[i]).To(Equal(i))
		}
	})

	It("runs timer callbacks on the loop", func() {
		fired := make(chan struct{})
		l.AfterFunc(10*time.Millisecond, func() { close(fired) })
		Eventually(fired).Should(BeClosed())
	})

	It("does not run a stopped timer", func() {
		fired := false
		stop := l.AfterFunc(50*time.Millisecond, func() { fired = true })
		Expect(stop()).To(BeTrue())

		<-time.After(100 * time.Millisecond)
		var got bool
		Expect(l.Call(context.TODO(), func() { got = fired })).To(Succeed())
		Expect(got).To(BeFalse())
	})

	It("survives a panicking task", func() {
		l.Post(func() { panic("boom") })

		ran := false
		Expect(l.Call(context.TODO(), func() { ran = true })).To(Succeed())
		Expect(ran).To(BeTrue())
	})

	It("returns ErrStopped once the loop is gone", func() {
		cancel()
		Eventually(l.Done()).Should(BeClosed())
		Expect(l.Call(context.TODO(), func() {})).To(MatchError(loop.ErrStopped))
	})
})

var _ = Describe("Manual", func() {
	It("runs tasks only when drained", func() {
		m := loop.NewManual()
		ran := 0
		m.Post(func() {
			ran++
			m.Post(func() { ran++ })
		})
		Expect(ran).To(Equal(0))
		Expect(m.Drain()).To(Equal(2))
		Expect(ran).To(Equal(2))
	})

	It("fires timers in deadline order", func() {
		m := loop.NewManual()
		order := []string{}
		m.AfterFunc(2*time.Second, func() { order = append(order, "b") })
		m.AfterFunc(1*time.Second, func() { order = append(order, "a") })
		stop := m.AfterFunc(1500*time.Millisecond, func() { order = append(order, "never") })
		Expect(stop()).To(BeTrue())
		Expect(m.PendingTimers()).To(Equal(2))

		m.Advance(time.Second)
		Expect(order).To(Equal([]string{"a"}))

		m.Advance(time.Second)
		Expect(order).To(Equal([]string{"a", "b"}))
		Expect(m.PendingTimers()).To(Equal(0))
		Expect(m.Now()).To(Equal(2 * time.Second))
	})
})
