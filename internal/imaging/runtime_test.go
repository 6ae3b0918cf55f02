package imaging_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/kubev2v/cutout/internal/imaging"
	"github.com/kubev2v/cutout/internal/worker"
)

type panicking struct{}

func (panicking) Init(context.Context, worker.InitPayload) error {
	return nil
}

func (panicking) Process(context.Context, worker.StageInput) (worker.StageOutput, error) {
	panic("boom")
}

var _ = Describe("Runtime", func() {
	var (
		ep *chanEndpoint
		rt *imaging.Runtime
	)

	receive := func() worker.Message {
		var msg worker.Message
		Eventually(ep.msgs).WithTimeout(2 * time.Second).Should(Receive(&msg))
		return msg
	}

	BeforeEach(func() {
		ep = newChanEndpoint()
	})

	AfterEach(func() {
		if rt != nil {
			rt.Terminate()
		}
	})

	It("answers INIT and loads the model when asked to", func() {
		rt = imaging.NewRuntime(0, ep, imaging.NewSegmenter(imaging.NewModelRepository("")), 0)
		Expect(rt.Post(worker.NewInit(0, worker.InitPayload{LoadModel: true, Authoritative: true}))).To(Succeed())

		Expect(receive().Type).To(Equal(worker.MessageReady))
		status := receive()
		Expect(status.Type).To(Equal(worker.MessageModelStatus))
		Expect(status.ModelStatus.Loaded).To(BeTrue())
	})

	It("answers a resent INIT without loading again", func() {
		rt = imaging.NewRuntime(1, ep, imaging.NewSegmenter(imaging.NewModelRepository("")), 0)
		msg := worker.NewInit(1, worker.InitPayload{LoadModel: true})
		Expect(rt.Post(msg)).To(Succeed())
		Expect(rt.Post(msg)).To(Succeed())

		Expect(receive().Type).To(Equal(worker.MessageReady))
		Expect(receive().Type).To(Equal(worker.MessageModelStatus))
		Expect(receive().Type).To(Equal(worker.MessageReady))
		Consistently(ep.msgs, 100*time.Millisecond).ShouldNot(Receive())
	})

	It("reports processing failures in the result", func() {
		rt = imaging.NewRuntime(0, ep, imaging.NewPreprocessor(0, 0), 0)
		Expect(rt.Post(worker.NewInit(0, worker.InitPayload{}))).To(Succeed())
		Expect(receive().Type).To(Equal(worker.MessageReady))

		Expect(rt.Post(worker.NewProcess(0, "job", worker.StageInput{Name: "a.png", Original: []byte("garbage")}))).To(Succeed())
		res := receive()
		Expect(res.Type).To(Equal(worker.MessageResult))
		Expect(res.Result.JobID).To(Equal("job"))
		Expect(res.Result.Error).To(ContainSubstring("unsupported image"))
	})

	It("refuses a model load on a stage without a model", func() {
		rt = imaging.NewRuntime(0, ep, imaging.NewCompositor(0), 0)
		Expect(rt.Post(worker.NewLoadModel(0))).To(Succeed())

		status := receive()
		Expect(status.ModelStatus.Loaded).To(BeFalse())
		Expect(status.ModelStatus.Error).NotTo(BeEmpty())
	})

	It("turns a panic into a runtime error and stops", func() {
		rt = imaging.NewRuntime(2, ep, panicking{}, 0)
		Expect(rt.Post(worker.NewProcess(2, "job", worker.StageInput{}))).To(Succeed())

		var err error
		Eventually(ep.errs).WithTimeout(2 * time.Second).Should(Receive(&err))
		Expect(err).To(MatchError(ContainSubstring("panic: boom")))
		Eventually(func() error { return rt.Post(worker.NewLoadModel(2)) }).Should(MatchError(worker.ErrUnavailable))
	})

	It("rejects messages after termination", func() {
		rt = imaging.NewRuntime(0, ep, imaging.NewCompositor(0), 0)
		rt.Terminate()
		rt.Terminate()
		Expect(rt.Post(worker.NewLoadModel(0))).To(MatchError(worker.ErrUnavailable))
	})
})
