package stage

import (
	"github.com/kubev2v/cutout/internal/jobs"
	"github.com/kubev2v/cutout/internal/worker"
)

// Postprocess applies the mask to the preprocessed image. It is the last stage.
type Postprocess struct {
	base
}

func NewPostprocess(opts Options) *Postprocess {
	opts.Next = nil
	p := &Postprocess{base: newBase(NamePostprocess, jobs.StatusPostprocessing, opts)}
	p.pool = p.newPool(opts, p)
	return p
}

func (p *Postprocess) Start() {
	if p.pool.Size() > 0 {
		return
	}
	p.pool.Initialize(p.size, worker.InitPayload{})
}

func (p *Postprocess) Shutdown() {
	p.pool.Teardown()
}

func (p *Postprocess) Enqueue(job jobs.Job) error {
	return p.enqueue(job, jobs.StatusPendingPostprocessing)
}

func (p *Postprocess) Eligible(job jobs.Job) bool {
	return job.Status == jobs.StatusPendingPostprocessing && job.Preprocessed != nil && job.Mask != nil
}

func (p *Postprocess) Accepts(int) bool {
	return true
}

func (p *Postprocess) Dispatch(slot int, job jobs.Job) error {
	return p.dispatch(slot, job, jobs.StatusPendingPostprocessing, worker.StageInput{
		Name:  job.Name,
		Image: job.Preprocessed,
		Mask:  job.Mask,
	})
}

func (p *Postprocess) HandleMessage(slot int, msg worker.Message) {
	job, out, ok := p.result(slot, msg)
	if !ok {
		return
	}
	if len(out.Result) == 0 {
		p.noOutput(job)
		return
	}
	job.Result = out.Result
	job.Preprocessed = nil
	job.Mask = nil
	p.handoff(job)
}

func (p *Postprocess) HandleError(slot int, jobID string, err error) {
	p.crashed(slot, jobID, err)
}
