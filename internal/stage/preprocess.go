package stage

import (
	"github.com/kubev2v/cutout/internal/jobs"
	"github.com/kubev2v/cutout/internal/worker"
)

// Preprocess decodes and normalizes the original upload.
type Preprocess struct {
	base
}

func NewPreprocess(opts Options) *Preprocess {
	p := &Preprocess{base: newBase(NamePreprocess, jobs.StatusPreprocessing, opts)}
	p.pool = p.newPool(opts, p)
	return p
}

// Start spawns the stage workers unless they are already running.
func (p *Preprocess) Start() {
	if p.pool.Size() > 0 {
		return
	}
	p.pool.Initialize(p.size, worker.InitPayload{})
}

func (p *Preprocess) Shutdown() {
	p.pool.Teardown()
}

func (p *Preprocess) Enqueue(job jobs.Job) error {
	return p.enqueue(job, jobs.StatusPendingPreprocessing)
}

func (p *Preprocess) Eligible(job jobs.Job) bool {
	return job.Status == jobs.StatusPendingPreprocessing && job.Original != nil
}

func (p *Preprocess) Accepts(int) bool {
	return true
}

func (p *Preprocess) Dispatch(slot int, job jobs.Job) error {
	return p.dispatch(slot, job, jobs.StatusPendingPreprocessing, worker.StageInput{
		Original: job.Original,
		Name:     job.Name,
	})
}

func (p *Preprocess) HandleMessage(slot int, msg worker.Message) {
	job, out, ok := p.result(slot, msg)
	if !ok {
		return
	}
	if out.Preprocessed == nil || out.ModelInput == nil {
		p.noOutput(job)
		return
	}
	job.Preprocessed = out.Preprocessed
	job.ModelInput = out.ModelInput
	job.Original = nil
	p.handoff(job)
}

func (p *Preprocess) HandleError(slot int, jobID string, err error) {
	p.crashed(slot, jobID, err)
}
