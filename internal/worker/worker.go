package worker

// Worker is one isolated execution unit. Post never blocks.
type Worker interface {
	Post(msg Message) error
	Terminate()
}

// Endpoint is how a worker instance reports back to the coordinator.
// It is safe to call from any goroutine.
type Endpoint interface {
	Send(msg Message)
	Fail(err error)
}

// Factory creates the worker living in a slot. A failing factory counts as an
// initialization failure.
type Factory func(slot int, ep Endpoint) (Worker, error)

// endpoint is stamped with the worker generation so that a retired instance
// cannot affect the slot after a restart.
type endpoint struct {
	pool *Pool
	slot int
	gen  int
}

func (e *endpoint) Send(msg Message) {
	e.pool.exec.Post(func() { e.pool.deliver(e.slot, e.gen, msg) })
}

func (e *endpoint) Fail(err error) {
	e.pool.exec.Post(func() { e.pool.fail(e.slot, e.gen, err) })
}
