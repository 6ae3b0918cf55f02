package loop

import "sync"

type task struct {
	fn   func()
	prev *task
}

// buffer is an unbounded FIFO of pending tasks. Producers never block.
type buffer struct {
	lock sync.Mutex
	head *task
	tail *task
	size int
}

func newBuffer() *buffer {
	return &buffer{}
}

func (b *buffer) PushBack(t *task) {
	b.lock.Lock()
	defer b.lock.Unlock()

	if b.head == nil {
		b.head = t
		b.tail = t
	} else {
		b.tail.prev = t
		b.tail = t
	}
	b.size++
}

func (b *buffer) Pop() *task {
	b.lock.Lock()
	defer b.lock.Unlock()

	if b.head == nil {
		return nil
	}
	tmp := b.head
	if b.head.prev != nil {
		b.head = b.head.prev
	} else {
		// removing the last one
		b.head = nil
		b.tail = nil
	}
	b.size--
	return tmp
}

func (b *buffer) Size() int {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.size
}
