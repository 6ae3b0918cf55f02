package history

import (
	"sync"

	"github.com/kubev2v/cutout/internal/store/model"
)

type entry struct {
	record model.JobRecord
	prev   *entry
}

// buffer is a FIFO of records waiting to be written.
type buffer struct {
	lock sync.Mutex
	head *entry
	tail *entry
	size int
}

func newBuffer() *buffer {
	return &buffer{}
}

// PushBack appends the record and returns the size before the push.
func (b *buffer) PushBack(e *entry) int {
	b.lock.Lock()
	defer b.lock.Unlock()

	prev := b.size
	if b.head == nil {
		b.head = e
		b.tail = e
	} else {
		b.tail.prev = e
		b.tail = e
	}
	b.size++
	return prev
}

func (b *buffer) Pop() *entry {
	b.lock.Lock()
	defer b.lock.Unlock()

	if b.head == nil {
		return nil
	}
	tmp := b.head
	if b.head.prev != nil {
		b.head = b.head.prev
	} else {
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
