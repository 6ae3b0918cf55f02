package jobs

// Queue is an ordered sequence of job ids awaiting a stage. It never holds the
// same id twice.
type Queue struct {
	name string
	ids  []string
}

func NewQueue(name string) *Queue {
	return &Queue{name: name}
}

func (q *Queue) Name() string {
	return q.name
}

// PushBack appends id. It returns false if id is already queued.
func (q *Queue) PushBack(id string) bool {
	if q.Contains(id) {
		return false
	}
	q.ids = append(q.ids, id)
	return true
}

// PushFront puts id at the head so it is the next one considered.
func (q *Queue) PushFront(id string) bool {
	if q.Contains(id) {
		return false
	}
	q.ids = append([]string{id}, q.ids...)
	return true
}

func (q *Queue) PopFront() (string, bool) {
	if len(q.ids) == 0 {
		return "", false
	}
	id := q.ids[0]
	q.ids = q.ids[1:]
	return id, true
}

func (q *Queue) Remove(id string) bool {
	for i, v := range q.ids {
		if v == id {
			q.ids = append(q.ids[:i], q.ids[i+1:]...)
			return true
		}
	}
	return false
}

func (q *Queue) Contains(id string) bool {
	for _, v := range q.ids {
		if v == id {
			return true
		}
	}
	return false
}

func (q *Queue) Len() int {
	return len(q.ids)
}

// IDs returns a copy of the queued ids, front first.
func (q *Queue) IDs() []string {
	return append([]string(nil), q.ids...)
}

func (q *Queue) Clear() {
	q.ids = nil
}
