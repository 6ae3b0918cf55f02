package loop

import (
	"context"
	"sort"
	"time"
)

// Manual is a deterministic Coordinator for tests. Posted tasks run on Drain,
// timers fire on Advance. Everything happens on the calling goroutine.
type Manual struct {
	now      time.Duration
	seq      int
	tasks    []func()
	timers   []*manualTimer
	draining bool
}

type manualTimer struct {
	at      time.Duration
	seq     int
	fn      func()
	done    bool
	stopped bool
}

func NewManual() *Manual {
	return &Manual{}
}

func (m *Manual) Post(fn func()) {
	m.tasks = append(m.tasks, fn)
}

func (m *Manual) AfterFunc(d time.Duration, fn func()) func() bool {
	m.seq++
	t := &manualTimer{at: m.now + d, seq: m.seq, fn: fn}
	m.timers = append(m.timers, t)
	return func() bool {
		if t.done || t.stopped {
			return false
		}
		t.stopped = true
		return true
	}
}

// Call runs fn and drains whatever it posted.
func (m *Manual) Call(_ context.Context, fn func()) error {
	fn()
	m.Drain()
	return nil
}

// Drain runs posted tasks, including the ones posted while draining, and
// returns how many ran.
func (m *Manual) Drain() int {
	if m.draining {
		return 0
	}
	m.draining = true
	defer func() { m.draining = false }()

	n := 0
	for len(m.tasks) > 0 {
		fn := m.tasks[0]
		m.tasks = m.tasks[1:]
		fn()
		n++
	}
	return n
}

// Advance moves the clock forward, firing due timers in deadline order and
// draining after each one.
func (m *Manual) Advance(d time.Duration) {
	target := m.now + d
	for {
		next := m.nextTimer(target)
		if next == nil {
			break
		}
		m.now = next.at
		next.done = true
		next.fn()
		m.Drain()
	}
	m.now = target
	m.Drain()
}

// PendingTimers returns the number of armed timers.
func (m *Manual) PendingTimers() int {
	n := 0
	for _, t := range m.timers {
		if !t.done && !t.stopped {
			n++
		}
	}
	return n
}

// Now returns the elapsed virtual time.
func (m *Manual) Now() time.Duration {
	return m.now
}

func (m *Manual) nextTimer(limit time.Duration) *manualTimer {
	live := m.timers[:0]
	for _, t := range m.timers {
		if !t.done && !t.stopped {
			live = append(live, t)
		}
	}
	m.timers = live
	if len(live) == 0 {
		return nil
	}
	sort.SliceStable(live, func(i, j int) bool {
		if live[i].at == live[j].at {
			return live[i].seq < live[j].seq
		}
		return live[i].at < live[j].at
	})
	if live[0].at > limit {
		return nil
	}
	return live[0]
}
