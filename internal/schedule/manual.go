package schedule

import (
	"sort"
	"sync"
	"time"
)

// Manual is a Scheduler on virtual time. Tasks run only from Advance, on the
// caller's goroutine, in due-time order with ties broken by scheduling order.
type Manual struct {
	mu    sync.Mutex
	now   time.Time
	seq   uint64
	queue []*manualTask
}

// NewManual creates a Manual scheduler whose clock starts at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

type manualTask struct {
	m       *Manual
	at      time.Time
	seq     uint64
	fn      func()
	stopped bool
	fired   bool
}

func (t *manualTask) Stop() bool {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// AfterFunc schedules fn at now+d. A non-positive d runs on the next Advance.
func (m *Manual) AfterFunc(d time.Duration, fn func()) Task {
	m.mu.Lock()
	defer m.mu.Unlock()

	if d < 0 {
		d = 0
	}
	m.seq++
	t := &manualTask{m: m, at: m.now.Add(d), seq: m.seq, fn: fn}
	m.queue = append(m.queue, t)
	return t
}

// Now returns the virtual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d, running every task that falls due
// on the way, including tasks scheduled by tasks that ran.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		t := m.popDue(target)
		if t == nil {
			break
		}
		t.fn()
	}

	m.mu.Lock()
	if m.now.Before(target) {
		m.now = target
	}
	m.mu.Unlock()
}

// popDue removes and returns the earliest live task due at or before target
// and moves the clock to its due time.
func (m *Manual) popDue(target time.Time) *manualTask {
	m.mu.Lock()
	defer m.mu.Unlock()

	live := m.queue[:0]
	for _, t := range m.queue {
		if !t.stopped {
			live = append(live, t)
		}
	}
	m.queue = live

	sort.SliceStable(m.queue, func(i, j int) bool {
		if m.queue[i].at.Equal(m.queue[j].at) {
			return m.queue[i].seq < m.queue[j].seq
		}
		return m.queue[i].at.Before(m.queue[j].at)
	})

	if len(m.queue) == 0 || m.queue[0].at.After(target) {
		return nil
	}

	t := m.queue[0]
	m.queue = m.queue[1:]
	t.fired = true
	if t.at.After(m.now) {
		m.now = t.at
	}
	return t
}

// Pending returns the number of tasks waiting to run.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.queue {
		if !t.stopped {
			n++
		}
	}
	return n
}
