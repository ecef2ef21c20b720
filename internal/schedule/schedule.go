// Package schedule provides cancellable delayed tasks behind a clock
// abstraction, with a wall-clock implementation and a manually advanced one.
package schedule

import (
	"sync"
	"time"
)

// Task is a pending delayed function.
type Task interface {
	// Stop prevents the task from running. It reports whether the call
	// stopped the task; false means it already ran or was stopped.
	Stop() bool
}

// Scheduler runs functions after a delay.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) Task
	Now() time.Time
}

// TimerScheduler schedules on the wall clock.
type TimerScheduler struct{}

// AfterFunc runs fn in its own goroutine after d.
func (TimerScheduler) AfterFunc(d time.Duration, fn func()) Task {
	return time.AfterFunc(d, fn)
}

// Now returns the current wall-clock time.
func (TimerScheduler) Now() time.Time {
	return time.Now()
}

// Group tracks every task scheduled through it so they can be cancelled
// together. Once closed, scheduling is a no-op.
type Group struct {
	scheduler Scheduler

	mu     sync.Mutex
	tasks  map[*groupTask]struct{}
	closed bool
}

// NewGroup wraps s. A nil s uses the wall clock.
func NewGroup(s Scheduler) *Group {
	if s == nil {
		s = TimerScheduler{}
	}
	return &Group{scheduler: s, tasks: make(map[*groupTask]struct{})}
}

type groupTask struct {
	group *Group
	inner Task
}

func (t *groupTask) Stop() bool {
	t.group.forget(t)
	if t.inner == nil {
		return false
	}
	return t.inner.Stop()
}

type noopTask struct{}

func (noopTask) Stop() bool { return false }

// AfterFunc schedules fn unless the group is closed.
func (g *Group) AfterFunc(d time.Duration, fn func()) Task {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return noopTask{}
	}

	t := &groupTask{group: g}
	g.tasks[t] = struct{}{}
	// Holding g.mu here is safe: the scheduler never runs fn synchronously.
	t.inner = g.scheduler.AfterFunc(d, func() {
		if !g.forget(t) {
			return
		}
		fn()
	})
	return t
}

// Now returns the underlying scheduler's time.
func (g *Group) Now() time.Time {
	return g.scheduler.Now()
}

// forget removes t and reports whether it was still pending.
func (g *Group) forget(t *groupTask) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.tasks[t]; !ok {
		return false
	}
	delete(g.tasks, t)
	return true
}

// Pending returns the number of tasks that have neither run nor been stopped.
func (g *Group) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.tasks)
}

// Close stops every pending task and makes future AfterFunc calls no-ops.
func (g *Group) Close() {
	g.mu.Lock()
	g.closed = true
	tasks := g.tasks
	g.tasks = make(map[*groupTask]struct{})
	g.mu.Unlock()

	for t := range tasks {
		if t.inner != nil {
			t.inner.Stop()
		}
	}
}

// Closed reports whether Close has been called.
func (g *Group) Closed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}
