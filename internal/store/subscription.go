package store

import (
	"sync/atomic"

	"github.com/pitabwire/intake/model"
)

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	id     uint64
	store  *Store
	fn     func(model.FormState)
	active atomic.Bool
}

// Unsubscribe stops delivery to the subscriber. Snapshots already queued for
// it are dropped. Calling it more than once is safe.
func (sub *Subscription) Unsubscribe() {
	if !sub.active.CompareAndSwap(true, false) {
		return
	}
	sub.store.remove(sub.id)
}

// Active reports whether the subscription still receives snapshots.
func (sub *Subscription) Active() bool {
	return sub.active.Load()
}

type delivery struct {
	state   model.FormState
	targets []*Subscription
}

// Subscribe registers fn and immediately delivers the current snapshot to it.
// Subscribers are called in subscription order. A subscriber may call back
// into the store; snapshots published meanwhile are delivered after the
// current round, in publish order.
func (s *Store) Subscribe(fn func(model.FormState)) *Subscription {
	s.mu.Lock()
	s.nextID++
	sub := &Subscription{id: s.nextID, store: s, fn: fn}
	sub.active.Store(true)
	s.subs = append(s.subs, sub)
	s.enqueue(delivery{state: s.state, targets: []*Subscription{sub}})
	s.mu.Unlock()

	s.drain()
	return sub
}

// Subscribers returns the number of active subscriptions.
func (s *Store) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *Store) remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sub := range s.subs {
		if sub.id == id {
			s.subs = append(s.subs[:i:i], s.subs[i+1:]...)
			return
		}
	}
}

// activeLocked copies the subscriber list. Callers hold s.mu.
func (s *Store) activeLocked() []*Subscription {
	out := make([]*Subscription, len(s.subs))
	copy(out, s.subs)
	return out
}

// enqueue appends a delivery. Callers hold s.mu.
func (s *Store) enqueue(d delivery) {
	s.queue = append(s.queue, d)
}

// drain delivers queued snapshots outside the lock. Only one caller drains at
// a time; a publish from inside a subscriber returns after enqueueing and is
// delivered by the drain already running.
func (s *Store) drain() {
	s.mu.Lock()
	if s.delivering {
		s.mu.Unlock()
		return
	}
	s.delivering = true

	for len(s.queue) > 0 {
		d := s.queue[0]
		s.queue[0] = delivery{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		for _, sub := range d.targets {
			if sub.active.Load() {
				sub.fn(d.state)
			}
		}

		s.mu.Lock()
	}

	s.delivering = false
	s.mu.Unlock()
}
