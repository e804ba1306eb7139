/*
signal.go - Process-wide balance version signal

PURPOSE:
  A monotonically increasing counter bumped on every balance-affecting
  mutation. Consumers holding a computed balance snapshot compare the
  version they computed it at with Version() and recompute when it moved.

SCOPE:
  The counter is process-wide and tenant-independent: one number for every
  tenant in this process. Each Change still carries the tenant and entity
  that caused it, so a subscriber can filter, but the counter itself never
  splits per tenant.

DELIVERY:
  Subscribers are called synchronously, in subscription order, after the
  counter moved and outside the lock. There is no push latency guarantee
  beyond that: a reader that polls Version() sees the new value immediately.

USAGE:
  sig := generic.NewVersionSignal()
  unsubscribe := sig.Subscribe(func(c generic.Change) { cache.Drop(c.EntityID) })
  defer unsubscribe()

  sig.Bump(generic.Change{TenantID: "t1", EntityID: "emp-1", Reason: "approved"})
*/
package generic

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Change describes one bump of the version signal.
type Change struct {
	Version  uint64
	TenantID TenantID
	EntityID EntityID
	Category string
	Reason   string
	At       time.Time
}

// VersionSignal is the process-wide balance change counter.
type VersionSignal struct {
	version atomic.Uint64

	mu          sync.RWMutex
	nextID      int
	subscribers map[int]func(Change)
	order       []int
	waiters     []chan struct{}
}

func NewVersionSignal() *VersionSignal {
	return &VersionSignal{subscribers: make(map[int]func(Change))}
}

// Version returns the current counter value.
func (s *VersionSignal) Version() uint64 {
	return s.version.Load()
}

// Bump increments the counter and notifies subscribers. It returns the new
// version.
func (s *VersionSignal) Bump(c Change) uint64 {
	v := s.version.Add(1)
	c.Version = v
	if c.At.IsZero() {
		c.At = time.Now().UTC()
	}

	s.mu.Lock()
	callbacks := make([]func(Change), 0, len(s.order))
	for _, id := range s.order {
		callbacks = append(callbacks, s.subscribers[id])
	}
	waiters := s.waiters
	s.waiters = nil
	s.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
	for _, cb := range callbacks {
		cb(c)
	}
	return v
}

// Subscribe registers fn for every future bump. The returned function
// removes the subscription and is safe to call more than once.
func (s *VersionSignal) Subscribe(fn func(Change)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subscribers[id] = fn
	s.order = append(s.order, id)
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subscribers, id)
			for i, v := range s.order {
				if v == id {
					s.order = append(s.order[:i], s.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Wait blocks until the version is greater than since, or ctx is done.
// It returns the version observed when it returned.
func (s *VersionSignal) Wait(ctx context.Context, since uint64) (uint64, error) {
	for {
		s.mu.Lock()
		if v := s.version.Load(); v > since {
			s.mu.Unlock()
			return v, nil
		}
		ch := make(chan struct{})
		s.waiters = append(s.waiters, ch)
		s.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			s.dropWaiter(ch)
			return s.version.Load(), ctx.Err()
		}
	}
}

// dropWaiter forgets a waiter that gave up. A Bump may already have taken
// and closed it, in which case it is no longer in the list.
func (s *VersionSignal) dropWaiter(ch chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, w := range s.waiters {
		if w == ch {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			return
		}
	}
}
