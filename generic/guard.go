package generic

import (
	"context"
	"sync"
)

// =============================================================================
// KEYED GUARD - Per-key mutual exclusion with a completed set
// =============================================================================

// KeyedGuard serializes work per key and remembers which keys completed.
//
// Callers for different keys never block each other; callers for the same
// key run one at a time. Once a key is marked complete, Do short-circuits
// without running fn. If fn fails the key stays incomplete so a retry runs
// fn again.
//
// A guard is scoped to whatever owns it (normally one Engine per process);
// Reset clears it between tests.
type KeyedGuard struct {
	mu        sync.Mutex
	inflight  map[string]*keyLock
	completed map[string]struct{}
}

type keyLock struct {
	sem  chan struct{}
	refs int
}

func NewKeyedGuard() *KeyedGuard {
	return &KeyedGuard{
		inflight:  make(map[string]*keyLock),
		completed: make(map[string]struct{}),
	}
}

// Do runs fn under the key's lock unless the key already completed.
// ran reports whether fn was executed. A nil error from fn marks the key
// complete.
func (g *KeyedGuard) Do(ctx context.Context, key string, fn func(ctx context.Context) error) (ran bool, err error) {
	if g.IsComplete(key) {
		return false, nil
	}

	lock := g.acquire(key)
	defer g.release(key, lock)

	select {
	case lock.sem <- struct{}{}:
	case <-ctx.Done():
		return false, ctx.Err()
	}
	defer func() { <-lock.sem }()

	// Someone else may have finished while we waited.
	if g.IsComplete(key) {
		return false, nil
	}

	if err := fn(ctx); err != nil {
		return true, err
	}
	g.MarkComplete(key)
	return true, nil
}

func (g *KeyedGuard) IsComplete(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.completed[key]
	return ok
}

func (g *KeyedGuard) MarkComplete(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.completed[key] = struct{}{}
}

// Forget drops a key from the completed set, e.g. after its rows were
// removed out of band.
func (g *KeyedGuard) Forget(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.completed, key)
}

// Reset clears all state. Intended for tests.
func (g *KeyedGuard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inflight = make(map[string]*keyLock)
	g.completed = make(map[string]struct{})
}

// InFlight returns the number of keys currently held or waited on.
func (g *KeyedGuard) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.inflight)
}

func (g *KeyedGuard) acquire(key string) *keyLock {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.inflight[key]
	if !ok {
		l = &keyLock{sem: make(chan struct{}, 1)}
		g.inflight[key] = l
	}
	l.refs++
	return l
}

func (g *KeyedGuard) release(key string, l *keyLock) {
	g.mu.Lock()
	defer g.mu.Unlock()
	l.refs--
	if l.refs == 0 && g.inflight[key] == l {
		delete(g.inflight, key)
	}
}
