package thread

import (
	"fmt"
	"sync"
)

// Allocator builds and frees the payloads of one storage. Neither method may
// fail or panic: both run while the storage's lock is held.
type Allocator interface {
	Allocate() any
	Deallocate(payload any)
}

// AllocatorFuncs adapts a pair of functions to Allocator. A nil Free does
// nothing.
type AllocatorFuncs struct {
	New  func() any
	Free func(any)
}

func (a AllocatorFuncs) Allocate() any { return a.New() }

func (a AllocatorFuncs) Deallocate(payload any) {
	if a.Free != nil {
		a.Free(payload)
	}
}

// Storage is a storage descriptor: it maps each thread that touched it to an
// opaque payload. Threads and storages only hold non-owning references to
// each other; every entry here is mirrored by this storage being in the
// thread's backward set.
//
// Locking order: s.mu is always taken before a thread's backward-set lock.
// A terminating thread snapshots and clears its backward set under its own
// lock, releases it, and only then calls DetachThread, so the two locks are
// never acquired in the opposite order.
type Storage struct {
	reg   *Registry
	alloc Allocator
	name  string

	mu        sync.Mutex
	entries   map[*Thread]any
	destroyed bool
}

// NewStorage creates a storage descriptor whose payloads come from alloc.
func (r *Registry) NewStorage(name string, alloc Allocator) *Storage {
	s := &Storage{
		reg:     r,
		alloc:   alloc,
		name:    name,
		entries: make(map[*Thread]any),
	}
	r.stats.storagesCreated.Add(1)
	r.log.Debug().Str("storage", name).Msg("Local storage created")
	return s
}

// GetOrCreate returns the payload for t, allocating it on first use. ok is
// false when t has already started its termination cleanup; nothing is
// recorded then. Using a destroyed storage panics.
func (s *Storage) GetOrCreate(t *Thread) (payload any, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		panic(fmt.Errorf("%w: local storage %q used after destroy", ErrInvalidState, s.name))
	}
	if p, found := s.entries[t]; found {
		return p, true
	}

	p := s.alloc.Allocate()
	if !t.attach(s) {
		s.alloc.Deallocate(p)
		return nil, false
	}
	s.entries[t] = p
	s.reg.stats.payloadsAllocated.Add(1)
	return p, true
}

// DetachThread drops and deallocates the payload held for t. Calling it again
// for the same thread does nothing.
func (s *Storage) DetachThread(t *Thread) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, found := s.entries[t]
	if !found {
		return
	}
	delete(s.entries, t)
	t.forget(s)
	s.alloc.Deallocate(p)
	s.reg.stats.payloadsDeallocated.Add(1)
}

// Destroy removes the storage from the backward set of every thread holding
// a payload and deallocates all payloads. A thread terminating concurrently
// either runs its DetachThread first or finds the entry already gone.
func (s *Storage) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return
	}
	s.destroyed = true

	for t, p := range s.entries {
		present, detached := t.forget(s)
		if !present && !detached {
			s.reg.logicError(fmt.Errorf("%w: storage %q holds a payload for %s which does not list it", ErrLogic, s.name, t))
		}
		s.alloc.Deallocate(p)
		s.reg.stats.payloadsDeallocated.Add(1)
	}
	n := len(s.entries)
	s.entries = nil
	s.reg.stats.storagesDestroyed.Add(1)
	s.reg.log.Debug().Str("storage", s.name).Int("payloads", n).Msg("Local storage destroyed")
}

// Len returns the number of threads holding a payload.
func (s *Storage) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Destroyed reports whether Destroy has run.
func (s *Storage) Destroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyed
}

func (s *Storage) Name() string { return s.name }
