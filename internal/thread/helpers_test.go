package thread

import (
	"io"
	"sync/atomic"
	"testing"
	"time"

	"threadkit/internal/platform"

	"github.com/phuslu/log"
)

func newTestRegistry(t *testing.T, opts ...platform.Option) *Registry {
	t.Helper()
	p, err := platform.NewGoroutines(opts...)
	if err != nil {
		t.Fatalf("NewGoroutines: %v", err)
	}
	r, err := NewRegistry(
		WithPlatform(p),
		WithLogger(log.Logger{Level: log.TraceLevel, Writer: &log.IOWriter{Writer: io.Discard}}),
	)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return r
}

// payload records whether it has been freed so readers can detect use after
// free.
type payload struct {
	owner platform.ID
	freed atomic.Bool
}

// tally counts allocations and deallocations of payloads.
type tally struct {
	allocs atomic.Int64
	frees  atomic.Int64
}

func (c *tally) local(r *Registry, name string) *Local[payload] {
	return NewLocalFunc(r, name,
		func() *payload {
			c.allocs.Add(1)
			return &payload{}
		},
		func(p *payload) {
			if p.freed.Swap(true) {
				panic("payload freed twice")
			}
			c.frees.Add(1)
		})
}

func (c *tally) balanced(t *testing.T) {
	t.Helper()
	if a, f := c.allocs.Load(), c.frees.Load(); a != f {
		t.Errorf("Expected allocations to equal deallocations, got %d allocated and %d freed", a, f)
	}
}

// waitFor polls cond until it holds or a few seconds pass.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// startHolder runs a thread that takes a payload from every local and then
// idles at checkpoints until release is closed or it is terminated.
func startHolder(t *testing.T, r *Registry, name string, release <-chan struct{}, locals ...*Local[payload]) *Thread {
	t.Helper()
	ready := make(chan struct{})
	th, err := r.Create(func(self *Thread) {
		for _, l := range locals {
			p := l.Get()
			p.owner = self.ID()
		}
		close(ready)
		for {
			select {
			case <-release:
				return
			default:
			}
			r.Sleep(time.Millisecond)
		}
	}, Options{Ownership: ManualDelete, Name: name})
	if err != nil {
		t.Fatalf("Create(%s): %v", name, err)
	}
	if err := th.Resume(); err != nil {
		t.Fatalf("Resume(%s): %v", name, err)
	}
	<-ready
	return th
}

// verify checks that every thread with an entry in s lists s in its backward
// set.
func verify(t *testing.T, s *Storage) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	for th := range s.entries {
		th.localMu.Lock()
		_, ok := th.locals[s]
		th.localMu.Unlock()
		if !ok {
			t.Errorf("Storage %q holds a payload for %s which does not list it", s.name, th)
		}
	}
}
