package thread

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"threadkit/internal/maps"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestCurrentReturnsManagedThread(t *testing.T) {
	r := newTestRegistry(t)

	seen := make(chan *Thread, 1)
	th, err := r.Spawn("current", func(*Thread) { seen <- r.Current() })
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if got := <-seen; got != th {
		t.Errorf("Expected Current to return %s, got %s", th, got)
	}
	th.Join()
	if got := r.Stats().ExternalAdopted; got != 0 {
		t.Errorf("Expected no adopted threads, got %d", got)
	}
}

func TestExternalThreadAdoptionAndReaping(t *testing.T) {
	r := newTestRegistry(t)
	var c tally
	l := c.local(r, "external")

	adopted := make(chan *Thread, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		self := r.Current()
		if r.Current() != self {
			t.Error("Expected Current to be stable for an adopted thread")
		}
		l.Get()
		adopted <- self
	}()
	wg.Wait()
	ext := <-adopted

	if ext.Ownership() != External || ext.State() != Running {
		t.Errorf("Expected running external thread, got %s %s", ext.Ownership(), ext.State())
	}
	if err := ext.Suspend(true); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState suspending an external thread, got %v", err)
	}
	if err := ext.Terminate(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState terminating an external thread, got %v", err)
	}
	if r.PendingExternal() != 1 {
		t.Fatalf("Expected 1 pending external thread, got %d", r.PendingExternal())
	}

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		r.RunHousekeeping(ctx, 5*time.Millisecond)
		close(stopped)
	}()
	waitFor(t, "external thread reaping", ext.IsTerminated)
	cancel()
	<-stopped

	if l.Len() != 0 {
		t.Errorf("Expected reaped thread payload to be dropped, got %d entries", l.Len())
	}
	if _, ok := r.Lookup(ext.ID()); ok {
		t.Error("Expected reaped thread to be unregistered")
	}
	st := r.Stats()
	if st.ExternalAdopted != 1 || st.ExternalReaped != 1 {
		t.Errorf("Expected 1 adopted and 1 reaped, got %d and %d", st.ExternalAdopted, st.ExternalReaped)
	}
	if !ext.Released() {
		t.Error("Expected reaped external thread to be released")
	}
	l.Close()
	c.balanced(t)
}

func TestHousekeepKeepsLiveExternals(t *testing.T) {
	r := newTestRegistry(t)
	self := r.Current()

	if n := r.Housekeep(); n != 0 {
		t.Errorf("Expected nothing reaped while the thread is alive, got %d", n)
	}
	if self.IsTerminated() || r.PendingExternal() != 1 {
		t.Errorf("Expected live external thread to stay queued, got %s pending=%d", self.State(), r.PendingExternal())
	}
}

func TestUnregisterIsConditional(t *testing.T) {
	r := newTestRegistry(t)

	old := newExternal(r, 4242)
	reused := newExternal(r, 4242)
	r.Register(4242, old)
	r.Register(4242, reused)

	if r.Unregister(4242, old) {
		t.Error("Stale owner removed the entry of the thread that reused its id")
	}
	if got, ok := r.Lookup(4242); !ok || got != reused {
		t.Fatalf("Expected reused entry to survive, got %v", got)
	}
	if !r.Unregister(4242, reused) {
		t.Error("Expected the current owner to unregister")
	}
	if r.Len() != 0 {
		t.Errorf("Expected empty registry, got %d", r.Len())
	}
}

func TestThreadsSnapshot(t *testing.T) {
	r := newTestRegistry(t)
	var c tally
	l := c.local(r, "snap")

	release := make(chan struct{})
	a := startHolder(t, r, "alpha", release, l)
	b, err := r.Create(func(*Thread) {}, Options{Name: "beta", Priority: LowPriority})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	want := []ThreadInfo{
		{ID: a.ID(), Name: "alpha", State: Running, Ownership: ManualDelete, Priority: NormalPriority, SuspendCount: 0, Locals: 1},
		{ID: b.ID(), Name: "beta", State: Created, Ownership: AutoDelete, Priority: LowPriority, SuspendCount: 1, Locals: 0},
	}
	got := r.Threads()
	sortByID := cmpopts.SortSlices(func(x, y ThreadInfo) bool { return x.ID < y.ID })
	if diff := cmp.Diff(want, got, sortByID); diff != "" {
		t.Errorf("Threads() mismatch (-want +got):\n%s", diff)
	}

	close(release)
	a.Join()
	if err := b.Terminate(); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	b.Join()
	if r.Len() != 0 {
		t.Errorf("Expected all threads unregistered, got %d", r.Len())
	}
	st := r.Stats()
	if st.ThreadsCreated != 2 || st.ThreadsTerminated != 2 {
		t.Errorf("Expected 2 created and 2 terminated, got %d and %d", st.ThreadsCreated, st.ThreadsTerminated)
	}
	l.Close()
	c.balanced(t)
}

func TestMapImplementations(t *testing.T) {
	for _, impl := range maps.Implementations() {
		t.Run(impl, func(t *testing.T) {
			r, err := NewRegistry(WithMapImplementation(impl))
			if err != nil {
				t.Fatalf("NewRegistry(%s): %v", impl, err)
			}
			th, err := r.Spawn("mapped", func(*Thread) {})
			if err != nil {
				t.Fatalf("Spawn: %v", err)
			}
			th.Join()
			if r.Len() != 0 {
				t.Errorf("Expected empty registry, got %d", r.Len())
			}
		})
	}

	if _, err := NewRegistry(WithMapImplementation("btree")); err == nil {
		t.Error("Expected error for unknown map implementation")
	}
	if _, err := NewRegistry(WithPlatform(nil)); err == nil {
		t.Error("Expected error for nil platform")
	}
}

func TestDefaultRegistry(t *testing.T) {
	r := Default()
	if Default() != r {
		t.Fatal("Expected Default to return the same registry")
	}
	if _, err := InitDefault(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState initializing twice, got %v", err)
	}

	counter := NewLocal[int](nil, "default-counter")
	defer counter.Close()

	done := make(chan int, 1)
	th, err := Spawn("default", func(*Thread) {
		counter.With(func(n *int) { *n++ })
		counter.With(func(n *int) { *n++ })
		Yield()
		done <- *counter.Get()
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if got := <-done; got != 2 {
		t.Errorf("Expected per-thread counter 2, got %d", got)
	}
	th.Join()
	if Current().Ownership() != External {
		t.Error("Expected the test goroutine to be adopted as external")
	}
}
