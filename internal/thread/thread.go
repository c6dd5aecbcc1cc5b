package thread

import (
	"fmt"
	"sync"
	"time"

	"threadkit/internal/platform"
)

// Options configures a new Thread.
type Options struct {
	// StackSize is a platform hint; zero selects the default.
	StackSize int
	// Ownership must be AutoDelete or ManualDelete.
	Ownership Ownership
	Priority  Priority
	Name      string
}

// Thread is the control block of one managed thread. A new Thread starts
// suspended with a suspend count of one; the creator must call Resume once
// construction of whatever the thread uses is complete.
//
// The thread runs while its suspend count is zero or below. Resume and
// Suspend adjust the count by one and only reach the platform when the count
// crosses zero, so over-resuming is balanced by extra suspends later.
type Thread struct {
	reg       *Registry
	entry     func(*Thread)
	stackSize int

	mu           sync.Mutex
	id           platform.ID
	native       platform.Native
	state        State
	suspendCount int
	ownership    Ownership
	priority     Priority
	generation   uint64
	cleanedGen   uint64 // last incarnation whose cleanup has started
	released     bool
	done         chan struct{} // closed once termination cleanup has finished

	nameMu sync.RWMutex
	name   string

	// localMu guards the backward set: the storages that hold a payload for
	// this thread. Lock order is Storage.mu before localMu.
	localMu  sync.Mutex
	locals   map[*Storage]struct{}
	detached bool
}

func newThread(r *Registry, entry func(*Thread), opts Options) *Thread {
	return &Thread{
		reg:          r,
		entry:        entry,
		stackSize:    opts.StackSize,
		state:        Created,
		suspendCount: 1,
		ownership:    opts.Ownership,
		priority:     opts.Priority,
		name:         opts.Name,
		done:         make(chan struct{}),
		locals:       make(map[*Storage]struct{}),
	}
}

func newExternal(r *Registry, id platform.ID) *Thread {
	t := newThread(r, nil, Options{Ownership: External, Name: fmt.Sprintf("external-%d", id)})
	t.id = id
	t.state = Running
	t.suspendCount = 0
	return t
}

// launch asks the platform for a native thread parked at its start gate and
// registers the result. Cleanup runs from the platform's exit hook, so it
// never overlaps code still running on the thread.
func (t *Thread) launch() error {
	t.mu.Lock()
	t.generation++
	gen := t.generation
	t.mu.Unlock()

	native, err := t.reg.platform.CreateThread(platform.Spec{
		StackSize: t.stackSize,
		Name:      t.Name(),
		OnExit:    func() { t.exit(gen) },
	}, func() { t.entry(t) })
	if err != nil {
		return fmt.Errorf("%w: create thread %q: %v", ErrResourceExhausted, t.Name(), err)
	}

	// Registered before native is published, so a Terminate at the start
	// gate cannot run cleanup ahead of Register.
	t.reg.Register(native.ID(), t)

	t.mu.Lock()
	t.native = native
	t.id = native.ID()
	t.mu.Unlock()
	return nil
}

// exit runs once the native thread of incarnation gen is gone, whether its
// entry returned or it was terminated. A stale generation belongs to an
// incarnation replaced by Restart and is ignored.
func (t *Thread) exit(gen uint64) {
	t.mu.Lock()
	if t.generation != gen || t.cleanedGen == gen {
		t.mu.Unlock()
		return
	}
	t.cleanedGen = gen
	requested := t.state == Terminated
	t.state = Terminated
	t.mu.Unlock()

	t.reg.log.Debug().Int64("id", int64(t.ID())).Str("name", t.Name()).Bool("terminated", requested).Msg("Thread finished")
	t.notifyTerminated()
}

// notifyTerminated removes t from the registry, tells every storage holding
// a payload for t to drop it and wakes waiters. It runs exactly once per
// incarnation, after the thread's code has stopped running. Unregistering
// first lets deallocators that use other locals get a fresh block from
// Current.
func (t *Thread) notifyTerminated() {
	t.mu.Lock()
	id := t.id
	t.mu.Unlock()
	t.reg.Unregister(id, t)

	t.localMu.Lock()
	t.detached = true
	storages := make([]*Storage, 0, len(t.locals))
	for s := range t.locals {
		storages = append(storages, s)
	}
	clear(t.locals)
	t.localMu.Unlock()

	for _, s := range storages {
		s.DetachThread(t)
	}

	t.mu.Lock()
	if t.ownership != ManualDelete {
		t.released = true
	}
	done := t.done
	t.mu.Unlock()

	t.reg.stats.threadsTerminated.Add(1)
	t.reg.log.Trace().Int64("id", int64(id)).Int("storages", len(storages)).Msg("Thread detached from local storage")
	close(done)
}

// Resume is identical to Suspend(false).
func (t *Thread) Resume() error {
	return t.Suspend(false)
}

// Suspend increments the suspend count when susp is true and decrements it
// otherwise. A thread suspending itself parks before Suspend returns; other
// threads park at their next checkpoint.
func (t *Thread) Suspend(susp bool) error {
	t.mu.Lock()
	if err := t.controllableLocked(); err != nil {
		t.mu.Unlock()
		return err
	}

	prevState, prevCount := t.state, t.suspendCount
	crossed := false
	var err error
	if susp {
		t.suspendCount++
		if t.suspendCount == 1 {
			crossed = true
			t.state = Suspended
			err = t.native.Suspend()
		}
	} else {
		t.suspendCount--
		if t.suspendCount == 0 {
			crossed = true
			t.state = Running
			err = t.native.Resume()
		}
	}
	if err != nil {
		t.state, t.suspendCount = prevState, prevCount
	}
	native, id, count, state := t.native, t.id, t.suspendCount, t.state
	t.mu.Unlock()

	if err != nil {
		return fmt.Errorf("suspend(%t) thread %d: %w", susp, id, err)
	}
	t.reg.log.Trace().Int64("id", int64(id)).Int("suspend_count", count).Stringer("state", state).Msg("Suspend count changed")

	if susp && crossed {
		native.Checkpoint()
	}
	return nil
}

func (t *Thread) controllableLocked() error {
	switch {
	case t.released:
		return fmt.Errorf("%w: thread %d was released", ErrInvalidState, t.id)
	case t.ownership == External:
		return fmt.Errorf("%w: thread %d is external", ErrInvalidState, t.id)
	case t.state == Terminated:
		return fmt.Errorf("%w: thread %d is terminated", ErrInvalidState, t.id)
	}
	return nil
}

// Terminate stops the thread abruptly. Prefer returning from the entry
// function: code on the target's stack is cut short at its next checkpoint.
// The state becomes Terminated at once, but local storage is released and
// waiters are woken only after the thread has actually stopped running.
// Terminating an already terminated thread does nothing. When a thread
// terminates itself Terminate does not return.
func (t *Thread) Terminate() error {
	t.mu.Lock()
	if t.ownership == External {
		t.mu.Unlock()
		return fmt.Errorf("%w: thread %d is external", ErrInvalidState, t.id)
	}
	if t.state == Terminated {
		t.mu.Unlock()
		return nil
	}
	t.state = Terminated
	native, id := t.native, t.id
	t.mu.Unlock()

	t.reg.log.Warn().Int64("id", int64(id)).Str("name", t.Name()).Msg("Thread terminated abruptly")
	if err := native.Terminate(); err != nil {
		return fmt.Errorf("terminate thread %d: %w", id, err)
	}
	return nil
}

// WaitForTermination blocks the caller until the thread has stopped running
// and its cleanup has finished, or timeout elapses, and reports which
// happened. A negative timeout waits
// forever. A thread waiting for itself gets its current state back at once.
func (t *Thread) WaitForTermination(timeout time.Duration) bool {
	t.mu.Lock()
	done, id := t.done, t.id
	t.mu.Unlock()

	if id == t.reg.platform.CurrentThreadID() {
		return t.IsTerminated()
	}
	select {
	case <-done:
		return true
	default:
	}
	if timeout < 0 {
		<-done
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

// Join waits for the thread to terminate.
func (t *Thread) Join() {
	t.WaitForTermination(-1)
}

// Restart relaunches a terminated ManualDelete thread with its original entry
// function, stack size and priority. The new incarnation starts running.
// Restart does nothing for a thread that has not terminated.
func (t *Thread) Restart() error {
	t.mu.Lock()
	if t.ownership != ManualDelete || t.released {
		t.mu.Unlock()
		return fmt.Errorf("%w: only unreleased manual-delete threads can restart", ErrInvalidState)
	}
	if t.state != Terminated {
		t.mu.Unlock()
		return nil
	}
	previous := t.done
	t.mu.Unlock()

	// Cleanup of the previous incarnation must finish before the backward set
	// is reopened.
	<-previous

	t.mu.Lock()
	if t.state != Terminated || t.done != previous {
		t.mu.Unlock()
		return nil
	}
	t.state = Created
	t.suspendCount = 1
	t.done = make(chan struct{})
	t.mu.Unlock()

	t.localMu.Lock()
	t.detached = false
	t.localMu.Unlock()

	if err := t.launch(); err != nil {
		t.mu.Lock()
		t.state = Terminated
		close(t.done)
		t.mu.Unlock()
		return err
	}
	t.reg.log.Debug().Int64("id", int64(t.ID())).Str("name", t.Name()).Msg("Thread restarted")
	return t.Resume()
}

// Delete releases a ManualDelete thread, terminating it first if needed.
// AutoDelete and External threads are released by the library.
func (t *Thread) Delete() error {
	t.mu.Lock()
	if t.ownership != ManualDelete {
		t.mu.Unlock()
		return fmt.Errorf("%w: thread %d is not manual-delete", ErrInvalidState, t.id)
	}
	if t.released {
		t.mu.Unlock()
		return nil
	}
	t.released = true
	terminated := t.state == Terminated
	t.mu.Unlock()

	if !terminated {
		if err := t.Terminate(); err != nil {
			return err
		}
	}
	t.Join()
	return nil
}

// SetAutoDelete switches between AutoDelete and ManualDelete.
func (t *Thread) SetAutoDelete(o Ownership) error {
	if o != AutoDelete && o != ManualDelete {
		return fmt.Errorf("%w: ownership %s cannot be assigned", ErrInvalidState, o)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ownership == External || t.released {
		return fmt.Errorf("%w: thread %d ownership is fixed", ErrInvalidState, t.id)
	}
	t.ownership = o
	if o == AutoDelete && t.state == Terminated {
		t.released = true
	}
	return nil
}

// SetNoAutoDelete is SetAutoDelete(ManualDelete).
func (t *Thread) SetNoAutoDelete() error {
	return t.SetAutoDelete(ManualDelete)
}

// IsAutoDelete reports whether the library releases the thread on its own.
func (t *Thread) IsAutoDelete() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ownership != ManualDelete
}

func (t *Thread) Ownership() Ownership {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ownership
}

// Released reports whether the control block has been given up by its owner.
func (t *Thread) Released() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.released
}

func (t *Thread) ID() platform.ID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.id
}

func (t *Thread) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Thread) IsTerminated() bool {
	return t.State() == Terminated
}

// IsSuspended reports whether the suspend count is above zero.
func (t *Thread) IsSuspended() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state != Terminated && t.suspendCount > 0
}

// SuspendCount returns the raw suspend count. It is negative after more
// resumes than suspends.
func (t *Thread) SuspendCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.suspendCount
}

func (t *Thread) Priority() Priority {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.priority
}

func (t *Thread) SetPriority(p Priority) error {
	if p < LowestPriority || p > HighestPriority {
		return fmt.Errorf("%w: priority %d out of range", ErrInvalidState, int(p))
	}
	t.mu.Lock()
	t.priority = p
	t.mu.Unlock()
	return nil
}

func (t *Thread) Name() string {
	t.nameMu.RLock()
	defer t.nameMu.RUnlock()
	return t.name
}

func (t *Thread) SetName(name string) {
	t.nameMu.Lock()
	t.name = name
	t.nameMu.Unlock()
}

// Times returns the execution times of the current or last incarnation.
func (t *Thread) Times() (platform.Times, error) {
	t.mu.Lock()
	native := t.native
	t.mu.Unlock()
	if native == nil {
		return platform.Times{}, fmt.Errorf("%w: thread has no native handle", ErrInvalidState)
	}
	return native.Times()
}

// LocalCount returns the number of storages holding a payload for t.
func (t *Thread) LocalCount() int {
	t.localMu.Lock()
	defer t.localMu.Unlock()
	return len(t.locals)
}

func (t *Thread) String() string {
	t.mu.Lock()
	id, state := t.id, t.state
	t.mu.Unlock()
	name := t.Name()
	if name == "" {
		name = "thread"
	}
	return fmt.Sprintf("%s:%d (%s)", name, id, state)
}

// attach adds s to the backward set. It fails once termination cleanup has
// started. Callers hold s.mu.
func (t *Thread) attach(s *Storage) bool {
	t.localMu.Lock()
	defer t.localMu.Unlock()
	if t.detached {
		return false
	}
	t.locals[s] = struct{}{}
	return true
}

// forget removes s from the backward set. present reports whether s was in
// it; detached reports whether t is already past its termination snapshot.
// Callers hold s.mu.
func (t *Thread) forget(s *Storage) (present, detached bool) {
	t.localMu.Lock()
	defer t.localMu.Unlock()
	_, present = t.locals[s]
	delete(t.locals, s)
	return present, t.detached
}
