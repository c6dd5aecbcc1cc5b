package platform

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"threadkit/internal/maps"

	"github.com/petermattis/goid"
)

// Goroutines runs each native thread as a goroutine locked to its own OS
// thread. Go offers no way to stop a goroutine from the outside, so
// suspension and termination take effect when the target reaches a
// checkpoint: its start gate, Yield, Sleep, or a Suspend it issued itself.
type Goroutines struct {
	threads    maps.ConcurrentMap[ID, *goroutine]
	maxThreads int64
	live       atomic.Int64
}

// Option configures a Goroutines platform.
type Option func(*Goroutines) error

// WithMapImplementation selects the maps backend used for the thread table.
func WithMapImplementation(name string) Option {
	return func(p *Goroutines) error {
		m, err := maps.New[ID, *goroutine](name)
		if err != nil {
			return err
		}
		p.threads = m
		return nil
	}
}

// WithMaxThreads caps the number of live native threads. Zero means no cap.
func WithMaxThreads(n int) Option {
	return func(p *Goroutines) error {
		p.maxThreads = int64(n)
		return nil
	}
}

// NewGoroutines creates a goroutine backed platform.
func NewGoroutines(opts ...Option) (*Goroutines, error) {
	p := &Goroutines{}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	if p.threads == nil {
		p.threads = maps.NewConcurrentMap[ID, *goroutine]()
	}
	return p, nil
}

var (
	defaultOnce     sync.Once
	defaultPlatform *Goroutines
)

// Default returns the process-wide goroutine platform.
func Default() *Goroutines {
	defaultOnce.Do(func() {
		defaultPlatform, _ = NewGoroutines()
	})
	return defaultPlatform
}

// CreateThread starts a goroutine parked at its start gate and returns once
// the goroutine knows its own id.
func (p *Goroutines) CreateThread(spec Spec, entry func()) (Native, error) {
	if p.maxThreads > 0 && p.live.Add(1) > p.maxThreads {
		p.live.Add(-1)
		return nil, ErrThreadLimit
	} else if p.maxThreads <= 0 {
		p.live.Add(1)
	}

	g := &goroutine{
		platform:  p,
		suspended: true,
		created:   time.Now(),
		killed:    make(chan struct{}),
		exited:    make(chan struct{}),
	}
	g.cond = sync.NewCond(&g.mu)

	ready := make(chan struct{})
	go func() {
		// Never unlocked: the OS thread exits together with the goroutine.
		runtime.LockOSThread()
		g.id = ID(goid.Get())
		g.tid = gettid()
		p.threads.Store(g.id, g)
		close(ready)

		defer func() {
			g.recordExit()
			maps.CompareAndDelete(p.threads, g.id, func(cur *goroutine) bool { return cur == g })
			p.live.Add(-1)
			if spec.OnExit != nil {
				spec.OnExit()
			}
			close(g.exited)
		}()

		g.checkpoint()
		entry()
	}()
	<-ready
	return g, nil
}

// CurrentThreadID returns the goroutine id of the caller.
func (p *Goroutines) CurrentThreadID() ID {
	return ID(goid.Get())
}

// Yield honours a pending suspend or terminate request for the calling
// managed thread and then yields the processor.
func (p *Goroutines) Yield() {
	if g, ok := p.current(); ok {
		g.checkpoint()
	}
	runtime.Gosched()
}

// Sleep pauses the calling thread for d. A managed thread wakes early when it
// is terminated.
func (p *Goroutines) Sleep(d time.Duration) {
	g, ok := p.current()
	if !ok {
		time.Sleep(d)
		return
	}
	g.checkpoint()
	timer := time.NewTimer(d)
	select {
	case <-timer.C:
	case <-g.killed:
		timer.Stop()
	}
	g.checkpoint()
}

// Alive reports whether goroutine id still exists.
func (p *Goroutines) Alive(id ID) bool {
	if g, ok := p.threads.Load(id); ok {
		select {
		case <-g.exited:
			return false
		default:
			return true
		}
	}
	return goroutineExists(id)
}

// Live returns the number of native threads that have not exited.
func (p *Goroutines) Live() int {
	return int(p.live.Load())
}

func (p *Goroutines) current() (*goroutine, bool) {
	return p.threads.Load(p.CurrentThreadID())
}

type goroutine struct {
	platform *Goroutines
	id       ID
	tid      int
	created  time.Time

	mu        sync.Mutex
	cond      *sync.Cond
	suspended bool
	dead      bool

	// Set once by recordExit; the tid may belong to another thread afterwards.
	finished   time.Time
	exitKernel time.Duration
	exitUser   time.Duration
	exitErr    error

	killed chan struct{}
	exited chan struct{}
}

func (g *goroutine) ID() ID { return g.id }

func (g *goroutine) Suspend() error {
	g.mu.Lock()
	g.suspended = true
	g.mu.Unlock()
	return nil
}

func (g *goroutine) Resume() error {
	g.mu.Lock()
	g.suspended = false
	g.mu.Unlock()
	g.cond.Broadcast()
	return nil
}

func (g *goroutine) Terminate() error {
	g.mu.Lock()
	if !g.dead {
		g.dead = true
		close(g.killed)
	}
	g.mu.Unlock()
	g.cond.Broadcast()

	if g.self() {
		runtime.Goexit()
	}
	return nil
}

func (g *goroutine) Checkpoint() {
	if g.self() {
		g.checkpoint()
	}
}

// Times reports real time for every thread and CPU times where the host
// exposes per-thread accounting. After exit it returns the values captured
// as the thread finished.
func (g *goroutine) Times() (Times, error) {
	g.mu.Lock()
	if !g.finished.IsZero() {
		times := Times{Real: g.finished.Sub(g.created), Kernel: g.exitKernel, User: g.exitUser}
		err := g.exitErr
		g.mu.Unlock()
		return times, err
	}
	g.mu.Unlock()

	times := Times{Real: time.Since(g.created)}
	kernel, user, err := cpuTimes(g.tid, g.self())
	if err != nil {
		return times, err
	}
	times.Kernel, times.User = kernel, user
	return times, nil
}

// recordExit runs on the goroutine itself, still locked to its OS thread.
func (g *goroutine) recordExit() {
	kernel, user, err := cpuTimes(g.tid, true)
	now := time.Now()
	g.mu.Lock()
	g.finished = now
	g.exitKernel, g.exitUser, g.exitErr = kernel, user, err
	g.mu.Unlock()
}

func (g *goroutine) self() bool {
	return ID(goid.Get()) == g.id
}

// checkpoint must only be called from the goroutine itself.
func (g *goroutine) checkpoint() {
	g.mu.Lock()
	for g.suspended && !g.dead {
		g.cond.Wait()
	}
	dead := g.dead
	g.mu.Unlock()
	if dead {
		runtime.Goexit()
	}
}
