package thread

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"threadkit/internal/logger"
	"threadkit/internal/maps"
	"threadkit/internal/platform"

	"github.com/eapache/queue"
	"github.com/phuslu/log"
)

// Registry maps thread ids to control blocks and owns the platform used to
// create threads. Most programs use the process-wide Default registry.
type Registry struct {
	platform platform.Platform
	threads  maps.ConcurrentMap[platform.ID, *Thread]
	log      log.Logger
	stats    counters

	// external holds adopted threads waiting to be reaped; see Housekeep.
	extMu    sync.Mutex
	external *queue.Queue
}

type counters struct {
	threadsCreated      atomic.Uint64
	threadsTerminated   atomic.Uint64
	externalAdopted     atomic.Uint64
	externalReaped      atomic.Uint64
	payloadsAllocated   atomic.Uint64
	payloadsDeallocated atomic.Uint64
	storagesCreated     atomic.Uint64
	storagesDestroyed   atomic.Uint64
}

// Option configures a Registry.
type Option func(*Registry) error

// WithPlatform sets the platform threads are created on.
func WithPlatform(p platform.Platform) Option {
	return func(r *Registry) error {
		if p == nil {
			return errors.New("nil platform")
		}
		r.platform = p
		return nil
	}
}

// WithMapImplementation selects the maps backend of the id table.
func WithMapImplementation(name string) Option {
	return func(r *Registry) error {
		m, err := maps.New[platform.ID, *Thread](name)
		if err != nil {
			return err
		}
		r.threads = m
		return nil
	}
}

// WithLogger replaces the component logger.
func WithLogger(l log.Logger) Option {
	return func(r *Registry) error {
		r.log = l
		return nil
	}
}

// NewRegistry creates a registry. Without options it uses the default
// goroutine platform and map implementation.
func NewRegistry(opts ...Option) (*Registry, error) {
	r := &Registry{
		log:      logger.NewLoggerWithContext("thread"),
		external: queue.New(),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, fmt.Errorf("thread registry: %w", err)
		}
	}
	if r.platform == nil {
		r.platform = platform.Default()
	}
	if r.threads == nil {
		r.threads = maps.NewConcurrentMap[platform.ID, *Thread]()
	}
	return r, nil
}

var (
	defaultMu       sync.Mutex
	defaultRegistry *Registry
)

// Default returns the process-wide registry, creating it on first use. It is
// never torn down.
func Default() *Registry {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultRegistry == nil {
		defaultRegistry, _ = NewRegistry()
	}
	return defaultRegistry
}

// InitDefault creates the process-wide registry with opts. It fails if the
// registry was already created, explicitly or by first use.
func InitDefault(opts ...Option) (*Registry, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultRegistry != nil {
		return nil, fmt.Errorf("%w: default registry already initialized", ErrInvalidState)
	}
	r, err := NewRegistry(opts...)
	if err != nil {
		return nil, err
	}
	defaultRegistry = r
	return r, nil
}

// Create builds a suspended thread that will run entry once resumed.
func (r *Registry) Create(entry func(*Thread), opts Options) (*Thread, error) {
	if entry == nil {
		return nil, fmt.Errorf("%w: nil entry function", ErrInvalidState)
	}
	if opts.Ownership == External {
		return nil, fmt.Errorf("%w: external ownership is reserved for adopted threads", ErrInvalidState)
	}

	t := newThread(r, entry, opts)
	if err := t.launch(); err != nil {
		r.log.Error().Err(err).Str("name", opts.Name).Msg("Thread creation failed")
		return nil, err
	}
	r.stats.threadsCreated.Add(1)
	r.log.Debug().
		Int64("id", int64(t.ID())).
		Str("name", opts.Name).
		Stringer("ownership", opts.Ownership).
		Stringer("priority", opts.Priority).
		Msg("Thread created")
	return t, nil
}

// Spawn creates a ManualDelete thread running fn and resumes it.
func (r *Registry) Spawn(name string, fn func(*Thread)) (*Thread, error) {
	t, err := r.Create(fn, Options{Ownership: ManualDelete, Priority: NormalPriority, Name: name})
	if err != nil {
		return nil, err
	}
	if err := t.Resume(); err != nil {
		return nil, err
	}
	return t, nil
}

// Register maps id to t. A live entry under the same id is replaced, which
// only happens when the platform reused the id before the previous owner
// finished its cleanup.
func (r *Registry) Register(id platform.ID, t *Thread) {
	if prev, loaded := r.threads.Load(id); loaded && prev != t {
		r.log.Warn().Int64("id", int64(id)).Str("previous", prev.String()).Msg("Thread id reused before previous owner unregistered")
	}
	r.threads.Store(id, t)
}

// Unregister removes id only while it still maps to t.
func (r *Registry) Unregister(id platform.ID, t *Thread) bool {
	return maps.CompareAndDelete(r.threads, id, func(cur *Thread) bool { return cur == t })
}

// Lookup returns the thread registered under id.
func (r *Registry) Lookup(id platform.ID) (*Thread, bool) {
	return r.threads.Load(id)
}

// Current returns the control block of the calling thread. A thread the
// registry has never seen is adopted as an External thread and queued for
// reaping once the platform reports it gone.
func (r *Registry) Current() *Thread {
	id := r.platform.CurrentThreadID()
	if t, ok := r.threads.Load(id); ok {
		return t
	}

	adopted := newExternal(r, id)
	t, loaded := r.threads.LoadOrStore(id, func() *Thread { return adopted })
	if !loaded {
		r.extMu.Lock()
		r.external.Add(t)
		r.extMu.Unlock()
		r.stats.externalAdopted.Add(1)
		r.log.Trace().Int64("id", int64(id)).Msg("External thread adopted")
	}
	return t
}

// Sleep pauses the calling thread. A managed thread honours pending suspend
// and terminate requests around the sleep.
func (r *Registry) Sleep(d time.Duration) {
	r.platform.Sleep(d)
}

// Yield gives up the processor and honours pending suspend and terminate
// requests of the calling managed thread.
func (r *Registry) Yield() {
	r.platform.Yield()
}

// Len returns the number of registered threads.
func (r *Registry) Len() int {
	return r.threads.Len()
}

// Range calls f for each registered thread until f returns false.
func (r *Registry) Range(f func(t *Thread) bool) {
	r.threads.Range(func(_ platform.ID, t *Thread) bool {
		return f(t)
	})
}

// ThreadInfo is a point-in-time view of one thread.
type ThreadInfo struct {
	ID           platform.ID
	Name         string
	State        State
	Ownership    Ownership
	Priority     Priority
	SuspendCount int
	Locals       int
}

// Threads returns a snapshot of all registered threads ordered by id.
func (r *Registry) Threads() []ThreadInfo {
	var out []ThreadInfo
	r.Range(func(t *Thread) bool {
		t.mu.Lock()
		info := ThreadInfo{
			ID:           t.id,
			State:        t.state,
			Ownership:    t.ownership,
			Priority:     t.priority,
			SuspendCount: t.suspendCount,
		}
		t.mu.Unlock()
		info.Name = t.Name()
		info.Locals = t.LocalCount()
		out = append(out, info)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stats is a snapshot of the registry counters.
type Stats struct {
	ThreadsCreated      uint64
	ThreadsTerminated   uint64
	ExternalAdopted     uint64
	ExternalReaped      uint64
	PayloadsAllocated   uint64
	PayloadsDeallocated uint64
	StoragesCreated     uint64
	StoragesDestroyed   uint64
	Registered          int
}

// LivePayloads is the number of payloads allocated and not yet freed.
func (s Stats) LivePayloads() uint64 {
	return s.PayloadsAllocated - s.PayloadsDeallocated
}

// LiveStorages is the number of storages not yet destroyed.
func (s Stats) LiveStorages() uint64 {
	return s.StoragesCreated - s.StoragesDestroyed
}

func (r *Registry) Stats() Stats {
	return Stats{
		ThreadsCreated:      r.stats.threadsCreated.Load(),
		ThreadsTerminated:   r.stats.threadsTerminated.Load(),
		ExternalAdopted:     r.stats.externalAdopted.Load(),
		ExternalReaped:      r.stats.externalReaped.Load(),
		PayloadsAllocated:   r.stats.payloadsAllocated.Load(),
		PayloadsDeallocated: r.stats.payloadsDeallocated.Load(),
		StoragesCreated:     r.stats.storagesCreated.Load(),
		StoragesDestroyed:   r.stats.storagesDestroyed.Load(),
		Registered:          r.threads.Len(),
	}
}

// logicError reports a broken storage/thread link. The process cannot trust
// its local storage bookkeeping afterwards, so this does not return.
func (r *Registry) logicError(err error) {
	r.log.Error().Err(err).Msg("Thread local storage bookkeeping is inconsistent")
	panic(err)
}

// Package level shortcuts on the Default registry.

func Create(entry func(*Thread), opts Options) (*Thread, error) {
	return Default().Create(entry, opts)
}

func Spawn(name string, fn func(*Thread)) (*Thread, error) {
	return Default().Spawn(name, fn)
}

func Current() *Thread { return Default().Current() }

func Sleep(d time.Duration) { Default().Sleep(d) }

func Yield() { Default().Yield() }
