package thread

import "runtime"

// Local is a typed handle on a Storage: each thread calling Get receives its
// own *T, created on first access and freed when the thread terminates or
// the Local is closed. A Local may be shared freely between goroutines.
type Local[T any] struct {
	reg     *Registry
	storage *Storage
}

// NewLocal creates a Local whose payloads start as zero values of T. A nil
// registry selects Default.
func NewLocal[T any](r *Registry, name string) *Local[T] {
	return NewLocalFunc[T](r, name, nil, nil)
}

// NewLocalFunc creates a Local that builds payloads with newFn and releases
// them with freeFn. Either may be nil.
func NewLocalFunc[T any](r *Registry, name string, newFn func() *T, freeFn func(*T)) *Local[T] {
	if r == nil {
		r = Default()
	}
	return &Local[T]{
		reg:     r,
		storage: r.NewStorage(name, typedAllocator[T]{newFn: newFn, freeFn: freeFn}),
	}
}

type typedAllocator[T any] struct {
	newFn  func() *T
	freeFn func(*T)
}

func (a typedAllocator[T]) Allocate() any {
	if a.newFn != nil {
		return a.newFn()
	}
	return new(T)
}

func (a typedAllocator[T]) Deallocate(payload any) {
	if a.freeFn != nil {
		a.freeFn(payload.(*T))
	}
}

// Get returns the calling thread's payload. It panics after Close.
func (l *Local[T]) Get() *T {
	for {
		// Cleanup unregisters a block before detaching it, so a retry gets a
		// fresh block from Current.
		if p, ok := l.storage.GetOrCreate(l.reg.Current()); ok {
			return p.(*T)
		}
		runtime.Gosched()
	}
}

// With calls fn with the calling thread's payload.
func (l *Local[T]) With(fn func(*T)) {
	fn(l.Get())
}

// Close destroys the underlying storage and frees every payload. Further Get
// calls panic.
func (l *Local[T]) Close() {
	l.storage.Destroy()
}

// Len returns the number of threads currently holding a payload.
func (l *Local[T]) Len() int {
	return l.storage.Len()
}

func (l *Local[T]) Storage() *Storage { return l.storage }
