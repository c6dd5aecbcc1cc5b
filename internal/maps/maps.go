package maps

import "fmt"

// Implementation names accepted by New.
const (
	ImplXSync   = "xsync"
	ImplSharded = "sharded"
	ImplCornelk = "cornelk"
	ImplSync    = "sync"
)

// DefaultImplementation is used when no implementation is configured.
const DefaultImplementation = ImplXSync

// Integer is a constraint that permits any integer type.
// All integer types are comparable.
type Integer interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr
}

// ConcurrentMap defines a generic, thread-safe map interface for integer keys.
// The thread registry and the goroutine platform are written against this
// interface so the backing implementation can be picked from configuration.
type ConcurrentMap[K Integer, V any] interface {
	Load(key K) (V, bool)
	Store(key K, value V)
	Delete(key K)
	LoadAndDelete(key K) (V, bool)
	// LoadOrStore returns the existing value for key, or stores and returns
	// the result of valueFactory. loaded reports whether the value existed.
	LoadOrStore(key K, valueFactory func() V) (actual V, loaded bool)
	Update(key K, updateFunc func(value V, exists bool) (newValue V, keep bool))
	Range(f func(key K, value V) bool)
	Len() int
}

// Implementations lists the accepted implementation names.
func Implementations() []string {
	return []string{ImplXSync, ImplSharded, ImplCornelk, ImplSync}
}

// Valid reports whether name is a known implementation. The empty string
// selects DefaultImplementation and is valid.
func Valid(name string) bool {
	switch name {
	case "", ImplXSync, ImplSharded, ImplCornelk, ImplSync:
		return true
	}
	return false
}

// New returns the named implementation. An empty name selects
// DefaultImplementation.
func New[K Integer, V any](name string) (ConcurrentMap[K, V], error) {
	switch name {
	case "", ImplXSync:
		return NewXSyncMap[K, V](), nil
	case ImplSharded:
		return NewShardedMap[K, V](), nil
	case ImplCornelk:
		return NewCornelkMap[K, V](), nil
	case ImplSync:
		return NewStdSyncMap[K, V](), nil
	default:
		return nil, fmt.Errorf("unknown map implementation %q", name)
	}
}

// NewConcurrentMap returns the default implementation.
func NewConcurrentMap[K Integer, V any]() ConcurrentMap[K, V] {
	return NewXSyncMap[K, V]()
}

// CompareAndDelete removes key only while match reports true for the value
// currently stored. It guards against deleting an entry that was replaced
// after an identifier got reused.
func CompareAndDelete[K Integer, V any](m ConcurrentMap[K, V], key K, match func(V) bool) (deleted bool) {
	m.Update(key, func(current V, exists bool) (V, bool) {
		if exists && match(current) {
			deleted = true
			var zero V
			return zero, false
		}
		return current, exists
	})
	return deleted
}
