package maps

import "sync"

// StdSyncMap backs ConcurrentMap with sync.Map. Reads are lock-free; writers
// are serialized so Update and LoadOrStore stay atomic with respect to each
// other, which the registry's conditional unregister depends on.
type StdSyncMap[K Integer, V any] struct {
	writeMu sync.Mutex
	m       sync.Map
}

func NewStdSyncMap[K Integer, V any]() ConcurrentMap[K, V] {
	return &StdSyncMap[K, V]{}
}

func (m *StdSyncMap[K, V]) Load(key K) (V, bool) {
	return assert[V](m.m.Load(key))
}

func (m *StdSyncMap[K, V]) Store(key K, value V) {
	m.writeMu.Lock()
	m.m.Store(key, value)
	m.writeMu.Unlock()
}

func (m *StdSyncMap[K, V]) Delete(key K) {
	m.writeMu.Lock()
	m.m.Delete(key)
	m.writeMu.Unlock()
}

func (m *StdSyncMap[K, V]) LoadAndDelete(key K) (V, bool) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return assert[V](m.m.LoadAndDelete(key))
}

func (m *StdSyncMap[K, V]) LoadOrStore(key K, valueFactory func() V) (V, bool) {
	if v, ok := m.Load(key); ok {
		return v, true
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if v, ok := m.Load(key); ok {
		return v, true
	}
	v := valueFactory()
	m.m.Store(key, v)
	return v, false
}

func (m *StdSyncMap[K, V]) Update(key K, updateFunc func(value V, exists bool) (newValue V, keep bool)) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	old, exists := m.Load(key)
	v, keep := updateFunc(old, exists)
	switch {
	case keep:
		m.m.Store(key, v)
	case exists:
		m.m.Delete(key)
	}
}

func (m *StdSyncMap[K, V]) Range(f func(key K, value V) bool) {
	m.m.Range(func(k, v any) bool { return f(k.(K), v.(V)) })
}

func (m *StdSyncMap[K, V]) Len() int {
	n := 0
	m.m.Range(func(_, _ any) bool { n++; return true })
	return n
}

func assert[V any](v any, ok bool) (V, bool) {
	if !ok {
		var zero V
		return zero, false
	}
	return v.(V), true
}
