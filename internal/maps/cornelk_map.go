package maps

import (
	"sync"

	"github.com/cornelk/hashmap"
)

// CornelkMap backs ConcurrentMap with cornelk/hashmap. Get and Range never
// lock; compound writes take writeMu since the hashmap has no compute
// primitive of its own.
type CornelkMap[K Integer, V any] struct {
	writeMu sync.Mutex
	m       *hashmap.Map[K, V]
}

func NewCornelkMap[K Integer, V any]() ConcurrentMap[K, V] {
	return &CornelkMap[K, V]{m: hashmap.New[K, V]()}
}

func (m *CornelkMap[K, V]) Load(key K) (V, bool) { return m.m.Get(key) }

func (m *CornelkMap[K, V]) Store(key K, value V) {
	m.writeMu.Lock()
	m.m.Set(key, value)
	m.writeMu.Unlock()
}

func (m *CornelkMap[K, V]) Delete(key K) {
	m.writeMu.Lock()
	m.m.Del(key)
	m.writeMu.Unlock()
}

func (m *CornelkMap[K, V]) LoadAndDelete(key K) (V, bool) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	v, ok := m.m.Get(key)
	if ok {
		m.m.Del(key)
	}
	return v, ok
}

func (m *CornelkMap[K, V]) LoadOrStore(key K, valueFactory func() V) (V, bool) {
	if v, ok := m.m.Get(key); ok {
		return v, true
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if v, ok := m.m.Get(key); ok {
		return v, true
	}
	v := valueFactory()
	m.m.Set(key, v)
	return v, false
}

func (m *CornelkMap[K, V]) Update(key K, updateFunc func(value V, exists bool) (newValue V, keep bool)) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	old, exists := m.m.Get(key)
	v, keep := updateFunc(old, exists)
	switch {
	case keep:
		m.m.Set(key, v)
	case exists:
		m.m.Del(key)
	}
}

func (m *CornelkMap[K, V]) Range(f func(key K, value V) bool) { m.m.Range(f) }
func (m *CornelkMap[K, V]) Len() int                          { return m.m.Len() }
