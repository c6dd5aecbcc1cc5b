package maps

import "sync"

const (
	shardBits = 6
	numShards = 1 << shardBits
)

type shard[K Integer, V any] struct {
	mu sync.RWMutex
	m  map[K]V
	_  [32]byte // one shard per cache line
}

// ShardedMap spreads keys over numShards plain maps, each behind its own
// RWMutex. Goroutine ids are handed out in runs, so keys are mixed with a
// Fibonacci hash before picking a shard.
type ShardedMap[K Integer, V any] struct {
	shards [numShards]shard[K, V]
}

func NewShardedMap[K Integer, V any]() ConcurrentMap[K, V] {
	m := &ShardedMap[K, V]{}
	for i := range m.shards {
		m.shards[i].m = make(map[K]V)
	}
	return m
}

func (m *ShardedMap[K, V]) shardFor(key K) *shard[K, V] {
	const golden = 0x9E3779B97F4A7C15
	return &m.shards[(uint64(key)*golden)>>(64-shardBits)]
}

func (m *ShardedMap[K, V]) Load(key K) (V, bool) {
	s := m.shardFor(key)
	s.mu.RLock()
	v, ok := s.m[key]
	s.mu.RUnlock()
	return v, ok
}

func (m *ShardedMap[K, V]) Store(key K, value V) {
	s := m.shardFor(key)
	s.mu.Lock()
	s.m[key] = value
	s.mu.Unlock()
}

func (m *ShardedMap[K, V]) Delete(key K) {
	s := m.shardFor(key)
	s.mu.Lock()
	delete(s.m, key)
	s.mu.Unlock()
}

func (m *ShardedMap[K, V]) LoadAndDelete(key K) (V, bool) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[key]
	delete(s.m, key)
	return v, ok
}

// LoadOrStore runs valueFactory under the shard's write lock, at most once
// per missing key.
func (m *ShardedMap[K, V]) LoadOrStore(key K, valueFactory func() V) (V, bool) {
	if v, ok := m.Load(key); ok {
		return v, true
	}
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.m[key]; ok {
		return v, true
	}
	v := valueFactory()
	s.m[key] = v
	return v, false
}

func (m *ShardedMap[K, V]) Update(key K, updateFunc func(value V, exists bool) (newValue V, keep bool)) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	old, exists := s.m[key]
	v, keep := updateFunc(old, exists)
	switch {
	case keep:
		s.m[key] = v
	case exists:
		delete(s.m, key)
	}
}

// Range visits a per-shard snapshot, so f may call back into the map.
func (m *ShardedMap[K, V]) Range(f func(key K, value V) bool) {
	type kv struct {
		k K
		v V
	}
	var snap []kv
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.RLock()
		snap = snap[:0]
		for k, v := range s.m {
			snap = append(snap, kv{k, v})
		}
		s.mu.RUnlock()

		for _, e := range snap {
			if !f(e.k, e.v) {
				return
			}
		}
	}
}

func (m *ShardedMap[K, V]) Len() int {
	n := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.RLock()
		n += len(s.m)
		s.mu.RUnlock()
	}
	return n
}
