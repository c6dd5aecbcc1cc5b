package maps

import (
	"math/rand"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const keySpace = 1024

func implementations[K Integer, V any](t testing.TB) map[string]ConcurrentMap[K, V] {
	t.Helper()
	out := make(map[string]ConcurrentMap[K, V])
	for _, name := range Implementations() {
		m, err := New[K, V](name)
		if err != nil {
			t.Fatalf("New(%q): %v", name, err)
		}
		out[name] = m
	}
	return out
}

func TestNewUnknownImplementation(t *testing.T) {
	if _, err := New[int64, int]("btree"); err == nil {
		t.Fatal("expected error for unknown implementation")
	}
	if !Valid("") || !Valid(ImplCornelk) || Valid("btree") {
		t.Error("Valid returned unexpected results")
	}
}

func TestConcurrentMapBasics(t *testing.T) {
	for name, m := range implementations[int64, string](t) {
		t.Run(name, func(t *testing.T) {
			m.Store(1, "one")
			m.Store(2, "two")

			if v, ok := m.Load(1); !ok || v != "one" {
				t.Errorf("Load(1) = (%q,%v), want (one,true)", v, ok)
			}
			if v, loaded := m.LoadOrStore(2, func() string { return "other" }); !loaded || v != "two" {
				t.Errorf("LoadOrStore(2) = (%q,%v), want (two,true)", v, loaded)
			}
			if v, loaded := m.LoadOrStore(3, func() string { return "three" }); loaded || v != "three" {
				t.Errorf("LoadOrStore(3) = (%q,%v), want (three,false)", v, loaded)
			}
			if n := m.Len(); n != 3 {
				t.Errorf("Len() = %d, want 3", n)
			}

			if v, ok := m.LoadAndDelete(3); !ok || v != "three" {
				t.Errorf("LoadAndDelete(3) = (%q,%v)", v, ok)
			}
			if _, ok := m.LoadAndDelete(3); ok {
				t.Error("second LoadAndDelete(3) found a value")
			}
			m.Delete(2)

			var keys []int64
			m.Range(func(k int64, _ string) bool {
				keys = append(keys, k)
				return true
			})
			if diff := cmp.Diff([]int64{1}, keys); diff != "" {
				t.Errorf("Range keys mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCompareAndDelete(t *testing.T) {
	type entry struct{ generation int }

	for name, m := range implementations[int64, *entry](t) {
		t.Run(name, func(t *testing.T) {
			old := &entry{generation: 1}
			reused := &entry{generation: 2}
			m.Store(7, reused)

			// The old owner of id 7 must not remove the entry that replaced it.
			if CompareAndDelete(m, 7, func(e *entry) bool { return e == old }) {
				t.Fatal("deleted an entry that belongs to a newer owner")
			}
			if _, ok := m.Load(7); !ok {
				t.Fatal("entry vanished after failed CompareAndDelete")
			}
			if !CompareAndDelete(m, 7, func(e *entry) bool { return e == reused }) {
				t.Fatal("CompareAndDelete did not remove the matching entry")
			}
			if CompareAndDelete(m, 8, func(*entry) bool { return true }) {
				t.Fatal("CompareAndDelete reported a delete for a missing key")
			}
		})
	}
}

func TestConcurrentLoadOrStore(t *testing.T) {
	for name, m := range implementations[uint32, *atomic.Int64](t) {
		t.Run(name, func(t *testing.T) {
			var wg sync.WaitGroup
			for g := 0; g < 8; g++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := 0; i < 1000; i++ {
						c, _ := m.LoadOrStore(uint32(i%16), func() *atomic.Int64 { return new(atomic.Int64) })
						c.Add(1)
					}
				}()
			}
			wg.Wait()

			var total int64
			var keys []int
			m.Range(func(k uint32, v *atomic.Int64) bool {
				total += v.Load()
				keys = append(keys, int(k))
				return true
			})
			sort.Ints(keys)
			if len(keys) != 16 {
				t.Errorf("got %d keys, want 16", len(keys))
			}
			// A losing factory's value is discarded before anyone increments it.
			if total != 8000 {
				t.Errorf("total = %d, want 8000", total)
			}
		})
	}
}

func TestConcurrentUpdate(t *testing.T) {
	for name, m := range implementations[int64, int](t) {
		t.Run(name, func(t *testing.T) {
			var wg sync.WaitGroup
			for range 8 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for range 500 {
						m.Update(1, func(v int, _ bool) (int, bool) { return v + 1, true })
					}
				}()
			}
			wg.Wait()

			if v, _ := m.Load(1); v != 4000 {
				t.Errorf("Expected 4000 increments, got %d", v)
			}
			m.Update(1, func(int, bool) (int, bool) { return 0, false })
			if _, ok := m.Load(1); ok {
				t.Error("Expected Update with keep=false to delete the key")
			}
		})
	}
}

// --- Benchmarks ---

// runRegistryLookupBenchmark mimics Current(): a read-mostly lookup by id with
// occasional registration of a new thread.
func runRegistryLookupBenchmark(b *testing.B, bm ConcurrentMap[int64, *int64], readRatio int) {
	var v int64 = 1
	for i := range keySpace {
		bm.Store(int64(i), &v)
	}
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		r := rand.New(rand.NewSource(rand.Int63()))
		for pb.Next() {
			key := r.Int63() % keySpace
			if r.Intn(100) < readRatio {
				_, _ = bm.Load(key)
			} else {
				bm.Store(key, &v)
			}
		}
	})
}

func BenchmarkMaps(b *testing.B) {
	for _, ratio := range []int{99, 90, 50} {
		for _, name := range Implementations() {
			m, _ := New[int64, *int64](name)
			b.Run(name+"/read_"+strconv.Itoa(ratio), func(b *testing.B) {
				runRegistryLookupBenchmark(b, m, ratio)
			})
		}
	}
}
