package ccx

import (
	"runtime"
	"testing"

	"golang.org/x/sync/errgroup"

	"github.com/llxisdsh/ccx/ebr"
)

// Mixed workload over a shared key range, with resizes and overflow churn,
// meant to run under the race detector.
func TestHashMapStress(t *testing.T) {
	if testing.Short() {
		t.Skip("short mode")
	}
	const (
		keys = 512
		iter = 20_000
	)
	m := NewHashMap[int, int](WithCapacity(4), WithAutoShrink())
	workers := max(4, runtime.GOMAXPROCS(0))
	var eg errgroup.Group
	for w := 0; w < workers; w++ {
		eg.Go(func() error {
			for i := 0; i < iter; i++ {
				k := (i*7 + w*13) % keys
				switch i % 5 {
				case 0:
					_ = m.Insert(k, k)
				case 1:
					m.Remove(k)
				case 2:
					if v, ok := m.Load(k); ok && v != k && v != k+1 {
						t.Errorf("load %d = %d", k, v)
						return nil
					}
				case 3:
					m.Update(k, func(v *int) { *v = k + 1 })
				case 4:
					m.Upsert(k, func() int { return k }, func(v *int) { *v = k })
				}
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		t.Fatal(err)
	}
	// Quiescent: the striped counter and an exact walk must agree.
	count := 0
	m.ForEach(func(k, v int) bool { count++; return true })
	if n := m.Len(); n != count {
		t.Fatalf("len %d != walk count %d", n, count)
	}
	ebr.Reclaim()
}

func TestSuspendDoesNotStallOthers(t *testing.T) {
	m := NewHashMap[int, int]()
	for i := 0; i < 100; i++ {
		_ = m.Insert(i, i)
	}
	ebr.Suspend()
	for i := 0; i < 100; i++ {
		m.Remove(i)
	}
	ebr.Reclaim()
	if n := m.Len(); n != 0 {
		t.Fatalf("len = %d after removals", n)
	}
}
