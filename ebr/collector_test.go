package ebr

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestGuardEnterLeave(t *testing.T) {
	var g Guard
	g.Enter()
	if g.rec == nil {
		t.Fatal("no record claimed")
	}
	if g.rec.status.Load()&1 != 1 {
		t.Fatal("record not active")
	}
	r := g.rec
	g.Leave()
	if r.status.Load()&1 != 0 {
		t.Fatal("record still active after Leave")
	}
}

func TestGuardNesting(t *testing.T) {
	var g1, g2 Guard
	g1.Enter()
	g2.Enter()
	if g1.rec == g2.rec {
		t.Fatal("nested guards share a record")
	}
	g2.Leave()
	g1.Leave()
}

func TestRetireFreesExactlyOnce(t *testing.T) {
	var freed atomic.Int32
	var g Guard
	g.Enter()
	g.Retire(func() { freed.Add(1) })
	g.Leave()
	for i := 0; i < 4 && freed.Load() == 0; i++ {
		Reclaim()
	}
	if n := freed.Load(); n != 1 {
		t.Fatalf("freed %d times, want 1", n)
	}
	Reclaim()
	if n := freed.Load(); n != 1 {
		t.Fatalf("freed %d times after extra reclaim, want 1", n)
	}
}

func TestGuardBlocksReclamation(t *testing.T) {
	var freed atomic.Int32
	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		var g Guard
		g.Enter()
		close(entered)
		<-release
		g.Leave()
	}()
	<-entered

	var g Guard
	g.Enter()
	g.Retire(func() { freed.Add(1) })
	g.Leave()

	for i := 0; i < 4; i++ {
		Reclaim()
	}
	if freed.Load() != 0 {
		t.Fatal("freed while a pre-existing guard was live")
	}
	close(release)
	<-done
	for i := 0; i < 4 && freed.Load() == 0; i++ {
		Reclaim()
	}
	if freed.Load() != 1 {
		t.Fatal("not freed after the guard drained")
	}
}

func TestSuspendMergesOrphans(t *testing.T) {
	var freed atomic.Int32
	var g Guard
	g.Enter()
	g.Retire(func() { freed.Add(1) })
	g.Leave()
	Suspend()
	for i := 0; i < 4 && freed.Load() == 0; i++ {
		Reclaim()
	}
	if freed.Load() != 1 {
		t.Fatal("orphaned retirement never reclaimed")
	}
}

func TestEpochAdvances(t *testing.T) {
	before := collector.epoch.Load()
	Reclaim()
	if collector.epoch.Load() == before {
		t.Fatal("epoch did not advance on an idle collector")
	}
}

// Eight readers snapshot an AtomicShared while a writer swaps it
// continuously. Every dereference must observe the value that was current
// at snapshot time; the race detector validates the reclamation protocol.
func TestSnapshotUnderChurn(t *testing.T) {
	const (
		readers = 8
		swaps   = 100_000
	)
	var freed atomic.Int64
	reclaim := func(*uint64) { freed.Add(1) }

	a := NewAtomicShared(NewSharedReclaim(uint64(0), reclaim), TagNone)
	var stop atomic.Bool
	var wg sync.WaitGroup
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for !stop.Load() {
				var g Guard
				g.Enter()
				p := a.Load(&g)
				v1 := *p.Deref(&g)
				v2 := *p.Deref(&g)
				g.Leave()
				if v1 != v2 {
					t.Error("snapshot changed under guard")
					return
				}
			}
		}()
	}
	var g Guard
	for i := 1; i <= swaps; i++ {
		g.Enter()
		old, _ := a.Swap(NewSharedReclaim(uint64(i), reclaim), TagNone)
		old.Unref(&g)
		g.Leave()
	}
	stop.Store(true)
	wg.Wait()

	g.Enter()
	if last := a.TakeOver(); last != nil {
		last.Unref(&g)
	}
	g.Leave()
	for i := 0; i < 16 && freed.Load() != swaps+1; i++ {
		Reclaim()
	}
	if n := freed.Load(); n != swaps+1 {
		t.Fatalf("freed %d boxes, want %d", n, swaps+1)
	}
}
