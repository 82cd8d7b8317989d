package ccx

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/llxisdsh/ccx/ebr"
)

// lockCellOf grabs the writer lock of the cell responsible for key.
func lockCellOf[K comparable, V any](m *HashMap[K, V], key K) *cell[K, V] {
	var g ebr.Guard
	g.Enter()
	t := m.table(&g)
	c := &t.cells[t.index(t.hashOf(key))]
	g.Leave()
	c.lock()
	return c
}

func waitForWaiter[K comparable, V any](t *testing.T, c *cell[K, V]) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for c.state.Load()&cellWaiting == 0 {
		if time.Now().After(deadline) {
			t.Fatal("writer never parked on the cell")
		}
		time.Sleep(time.Millisecond)
	}
}

// A cancelled InsertCtx must leave no waiter behind, and a subsequent
// insert on the same cell must succeed without a spurious wake-up.
func TestInsertCtxCancel(t *testing.T) {
	m := NewHashMap[int, int]()
	if err := m.Insert(1, 1); err != nil {
		t.Fatal(err)
	}
	c := lockCellOf(m, 2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- m.InsertCtx(ctx, 2, 2)
	}()
	waitForWaiter(t, c)
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled insert: %v, want context.Canceled", err)
	}
	c.waiters.acquire()
	empty := c.waiters.empty()
	c.waiters.release()
	if !empty {
		t.Fatal("cancelled waiter still queued")
	}
	if c.state.Load()&cellWaiting != 0 {
		t.Fatal("WAITING flag leaked after cancellation")
	}
	c.unlock()
	if err := m.Insert(2, 2); err != nil {
		t.Fatalf("insert after cancellation: %v", err)
	}
	if v, ok := m.Load(2); !ok || v != 2 {
		t.Fatal("entry missing after cancellation sequence")
	}
}

func TestInsertCtxAcquiresAfterUnlock(t *testing.T) {
	m := NewHashMap[int, int]()
	if err := m.Insert(1, 1); err != nil {
		t.Fatal(err)
	}
	c := lockCellOf(m, 2)

	done := make(chan error, 1)
	go func() {
		done <- m.InsertCtx(context.Background(), 2, 2)
	}()
	waitForWaiter(t, c)
	c.unlock()
	if err := <-done; err != nil {
		t.Fatalf("parked insert after unlock: %v", err)
	}
	if v, ok := m.Load(2); !ok || v != 2 {
		t.Fatal("parked insert lost its entry")
	}
}

func TestCtxVariantsComplete(t *testing.T) {
	m := NewHashMap[int, int]()
	ctx := context.Background()
	if err := m.InsertCtx(ctx, 1, 1); err != nil {
		t.Fatal(err)
	}
	ok, err := m.UpdateCtx(ctx, 1, func(v *int) { *v = 5 })
	if err != nil || !ok {
		t.Fatalf("update-ctx = (%v, %v)", ok, err)
	}
	if err := m.UpsertCtx(ctx, 2, func() int { return 2 }, func(v *int) {}); err != nil {
		t.Fatal(err)
	}
	v, ok, err := m.RemoveCtx(ctx, 1)
	if err != nil || !ok || v != 5 {
		t.Fatalf("remove-ctx = (%d, %v, %v)", v, ok, err)
	}
}

func TestCtxCancelledBeforeCall(t *testing.T) {
	m := NewHashMap[int, int]()
	if err := m.Insert(1, 1); err != nil {
		t.Fatal(err)
	}
	c := lockCellOf(m, 2)
	defer c.unlock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	done := make(chan error, 1)
	go func() {
		done <- m.InsertCtx(ctx, 2, 2)
	}()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("pre-cancelled insert: %v", err)
	}
}
