package ccx

import (
	"context"
	"sync/atomic"

	"github.com/llxisdsh/ccx/ebr"
)

// HashMap is a concurrent hash table with per-key serialization, lock-free
// reads, and non-blocking incremental resizing backed by the ebr collector.
//
// Core properties:
//   - Readers never take a lock; they scan per-slot metadata bytes and
//     dereference immutable entries under an epoch guard.
//   - Writers serialize per cell; operations on different keys proceed in
//     parallel. No total order across keys is promised.
//   - During a resize every writer first migrates the cells it touches and
//     assists with a bounded amount of extra migration, so resizing never
//     blocks the table.
//
// Usage recommendations:
//   - Direct declaration: var m HashMap[string, int]
//   - Pre-allocate capacity: NewHashMap(WithCapacity(1 << 16))
//
// Notes:
//   - HashMap must not be copied after first use.
type HashMap[K comparable, V any] struct {
	_          noCopy
	cur        ebr.AtomicShared[table[K, V]]
	resizing   atomic.Uint32
	growths    atomic.Uint32
	shrinks    atomic.Uint32
	hash       HashFunc[K]
	minCells   int
	maxAssist  int
	autoShrink bool
}

// NewHashMap creates a new HashMap instance. Direct declaration is also
// supported; a zero-value map uses the default configuration.
func NewHashMap[K comparable, V any](options ...func(*Config)) *HashMap[K, V] {
	var cfg Config
	for _, o := range options {
		o(&cfg)
	}
	m := &HashMap[K, V]{}
	if cfg.capacity > 0 {
		m.minCells = calcCells(cfg.capacity)
	}
	if cfg.maxAssist > 0 {
		m.maxAssist = cfg.maxAssist
	}
	m.autoShrink = cfg.autoShrink
	if cfg.hash != nil {
		m.hash = cfg.hash.(HashFunc[K])
	}
	return m
}

func (m *HashMap[K, V]) table(g *ebr.Guard) *table[K, V] {
	p := m.cur.Load(g)
	if !p.IsNil() {
		return p.Deref(g)
	}
	return m.slowInit(g)
}

func (m *HashMap[K, V]) slowInit(g *ebr.Guard) *table[K, V] {
	cells := m.minCells
	if cells == 0 {
		cells = calcCells(defaultCapacity)
	}
	s := newTable[K, V](cells, nil, m.hash)
	if _, ok, cur := m.cur.CompareAndSwap(ebr.Ptr[table[K, V]]{}, s, ebr.TagNone, g); !ok {
		s.Unref(g)
		return cur.Deref(g)
	}
	return s.Get()
}

func (m *HashMap[K, V]) assistBudget() int {
	if m.maxAssist > 0 {
		return m.maxAssist
	}
	return defaultMaxAssist
}

// writeCell locks the cell responsible for h in the newest generation,
// migrating the corresponding predecessor cell first and assisting the
// resize with a bounded number of extra chunks. ctx may be nil for the
// blocking path. Returns with the cell lock held.
func (m *HashMap[K, V]) writeCell(h uint64, g *ebr.Guard, ctx context.Context) (*table[K, V], *cell[K, V], error) {
	for {
		t := m.table(g)
		if op := t.old.Load(g); !op.IsNil() {
			ot := op.Deref(g)
			oi := ot.index(h)
			oc := &ot.cells[oi]
			if !oc.killed() {
				if ctx == nil {
					oc.lock()
				} else if err := oc.lockCtx(ctx, g); err != nil {
					return nil, nil, err
				}
				killCell(ot, oi, oc, t, g)
				oc.unlock()
			}
			for i := 0; i < m.assistBudget(); i++ {
				if t.partialRehash(g) {
					break
				}
			}
		}
		c := &t.cells[t.index(h)]
		if ctx == nil {
			c.lock()
		} else if err := c.lockCtx(ctx, g); err != nil {
			return nil, nil, err
		}
		if c.killed() {
			// A successor took this cell over while we were parked.
			c.unlock()
			continue
		}
		return t, c, nil
	}
}

// ============================================================================
// Reads
// ============================================================================

// Load returns the value stored for key. The read path is lock-free.
func (m *HashMap[K, V]) Load(key K) (V, bool) {
	var g ebr.Guard
	g.Enter()
	v, ok := m.load(key, &g)
	g.Leave()
	return v, ok
}

// Read applies fn to the value stored for key and reports whether the key
// was present. fn runs on a snapshot of the value after the guard is
// released; it must not assume the entry is still present.
func (m *HashMap[K, V]) Read(key K, fn func(v V)) bool {
	v, ok := m.Load(key)
	if ok && fn != nil {
		fn(v)
	}
	return ok
}

func (m *HashMap[K, V]) load(key K, g *ebr.Guard) (V, bool) {
	var zero V
	p := m.cur.Load(g)
	if p.IsNil() {
		return zero, false
	}
	t := p.Deref(g)
	h := t.hashOf(key)
	hb := h2(h)
	for {
		// Unmigrated keys live in the predecessor; check it first so a key
		// is never missed mid-migration.
		if op := t.old.Load(g); !op.IsNil() {
			ot := op.Deref(g)
			oc := &ot.cells[ot.index(h)]
			if !oc.killed() {
				if e, ok := oc.find(key, hb, g); ok {
					return e.val, true
				}
			}
		}
		if e, ok := t.cells[t.index(h)].find(key, hb, g); ok {
			return e.val, true
		}
		// A resize published a successor while we searched; retry there.
		t2 := m.cur.Load(g).Deref(g)
		if t2 == t {
			return zero, false
		}
		t = t2
	}
}

// ============================================================================
// Writes
// ============================================================================

// Insert stores (key, val) if the key is absent. If the key is present it
// fails with a *DuplicateKeyError carrying the un-inserted pair.
func (m *HashMap[K, V]) Insert(key K, val V) error {
	return m.insert(nil, key, val)
}

// InsertCtx is the cooperative counterpart of Insert: it surrenders
// execution while the cell lock is contended and honors cancellation at
// that suspension point.
func (m *HashMap[K, V]) InsertCtx(ctx context.Context, key K, val V) error {
	return m.insert(ctx, key, val)
}

func (m *HashMap[K, V]) insert(ctx context.Context, key K, val V) error {
	var g ebr.Guard
	g.Enter()
	defer g.Leave()
	h := m.table(&g).hashOf(key)
	hb := h2(h)
	t, c, err := m.writeCell(h, &g, ctx)
	if err != nil {
		return err
	}
	if _, ok := c.find(key, hb, &g); ok {
		c.unlock()
		return &DuplicateKeyError[K, V]{Key: key, Value: val}
	}
	c.insertLocked(&entry[K, V]{key: key, val: val}, hb, &g)
	c.unlock()
	t.addSize(h, 1)
	m.checkGrow(t, &g)
	return nil
}

// TryInsert is the non-blocking variant of Insert: it fails with
// ErrWouldBlock instead of waiting, whether on the cell lock or on a
// migration in progress.
func (m *HashMap[K, V]) TryInsert(key K, val V) error {
	var g ebr.Guard
	g.Enter()
	defer g.Leave()
	t := m.table(&g)
	h := t.hashOf(key)
	hb := h2(h)
	if !t.old.Load(&g).IsNil() {
		return ErrWouldBlock
	}
	c := &t.cells[t.index(h)]
	if !c.tryLock() {
		return ErrWouldBlock
	}
	if c.killed() {
		c.unlock()
		return ErrWouldBlock
	}
	if _, ok := c.find(key, hb, &g); ok {
		c.unlock()
		return &DuplicateKeyError[K, V]{Key: key, Value: val}
	}
	c.insertLocked(&entry[K, V]{key: key, val: val}, hb, &g)
	c.unlock()
	t.addSize(h, 1)
	m.checkGrow(t, &g)
	return nil
}

// Update applies fn to the value stored for key, republishing the result.
// Reports whether the key was present. Serialized per key.
func (m *HashMap[K, V]) Update(key K, fn func(v *V)) bool {
	ok, _ := m.update(nil, key, fn)
	return ok
}

// UpdateCtx is the cooperative counterpart of Update.
func (m *HashMap[K, V]) UpdateCtx(ctx context.Context, key K, fn func(v *V)) (bool, error) {
	return m.update(ctx, key, fn)
}

func (m *HashMap[K, V]) update(ctx context.Context, key K, fn func(v *V)) (bool, error) {
	var g ebr.Guard
	g.Enter()
	defer g.Leave()
	h := m.table(&g).hashOf(key)
	_, c, err := m.writeCell(h, &g, ctx)
	if err != nil {
		return false, err
	}
	ok := c.updateLocked(key, h2(h), fn, &g)
	c.unlock()
	return ok, nil
}

// Upsert atomically inserts init() when the key is absent or applies update
// to the present value. Exactly one of the two closures runs.
func (m *HashMap[K, V]) Upsert(key K, init func() V, update func(v *V)) {
	m.upsert(nil, key, init, update) //nolint:errcheck // nil ctx cannot fail
}

// UpsertCtx is the cooperative counterpart of Upsert.
func (m *HashMap[K, V]) UpsertCtx(ctx context.Context, key K, init func() V, update func(v *V)) error {
	return m.upsert(ctx, key, init, update)
}

func (m *HashMap[K, V]) upsert(ctx context.Context, key K, init func() V, update func(v *V)) error {
	var g ebr.Guard
	g.Enter()
	defer g.Leave()
	h := m.table(&g).hashOf(key)
	hb := h2(h)
	t, c, err := m.writeCell(h, &g, ctx)
	if err != nil {
		return err
	}
	if c.updateLocked(key, hb, update, &g) {
		c.unlock()
		return nil
	}
	c.insertLocked(&entry[K, V]{key: key, val: init()}, hb, &g)
	c.unlock()
	t.addSize(h, 1)
	m.checkGrow(t, &g)
	return nil
}

// Remove deletes key and returns the removed value.
func (m *HashMap[K, V]) Remove(key K) (V, bool) {
	v, ok, _ := m.remove(nil, key, nil)
	return v, ok
}

// RemoveCtx is the cooperative counterpart of Remove.
func (m *HashMap[K, V]) RemoveCtx(ctx context.Context, key K) (V, bool, error) {
	return m.remove(ctx, key, nil)
}

// RemoveIf deletes key only if pred accepts the present value. A present
// key whose value is declined yields ErrPredicateRejected; an absent key
// yields (zero, false, nil).
func (m *HashMap[K, V]) RemoveIf(key K, pred func(v V) bool) (V, bool, error) {
	return m.remove(nil, key, pred)
}

func (m *HashMap[K, V]) remove(ctx context.Context, key K, pred func(v V) bool) (V, bool, error) {
	var zero V
	var g ebr.Guard
	g.Enter()
	defer g.Leave()
	h := m.table(&g).hashOf(key)
	hb := h2(h)
	t, c, err := m.writeCell(h, &g, ctx)
	if err != nil {
		return zero, false, err
	}
	if pred != nil {
		e, ok := c.find(key, hb, &g)
		if !ok {
			c.unlock()
			return zero, false, nil
		}
		if !pred(e.val) {
			c.unlock()
			return zero, false, ErrPredicateRejected
		}
	}
	e, ok := c.removeLocked(key, hb, &g)
	c.unlock()
	if !ok {
		return zero, false, nil
	}
	t.addSize(h, -1)
	m.checkShrink(t, &g)
	return e.val, true, nil
}

// ============================================================================
// Whole-table operations
// ============================================================================

// ForEach visits every live entry under its cell's lock. Entries present
// for the whole call are visited exactly once; concurrent inserts and
// removes may or may not be observed. Returning false stops the walk.
func (m *HashMap[K, V]) ForEach(fn func(key K, val V) bool) {
	m.walk(func(c *cell[K, V], g *ebr.Guard) bool {
		return c.forEachLocked(g, func(e *entry[K, V]) bool {
			return fn(e.key, e.val)
		})
	})
}

// Scan visits every live entry from a per-cell snapshot, invoking fn
// outside any lock. The view is snapshot-consistent per cell, not across
// cells.
func (m *HashMap[K, V]) Scan(fn func(key K, val V) bool) {
	var snap []entry[K, V]
	m.walk(func(c *cell[K, V], g *ebr.Guard) bool {
		snap = snap[:0]
		c.forEachLocked(g, func(e *entry[K, V]) bool {
			snap = append(snap, *e)
			return true
		})
		c.unlock()
		defer c.lock() // rebalance the walk's unlock
		for i := range snap {
			if !fn(snap[i].key, snap[i].val) {
				return false
			}
		}
		return true
	})
}

// Retain removes every entry rejected by pred.
func (m *HashMap[K, V]) Retain(pred func(key K, val V) bool) {
	m.walkIndexed(func(t *table[K, V], i int, c *cell[K, V], g *ebr.Guard) bool {
		removed := c.retainLocked(g, func(e *entry[K, V]) bool {
			return pred(e.key, e.val)
		})
		if removed > 0 {
			t.addSizeAt(i, -removed)
		}
		return true
	})
}

// Clear removes all entries. Observable as a sequence of per-cell
// removals.
func (m *HashMap[K, V]) Clear() {
	m.walkIndexed(func(t *table[K, V], i int, c *cell[K, V], g *ebr.Guard) bool {
		if removed := c.purgeLocked(g); removed > 0 {
			t.addSizeAt(i, -removed)
		}
		return true
	})
	ebr.Reclaim()
}

// walk pauses resizing, drains any in-flight migration, and runs fn on
// every cell with its lock held.
func (m *HashMap[K, V]) walk(fn func(c *cell[K, V], g *ebr.Guard) bool) {
	m.walkIndexed(func(_ *table[K, V], _ int, c *cell[K, V], g *ebr.Guard) bool {
		return fn(c, g)
	})
}

func (m *HashMap[K, V]) walkIndexed(fn func(t *table[K, V], i int, c *cell[K, V], g *ebr.Guard) bool) {
	var spins int
	for !m.resizing.CompareAndSwap(0, 1) {
		delay(&spins)
	}
	defer m.resizing.Store(0)
	var g ebr.Guard
	g.Enter()
	defer g.Leave()
	t := m.table(&g)
	spins = 0
	for !t.partialRehash(&g) {
		delay(&spins)
	}
	for i := range t.cells {
		c := &t.cells[i]
		c.lock()
		ok := fn(t, i, c, &g)
		c.unlock()
		if !ok {
			return
		}
	}
}

// ============================================================================
// Size and resizing
// ============================================================================

// Len returns the approximate number of entries; it is exact on a
// quiescent table.
func (m *HashMap[K, V]) Len() int {
	var g ebr.Guard
	g.Enter()
	defer g.Leave()
	p := m.cur.Load(&g)
	if p.IsNil() {
		return 0
	}
	return p.Deref(&g).sumSize()
}

// IsEmpty reports whether the table holds no entries.
func (m *HashMap[K, V]) IsEmpty() bool {
	return m.Len() == 0
}

func (m *HashMap[K, V]) checkGrow(t *table[K, V], g *ebr.Guard) {
	if t.sumSize() > int(float64(t.capacity())*loadFactor) {
		m.resize(t, true, g)
	}
}

func (m *HashMap[K, V]) checkShrink(t *table[K, V], g *ebr.Guard) {
	if !m.autoShrink {
		return
	}
	if t.sumSize() < t.capacity()/shrinkFraction {
		m.resize(t, false, g)
	}
}

// resize publishes a successor generation and seeds the cooperative
// migration. At most one resize is in flight, and a new one cannot start
// until the previous old generation is fully drained.
func (m *HashMap[K, V]) resize(t *table[K, V], grow bool, g *ebr.Guard) {
	if !m.resizing.CompareAndSwap(0, 1) {
		return
	}
	defer m.resizing.Store(0)
	cur := m.cur.Load(g)
	if cur.IsNil() || cur.Deref(g) != t || !t.old.Load(g).IsNil() {
		return
	}
	var newLen int
	if grow {
		newLen = len(t.cells) * 2
	} else {
		newLen = len(t.cells) / 2
		minC := m.minCells
		if minC == 0 {
			minC = calcCells(defaultCapacity)
		}
		if newLen < minC {
			return
		}
	}
	s := newTable[K, V](newLen, t, nil)
	oldRef := m.cur.CloneShared(g)
	s.Get().old.Swap(oldRef, ebr.TagNone)
	old, ok, _ := m.cur.CompareAndSwap(cur, s, ebr.TagNone, g)
	if !ok {
		// Not reachable: publication is serialized by the resizing flag.
		oldRef.Unref(g)
		s.Unref(g)
		return
	}
	old.Unref(g)
	if grow {
		m.growths.Add(1)
	} else {
		m.shrinks.Add(1)
	}
	nt := s.Get()
	for i := 0; i < m.assistBudget(); i++ {
		if nt.partialRehash(g) {
			break
		}
	}
}
