package ccx

import (
	"context"
	"sync/atomic"

	"github.com/llxisdsh/ccx/ebr"
	"github.com/llxisdsh/ccx/internal/opt"
)

// Cell state bits. The lock bit serializes writers; readers never touch it.
const (
	cellLocked  uint32 = 1 << 31
	cellKilled  uint32 = 1 << 30
	cellWaiting uint32 = 1 << 29
)

// entry is an immutable key/value pair. Updates publish a fresh entry
// instead of mutating in place, so lock-free readers never observe a torn
// value.
type entry[K comparable, V any] struct {
	key K
	val V
}

// ovNode carries one entry that did not fit into the cell's slot array,
// linked through the lock-free list protocol. Marking its forward link
// deletes it logically; storage persists until no guard can observe it.
type ovNode[K comparable, V any] struct {
	link ebr.AtomicShared[ovNode[K, V]]
	e    *entry[K, V]
}

func (n *ovNode[K, V]) Link() *ebr.AtomicShared[ovNode[K, V]] {
	return &n.link
}

func reclaimNode[K comparable, V any](n *ovNode[K, V]) {
	if s := n.link.TakeOver(); s != nil {
		s.UnrefDeferred()
	}
}

// cell is a fixed-capacity slot group. One metadata byte per slot packs the
// occupancy bit and a 7-bit hash fragment, so a reader scans four words to
// rule out 32 slots without touching keys. Writers publish the entry
// pointer first and the metadata byte second; removal clears the byte
// first. Either order guarantees a racing reader sees a complete entry or
// an empty slot, never a torn one.
type cell[K comparable, V any] struct {
	meta    [metaWords]atomic.Uint64
	state   atomic.Uint32
	num     atomic.Uint32
	waiters waitQueue
	over    ebr.AtomicShared[ovNode[K, V]]
	slots   [cellCap]atomic.Pointer[entry[K, V]]
}

// ============================================================================
// Locking
// ============================================================================

func (c *cell[K, V]) tryLock() bool {
	for {
		s := c.state.Load()
		if s&cellLocked != 0 {
			return false
		}
		if c.state.CompareAndSwap(s, s|cellLocked) {
			return true
		}
	}
}

// lock blocks until the cell's writer lock is held. Contended callers spin
// briefly, then park on the cell's wait queue.
func (c *cell[K, V]) lock() {
	var spins int
	for {
		if c.tryLock() {
			return
		}
		if opt.TrySpin(&spins) {
			continue
		}
		w := &waiter{}
		c.waiters.acquire()
		c.state.Or(cellWaiting)
		if c.tryLock() {
			// Raced with the unlocker; nobody will signal us.
			if c.waiters.empty() {
				c.state.And(^cellWaiting)
			}
			c.waiters.release()
			return
		}
		c.waiters.push(w)
		c.waiters.release()
		w.sema.Acquire()
		spins = 0
	}
}

// lockCtx is the cooperative counterpart of lock. The guard is surrendered
// across the suspension point so a parked writer never stalls reclamation,
// and cancellation unhooks the waiter node.
func (c *cell[K, V]) lockCtx(ctx context.Context, g *ebr.Guard) error {
	var spins int
	for {
		if c.tryLock() {
			return nil
		}
		if opt.TrySpin(&spins) {
			continue
		}
		w := &waiter{ch: make(chan struct{}, 1)}
		c.waiters.acquire()
		c.state.Or(cellWaiting)
		if c.tryLock() {
			if c.waiters.empty() {
				c.state.And(^cellWaiting)
			}
			c.waiters.release()
			return nil
		}
		c.waiters.push(w)
		c.waiters.release()
		g.Leave()
		select {
		case <-w.ch:
			g.Enter()
			spins = 0
		case <-ctx.Done():
			c.waiters.acquire()
			removed := c.waiters.remove(w)
			if c.waiters.empty() {
				c.state.And(^cellWaiting)
			}
			c.waiters.release()
			if !removed {
				// The unlocker dequeued us already; consume its signal and
				// pass the wake-up on.
				<-w.ch
				c.wake()
			}
			g.Enter()
			return ctx.Err()
		}
	}
}

func (c *cell[K, V]) unlock() {
	s := c.state.And(^cellLocked)
	if s&cellWaiting == 0 {
		return
	}
	c.wake()
}

func (c *cell[K, V]) wake() {
	c.waiters.acquire()
	w := c.waiters.pop()
	if c.waiters.empty() {
		c.state.And(^cellWaiting)
	}
	c.waiters.release()
	if w != nil {
		w.signal()
	}
}

func (c *cell[K, V]) killed() bool {
	return c.state.Load()&cellKilled != 0
}

// ============================================================================
// Slot metadata
// ============================================================================

func (c *cell[K, V]) metaByte(i int) uint8 {
	return uint8(c.meta[i>>3].Load() >> ((i & 7) << 3))
}

// setSlot publishes the entry first and its metadata byte second.
func (c *cell[K, V]) setSlot(i int, e *entry[K, V], hb uint8) {
	c.slots[i].Store(e)
	w := &c.meta[i>>3]
	w.Store(setByte(w.Load(), hb, i&7))
}

// clearSlot retracts the metadata byte first, then the entry pointer.
func (c *cell[K, V]) clearSlot(i int) *entry[K, V] {
	w := &c.meta[i>>3]
	w.Store(setByte(w.Load(), slotEmpty, i&7))
	e := c.slots[i].Load()
	c.slots[i].Store(nil)
	return e
}

// ============================================================================
// Operations
// ============================================================================

// find locates the entry for key without taking the lock. hb is the
// metadata byte (slotMask | 7-bit fragment) derived from the key's hash.
func (c *cell[K, V]) find(key K, hb uint8, g *ebr.Guard) (*entry[K, V], bool) {
	if c.num.Load() == 0 {
		return nil, false
	}
	// Preferred slot first, then a SWAR sweep over the metadata words.
	pi := int(hb) % cellCap
	if c.metaByte(pi) == hb {
		if e := c.slots[pi].Load(); e != nil && e.key == key {
			return e, true
		}
	}
	for w := 0; w < metaWords; w++ {
		mm := markZeroBytes(c.meta[w].Load() ^ broadcast(hb))
		for mm != 0 {
			i := w<<3 | firstMarkedByteIndex(mm)
			if i != pi {
				if e := c.slots[i].Load(); e != nil && e.key == key {
					return e, true
				}
			}
			mm &= mm - 1
		}
	}
	p := c.over.Load(g)
	for !p.IsNil() {
		n := p.Deref(g)
		np := n.link.Load(g)
		if np.Tag()&ebr.TagFirst == 0 && n.e.key == key {
			return n.e, true
		}
		p = np
	}
	return nil, false
}

// findSlot returns the slot index holding key, or -1. Caller holds the
// lock.
func (c *cell[K, V]) findSlot(key K, hb uint8) int {
	for w := 0; w < metaWords; w++ {
		mm := markZeroBytes(c.meta[w].Load() ^ broadcast(hb))
		for mm != 0 {
			i := w<<3 | firstMarkedByteIndex(mm)
			if e := c.slots[i].Load(); e != nil && e.key == key {
				return i
			}
			mm &= mm - 1
		}
	}
	return -1
}

// findNode returns the live overflow node holding key. Caller holds the
// lock.
func (c *cell[K, V]) findNode(key K, g *ebr.Guard) *ovNode[K, V] {
	p := c.over.Load(g)
	for !p.IsNil() {
		n := p.Deref(g)
		np := n.link.Load(g)
		if np.Tag()&ebr.TagFirst == 0 && n.e.key == key {
			return n
		}
		p = np
	}
	return nil
}

// insertLocked places e into the first free slot, preferring the fragment
// slot, spilling into the overflow list when all 32 slots are taken.
// Caller holds the lock and has verified the key is absent.
func (c *cell[K, V]) insertLocked(e *entry[K, V], hb uint8, g *ebr.Guard) {
	pi := int(hb) % cellCap
	if c.metaByte(pi) == slotEmpty {
		c.setSlot(pi, e, hb)
		c.num.Add(1)
		return
	}
	for w := 0; w < metaWords; w++ {
		if z := markZeroBytes(c.meta[w].Load()); z != 0 {
			c.setSlot(w<<3|firstMarkedByteIndex(z), e, hb)
			c.num.Add(1)
			return
		}
	}
	s := ebr.NewSharedReclaim(ovNode[K, V]{e: e}, reclaimNode[K, V])
	PushBack(&c.over, s, nil, g)
	c.num.Add(1)
}

// removeLocked removes key and returns its entry. Overflow entries are
// marked first, then spliced; readers that already passed the node skip the
// tombstone. Caller holds the lock.
func (c *cell[K, V]) removeLocked(key K, hb uint8, g *ebr.Guard) (*entry[K, V], bool) {
	if i := c.findSlot(key, hb); i >= 0 {
		e := c.clearSlot(i)
		c.num.Add(^uint32(0))
		return e, true
	}
	prevLink := &c.over
	cur := prevLink.Load(g)
	for !cur.IsNil() {
		n := cur.Deref(g)
		np := n.link.Load(g)
		if np.Tag()&ebr.TagFirst != 0 {
			spliceNext(prevLink, cur, n, g)
			cur = prevLink.Load(g)
			continue
		}
		if n.e.key == key {
			Mark(n)
			spliceNext(prevLink, cur, n, g)
			c.num.Add(^uint32(0))
			return n.e, true
		}
		prevLink = &n.link
		cur = np
	}
	return nil, false
}

// updateLocked republishes key's entry with fn applied to a copy of the
// value. For overflow entries the replacement is appended behind the old
// node before the old one is marked, so a racing reader observes either the
// old or the new value, never neither. Caller holds the lock.
func (c *cell[K, V]) updateLocked(key K, hb uint8, fn func(*V), g *ebr.Guard) bool {
	if i := c.findSlot(key, hb); i >= 0 {
		old := c.slots[i].Load()
		nv := old.val
		fn(&nv)
		c.slots[i].Store(&entry[K, V]{key: key, val: nv})
		return true
	}
	n := c.findNode(key, g)
	if n == nil {
		return false
	}
	nv := n.e.val
	fn(&nv)
	s := ebr.NewSharedReclaim(
		ovNode[K, V]{e: &entry[K, V]{key: key, val: nv}},
		reclaimNode[K, V],
	)
	PushBack(&c.over, s, nil, g)
	Mark(n)
	c.sweepOverflow(g)
	return true
}

// sweepOverflow splices every marked node out of the overflow list.
// Caller holds the lock.
func (c *cell[K, V]) sweepOverflow(g *ebr.Guard) {
	prevLink := &c.over
	cur := prevLink.Load(g)
	for !cur.IsNil() {
		n := cur.Deref(g)
		np := n.link.Load(g)
		if np.Tag()&ebr.TagFirst != 0 {
			spliceNext(prevLink, cur, n, g)
			cur = prevLink.Load(g)
			continue
		}
		prevLink = &n.link
		cur = np
	}
}

// forEachLocked visits every live entry. Caller holds the lock.
func (c *cell[K, V]) forEachLocked(g *ebr.Guard, fn func(e *entry[K, V]) bool) bool {
	for i := 0; i < cellCap; i++ {
		if c.metaByte(i) != slotEmpty {
			if e := c.slots[i].Load(); e != nil && !fn(e) {
				return false
			}
		}
	}
	p := c.over.Load(g)
	for !p.IsNil() {
		n := p.Deref(g)
		np := n.link.Load(g)
		if np.Tag()&ebr.TagFirst == 0 && !fn(n.e) {
			return false
		}
		p = np
	}
	return true
}

// retainLocked removes entries rejected by pred; returns how many were
// dropped. Caller holds the lock.
func (c *cell[K, V]) retainLocked(g *ebr.Guard, pred func(e *entry[K, V]) bool) int {
	removed := 0
	for i := 0; i < cellCap; i++ {
		if c.metaByte(i) != slotEmpty {
			if e := c.slots[i].Load(); e != nil && !pred(e) {
				c.clearSlot(i)
				removed++
			}
		}
	}
	p := c.over.Load(g)
	for !p.IsNil() {
		n := p.Deref(g)
		np := n.link.Load(g)
		if np.Tag()&ebr.TagFirst == 0 && !pred(n.e) {
			Mark(n)
			removed++
		}
		p = np
	}
	if removed > 0 {
		c.sweepOverflow(g)
		c.num.Add(^uint32(removed - 1))
	}
	return removed
}

// purgeLocked drops every entry; returns how many. Caller holds the lock.
func (c *cell[K, V]) purgeLocked(g *ebr.Guard) int {
	removed := 0
	for i := 0; i < cellCap; i++ {
		if c.metaByte(i) != slotEmpty {
			c.clearSlot(i)
			removed++
		}
	}
	if s := c.over.TakeOver(); s != nil {
		for n := s.Get(); n != nil; {
			np := n.link.Load(g)
			if np.Tag()&ebr.TagFirst == 0 {
				removed++
			}
			if np.IsNil() {
				break
			}
			n = np.Deref(g)
		}
		s.Unref(g)
	}
	c.num.Store(0)
	return removed
}
