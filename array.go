package ccx

import (
	"hash/maphash"
	"math/bits"
	"math/rand/v2"
	"runtime"
	"sync/atomic"

	"github.com/llxisdsh/ccx/ebr"
	"github.com/llxisdsh/ccx/internal/opt"
)

// table is one generation of the cell array. Length is a power of two; the
// top bits of a key's digest select the cell. During a resize the successor
// publishes itself as current and keeps one strong reference to its
// predecessor: writers drain predecessor cells before using their own,
// readers search the predecessor first while it still has live cells.
// Hasher state and the size stripes are shared across generations.
type table[K comparable, V any] struct {
	cells    []cell[K, V]
	shift    uint // cell index = hash >> shift
	seed     maphash.Seed
	useed    uint64
	hash     HashFunc[K]
	size     []opt.CounterStripe_
	sizeMask uintptr

	old       ebr.AtomicShared[table[K, V]]
	rehashing atomic.Int64
	rehashed  atomic.Int64
}

// h2 extracts the metadata byte for in-cell lookups: bits 8..16 of the
// digest, truncated to 7 bits, with the occupancy marker set.
//
//go:nosplit
func h2(h uint64) uint8 {
	return uint8(h>>8)&0x7f | slotMask
}

func (t *table[K, V]) hashOf(key K) uint64 {
	if t.hash != nil {
		return t.hash(key, t.useed)
	}
	return maphash.Comparable(t.seed, key)
}

//go:nosplit
func (t *table[K, V]) index(h uint64) int {
	return int(h >> t.shift)
}

func (t *table[K, V]) capacity() int {
	return len(t.cells) * cellCap
}

func (t *table[K, V]) addSize(h uint64, delta int) {
	s := &t.size[uintptr(h)&t.sizeMask]
	atomic.AddUintptr(&s.C, uintptr(delta))
}

func (t *table[K, V]) addSizeAt(i int, delta int) {
	s := &t.size[uintptr(i)&t.sizeMask]
	atomic.AddUintptr(&s.C, uintptr(delta))
}

func (t *table[K, V]) sumSize() int {
	var n uintptr
	for i := range t.size {
		n += atomic.LoadUintptr(&t.size[i].C)
	}
	return int(n)
}

// newTable builds a generation of cellsLen cells. from, when non-nil,
// donates the hasher state and size stripes so hashes and counts stay
// stable across resizes.
func newTable[K comparable, V any](cellsLen int, from *table[K, V], hash HashFunc[K]) *ebr.Shared[table[K, V]] {
	return ebr.NewSharedInit(func(t *table[K, V]) {
		t.cells = make([]cell[K, V], cellsLen)
		t.shift = uint(64 - bits.TrailingZeros(uint(cellsLen)))
		if from != nil {
			t.seed = from.seed
			t.useed = from.useed
			t.hash = from.hash
			t.size = from.size
			t.sizeMask = from.sizeMask
			return
		}
		t.seed = maphash.MakeSeed()
		t.useed = rand.Uint64()
		t.hash = hash
		n := nextPowOf2(runtime.GOMAXPROCS(0))
		t.size = make([]opt.CounterStripe_, n)
		t.sizeMask = uintptr(n - 1)
	}, nil)
}

// killCell migrates every entry of the old cell at index oi into nt and
// marks the cell migrated. Entries redistribute by the extra hash bit(s);
// target cells are locked in ascending index order, and no other operation
// holds more than one cell lock, so the two-table lock pattern cannot
// deadlock. Caller holds the old cell's lock.
func killCell[K comparable, V any](ot *table[K, V], oi int, c *cell[K, V], nt *table[K, V], g *ebr.Guard) {
	if c.killed() {
		return
	}
	first, count := oi, 1
	if len(nt.cells) >= len(ot.cells) {
		ratio := len(nt.cells) / len(ot.cells)
		first, count = oi*ratio, ratio
	} else {
		first = oi / (len(ot.cells) / len(nt.cells))
	}
	for i := 0; i < count; i++ {
		nt.cells[first+i].lock()
	}
	for i := 0; i < cellCap; i++ {
		if c.metaByte(i) == slotEmpty {
			continue
		}
		e := c.slots[i].Load()
		h := nt.hashOf(e.key)
		nt.cells[nt.index(h)].insertLocked(e, h2(h), g)
		c.clearSlot(i)
	}
	if p := c.over.Load(g); !p.IsNil() {
		n := p.Deref(g)
		for {
			np := n.link.Load(g)
			if np.Tag()&ebr.TagFirst == 0 {
				h := nt.hashOf(n.e.key)
				nt.cells[nt.index(h)].insertLocked(n.e, h2(h), g)
			}
			if np.IsNil() {
				break
			}
			n = np.Deref(g)
		}
		// Readers that loaded the head before the takeover keep walking
		// the intact chain until their guards drain.
		c.over.TakeOver().Unref(g)
	}
	c.state.Or(cellKilled)
	for i := count - 1; i >= 0; i-- {
		nt.cells[first+i].unlock()
	}
}

// partialRehash migrates up to one chunk of predecessor cells, claiming the
// chunk through the rehashing cursor. Returns true once no predecessor
// remains. The last finisher retires the old generation; its storage
// outlives any reader still holding a guard over it.
func (t *table[K, V]) partialRehash(g *ebr.Guard) bool {
	op := t.old.Load(g)
	if op.IsNil() {
		return true
	}
	ot := op.Deref(g)
	oldLen := int64(len(ot.cells))
	var start int64
	for {
		cur := t.rehashing.Load()
		if cur >= oldLen {
			return t.old.Load(g).IsNil()
		}
		if t.rehashing.CompareAndSwap(cur, cur+rehashChunk) {
			start = cur
			break
		}
	}
	end := min(start+rehashChunk, oldLen)
	for i := start; i < end; i++ {
		c := &ot.cells[i]
		if c.killed() {
			continue
		}
		c.lock()
		killCell(ot, int(i), c, t, g)
		c.unlock()
	}
	if t.rehashed.Add(end-start) >= oldLen {
		if s := t.old.TakeOver(); s != nil {
			s.Unref(g)
		}
		return true
	}
	return false
}
