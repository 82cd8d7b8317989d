package ebr

import (
	"sync/atomic"
	"unsafe"
)

// AtomicShared is a word-sized atomic cell holding a tagged pointer to a
// [Shared] box. A non-nil cell owns exactly one strong reference to its
// pointee. All compare-exchange forms match on address and tag together.
//
// The zero value is an untagged nil cell.
//
// Go's sync/atomic operations are sequentially consistent, which satisfies
// the minimum orderings reclamation requires (release on stores that
// publish, acquire on loads that may dereference).
type AtomicShared[T any] struct {
	p unsafe.Pointer
}

// NewAtomicShared creates a cell owning a strong reference to s.
func NewAtomicShared[T any](s *Shared[T], t Tag) AtomicShared[T] {
	var a AtomicShared[T]
	a.p = pack(unsafe.Pointer(s), t)
	return a
}

// Load returns the current tagged pointer. Counts are not touched; the
// result is valid only while g is live.
func (a *AtomicShared[T]) Load(g *Guard) Ptr[T] {
	g.check()
	return Ptr[T]{atomic.LoadPointer(&a.p)}
}

// Swap atomically replaces the stored reference and tag, transferring
// ownership of the new reference into the cell and of the previous one to
// the caller. A nil return means the cell was empty.
func (a *AtomicShared[T]) Swap(s *Shared[T], t Tag) (*Shared[T], Tag) {
	old := atomic.SwapPointer(&a.p, pack(unsafe.Pointer(s), t))
	raw, tag := unpack(old)
	return (*Shared[T])(raw), tag
}

// CompareAndSwap installs (s, t) only if the cell still holds exactly
// expected (address and tag). On success the previous reference is returned
// to the caller, who becomes responsible for releasing it, and ownership of
// s moves into the cell. On failure the caller keeps s, old is nil, and the
// currently observed pointer is returned so the caller may retry.
func (a *AtomicShared[T]) CompareAndSwap(
	expected Ptr[T], s *Shared[T], t Tag, g *Guard,
) (old *Shared[T], swapped bool, cur Ptr[T]) {
	g.check()
	if atomic.CompareAndSwapPointer(&a.p, expected.p, pack(unsafe.Pointer(s), t)) {
		raw, _ := unpack(expected.p)
		return (*Shared[T])(raw), true, expected
	}
	return nil, false, Ptr[T]{atomic.LoadPointer(&a.p)}
}

// UpdateTagIf flips the tag to t when pred holds on the currently stored
// tag, leaving the address untouched. Returns whether the update happened.
func (a *AtomicShared[T]) UpdateTagIf(t Tag, pred func(Tag) bool) bool {
	for {
		cur := atomic.LoadPointer(&a.p)
		raw, tag := unpack(cur)
		if !pred(tag) {
			return false
		}
		if tag == t {
			return true
		}
		if atomic.CompareAndSwapPointer(&a.p, cur, pack(raw, t)) {
			return true
		}
	}
}

// OrTag sets the given tag bits, returning the previously observed tag.
// Idempotent: setting bits that are already set is a no-op.
func (a *AtomicShared[T]) OrTag(t Tag) Tag {
	for {
		cur := atomic.LoadPointer(&a.p)
		raw, tag := unpack(cur)
		if tag|t == tag {
			return tag
		}
		if atomic.CompareAndSwapPointer(&a.p, cur, pack(raw, tag|t)) {
			return tag
		}
	}
}

// TakeOver atomically empties the cell and hands its strong reference to
// the caller. Returns nil if the cell was already empty.
func (a *AtomicShared[T]) TakeOver() *Shared[T] {
	raw, _ := unpack(atomic.SwapPointer(&a.p, nil))
	return (*Shared[T])(raw)
}

// CloneShared returns a new strong reference to the pointee, or nil if the
// cell is empty or the pointee is already being retired.
func (a *AtomicShared[T]) CloneShared(g *Guard) *Shared[T] {
	return Ptr[T]{atomic.LoadPointer(&a.p)}.Upgrade(g)
}
