package ccx

import (
	"github.com/llxisdsh/ccx/ebr"
)

// Linkable is the capability a type needs to participate in the lock-free
// singly linked list protocol: it exposes exactly one atomic forward link.
// The TagFirst bit of the link doubles as the deletion mark; marking a node
// makes it logically invisible to traversals while its storage persists
// until no guard can observe it.
type Linkable[T any] interface {
	Link() *ebr.AtomicShared[T]
}

// PushBack appends s behind the last live node reachable from head,
// guaranteeing FIFO order relative to the starting node. Deleted nodes
// found on the way are spliced out. cond, if non-nil, observes the current
// tail (nil for an empty list) and may reject the append; PushBack then
// returns false and ownership of s stays with the caller. On success the
// list owns s.
//
// A successful PushBack happens-before any subsequent load that observes
// the new tail.
func PushBack[T any, PT interface {
	Linkable[T]
	*T
}](head *ebr.AtomicShared[T], s *ebr.Shared[T], cond func(tail PT) bool, g *ebr.Guard) bool {
	for {
		var tail PT
		tailLink := head
		cur := tailLink.Load(g)
		for !cur.IsNil() {
			n := PT(cur.Deref(g))
			np := n.Link().Load(g)
			if np.Tag()&ebr.TagFirst != 0 {
				spliceNext[T, PT](tailLink, cur, n, g)
				cur = tailLink.Load(g)
				continue
			}
			tail = n
			tailLink = n.Link()
			cur = np
		}
		if cond != nil && !cond(tail) {
			return false
		}
		if _, ok, _ := tailLink.CompareAndSwap(cur, s, cur.Tag(), g); ok {
			return true
		}
	}
}

// Mark sets the deletion mark on the node's forward link. Idempotent.
// A mark happens-before any traversal that skips the marked node.
func Mark[T any, PT interface {
	Linkable[T]
	*T
}](n PT) {
	n.Link().OrTag(ebr.TagFirst)
}

// DeleteSelf logically removes the node from its list. The physical unlink
// happens lazily during a subsequent traversal.
func DeleteSelf[T any, PT interface {
	Linkable[T]
	*T
}](n PT) {
	Mark[T, PT](n)
}

// IsMarked reports whether the node carries the deletion mark.
func IsMarked[T any, PT interface {
	Linkable[T]
	*T
}](n PT, g *ebr.Guard) bool {
	return n.Link().Load(g).Tag()&ebr.TagFirst != 0
}

// NextPtr returns the next live node after n, lazily splicing out marked
// successors by compare-exchanging n's own link past them.
func NextPtr[T any, PT interface {
	Linkable[T]
	*T
}](n PT, g *ebr.Guard) ebr.Ptr[T] {
	for {
		p := n.Link().Load(g)
		if p.IsNil() {
			return p
		}
		succ := PT(p.Deref(g))
		if succ.Link().Load(g).Tag()&ebr.TagFirst == 0 {
			return p
		}
		spliceNext[T, PT](n.Link(), p, succ, g)
	}
}

// spliceNext swaps link from its observed value cur (pointing at the marked
// node n) to n's successor, preserving link's own tag. The removed node's
// reference is released through the collector; its storage survives until
// every guard that could observe it drains.
func spliceNext[T any, PT interface {
	Linkable[T]
	*T
}](link *ebr.AtomicShared[T], cur ebr.Ptr[T], n PT, g *ebr.Guard) {
	next := n.Link().CloneShared(g)
	if old, ok, _ := link.CompareAndSwap(cur, next, cur.Tag(), g); ok {
		if old != nil {
			old.Unref(g)
		}
	} else if next != nil {
		next.Unref(g)
	}
}
