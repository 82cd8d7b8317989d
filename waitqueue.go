package ccx

import (
	"github.com/llxisdsh/ccx/internal/opt"
)

// waiter is one parked writer. Synchronous waiters sleep on a runtime
// semaphore; context-aware waiters on a channel, so cancellation can race
// cleanly with the wake-up.
type waiter struct {
	next *waiter
	sema opt.Sema
	ch   chan struct{} // nil for synchronous waiters
}

func (w *waiter) signal() {
	if w.ch != nil {
		w.ch <- struct{}{}
		return
	}
	w.sema.Release()
}

// waitQueue is an intrusive FIFO of waiters behind a bit-locked word.
// The cell's WAITING state bit tracks non-emptiness so the unlock path can
// skip the queue entirely in the common uncontended case.
type waitQueue struct {
	lock uint32
	head *waiter
	tail *waiter
}

const waitQueueLockBit uint32 = 1

func (q *waitQueue) acquire() {
	BitLockUint32(&q.lock, waitQueueLockBit)
}

func (q *waitQueue) release() {
	BitUnlockUint32(&q.lock, waitQueueLockBit)
}

// push appends w. Caller holds the queue lock.
func (q *waitQueue) push(w *waiter) {
	if q.tail == nil {
		q.head = w
		q.tail = w
		return
	}
	q.tail.next = w
	q.tail = w
}

// pop removes and returns the head waiter. Caller holds the queue lock.
func (q *waitQueue) pop() *waiter {
	w := q.head
	if w == nil {
		return nil
	}
	q.head = w.next
	if q.head == nil {
		q.tail = nil
	}
	w.next = nil
	return w
}

// remove unhooks w if it is still queued; reports whether it was.
// Caller holds the queue lock.
func (q *waitQueue) remove(w *waiter) bool {
	var prev *waiter
	for cur := q.head; cur != nil; cur = cur.next {
		if cur == w {
			if prev == nil {
				q.head = cur.next
			} else {
				prev.next = cur.next
			}
			if q.tail == cur {
				q.tail = prev
			}
			w.next = nil
			return true
		}
		prev = cur
	}
	return false
}

// empty reports whether the queue has no waiters. Caller holds the queue
// lock.
func (q *waitQueue) empty() bool {
	return q.head == nil
}
