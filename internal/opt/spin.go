package opt

import (
	"time"
	_ "unsafe" // for linkname
)

// TrySpin performs one round of active spinning if the runtime considers
// it profitable (multicore, few failed spins so far).
func TrySpin(spins *int) bool {
	if runtime_canSpin(*spins) {
		*spins++
		runtime_doSpin()
		return true
	}
	return false
}

// Delay spins first, then falls back to a short sleep.
// The 500µs duration is derived from Facebook/folly's Sleeper:
// https://github.com/facebook/folly/blob/main/folly/synchronization/detail/Sleeper.h
func Delay(spins *int) {
	if TrySpin(spins) {
		return
	}
	*spins = 0
	time.Sleep(500 * time.Microsecond)
}

// nolint:all
//
//go:linkname runtime_canSpin sync.runtime_canSpin
func runtime_canSpin(i int) bool

// nolint:all
//
//go:linkname runtime_doSpin sync.runtime_doSpin
func runtime_doSpin()
