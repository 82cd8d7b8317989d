package ccx

import (
	"math/bits"

	"github.com/llxisdsh/ccx/internal/opt"
)

// cacheLineSize is the size of a cache line in bytes.
const cacheLineSize = opt.CacheLineSize_

const (
	// cellCap is the number of entry slots in a cell. Each slot has one
	// metadata byte: 0x00 when empty, 0x80|h2 when occupied, so the
	// occupancy bitmap and the hash fragments live in the same words.
	cellCap   = 32
	metaWords = cellCap / 8

	slotEmpty uint8  = 0
	slotMask  uint8  = 0x80
	metaMask  uint64 = 0x8080808080808080
)

// Performance and resizing configuration
const (
	// loadFactor: grow the cell array when occupancy > loadFactor
	loadFactor = 0.75
	// shrinkFraction: shrink when occupancy < 1/shrinkFraction
	shrinkFraction = 8
	// defaultCapacity is the default initial entry capacity.
	defaultCapacity = 64
	// defaultMaxAssist bounds helper migrations per operation.
	defaultMaxAssist = 2
	// rehashChunk is the number of cells one assist step migrates.
	rehashChunk = 32
)

// nextPowOf2 calculates the smallest power of 2 greater than or equal to n.
//
//go:nosplit
func nextPowOf2(n int) int {
	if n <= 0 {
		return 1
	}
	v := n - 1
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v |= v >> 32
	return v + 1
}

// calcCells computes the cell count needed to hold capacity entries.
//
//go:nosplit
func calcCells(capacity int) int {
	return nextPowOf2((capacity + cellCap - 1) / cellCap)
}

// ============================================================================
// SWAR Utilities
// ============================================================================

// broadcast replicates a byte value across all bytes of an uint64.
//
//go:nosplit
func broadcast(b uint8) uint64 {
	return 0x101010101010101 * uint64(b)
}

// markZeroBytes implements SWAR (SIMD Within A Register) byte search.
// Returns an uint64 with the most significant bit of each byte set if that
// byte is zero. A borrow out of a zero byte can also mark the byte above it
// when that byte is 0x01. Raw metadata words cannot produce this, since
// every non-empty metadata byte has its high bit set; on the XOR'd words
// that lookups scan, such false positives are rejected by the key
// comparison.
//
//go:nosplit
func markZeroBytes(w uint64) uint64 {
	return (w - 0x0101010101010101) & (^w) & metaMask
}

// firstMarkedByteIndex finds the index of the first marked byte in w.
//
//go:nosplit
func firstMarkedByteIndex(w uint64) int {
	return bits.TrailingZeros64(w) >> 3
}

// setByte sets the byte at index idx in w to b.
//
//go:nosplit
func setByte(w uint64, b uint8, idx int) uint64 {
	shift := idx << 3
	return (w &^ (0xff << shift)) | (uint64(b) << shift)
}

// ============================================================================
// Locker Utilities
// ============================================================================

// noCopy may be added to structs which must not be copied
// after the first use.
//
// See https://golang.org/issues/8005#issuecomment-190753527
// for details.
type noCopy struct{}

// Lock is a no-op used by -copylocks checker from `go vet`.
func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

func delay(spins *int) {
	opt.Delay(spins)
}
