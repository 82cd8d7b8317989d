//go:build !(amd64 || 386 || arm || mips || mipsle || wasm) || ccx_enable_padding

package opt

import (
	"unsafe"
)

// CounterStripe_ represents a striped counter to reduce contention.
// Padding is enabled for architectures where adjacent-line prefetchers
// are less forgiving (arm64, ppc64, riscv64, ...), or when forced with
// the ccx_enable_padding build tag.
type CounterStripe_ struct {
	C uintptr // Counter value, accessed atomically
	_ [(CacheLineSize_ - unsafe.Sizeof(struct {
		C uintptr
	}{})%CacheLineSize_) % CacheLineSize_]byte
}
