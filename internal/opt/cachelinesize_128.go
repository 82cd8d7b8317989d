//go:build ccx_cachelinesize_128

package opt

// CacheLineSize_ override for builds that want a fixed 128-byte line.
const CacheLineSize_ = 128
