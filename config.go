package ccx

// HashFunc computes a 64-bit digest of key under seed. The top bits of the
// digest select the cell; bits 8..16 provide the per-slot fragment.
type HashFunc[K comparable] func(key K, seed uint64) uint64

// Config defines configurable options for HashMap initialization.
type Config struct {
	// capacity provides an estimate of the expected number of entries.
	// It is rounded up so the cell count is a power of two and serves as
	// the floor below which the table never shrinks.
	capacity int

	// maxAssist bounds how many migration chunks one writer contributes
	// per operation during a resize.
	maxAssist int

	// autoShrink controls whether the table may shrink when occupancy
	// falls below 1/shrinkFraction. Disabled by default.
	autoShrink bool

	// hash holds a type-erased HashFunc[K]; nil selects the built-in
	// maphash-based hasher.
	hash any
}

// WithCapacity configures a new HashMap with at least n entry slots, the
// cell count rounded up to a power of two. The table still grows once
// occupancy exceeds the load factor of that slot capacity. Zero or negative
// values are ignored.
func WithCapacity(n int) func(*Config) {
	return func(c *Config) {
		c.capacity = n
	}
}

// WithMaxAssist bounds the number of helper migration chunks a single
// operation performs during a resize. Zero or negative values are ignored.
func WithMaxAssist(n int) func(*Config) {
	return func(c *Config) {
		c.maxAssist = n
	}
}

// WithAutoShrink enables automatic shrinking when the load factor falls
// below the shrink threshold. Disabled by default to prioritize
// performance.
func WithAutoShrink() func(*Config) {
	return func(c *Config) {
		c.autoShrink = true
	}
}

// WithHasher sets a custom key hashing function.
//
// Usage:
//
//	m := NewHashMap[string, int](WithHasher(myHash))
//
// The seed passed to fn is fixed per map instance.
func WithHasher[K comparable](fn HashFunc[K]) func(*Config) {
	return func(c *Config) {
		if fn != nil {
			c.hash = fn
		}
	}
}
