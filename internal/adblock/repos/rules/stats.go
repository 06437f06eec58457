package rules

// CacheStats reports lightweight cache metrics.
// All fields are best-effort snapshots and may be updated concurrently.
type CacheStats struct {
	Capacity  int    // configured capacity (0 for disabled cache)
	Size      int    // current number of entries
	Hits      uint64 // total cache hits since construction
	Misses    uint64 // total cache misses since construction
	Evictions uint64 // total evictions since construction
}

// StoreStats reports lightweight store metrics and metadata.
type StoreStats struct {
	Version     uint64 // bumped on every PutRules batch
	UpdatedUnix int64  // last write unix time (0 if unknown)
	BlockHosts  uint64 // number of blocking host keys
	AllowHosts  uint64 // number of exception host keys
}

// EngineStats exposes engine-level counters and the underlying store stats.
type EngineStats struct {
	Ready         bool
	BlockPatterns int // non-host blocking rules held in memory
	AllowPatterns int // non-host exception rules held in memory
	Loads         uint64
	BloomKeys     uint64 // approximate hosts in the prefilter
	Cache         CacheStats
	Store         StoreStats
}

// Rules returns the total number of rules the engine currently holds.
func (s EngineStats) Rules() uint64 {
	return s.Store.BlockHosts + s.Store.AllowHosts + uint64(s.BlockPatterns) + uint64(s.AllowPatterns)
}
