package rules

// nopBloom is used when no BloomFactory is configured. It never rules a key
// out, so every lookup falls through to the store.
type nopBloom struct{}

func (nopBloom) Add(string)               {}
func (nopBloom) MightContain(string) bool { return true }
func (nopBloom) Clear()                   {}
func (nopBloom) Keys() uint64             { return 0 }

// nopCache is used when no VerdictCache is configured; it always misses.
type nopCache struct{}

func (nopCache) Get(string) (bool, bool) { return false, false }
func (nopCache) Put(string, bool)        {}
func (nopCache) Len() int                { return 0 }
func (nopCache) Purge()                  {}
func (nopCache) Stats() CacheStats       { return CacheStats{} }

var (
	_ BloomFilter  = nopBloom{}
	_ VerdictCache = nopCache{}
)
