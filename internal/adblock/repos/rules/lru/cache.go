// Package lru caches URL verdicts in front of the rule engine's matchers.
package lru

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/haukened/rr-adblock/internal/adblock/repos/rules"
)

// verdictCache is an LRU-backed implementation of rules.VerdictCache.
// It tracks basic metrics: hits, misses, and evictions.
type verdictCache struct {
	lru       *lru.Cache[string, bool]
	capacity  int
	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// disabledCache is a no-op VerdictCache used when size <= 0.
type disabledCache struct{}

// New creates a new VerdictCache with the given capacity. If size <= 0, a
// disabled cache is returned that always misses and tracks no metrics.
func New(size int) (rules.VerdictCache, error) {
	if size <= 0 {
		return disabledCache{}, nil
	}

	vc := &verdictCache{capacity: size}
	// NewWithEvict observes evictions, including Purge-induced ones.
	cache, err := lru.NewWithEvict(size, func(_ string, _ bool) {
		vc.evictions.Add(1)
	})
	if err != nil {
		return nil, err
	}
	vc.lru = cache
	return vc, nil
}

// Get looks up a verdict by URL, counting the hit or miss.
func (c *verdictCache) Get(url string) (bool, bool) {
	if blocked, ok := c.lru.Get(url); ok {
		c.hits.Add(1)
		return blocked, true
	}
	c.misses.Add(1)
	return false, false
}

func (c *verdictCache) Put(url string, blocked bool) { c.lru.Add(url, blocked) }

func (c *verdictCache) Len() int { return c.lru.Len() }

// Purge clears all entries. Evictions are counted via the eviction callback.
func (c *verdictCache) Purge() { c.lru.Purge() }

func (c *verdictCache) Stats() rules.CacheStats {
	return rules.CacheStats{
		Capacity:  c.capacity,
		Size:      c.lru.Len(),
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}

// disabledCache implementation

func (disabledCache) Get(string) (bool, bool) { return false, false }

func (disabledCache) Put(string, bool) {}

func (disabledCache) Len() int { return 0 }

func (disabledCache) Purge() {}

func (disabledCache) Stats() rules.CacheStats { return rules.CacheStats{} }

var (
	_ rules.VerdictCache = (*verdictCache)(nil)
	_ rules.VerdictCache = disabledCache{}
)
