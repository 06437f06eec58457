package rules

import "github.com/haukened/rr-adblock/internal/adblock/domain"

// BloomFilter is a probabilistic set of hosts that carry a host rule. A
// false MightContain means the store need not be consulted for that host.
type BloomFilter interface {
	Add(host string)
	MightContain(host string) bool
	Clear()
	// Keys approximates the distinct hosts added since the last Clear.
	Keys() uint64
}

// BloomFactory builds filters sized for a dataset.
type BloomFactory interface {
	New(capacity uint64, fpRate float64) BloomFilter
}

// VerdictCache caches block verdicts by lowercased URL with basic metrics.
type VerdictCache interface {
	Get(url string) (blocked bool, ok bool)
	Put(url string, blocked bool)
	Len() int
	Purge()
	Stats() CacheStats
}

// Store is the authoritative index of host rules.
//   - PutRules: add host rules in one batch, bumping the snapshot version
//   - FirstMatch: the first rule with action whose host is in hosts, in order
//   - Purge: drop every rule, keeping the store usable
type Store interface {
	PutRules(rules []domain.FilterRule) error
	FirstMatch(action domain.RuleAction, hosts []string) (domain.FilterRule, bool, error)
	Purge() error
	Stats() StoreStats
	Close() error
}

// StoreOpener opens a Store. The engine calls it on every Init so that a
// shut down engine can be brought back.
type StoreOpener func() (Store, error)
