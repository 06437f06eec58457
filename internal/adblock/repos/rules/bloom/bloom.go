// Package bloom provides the host prefilter used by the rule engine.
package bloom

import (
	"strings"
	"sync"

	bitsbloom "github.com/bits-and-blooms/bloom/v3"

	"github.com/haukened/rr-adblock/internal/adblock/repos/rules"
)

// DefaultFPRate is used when a caller passes a rate outside (0, 1).
const DefaultFPRate = 0.01

type factory struct{}

// NewFactory returns a BloomFactory backed by bits-and-blooms filters sized
// from the expected host count and target false-positive rate.
func NewFactory() rules.BloomFactory { return factory{} }

func (factory) New(capacity uint64, fpRate float64) rules.BloomFilter {
	capacity, fpRate = normalize(capacity, fpRate)
	return &hostFilter{bf: bitsbloom.NewWithEstimates(uint(capacity), fpRate)}
}

// Estimate returns the bit count and hash count a filter built with the same
// arguments would use.
func Estimate(capacity uint64, fpRate float64) (bits, hashes uint) {
	capacity, fpRate = normalize(capacity, fpRate)
	return bitsbloom.EstimateParameters(uint(capacity), fpRate)
}

func normalize(capacity uint64, fpRate float64) (uint64, float64) {
	if capacity == 0 {
		capacity = 1
	}
	if !(fpRate > 0 && fpRate < 1) {
		fpRate = DefaultFPRate
	}
	return capacity, fpRate
}

// hostFilter keys on the lowercased host without a trailing dot. Lookups
// take the read lock since lists are loaded while requests are matched.
type hostFilter struct {
	mu   sync.RWMutex
	bf   *bitsbloom.BloomFilter
	keys uint64
}

func hostKey(host string) string {
	return strings.TrimSuffix(strings.ToLower(host), ".")
}

func (f *hostFilter) Add(host string) {
	key := hostKey(host)
	f.mu.Lock()
	if !f.bf.TestOrAddString(key) {
		f.keys++
	}
	f.mu.Unlock()
}

func (f *hostFilter) MightContain(host string) bool {
	key := hostKey(host)
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.bf.TestString(key)
}

func (f *hostFilter) Clear() {
	f.mu.Lock()
	f.bf.ClearAll()
	f.keys = 0
	f.mu.Unlock()
}

func (f *hostFilter) Keys() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.keys
}
