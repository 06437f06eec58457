package domain

import "time"

// DefaultFreshnessWindow is the age under which a cached list is reused
// without a network fetch.
const DefaultFreshnessWindow = 24 * time.Hour

// CacheEntry describes the on-disk copy of a filter source.
type CacheEntry struct {
	SourceID  string
	Path      string
	FetchedAt time.Time // file modification time
	Size      int64
}

// Age returns how old the entry is at now.
func (e CacheEntry) Age(now time.Time) time.Duration {
	return now.Sub(e.FetchedAt)
}

// IsFresh reports whether the entry is younger than window at now.
func (e CacheEntry) IsFresh(now time.Time, window time.Duration) bool {
	return e.Age(now) < window
}
