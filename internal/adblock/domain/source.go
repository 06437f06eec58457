package domain

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/haukened/rr-adblock/internal/adblock/common/urlutil"
)

// DefaultCacheExtension is appended to a cache file name derived from a URL
// whose trailing segment has no extension.
const DefaultCacheExtension = ".txt"

// FilterSource is a remotely hosted filter list and where it is cached.
// The set of sources is fixed at construction and immutable afterwards.
type FilterSource struct {
	ID        string // stable identifier used in logs and metrics
	URL       string // remote location of the list
	CachePath string // local cache file
}

// DefaultSourceURLs are the well-known lists used when nothing is configured.
var DefaultSourceURLs = []string{
	"https://filters.adtidy.org/extension/chromium/filters/2.txt",  // AdGuard Base
	"https://easylist.to/easylist/easylist.txt",                    // EasyList
	"https://easylist.to/easylist/easyprivacy.txt",                 // EasyPrivacy
	"https://filters.adtidy.org/extension/chromium/filters/3.txt",  // AdGuard Tracking Protection
	"https://filters.adtidy.org/extension/chromium/filters/14.txt", // AdGuard Annoyances
}

// CacheFileName derives the cache file name from a source URL: the trailing
// path segment, with DefaultCacheExtension appended when it has none.
func CacheFileName(url string) string {
	name := urlutil.LastSegment(url)
	if name == "" {
		name = "filter"
	}
	if !strings.Contains(name, ".") {
		name += DefaultCacheExtension
	}
	return name
}

// NewFilterSource builds a FilterSource cached under dir. An empty id
// defaults to the cache file name.
func NewFilterSource(id, url, dir string) (FilterSource, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return FilterSource{}, fmt.Errorf("%w: filter source url must not be empty", ErrInvalidInput)
	}
	if dir == "" {
		return FilterSource{}, fmt.Errorf("%w: cache directory must not be empty", ErrInvalidInput)
	}
	name := CacheFileName(url)
	if id = strings.TrimSpace(id); id == "" {
		id = name
	}
	return FilterSource{ID: id, URL: url, CachePath: filepath.Join(dir, name)}, nil
}

// SourceSpec is the configuration form of a FilterSource before a cache
// directory is known.
type SourceSpec struct {
	ID  string
	URL string
}

// NewFilterSources builds sources for every spec, rejecting two sources that
// would share a cache file.
func NewFilterSources(specs []SourceSpec, dir string) ([]FilterSource, error) {
	out := make([]FilterSource, 0, len(specs))
	seen := make(map[string]string, len(specs))
	for _, spec := range specs {
		src, err := NewFilterSource(spec.ID, spec.URL, dir)
		if err != nil {
			return nil, err
		}
		if prev, ok := seen[src.CachePath]; ok {
			return nil, fmt.Errorf("%w: sources %q and %q share cache file %s", ErrInvalidInput, prev, src.URL, src.CachePath)
		}
		seen[src.CachePath] = src.URL
		out = append(out, src)
	}
	return out, nil
}

// SpecsFromURLs turns bare URLs into specs with derived ids.
func SpecsFromURLs(urls []string) []SourceSpec {
	out := make([]SourceSpec, 0, len(urls))
	for _, u := range urls {
		out = append(out, SourceSpec{URL: u})
	}
	return out
}
