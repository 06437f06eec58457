package rules

import (
	"sync"
	"time"

	"github.com/haukened/rr-adblock/internal/adblock/domain"
)

// memoryStore is the Store used when no database path is configured.
type memoryStore struct {
	mu      sync.RWMutex
	block   map[string]string
	allow   map[string]string
	version uint64
	updated int64
}

// NewMemoryStore returns an empty in-memory Store.
func NewMemoryStore() Store {
	return &memoryStore{block: make(map[string]string), allow: make(map[string]string)}
}

// MemoryOpener opens a fresh in-memory store on every call.
func MemoryOpener() (Store, error) { return NewMemoryStore(), nil }

func (s *memoryStore) PutRules(rs []domain.FilterRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rs {
		if r.Kind != domain.RuleHost || r.Host == "" {
			continue
		}
		m := s.block
		if r.Action == domain.ActionAllow {
			m = s.allow
		}
		if _, ok := m[r.Host]; !ok {
			m[r.Host] = r.Source
		}
	}
	s.version++
	s.updated = time.Now().Unix()
	return nil
}

func (s *memoryStore) FirstMatch(action domain.RuleAction, hosts []string) (domain.FilterRule, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := s.block
	if action == domain.ActionAllow {
		m = s.allow
	}
	for _, h := range hosts {
		if src, ok := m[h]; ok {
			return domain.FilterRule{Kind: domain.RuleHost, Action: action, Host: h, Source: src}, true, nil
		}
	}
	return domain.FilterRule{}, false, nil
}

func (s *memoryStore) Purge() error {
	s.mu.Lock()
	s.block = make(map[string]string)
	s.allow = make(map[string]string)
	s.version, s.updated = 0, 0
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) Stats() StoreStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return StoreStats{
		Version:     s.version,
		UpdatedUnix: s.updated,
		BlockHosts:  uint64(len(s.block)),
		AllowHosts:  uint64(len(s.allow)),
	}
}

func (s *memoryStore) Close() error { return nil }

var _ Store = (*memoryStore)(nil)
