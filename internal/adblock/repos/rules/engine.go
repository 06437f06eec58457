// Package rules is the production rule engine behind the decision pipeline.
//
// Lookups run cache -> bloom -> store for host rules, then the in-memory
// pattern matchers. Exception rules override block rules. Any internal error
// on the request path allows the request.
package rules

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/haukened/rr-adblock/internal/adblock/common/log"
	"github.com/haukened/rr-adblock/internal/adblock/common/urlutil"
	"github.com/haukened/rr-adblock/internal/adblock/domain"
	"github.com/haukened/rr-adblock/internal/adblock/repos/rules/parsers"
)

//go:embed builtin.txt
var builtinRules string

// BuiltinSource tags rules from the embedded baseline.
const BuiltinSource = "builtin"

const (
	DefaultBloomCapacity = 250_000
	DefaultFPRate        = 0.01
)

// Options configures an Engine. Zero values select an in-memory store, no
// Bloom prefilter and no verdict cache.
type Options struct {
	OpenStore     StoreOpener
	Bloom         BloomFactory
	BloomCapacity uint64
	FPRate        float64
	Cache         VerdictCache
	Builtin       bool
	Logger        log.Logger
}

// Engine implements domain.RuleEngine.
type Engine struct {
	opts   Options
	logger log.Logger

	mu    sync.RWMutex
	ready bool
	store Store
	bloom BloomFilter
	cache VerdictCache
	block []matcher
	allow []matcher
	seen  map[string]struct{}

	saturated bool // over-capacity warning already logged

	loads atomic.Uint64
}

// New constructs an Engine. It does nothing until Init is called.
func New(opts Options) *Engine {
	if opts.OpenStore == nil {
		opts.OpenStore = MemoryOpener
	}
	if opts.BloomCapacity == 0 {
		opts.BloomCapacity = DefaultBloomCapacity
	}
	if !(opts.FPRate > 0 && opts.FPRate < 1) {
		opts.FPRate = DefaultFPRate
	}
	if opts.Cache == nil {
		opts.Cache = nopCache{}
	}
	return &Engine{opts: opts, cache: opts.Cache, logger: log.Named(log.OrNoop(opts.Logger), "rules")}
}

// Init opens the store, drops whatever a previous run left in it and seeds
// the baseline rules. Calling Init on a ready engine is a no-op.
func (e *Engine) Init() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ready {
		return nil
	}

	store, err := e.opts.OpenStore()
	if err != nil {
		return fmt.Errorf("open rule store: %w", err)
	}
	if err := store.Purge(); err != nil {
		_ = store.Close()
		return fmt.Errorf("reset rule store: %w", err)
	}
	e.store = store
	e.bloom = nopBloom{}
	if e.opts.Bloom != nil {
		e.bloom = e.opts.Bloom.New(e.opts.BloomCapacity, e.opts.FPRate)
	}
	e.resetPatternsLocked()
	e.cache.Purge()

	if err := e.seedLocked(); err != nil {
		_ = e.store.Close()
		e.store = nil
		return err
	}
	e.ready = true
	e.logger.Info(map[string]any{"builtin": e.opts.Builtin}, "rule engine initialized")
	return nil
}

// FilterURL reports whether url should be blocked.
func (e *Engine) FilterURL(url string) bool {
	key := strings.ToLower(strings.TrimSpace(url))
	if key == "" {
		return false
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.ready {
		return false
	}
	if blocked, ok := e.cache.Get(key); ok {
		return blocked
	}
	blocked := e.matchLocked(key)
	e.cache.Put(key, blocked)
	return blocked
}

// LoadRules parses filter list text and adds its rules to the current set.
// Content without a single usable rule is rejected with domain.ErrRuleLoad.
func (e *Engine) LoadRules(content string) error {
	n := e.loads.Add(1)
	source := fmt.Sprintf("list-%d", n)
	rs, err := parsers.ParseFilterList(strings.NewReader(content), source, e.logger)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrRuleLoad, err)
	}

	if len(rs) == 0 {
		return fmt.Errorf("%w: no usable rules in %d bytes", domain.ErrRuleLoad, len(content))
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.ready {
		return fmt.Errorf("%w: rule engine", domain.ErrNotInitialized)
	}
	added, err := e.addLocked(rs)
	if err != nil {
		return err
	}
	e.logger.Debug(map[string]any{"source": source, "rules": len(rs), "added": added}, "rules loaded")
	return nil
}

// ClearRules drops every loaded rule and re-seeds the baseline.
func (e *Engine) ClearRules() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.ready {
		return nil
	}
	if err := e.store.Purge(); err != nil {
		return fmt.Errorf("purge rule store: %w", err)
	}
	e.bloom.Clear()
	e.resetPatternsLocked()
	e.cache.Purge()
	return e.seedLocked()
}

// Shutdown releases the store. The engine can be initialized again.
func (e *Engine) Shutdown() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.ready {
		return nil
	}
	err := e.store.Close()
	e.store = nil
	e.bloom = nil
	e.resetPatternsLocked()
	e.cache.Purge()
	e.ready = false
	if err != nil {
		return fmt.Errorf("close rule store: %w", err)
	}
	return nil
}

// Stats returns a snapshot of rule counts and cache counters.
func (e *Engine) Stats() EngineStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st := EngineStats{
		Ready:         e.ready,
		BlockPatterns: len(e.block),
		AllowPatterns: len(e.allow),
		Loads:         e.loads.Load(),
		Cache:         e.cache.Stats(),
	}
	if e.bloom != nil {
		st.BloomKeys = e.bloom.Keys()
	}
	if e.store != nil {
		st.Store = e.store.Stats()
	}
	return st
}

func (e *Engine) seedLocked() error {
	if !e.opts.Builtin {
		return nil
	}
	rs, err := parsers.ParseFilterList(strings.NewReader(builtinRules), BuiltinSource, e.logger)
	if err != nil {
		return fmt.Errorf("%w: builtin rules: %v", domain.ErrInitialization, err)
	}
	if _, err := e.addLocked(rs); err != nil {
		return fmt.Errorf("%w: builtin rules: %v", domain.ErrInitialization, err)
	}
	return nil
}

func (e *Engine) resetPatternsLocked() {
	e.block, e.allow = nil, nil
	e.seen = make(map[string]struct{})
	e.saturated = false
}

// addLocked stores host rules, compiles the rest and purges the verdict
// cache. Rules that fail to compile are skipped.
func (e *Engine) addLocked(rs []domain.FilterRule) (int, error) {
	hosts := make([]domain.FilterRule, 0, len(rs))
	added := 0
	for _, r := range rs {
		if r.Kind == domain.RuleHost {
			hosts = append(hosts, r)
			continue
		}
		key := r.String()
		if _, dup := e.seen[key]; dup {
			continue
		}
		m, err := compile(r)
		if err != nil {
			e.logger.Debug(map[string]any{"rule": key, "error": err.Error()}, "skip_uncompilable_rule")
			continue
		}
		e.seen[key] = struct{}{}
		if r.Action == domain.ActionAllow {
			e.allow = append(e.allow, m)
		} else {
			e.block = append(e.block, m)
		}
		added++
	}
	if len(hosts) > 0 {
		if err := e.store.PutRules(hosts); err != nil {
			return added, fmt.Errorf("%w: store host rules: %v", domain.ErrRuleLoad, err)
		}
		for _, h := range hosts {
			e.bloom.Add(h.Host)
		}
		added += len(hosts)
		if n := e.bloom.Keys(); n > e.opts.BloomCapacity && !e.saturated {
			e.saturated = true
			e.logger.Warn(map[string]any{
				"hosts":    n,
				"capacity": e.opts.BloomCapacity,
			}, "bloom prefilter over capacity, false positive rate will rise")
		}
	}
	e.cache.Purge()
	return added, nil
}

func (e *Engine) matchLocked(url string) bool {
	t := target{url: url, host: urlutil.Host(url), path: urlutil.PathAndQuery(url)}
	candidates := e.candidatesLocked(t.host)
	if !e.hitLocked(domain.ActionBlock, candidates, e.block, t) {
		return false
	}
	return !e.hitLocked(domain.ActionAllow, candidates, e.allow, t)
}

// candidatesLocked returns the host and its parents that might carry a host
// rule according to the Bloom filter.
func (e *Engine) candidatesLocked(host string) []string {
	suffixes := urlutil.HostSuffixes(host)
	out := suffixes[:0]
	for _, s := range suffixes {
		if e.bloom.MightContain(s) {
			out = append(out, s)
		}
	}
	return out
}

func (e *Engine) hitLocked(action domain.RuleAction, hosts []string, ms []matcher, t target) bool {
	if len(hosts) > 0 {
		_, ok, err := e.store.FirstMatch(action, hosts)
		if err != nil {
			e.logger.Debug(map[string]any{"host": t.host, "error": err.Error()}, "store_lookup_failed")
		} else if ok {
			return true
		}
	}
	for _, m := range ms {
		if m.match(t) {
			return true
		}
	}
	return false
}

var _ domain.RuleEngine = (*Engine)(nil)
