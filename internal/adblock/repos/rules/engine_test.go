package rules_test

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/rr-adblock/internal/adblock/common/log"
	"github.com/haukened/rr-adblock/internal/adblock/domain"
	"github.com/haukened/rr-adblock/internal/adblock/repos/rules"
	"github.com/haukened/rr-adblock/internal/adblock/repos/rules/bloom"
	"github.com/haukened/rr-adblock/internal/adblock/repos/rules/bolt"
	"github.com/haukened/rr-adblock/internal/adblock/repos/rules/lru"
)

const sampleList = `[Adblock Plus 2.0]
! Title: sample
||ads.example.com^
@@||ads.example.com/allowed/
||example.org/banners/*
||cdn.test/pixel.gif|
/track/*/beacon^
-advert-
|https://popup.
/^https?:\/\/ad[0-9]+\.example\.net\//
||good.test^
@@||good.test^
example.com##.banner
0.0.0.0 hosts.test
`

func newEngine(t *testing.T, opts rules.Options) *rules.Engine {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	e := rules.New(opts)
	require.NoError(t, e.Init())
	t.Cleanup(func() { _ = e.Shutdown() })
	return e
}

// fullEngine wires every production component: bbolt store, Bloom prefilter
// and LRU verdict cache.
func fullEngine(t *testing.T, builtin bool) *rules.Engine {
	t.Helper()
	cache, err := lru.New(128)
	require.NoError(t, err)
	return newEngine(t, rules.Options{
		OpenStore:     bolt.Opener(filepath.Join(t.TempDir(), "rules.db")),
		Bloom:         bloom.NewFactory(),
		BloomCapacity: 1024,
		Cache:         cache,
		Builtin:       builtin,
	})
}

func TestEngine_Matching(t *testing.T) {
	configs := map[string]func(t *testing.T) *rules.Engine{
		"memory": func(t *testing.T) *rules.Engine { return newEngine(t, rules.Options{}) },
		"full":   func(t *testing.T) *rules.Engine { return fullEngine(t, false) },
	}
	cases := []struct {
		url   string
		block bool
	}{
		{"https://ads.example.com/banner.js", true},
		{"https://sub.ads.example.com/x", true},
		{"https://ADS.Example.COM/Banner.js", true},
		{"https://ads.example.com/allowed/a.js", false},
		{"https://example.com/", false},
		{"https://example.org/banners/top.png", true},
		{"https://example.org/news", false},
		{"https://cdn.test/pixel.gif", true},
		{"https://cdn.test/pixel.gif?x=1", false},
		{"https://x.test/track/123/beacon?id=1", true},
		{"https://news.test/img-advert-1.png", true},
		{"https://popup.example/x", true},
		{"http://x.test/?u=https://popup.", false},
		{"https://ad12.example.net/x", true},
		{"https://good.test/x", false},
		{"http://hosts.test/", true},
		{"", false},
	}
	for name, build := range configs {
		t.Run(name, func(t *testing.T) {
			e := build(t)
			require.NoError(t, e.LoadRules(sampleList))
			for _, c := range cases {
				assert.Equal(t, c.block, e.FilterURL(c.url), c.url)
				// second call goes through the verdict cache when one is configured
				assert.Equal(t, c.block, e.FilterURL(c.url), c.url)
			}
		})
	}
}

func TestEngine_Builtin(t *testing.T) {
	e := fullEngine(t, true)
	assert.True(t, e.FilterURL("https://securepubads.g.doubleclick.net/tag/js/gpt.js"))
	assert.True(t, e.FilterURL("https://www.example.com/pagead/show_ads.js"))
	assert.False(t, e.FilterURL("https://www.example.com/index.html"))

	off := newEngine(t, rules.Options{})
	assert.False(t, off.FilterURL("https://securepubads.g.doubleclick.net/tag/js/gpt.js"))
}

func TestEngine_LoadRulesRejectsEmptyContent(t *testing.T) {
	e := newEngine(t, rules.Options{})
	for _, content := range []string{"", "! only a comment\n", "example.com##.ad\n"} {
		err := e.LoadRules(content)
		assert.True(t, errors.Is(err, domain.ErrRuleLoad), "content %q: %v", content, err)
	}
}

func TestEngine_NotInitialized(t *testing.T) {
	e := rules.New(rules.Options{})
	assert.False(t, e.FilterURL("https://ads.example.com/"))
	err := e.LoadRules("||ads.example.com^")
	assert.True(t, errors.Is(err, domain.ErrNotInitialized))
	assert.NoError(t, e.ClearRules())
	assert.NoError(t, e.Shutdown())
	assert.False(t, e.Stats().Ready)
}

func TestEngine_ClearRulesKeepsBaseline(t *testing.T) {
	e := fullEngine(t, true)
	require.NoError(t, e.LoadRules("||ads.example.com^\n/banners/\n"))
	assert.True(t, e.FilterURL("https://ads.example.com/"))

	require.NoError(t, e.ClearRules())
	assert.False(t, e.FilterURL("https://ads.example.com/"), "loaded rules must be gone")
	assert.True(t, e.FilterURL("https://doubleclick.net/x"), "baseline must be re-seeded")
}

func TestEngine_LoadPurgesVerdictCache(t *testing.T) {
	e := fullEngine(t, false)
	url := "https://late.test/script.js"
	assert.False(t, e.FilterURL(url))
	require.NoError(t, e.LoadRules("||late.test^"))
	assert.True(t, e.FilterURL(url))
}

func TestEngine_ShutdownThenInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.db")
	e := rules.New(rules.Options{OpenStore: bolt.Opener(path), Bloom: bloom.NewFactory()})

	require.NoError(t, e.Init())
	require.NoError(t, e.LoadRules("||ads.example.com^"))
	assert.True(t, e.FilterURL("https://ads.example.com/"))
	require.NoError(t, e.Shutdown())
	assert.False(t, e.FilterURL("https://ads.example.com/"), "stopped engine allows everything")

	require.NoError(t, e.Init())
	t.Cleanup(func() { _ = e.Shutdown() })
	assert.False(t, e.FilterURL("https://ads.example.com/"), "init starts from an empty rule set")
	require.NoError(t, e.LoadRules("||ads.example.com^"))
	assert.True(t, e.FilterURL("https://ads.example.com/"))
}

func TestEngine_InitStoreError(t *testing.T) {
	boom := errors.New("disk full")
	e := rules.New(rules.Options{OpenStore: func() (rules.Store, error) { return nil, boom }})
	err := e.Init()
	assert.ErrorIs(t, err, boom)
	assert.False(t, e.Stats().Ready)
}

func TestEngine_BloomOverCapacityStillMatches(t *testing.T) {
	e := newEngine(t, rules.Options{Bloom: bloom.NewFactory(), BloomCapacity: 1})
	require.NoError(t, e.LoadRules("||a.test^\n||b.test^\n||c.test^\n"))

	assert.NotZero(t, e.Stats().BloomKeys)
	for _, u := range []string{"https://a.test/", "https://b.test/", "https://c.test/"} {
		assert.True(t, e.FilterURL(u), u)
	}
}

func TestEngine_InitIsIdempotent(t *testing.T) {
	opens := 0
	e := newEngine(t, rules.Options{OpenStore: func() (rules.Store, error) {
		opens++
		return rules.NewMemoryStore(), nil
	}})
	require.NoError(t, e.Init())
	assert.Equal(t, 1, opens)
}

func TestEngine_Stats(t *testing.T) {
	e := fullEngine(t, false)
	require.NoError(t, e.LoadRules(sampleList))
	e.FilterURL("https://ads.example.com/x")
	e.FilterURL("https://ads.example.com/x")

	st := e.Stats()
	assert.True(t, st.Ready)
	assert.Equal(t, uint64(3), st.Store.BlockHosts) // ads.example.com, good.test, hosts.test
	assert.Equal(t, uint64(1), st.Store.AllowHosts)
	assert.Equal(t, uint64(3), st.BloomKeys, "good.test counts once")
	assert.Equal(t, 6, st.BlockPatterns)
	assert.Equal(t, 1, st.AllowPatterns)
	assert.Equal(t, uint64(11), st.Rules())
	assert.Equal(t, uint64(1), st.Loads)
	assert.Equal(t, uint64(1), st.Cache.Hits)
	assert.Equal(t, uint64(1), st.Cache.Misses)
}

func TestEngine_ConcurrentLoadAndFilter(t *testing.T) {
	e := fullEngine(t, true)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var b strings.Builder
			for j := 0; j < 200; j++ {
				fmt.Fprintf(&b, "||h%d-%d.test^\n", i, j)
			}
			assert.NoError(t, e.LoadRules(b.String()))
		}(i)
	}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				e.FilterURL(fmt.Sprintf("https://x%d.test/%d", i, j))
				e.FilterURL("https://doubleclick.net/ad")
			}
		}(i)
	}
	wg.Wait()

	assert.True(t, e.FilterURL("https://h3-199.test/"))
}

func BenchmarkEngine_FilterURL(b *testing.B) {
	e := rules.New(rules.Options{Bloom: bloom.NewFactory(), Builtin: true})
	require.NoError(b, e.Init())
	defer func() { _ = e.Shutdown() }()
	require.NoError(b, e.LoadRules(sampleList))
	urls := []string{
		"https://ads.example.com/banner.js",
		"https://www.example.com/index.html",
		"https://x.test/track/123/beacon?id=1",
		"https://cdn.example.org/app.css",
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = e.FilterURL(urls[i%len(urls)])
	}
}
