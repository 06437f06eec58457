package lru

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerdictCache_HitMissAndPut(t *testing.T) {
	c, err := New(2)
	require.NoError(t, err)

	_, ok := c.Get("https://ads.example.com/banner.js")
	assert.False(t, ok, "expected miss before put")

	c.Put("https://ads.example.com/banner.js", true)
	blocked, ok := c.Get("https://ads.example.com/banner.js")
	assert.True(t, ok)
	assert.True(t, blocked)

	st := c.Stats()
	assert.Equal(t, uint64(1), st.Hits)
	assert.Equal(t, uint64(1), st.Misses)
	assert.Equal(t, 2, st.Capacity)
	assert.Equal(t, 1, st.Size)
}

func TestVerdictCache_AllowVerdictIsCached(t *testing.T) {
	c, err := New(4)
	require.NoError(t, err)

	c.Put("https://example.com/", false)
	blocked, ok := c.Get("https://example.com/")
	assert.True(t, ok)
	assert.False(t, blocked)
}

func TestVerdictCache_EvictionAndPurge(t *testing.T) {
	c, err := New(2)
	require.NoError(t, err)

	c.Put("a", true)
	c.Put("b", true)
	c.Put("c", false)
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, uint64(1), c.Stats().Evictions)

	_, ok := c.Get("a")
	assert.False(t, ok, "oldest entry should have been evicted")

	c.Purge()
	assert.Zero(t, c.Len())
	assert.Equal(t, uint64(3), c.Stats().Evictions, "purge counts as eviction")
}

func TestNew_DisabledCache(t *testing.T) {
	for _, size := range []int{0, -1} {
		t.Run(fmt.Sprint(size), func(t *testing.T) {
			c, err := New(size)
			require.NoError(t, err)

			c.Put("x", true)
			_, ok := c.Get("x")
			assert.False(t, ok)
			assert.Zero(t, c.Len())
			c.Purge()
			assert.Equal(t, 0, c.Stats().Capacity)
		})
	}
}

func BenchmarkVerdictCache_Get(b *testing.B) {
	c, _ := New(1024)
	keys := make([]string, 512)
	for i := range keys {
		keys[i] = fmt.Sprintf("https://cdn%d.example.com/app.js", i)
		c.Put(keys[i], i%2 == 0)
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = c.Get(keys[i%len(keys)])
	}
}
