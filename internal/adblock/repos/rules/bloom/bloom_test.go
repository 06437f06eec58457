package bloom

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimate(t *testing.T) {
	// n=1e6, p=1% -> m~9.585e6 bits, k=7
	m, k := Estimate(1_000_000, 0.01)
	assert.InDelta(t, 9_585_059, float64(m), 100_000)
	assert.Equal(t, uint(7), k)

	m2, k2 := Estimate(100, 1.0)
	m3, k3 := Estimate(100, DefaultFPRate)
	assert.Equal(t, m3, m2, "p>=1 falls back to the default rate")
	assert.Equal(t, k3, k2)

	m, k = Estimate(0, 0)
	assert.NotZero(t, m)
	assert.NotZero(t, k)
}

func TestFilter_AddTestClear(t *testing.T) {
	f := NewFactory().New(32, 0.05)

	assert.False(t, f.MightContain("ads.example.com"))
	f.Add("ads.example.com")
	assert.True(t, f.MightContain("ads.example.com"))
	assert.Equal(t, uint64(1), f.Keys())

	f.Clear()
	assert.False(t, f.MightContain("ads.example.com"), "cleared filter must forget every host")
	assert.Zero(t, f.Keys())
}

func TestFilter_HostKeyIsCanonical(t *testing.T) {
	f := NewFactory().New(32, 0.01)
	f.Add("Tracker.Example.COM.")

	assert.True(t, f.MightContain("tracker.example.com"))
	assert.True(t, f.MightContain("TRACKER.example.com."))

	f.Add("tracker.example.com")
	assert.Equal(t, uint64(1), f.Keys(), "re-adding a host does not count twice")
}

func TestFactory_New_Defaults(t *testing.T) {
	bf := NewFactory().New(0, 0)
	require.NotNil(t, bf)
	bf.Add("default-case.test")
	assert.True(t, bf.MightContain("default-case.test"))
}

func TestFilter_ConcurrentReadsDuringWrites(t *testing.T) {
	f := NewFactory().New(256, 0.01)

	var wg sync.WaitGroup
	done := make(chan struct{})
	hosts := []string{"a.test", "b.test", "c.test"}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 10_000; i++ {
			f.Add(hosts[i%3])
		}
		close(done)
	}()

	for r := 0; r < 8; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
					_ = f.MightContain("lookup.test")
				}
			}
		}()
	}
	wg.Wait()

	for _, h := range hosts {
		assert.True(t, f.MightContain(h))
	}
	assert.Equal(t, uint64(3), f.Keys())
}

func BenchmarkBloom_Positive(b *testing.B) {
	const n = 1000
	bf := NewFactory().New(n, 0.01)
	hosts := make([]string, n)
	for i := range hosts {
		hosts[i] = fmt.Sprintf("d%03d.bench.test", i)
		bf.Add(hosts[i])
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = bf.MightContain(hosts[i%len(hosts)])
	}
}
