package bolt

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bbolt "go.etcd.io/bbolt"
	bberrors "go.etcd.io/bbolt/errors"

	"github.com/haukened/rr-adblock/internal/adblock/domain"
	"github.com/haukened/rr-adblock/internal/adblock/repos/rules"
)

type assertErr struct{}

func (assertErr) Error() string { return "assert error" }

func tempDB(t testing.TB) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "rules.db")
}

func openStore(t *testing.T) rules.Store {
	t.Helper()
	st, err := New(tempDB(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func hostRule(host string, action domain.RuleAction, source string) domain.FilterRule {
	return domain.FilterRule{Kind: domain.RuleHost, Action: action, Host: host, Source: source}
}

func TestBoltStore_FirstMatch(t *testing.T) {
	st := openStore(t)

	_, ok, err := st.FirstMatch(domain.ActionBlock, []string{"a.example.com", "example.com"})
	require.NoError(t, err)
	assert.False(t, ok, "empty store must miss")

	require.NoError(t, st.PutRules([]domain.FilterRule{
		hostRule("example.com", domain.ActionBlock, "easylist"),
		hostRule("cdn.example.com", domain.ActionAllow, "easylist"),
		{Kind: domain.RuleSubstring, Action: domain.ActionBlock, Pattern: "/ads/"},
	}))

	r, ok, err := st.FirstMatch(domain.ActionBlock, []string{"a.example.com", "example.com"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "example.com", r.Host)
	assert.Equal(t, "easylist", r.Source)
	assert.Equal(t, domain.RuleHost, r.Kind)

	r, ok, err = st.FirstMatch(domain.ActionAllow, []string{"cdn.example.com", "example.com"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.ActionAllow, r.Action)
	assert.Equal(t, "cdn.example.com", r.Host)

	_, ok, err = st.FirstMatch(domain.ActionAllow, []string{"a.example.com", "example.com"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBoltStore_FirstSourceWins(t *testing.T) {
	st := openStore(t)
	require.NoError(t, st.PutRules([]domain.FilterRule{hostRule("ads.test", domain.ActionBlock, "first")}))
	require.NoError(t, st.PutRules([]domain.FilterRule{hostRule("ads.test", domain.ActionBlock, "second")}))

	r, ok, err := st.FirstMatch(domain.ActionBlock, []string{"ads.test"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "first", r.Source)
}

func TestBoltStore_StatsAndVersion(t *testing.T) {
	st, err := New(tempDB(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	st.(*boltStore).now = func() time.Time { return time.Unix(1_700_000_000, 0) }

	assert.Equal(t, rules.StoreStats{}, st.Stats())

	require.NoError(t, st.PutRules([]domain.FilterRule{
		hostRule("a.test", domain.ActionBlock, "s"),
		hostRule("b.test", domain.ActionBlock, "s"),
		hostRule("c.test", domain.ActionAllow, "s"),
	}))
	require.NoError(t, st.PutRules(nil))

	stats := st.Stats()
	assert.Equal(t, uint64(2), stats.BlockHosts)
	assert.Equal(t, uint64(1), stats.AllowHosts)
	assert.Equal(t, uint64(2), stats.Version)
	assert.Equal(t, int64(1_700_000_000), stats.UpdatedUnix)
}

func TestBoltStore_Purge(t *testing.T) {
	st := openStore(t)
	require.NoError(t, st.PutRules([]domain.FilterRule{hostRule("a.example.com", domain.ActionBlock, "t")}))

	_, ok, _ := st.FirstMatch(domain.ActionBlock, []string{"a.example.com"})
	require.True(t, ok, "expected hit before purge")

	require.NoError(t, st.Purge())
	_, ok, err := st.FirstMatch(domain.ActionBlock, []string{"a.example.com"})
	require.NoError(t, err)
	assert.False(t, ok, "expected miss after purge")
	assert.Equal(t, rules.StoreStats{}, st.Stats())

	// still writable
	require.NoError(t, st.PutRules([]domain.FilterRule{hostRule("b.example.com", domain.ActionBlock, "t")}))
	_, ok, _ = st.FirstMatch(domain.ActionBlock, []string{"b.example.com"})
	assert.True(t, ok)
}

func TestBoltStore_ReopenKeepsRules(t *testing.T) {
	path := tempDB(t)
	st, err := New(path)
	require.NoError(t, err)
	require.NoError(t, st.PutRules([]domain.FilterRule{hostRule("persist.test", domain.ActionBlock, "t")}))
	require.NoError(t, st.Close())

	st, err = Opener(path)()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	_, ok, err := st.FirstMatch(domain.ActionBlock, []string{"persist.test"})
	require.NoError(t, err)
	assert.True(t, ok)
}

type fakeBucketCreator struct{ errs map[string]error }

func (f fakeBucketCreator) CreateBucketIfNotExists(name []byte) (*bbolt.Bucket, error) {
	if err := f.errs[string(name)]; err != nil {
		return nil, err
	}
	return nil, nil
}

func TestNew_EnsureBucketsErrors(t *testing.T) {
	for _, fail := range [][]byte{bucketBlock, bucketAllow, bucketMeta} {
		t.Run(string(fail), func(t *testing.T) {
			old := ensureBucketsFn
			ensureBucketsFn = func(bucketCreator) error {
				return ensureBuckets(fakeBucketCreator{errs: map[string]error{string(fail): assertErr{}}})
			}
			defer func() { ensureBucketsFn = old }()

			st, err := New(tempDB(t))
			assert.Error(t, err)
			assert.Nil(t, st)
		})
	}
}

func TestDeleteBuckets(t *testing.T) {
	tests := []struct {
		name    string
		errs    map[string]error
		wantErr bool
	}{
		{name: "all deleted", errs: nil},
		{name: "ignore not found", errs: map[string]error{"a": bberrors.ErrBucketNotFound}},
		{name: "first error returned", errs: map[string]error{"a": assertErr{}}, wantErr: true},
		{name: "second error returned", errs: map[string]error{"b": assertErr{}}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var calls []string
			del := bucketDeleterFunc(func(name []byte) error {
				calls = append(calls, string(name))
				return tc.errs[string(name)]
			})
			err := deleteBuckets(del, []byte("a"), []byte("b"))
			if tc.wantErr {
				assert.True(t, errors.As(err, &assertErr{}))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "b"}, calls)
		})
	}
}

func BenchmarkBoltStore_FirstMatch(b *testing.B) {
	st, err := New(tempDB(b))
	require.NoError(b, err)
	defer func() { _ = st.Close() }()

	rs := make([]domain.FilterRule, 0, 1000)
	for i := 0; i < 1000; i++ {
		rs = append(rs, hostRule(fmt.Sprintf("d%04d.bench.test", i), domain.ActionBlock, "bench"))
	}
	require.NoError(b, st.PutRules(rs))
	hosts := []string{"x.d0500.bench.test", "d0500.bench.test", "bench.test"}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = st.FirstMatch(domain.ActionBlock, hosts)
	}
}
