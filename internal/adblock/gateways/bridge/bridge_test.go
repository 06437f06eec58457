package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/rr-adblock/internal/adblock/domain"
	"github.com/haukened/rr-adblock/internal/adblock/services/updater"
)

type fakeLifecycle struct {
	initErr   error
	updateErr error
	panicOn   string
	enabled   atomic.Bool
	inits     atomic.Int32
}

func (f *fakeLifecycle) maybePanic(m string) {
	if f.panicOn == m {
		panic(m + " exploded")
	}
}

func (f *fakeLifecycle) Initialize(context.Context) error {
	f.maybePanic(MethodInit)
	f.inits.Add(1)
	return f.initErr
}

func (f *fakeLifecycle) Enable() {
	f.maybePanic(MethodEnable)
	f.enabled.Store(true)
}

func (f *fakeLifecycle) Disable() {
	f.maybePanic(MethodDisable)
	f.enabled.Store(false)
}

func (f *fakeLifecycle) IsEnabled() bool {
	f.maybePanic(MethodIsEnabled)
	return f.enabled.Load()
}

func (f *fakeLifecycle) UpdateFilters(context.Context) (updater.Report, error) {
	f.maybePanic(MethodUpdateFilters)
	if f.updateErr != nil {
		return updater.Report{}, f.updateErr
	}
	return updater.Report{ID: "batch-1", Results: []updater.SourceResult{
		{SourceID: "easylist"},
		{SourceID: "adguard", Err: errors.New("status 503")},
	}}, nil
}

type fakeDecider struct{ panics bool }

func (d fakeDecider) DecideURL(url string) domain.Verdict {
	if d.panics {
		panic("decider exploded")
	}
	if url == "https://ads.example/x.js" {
		return domain.Block(domain.RoleScript, domain.ReasonHeuristic)
	}
	if strings.TrimSpace(url) == "" {
		return domain.Allow(domain.RoleOther, domain.ReasonInvalid)
	}
	return domain.Allow(domain.RoleMainDocument, domain.ReasonNone)
}

func await(t *testing.T, ch <-chan Result) Result {
	t.Helper()
	select {
	case r, ok := <-ch:
		require.True(t, ok)
		_, open := <-ch
		assert.False(t, open, "channel closes after one result")
		return r
	case <-time.After(time.Second):
		t.Fatal("no result")
		return Result{}
	}
}

func TestBridge_HappyPath(t *testing.T) {
	lc := &fakeLifecycle{}
	b := New(Options{Lifecycle: lc, Decider: fakeDecider{}})
	ctx := context.Background()

	r := await(t, b.Call(ctx, Command{ID: "1", Method: MethodInit}))
	assert.True(t, r.OK)
	assert.Equal(t, true, r.Value)
	assert.Equal(t, "1", r.ID)

	assert.True(t, await(t, b.Call(ctx, Command{Method: MethodEnable})).OK)
	assert.Equal(t, true, await(t, b.Call(ctx, Command{Method: MethodIsEnabled})).Value)

	assert.Equal(t, true, await(t, b.Call(ctx, Command{Method: MethodFilterRequest, URL: "https://ads.example/x.js"})).Value)
	assert.Equal(t, false, await(t, b.Call(ctx, Command{Method: MethodFilterRequest, URL: "https://example.com/"})).Value)

	assert.True(t, await(t, b.Call(ctx, Command{Method: MethodDisable})).OK)
	assert.Equal(t, false, await(t, b.Call(ctx, Command{Method: MethodIsEnabled})).Value)

	r = await(t, b.Call(ctx, Command{Method: MethodUpdateFilters}))
	require.True(t, r.OK)
	assert.Equal(t, true, r.Value)
	sum, ok := r.Detail.(ReportSummary)
	require.True(t, ok)
	assert.Equal(t, 2, sum.Sources)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, "status 503", sum.Errors["adguard"])
}

func TestBridge_ExpectedFailuresResolveFalse(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name    string
		lc      *fakeLifecycle
		method  string
		message string
	}{
		{"init failed", &fakeLifecycle{initErr: fmt.Errorf("%w: engine bootstrap: boom", domain.ErrInitialization)}, MethodInit, "engine bootstrap"},
		{"update timed out", &fakeLifecycle{updateErr: domain.ErrUpdateTimeout}, MethodUpdateFilters, "timed out"},
		{"update before init", &fakeLifecycle{updateErr: domain.ErrNotInitialized}, MethodUpdateFilters, "not initialized"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := New(Options{Lifecycle: tc.lc, Decider: fakeDecider{}})
			r := await(t, b.Call(ctx, Command{ID: "7", Method: tc.method}))
			assert.True(t, r.OK)
			assert.Equal(t, false, r.Value)
			assert.Empty(t, r.Code)
			assert.Contains(t, r.Message, tc.message)
			assert.Equal(t, "7", r.ID)
		})
	}
}

func TestBridge_TaggedFailures(t *testing.T) {
	ctx := context.Background()
	disk := errors.New("disk on fire")
	b := New(Options{Lifecycle: &fakeLifecycle{initErr: disk, updateErr: disk}, Decider: fakeDecider{}})

	r := b.Do(ctx, Command{Method: MethodInit})
	assert.False(t, r.OK)
	assert.Equal(t, CodeInit, r.Code)

	r = b.Do(ctx, Command{Method: MethodUpdateFilters})
	assert.False(t, r.OK)
	assert.Equal(t, CodeUpdate, r.Code)
	assert.Equal(t, "disk on fire", r.Message)

	r = b.Do(ctx, Command{ID: "9", Method: "reboot"})
	assert.Equal(t, CodeUnknownMethod, r.Code)
	assert.Equal(t, "9", r.ID)
}

func TestBridge_BlankURLIsNotBlocked(t *testing.T) {
	ctx := context.Background()
	b := New(Options{Lifecycle: &fakeLifecycle{}, Decider: fakeDecider{}})
	for _, url := range []string{"", "   "} {
		r := await(t, b.Call(ctx, Command{Method: MethodFilterRequest, URL: url}))
		assert.True(t, r.OK, "%q", url)
		assert.Equal(t, false, r.Value, "%q", url)
		assert.Empty(t, r.Code, "%q", url)
	}
}

func TestBridge_PanicsBecomeCodes(t *testing.T) {
	ctx := context.Background()
	cases := map[string]Code{
		MethodInit:          CodeInit,
		MethodEnable:        CodeEnable,
		MethodDisable:       CodeDisable,
		MethodIsEnabled:     CodeStatus,
		MethodUpdateFilters: CodeUpdate,
	}
	for method, code := range cases {
		b := New(Options{Lifecycle: &fakeLifecycle{panicOn: method}, Decider: fakeDecider{}})
		var r Result
		require.NotPanics(t, func() { r = b.Do(ctx, Command{Method: method}) })
		assert.False(t, r.OK, method)
		assert.Equal(t, code, r.Code, method)
	}

	b := New(Options{Lifecycle: &fakeLifecycle{}, Decider: fakeDecider{panics: true}})
	r := b.Do(ctx, Command{Method: MethodFilterRequest, URL: "https://x"})
	assert.Equal(t, CodeFilter, r.Code)
}

func TestBridge_Unwired(t *testing.T) {
	r := New(Options{}).Do(context.Background(), Command{Method: MethodIsEnabled})
	assert.Equal(t, CodeStatus, r.Code)
}
