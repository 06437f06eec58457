package interceptor

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/haukened/rr-adblock/internal/adblock/domain"
)

// substringDecider blocks URLs containing needle.
type substringDecider struct {
	needle string
	calls  atomic.Int32
	last   atomic.Pointer[domain.Request]
}

func (d *substringDecider) Decide(r *domain.Request) domain.Verdict {
	d.calls.Add(1)
	d.last.Store(r)
	if strings.Contains(strings.ToLower(r.URL), d.needle) {
		return domain.Block(domain.RoleOther, domain.ReasonRule)
	}
	return domain.Allow(domain.RoleOther, domain.ReasonNone)
}

type panicDecider struct{}

func (panicDecider) Decide(*domain.Request) domain.Verdict { panic("classifier bug") }

type MockHandler struct{ mock.Mock }

func (m *MockHandler) InterceptRequest(r *domain.Request) *domain.Response {
	args := m.Called(r)
	resp, _ := args.Get(0).(*domain.Response)
	return resp
}
func (m *MockHandler) OnPageStarted(url string)           { m.Called(url) }
func (m *MockHandler) OnPageFinished(url string)          { m.Called(url) }
func (m *MockHandler) OverrideURLLoading(url string) bool { return m.Called(url).Bool(0) }
func (m *MockHandler) OnReceivedError(url string, code int, description string) {
	m.Called(url, code, description)
}

func TestInterceptRequest_BlockedGetsSentinel(t *testing.T) {
	prior := &MockHandler{}
	a := New(Options{Decider: &substringDecider{needle: "ads"}, Prior: Some(prior)})

	resp := a.InterceptRequest(domain.URLRequest("https://ads.example/banner.js"))
	require.NotNil(t, resp)
	assert.True(t, resp.IsBlockedSentinel())
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "*", resp.Headers["Access-Control-Allow-Origin"])
	prior.AssertNotCalled(t, "InterceptRequest", mock.Anything)
}

func TestInterceptRequest_AllowedForwardsToPrior(t *testing.T) {
	prior := &MockHandler{}
	custom := &domain.Response{StatusCode: 200, MimeType: "text/html", Body: []byte("cached")}
	prior.On("InterceptRequest", mock.Anything).Return(custom).Once()
	a := New(Options{Decider: &substringDecider{needle: "ads"}, Prior: Some(prior)})

	assert.Same(t, custom, a.InterceptRequest(domain.URLRequest("https://example.com/")))
	prior.AssertExpectations(t)
}

func TestInterceptRequest_AllowedWithoutPrior(t *testing.T) {
	a := New(Options{Decider: &substringDecider{needle: "ads"}, Prior: None()})
	assert.Nil(t, a.InterceptRequest(domain.URLRequest("https://example.com/")))
}

func TestInterceptRequest_MissingURLForwardsWithoutDeciding(t *testing.T) {
	d := &substringDecider{needle: "ads"}
	prior := &MockHandler{}
	prior.On("InterceptRequest", mock.Anything).Return(nil).Twice()
	a := New(Options{Decider: d, Prior: Some(prior)})

	assert.Nil(t, a.InterceptRequest(nil))
	assert.Nil(t, a.InterceptRequest(domain.URLRequest("   ")))
	assert.EqualValues(t, 0, d.calls.Load())
	prior.AssertExpectations(t)
}

func TestInterceptRequest_PanicFailsOpen(t *testing.T) {
	a := New(Options{Decider: panicDecider{}})
	var resp *domain.Response
	require.NotPanics(t, func() { resp = a.InterceptRequest(domain.URLRequest("https://ads.example/")) })
	assert.Nil(t, resp)
}

func TestInterceptURL_UsesEmptyHeaders(t *testing.T) {
	d := &substringDecider{needle: "tracker"}
	a := New(Options{Decider: d})

	assert.NotNil(t, a.InterceptURL("https://tracker.example/t.gif"))
	last := d.last.Load()
	require.NotNil(t, last)
	assert.Empty(t, last.Headers)
	assert.Equal(t, domain.DefaultRequestMethod, last.Method)
}

func TestLifecycleCallbacksPassThrough(t *testing.T) {
	prior := &MockHandler{}
	prior.On("OnPageStarted", "https://a.example/").Once()
	prior.On("OnPageFinished", "https://a.example/").Once()
	prior.On("OverrideURLLoading", "https://b.example/").Return(true).Once()
	prior.On("OnReceivedError", "https://c.example/", -2, "host lookup").Once()

	a := New(Options{Decider: &substringDecider{needle: "ads"}, Prior: Some(prior)})
	a.OnPageStarted("https://a.example/")
	a.OnPageFinished("https://a.example/")
	assert.True(t, a.OverrideURLLoading("https://b.example/"))
	a.OnReceivedError("https://c.example/", -2, "host lookup")
	prior.AssertExpectations(t)
}

func TestLifecycleCallbacksDefault(t *testing.T) {
	a := New(Options{Decider: &substringDecider{needle: "ads"}})
	assert.NotPanics(t, func() {
		a.OnPageStarted("u")
		a.OnPageFinished("u")
		a.OnReceivedError("u", 1, "x")
	})
	assert.False(t, a.OverrideURLLoading("u"))
}

func TestPrior(t *testing.T) {
	_, ok := None().Get()
	assert.False(t, ok)
	_, ok = Some(nil).Get()
	assert.False(t, ok)
	assert.IsType(t, DefaultHandler{}, None().OrDefault())

	h := &MockHandler{}
	got, ok := Some(h).Get()
	assert.True(t, ok)
	assert.Same(t, h, got)
}

func TestTransport(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, "real content")
	}))
	defer srv.Close()

	d := &substringDecider{needle: "/ads/"}
	client := &http.Client{Transport: NewTransport(d, nil)}

	resp, err := client.Get(srv.URL + "/ads/banner.png")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body)
	assert.Equal(t, "text/plain; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Equal(t, "GET, POST, OPTIONS", resp.Header.Get("Access-Control-Allow-Methods"))
	assert.EqualValues(t, 0, hits.Load())

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/content/article.html", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "text/html")
	resp, err = client.Do(req)
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "real content", string(body))
	assert.EqualValues(t, 1, hits.Load())

	v, ok := d.last.Load().Header(domain.HeaderAccept)
	assert.True(t, ok)
	assert.Equal(t, "text/html", v)
}
