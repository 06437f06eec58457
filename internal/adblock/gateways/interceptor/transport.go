package interceptor

import (
	"bytes"
	"fmt"
	"io"
	"net/http"

	"github.com/haukened/rr-adblock/internal/adblock/domain"
)

// Transport is an http.RoundTripper that answers blocked requests with the
// sentinel response and sends the rest to Next.
type Transport struct {
	adapter *Adapter
	next    http.RoundTripper
}

// NewTransport wraps next (http.DefaultTransport when nil).
func NewTransport(d Decider, next http.RoundTripper) *Transport {
	if next == nil {
		next = http.DefaultTransport
	}
	return &Transport{adapter: New(Options{Decider: d}), next: next}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil || req.URL == nil {
		return t.next.RoundTrip(req)
	}
	if resp := t.adapter.InterceptRequest(toDomain(req)); resp != nil {
		return toHTTP(req, resp), nil
	}
	return t.next.RoundTrip(req)
}

func toDomain(req *http.Request) *domain.Request {
	headers := make(map[string]string, len(req.Header))
	for k, v := range req.Header {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}
	return domain.NewRequest(req.URL.String(), req.Method, headers)
}

func toHTTP(req *http.Request, r *domain.Response) *http.Response {
	h := make(http.Header, len(r.Headers)+1)
	for k, v := range r.Headers {
		h.Set(k, v)
	}
	h.Set("Content-Type", r.MimeType+"; charset="+r.Encoding)
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", r.StatusCode, r.ReasonPhrase),
		StatusCode:    r.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        h,
		Body:          io.NopCloser(bytes.NewReader(r.Body)),
		ContentLength: int64(len(r.Body)),
		Request:       req,
	}
}
