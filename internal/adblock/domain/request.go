package domain

import "strings"

// Header names the classifier looks at. Lookups are exact: keys are kept as
// the host surface delivered them.
const (
	HeaderAccept         = "Accept"
	HeaderRequestedWith  = "X-Requested-With"
	RequestedWithXHR     = "XMLHttpRequest"
	DefaultRequestMethod = "GET"
)

// Request is one intercepted outbound request. It is built once per call and
// never mutated afterwards.
type Request struct {
	URL     string
	Method  string
	Headers map[string]string
}

// NewRequest builds a Request, copying headers so later changes by the caller
// cannot leak into classification.
func NewRequest(url, method string, headers map[string]string) *Request {
	if method == "" {
		method = DefaultRequestMethod
	}
	var h map[string]string
	if len(headers) > 0 {
		h = make(map[string]string, len(headers))
		for k, v := range headers {
			h[k] = v
		}
	}
	return &Request{URL: url, Method: method, Headers: h}
}

// URLRequest is the legacy call shape: a bare URL with no headers.
func URLRequest(url string) *Request {
	return &Request{URL: url, Method: DefaultRequestMethod}
}

// Header returns the value of the named header and whether it was present.
func (r *Request) Header(name string) (string, bool) {
	if r == nil || r.Headers == nil {
		return "", false
	}
	v, ok := r.Headers[name]
	return v, ok
}

// IsBlank reports whether the request is absent or carries no usable URL.
func (r *Request) IsBlank() bool {
	return r == nil || strings.TrimSpace(r.URL) == ""
}
