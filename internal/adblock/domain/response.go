package domain

// Blocked response constants. A blocked request is answered with an empty
// 200 so the host never shows its page-error UI.
const (
	BlockedStatusCode   = 200
	BlockedReasonPhrase = "OK"
	BlockedMimeType     = "text/plain"
	BlockedEncoding     = "utf-8"
)

// Response is a synthesized response handed back to the host surface.
type Response struct {
	StatusCode   int
	ReasonPhrase string
	MimeType     string
	Encoding     string
	Headers      map[string]string
	Body         []byte
}

// NewBlockedResponse returns the empty sentinel response used for every
// blocked request. Each call returns a fresh value.
func NewBlockedResponse() *Response {
	return &Response{
		StatusCode:   BlockedStatusCode,
		ReasonPhrase: BlockedReasonPhrase,
		MimeType:     BlockedMimeType,
		Encoding:     BlockedEncoding,
		Headers: map[string]string{
			"Access-Control-Allow-Origin":  "*",
			"Access-Control-Allow-Methods": "GET, POST, OPTIONS",
			"Access-Control-Allow-Headers": "*",
		},
		Body: []byte{},
	}
}

// IsBlockedSentinel reports whether r is a synthesized block response.
func (r *Response) IsBlockedSentinel() bool {
	return r != nil && r.StatusCode == BlockedStatusCode && r.MimeType == BlockedMimeType && len(r.Body) == 0
}
