package interceptor

import "github.com/haukened/rr-adblock/internal/adblock/domain"

// Handler is the set of callbacks a host rendering surface delivers. A nil
// response from InterceptRequest means "no override, load normally".
type Handler interface {
	InterceptRequest(r *domain.Request) *domain.Response
	OnPageStarted(url string)
	OnPageFinished(url string)
	OverrideURLLoading(url string) bool
	OnReceivedError(url string, code int, description string)
}

// DefaultHandler is the platform behaviour when nothing else is installed:
// load everything, override nothing.
type DefaultHandler struct{}

func (DefaultHandler) InterceptRequest(*domain.Request) *domain.Response { return nil }
func (DefaultHandler) OnPageStarted(string)                              {}
func (DefaultHandler) OnPageFinished(string)                             {}
func (DefaultHandler) OverrideURLLoading(string) bool                    { return false }
func (DefaultHandler) OnReceivedError(string, int, string)               {}

// Prior is the handler that was installed before the adapter, if any.
type Prior struct {
	h Handler
}

// Some wraps an installed handler. Some(nil) is None.
func Some(h Handler) Prior { return Prior{h: h} }

// None means no handler was installed.
func None() Prior { return Prior{} }

// Get returns the wrapped handler and whether there is one.
func (p Prior) Get() (Handler, bool) { return p.h, p.h != nil }

// OrDefault returns the wrapped handler or DefaultHandler.
func (p Prior) OrDefault() Handler {
	if p.h == nil {
		return DefaultHandler{}
	}
	return p.h
}
