// Package interceptor is the boundary the host rendering surface calls for
// every outbound request. Blocked requests get a synthesized empty 200;
// everything else, and every lifecycle callback, goes to the previously
// installed handler.
package interceptor

import (
	"fmt"

	"github.com/haukened/rr-adblock/internal/adblock/common/log"
	"github.com/haukened/rr-adblock/internal/adblock/domain"
)

// Decider produces a verdict for a request.
type Decider interface {
	Decide(r *domain.Request) domain.Verdict
}

// Adapter implements Handler on top of a Decider.
type Adapter struct {
	decider Decider
	next    Handler
	logger  log.Logger
}

// Options configures an Adapter.
type Options struct {
	Decider Decider
	Prior   Prior
	Logger  log.Logger
}

// New builds an Adapter.
func New(opts Options) *Adapter {
	return &Adapter{
		decider: opts.Decider,
		next:    opts.Prior.OrDefault(),
		logger:  log.Named(log.OrNoop(opts.Logger), "interceptor"),
	}
}

var _ Handler = (*Adapter)(nil)

// InterceptRequest returns the blocked sentinel response for a blocked
// request, and otherwise whatever the next handler returns. Missing
// requests or URLs are forwarded untouched.
func (a *Adapter) InterceptRequest(r *domain.Request) *domain.Response {
	if r.IsBlank() {
		a.logger.Debug(nil, "request without url, forwarding")
		return a.next.InterceptRequest(r)
	}
	if a.shouldBlock(r) {
		a.logger.Info(map[string]any{"url": r.URL, "method": r.Method}, "blocking request")
		return domain.NewBlockedResponse()
	}
	return a.next.InterceptRequest(r)
}

// InterceptURL is the legacy call shape: a bare URL with no headers, so the
// role comes from URL heuristics alone.
func (a *Adapter) InterceptURL(url string) *domain.Response {
	return a.InterceptRequest(domain.URLRequest(url))
}

// shouldBlock runs the decider, allowing on any failure.
func (a *Adapter) shouldBlock(r *domain.Request) (block bool) {
	defer func() {
		if rec := recover(); rec != nil {
			err := fmt.Errorf("%w: %v", domain.ErrInterception, rec)
			a.logger.Error(map[string]any{"url": r.URL, "error": err}, "interception failed, forwarding")
			block = false
		}
	}()
	if a.decider == nil {
		return false
	}
	return a.decider.Decide(r).Block
}

func (a *Adapter) OnPageStarted(url string) {
	a.logger.Debug(map[string]any{"url": url}, "page started")
	a.next.OnPageStarted(url)
}

func (a *Adapter) OnPageFinished(url string) {
	a.logger.Debug(map[string]any{"url": url}, "page finished")
	a.next.OnPageFinished(url)
}

func (a *Adapter) OverrideURLLoading(url string) bool {
	a.logger.Debug(map[string]any{"url": url}, "navigation")
	return a.next.OverrideURLLoading(url)
}

func (a *Adapter) OnReceivedError(url string, code int, description string) {
	a.logger.Warn(map[string]any{"url": url, "code": code, "description": description}, "page load error")
	a.next.OnReceivedError(url, code, description)
}
