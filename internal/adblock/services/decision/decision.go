// Package decision implements the per-request blocking decision. It is a
// pure function of the request, the lifecycle flags and the rule engine; it
// holds no mutable state and is safe for concurrent use.
package decision

import (
	"fmt"
	"strings"

	"github.com/haukened/rr-adblock/internal/adblock/common/log"
	"github.com/haukened/rr-adblock/internal/adblock/domain"
	"github.com/haukened/rr-adblock/internal/adblock/infra/metrics"
	"github.com/haukened/rr-adblock/internal/adblock/services/classifier"
)

// Role-specific lexical signals. All matching is done on the lowercased URL.
var (
	scriptSignals = []string{"ads", "analytics", "tracking", "doubleclick", "googletagmanager", "facebook.com/tr", "google-analytics"}
	imageSignals  = []string{"1x1", "pixel", "beacon"}
	xhrSignals    = []string{"analytics", "tracking", "metrics", "telemetry", "collect"}
	// main-document navigations are only blocked when the rule engine matches
	// and the URL also looks malicious
	maliceSignals = []string{"malware", "phishing", "scam", "popup"}
)

// StateReader is the lock-free view of the lifecycle flags.
type StateReader interface {
	IsEnabled() bool
}

// Matcher is the rule engine query the pipeline needs.
type Matcher interface {
	FilterURL(url string) bool
}

// Pipeline decides whether a request is blocked.
type Pipeline struct {
	state   StateReader
	engine  Matcher
	logger  log.Logger
	metrics metrics.Recorder
}

// Options configures a Pipeline.
type Options struct {
	State   StateReader
	Engine  Matcher
	Logger  log.Logger
	Metrics metrics.Recorder
}

// New builds a Pipeline. State and Engine are required.
func New(opts Options) *Pipeline {
	return &Pipeline{
		state:   opts.State,
		engine:  opts.Engine,
		logger:  log.Named(log.OrNoop(opts.Logger), "decision"),
		metrics: metrics.OrNoop(opts.Metrics),
	}
}

// Decide returns the verdict for r. It never panics: any internal failure
// yields an allow verdict with ReasonFailOpen.
func (p *Pipeline) Decide(r *domain.Request) (v domain.Verdict) {
	defer func() {
		if rec := recover(); rec != nil {
			err := fmt.Errorf("%w: %v", domain.ErrInterception, rec)
			url := ""
			if r != nil {
				url = r.URL
			}
			p.logger.Error(map[string]any{"url": url, "error": err}, "decision failed, allowing request")
			v = domain.Allow(v.Role, domain.ReasonFailOpen)
		}
		p.metrics.RecordDecision(v.Role.String(), verdictLabel(v), string(v.Reason))
	}()

	if p.state == nil || !p.state.IsEnabled() {
		return domain.Allow(domain.RoleOther, domain.ReasonInactive)
	}
	if r.IsBlank() {
		return domain.Allow(domain.RoleOther, domain.ReasonInvalid)
	}

	role := classifier.Classify(r)
	v = p.decide(role, r.URL)
	p.logger.Debug(map[string]any{"url": r.URL, "role": role.String(), "block": v.Block, "reason": string(v.Reason)}, "request decided")
	return v
}

// DecideURL runs the pipeline for a bare URL with no headers.
func (p *Pipeline) DecideURL(url string) domain.Verdict {
	return p.Decide(domain.URLRequest(url))
}

// ShouldBlock is a convenience wrapper over Decide.
func (p *Pipeline) ShouldBlock(r *domain.Request) bool {
	return p.Decide(r).Block
}

func (p *Pipeline) decide(role domain.Role, url string) domain.Verdict {
	lower := strings.ToLower(url)
	switch role {
	case domain.RoleScript:
		if containsAny(lower, scriptSignals) {
			return domain.Block(role, domain.ReasonHeuristic)
		}
	case domain.RoleImage:
		if containsAny(lower, imageSignals) {
			return domain.Block(role, domain.ReasonHeuristic)
		}
	case domain.RoleDataFetch:
		if containsAny(lower, xhrSignals) {
			return domain.Block(role, domain.ReasonHeuristic)
		}
	case domain.RoleMainDocument:
		if !p.engine.FilterURL(url) {
			return domain.Allow(role, domain.ReasonNone)
		}
		if !IsObviouslyMalicious(url) {
			return domain.Allow(role, domain.ReasonGated)
		}
		return domain.Block(role, domain.ReasonRule)
	}

	if p.engine.FilterURL(url) {
		return domain.Block(role, domain.ReasonRule)
	}
	return domain.Allow(role, domain.ReasonNone)
}

// IsObviouslyMalicious is the narrow lexical check that gates blocking of
// main-document navigations.
func IsObviouslyMalicious(url string) bool {
	return containsAny(strings.ToLower(url), maliceSignals)
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func verdictLabel(v domain.Verdict) string {
	if v.Block {
		return "block"
	}
	return "allow"
}
