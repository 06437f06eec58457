// Package bridge exposes the blocker as asynchronous remote-callable
// commands. Every command resolves to a Result. Expected lifecycle failures
// resolve to a false value; anything else is tagged with a code and never
// escapes as a panic.
package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/haukened/rr-adblock/internal/adblock/common/log"
	"github.com/haukened/rr-adblock/internal/adblock/domain"
	"github.com/haukened/rr-adblock/internal/adblock/services/updater"
)

// Method names accepted by the bridge.
const (
	MethodInit          = "init"
	MethodEnable        = "enable"
	MethodDisable       = "disable"
	MethodFilterRequest = "filterRequest"
	MethodIsEnabled     = "isEnabled"
	MethodUpdateFilters = "updateFilters"
)

// Code tags a failed command.
type Code string

const (
	CodeInit          Code = "INIT_ERROR"
	CodeEnable        Code = "ENABLE_ERROR"
	CodeDisable       Code = "DISABLE_ERROR"
	CodeFilter        Code = "FILTER_ERROR"
	CodeStatus        Code = "STATUS_ERROR"
	CodeUpdate        Code = "UPDATE_ERROR"
	CodeBadRequest    Code = "BAD_REQUEST"
	CodeUnknownMethod Code = "UNKNOWN_METHOD"
)

var methodCodes = map[string]Code{
	MethodInit:          CodeInit,
	MethodEnable:        CodeEnable,
	MethodDisable:       CodeDisable,
	MethodFilterRequest: CodeFilter,
	MethodIsEnabled:     CodeStatus,
	MethodUpdateFilters: CodeUpdate,
}

// Lifecycle is the controller surface the bridge drives.
type Lifecycle interface {
	Initialize(ctx context.Context) error
	Enable()
	Disable()
	IsEnabled() bool
	UpdateFilters(ctx context.Context) (updater.Report, error)
}

// URLDecider runs the decision pipeline for a bare URL.
type URLDecider interface {
	DecideURL(url string) domain.Verdict
}

// Command is one remote call.
type Command struct {
	ID     string `json:"id"`
	Method string `json:"method"`
	URL    string `json:"url,omitempty"`
}

// Result resolves a Command. OK results carry Value; failed ones carry Code
// and Message. An expected failure is OK with a false Value and a Message.
type Result struct {
	ID      string `json:"id"`
	OK      bool   `json:"ok"`
	Value   any    `json:"value,omitempty"`
	Detail  any    `json:"detail,omitempty"`
	Code    Code   `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Options configures a Bridge.
type Options struct {
	Lifecycle Lifecycle
	Decider   URLDecider
	Logger    log.Logger
}

// Bridge dispatches commands to the lifecycle controller and the decision
// pipeline.
type Bridge struct {
	lc      Lifecycle
	decider URLDecider
	logger  log.Logger
}

// New builds a Bridge.
func New(opts Options) *Bridge {
	return &Bridge{
		lc:      opts.Lifecycle,
		decider: opts.Decider,
		logger:  log.Named(log.OrNoop(opts.Logger), "bridge"),
	}
}

// Call runs cmd asynchronously. The returned channel yields exactly one
// Result and is then closed.
func (b *Bridge) Call(ctx context.Context, cmd Command) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		defer close(ch)
		ch <- b.Do(ctx, cmd)
	}()
	return ch
}

// Do runs cmd synchronously.
func (b *Bridge) Do(ctx context.Context, cmd Command) (res Result) {
	code, known := methodCodes[cmd.Method]
	if !known {
		return fail(cmd, CodeUnknownMethod, fmt.Sprintf("unknown method %q", cmd.Method))
	}
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error(map[string]any{"method": cmd.Method, "panic": r}, "command panicked")
			res = fail(cmd, code, fmt.Sprintf("%s failed: %v", cmd.Method, r))
		}
	}()
	if b.lc == nil || b.decider == nil {
		return fail(cmd, code, "bridge is not wired")
	}

	switch cmd.Method {
	case MethodInit:
		if err := b.lc.Initialize(ctx); err != nil {
			return b.failed(cmd, code, err)
		}
		return ok(cmd, true)
	case MethodEnable:
		b.lc.Enable()
		return ok(cmd, nil)
	case MethodDisable:
		b.lc.Disable()
		return ok(cmd, nil)
	case MethodIsEnabled:
		return ok(cmd, b.lc.IsEnabled())
	case MethodFilterRequest:
		return ok(cmd, b.decider.DecideURL(cmd.URL).Block)
	case MethodUpdateFilters:
		rep, err := b.lc.UpdateFilters(ctx)
		if err != nil {
			return b.failed(cmd, code, err)
		}
		out := ok(cmd, true)
		out.Detail = summarize(rep)
		return out
	}
	return fail(cmd, CodeUnknownMethod, fmt.Sprintf("unknown method %q", cmd.Method))
}

// expected lists the lifecycle errors a caller sees as a false value.
var expected = []error{
	domain.ErrInitialization,
	domain.ErrUpdateTimeout,
	domain.ErrNotInitialized,
}

// failed resolves err to a false value when it is expected and to a tagged
// failure otherwise.
func (b *Bridge) failed(cmd Command, code Code, err error) Result {
	for _, e := range expected {
		if errors.Is(err, e) {
			b.logger.Warn(map[string]any{"method": cmd.Method, "error": err}, "command resolved false")
			return Result{ID: cmd.ID, OK: true, Value: false, Message: err.Error()}
		}
	}
	return fail(cmd, code, err.Error())
}

func ok(cmd Command, v any) Result {
	return Result{ID: cmd.ID, OK: true, Value: v}
}

func fail(cmd Command, code Code, msg string) Result {
	return Result{ID: cmd.ID, Code: code, Message: msg}
}

// ReportSummary is the wire form of an update report.
type ReportSummary struct {
	ID      string            `json:"id"`
	Sources int               `json:"sources"`
	Failed  int               `json:"failed"`
	Errors  map[string]string `json:"errors,omitempty"`
}

func summarize(rep updater.Report) ReportSummary {
	s := ReportSummary{ID: rep.ID, Sources: len(rep.Results), Failed: rep.Failed()}
	for _, r := range rep.Results {
		if r.Err == nil {
			continue
		}
		if s.Errors == nil {
			s.Errors = map[string]string{}
		}
		s.Errors[r.SourceID] = r.Err.Error()
	}
	return s
}
