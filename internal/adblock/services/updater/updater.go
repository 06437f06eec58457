// Package updater drives filter acquisition across all sources: a one-off
// background load at startup and forced refreshes on demand.
package updater

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/haukened/rr-adblock/internal/adblock/common/clock"
	"github.com/haukened/rr-adblock/internal/adblock/common/log"
	"github.com/haukened/rr-adblock/internal/adblock/domain"
	"github.com/haukened/rr-adblock/internal/adblock/infra/metrics"
	"github.com/haukened/rr-adblock/internal/adblock/infra/workpool"
	"github.com/haukened/rr-adblock/internal/adblock/repos/filtercache"
)

// DefaultTimeout bounds how long UpdateAll blocks its caller.
const DefaultTimeout = 120 * time.Second

const updateKey = "update-all"

// CacheManager is the filter cache as seen by the orchestrator.
type CacheManager interface {
	EnsureLoaded(ctx context.Context, src domain.FilterSource) (filtercache.Outcome, error)
	ForceRefresh(ctx context.Context, src domain.FilterSource) error
}

// Submitter runs work in the background.
type Submitter interface {
	Submit(name string, fn func(ctx context.Context) error) (*workpool.Task, error)
}

// Options configures an Orchestrator.
type Options struct {
	Sources []domain.FilterSource
	Cache   CacheManager
	Engine  domain.RuleClearer
	Pool    Submitter
	Timeout time.Duration
	Clock   clock.Clock
	Logger  log.Logger
	Metrics metrics.Recorder
}

// Orchestrator loads and refreshes every configured source. Per-source
// failures are logged and never stop the batch.
type Orchestrator struct {
	sources []domain.FilterSource
	cache   CacheManager
	engine  domain.RuleClearer
	pool    Submitter
	timeout time.Duration
	clock   clock.Clock
	logger  log.Logger
	metrics metrics.Recorder

	// batch admits one update batch at a time
	batch *semaphore.Weighted
}

// New validates opts and returns an Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Cache == nil || opts.Engine == nil || opts.Pool == nil {
		return nil, fmt.Errorf("%w: updater needs a cache, an engine and a pool", domain.ErrInvalidInput)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	return &Orchestrator{
		sources: append([]domain.FilterSource(nil), opts.Sources...),
		cache:   opts.Cache,
		engine:  opts.Engine,
		pool:    opts.Pool,
		timeout: opts.Timeout,
		clock:   opts.Clock,
		logger:  log.Named(log.OrNoop(opts.Logger), "updater"),
		metrics: metrics.OrNoop(opts.Metrics),
		batch:   semaphore.NewWeighted(1),
	}, nil
}

// Sources returns the configured sources.
func (o *Orchestrator) Sources() []domain.FilterSource {
	return append([]domain.FilterSource(nil), o.sources...)
}

// LoadAll starts the initial load of every source on the pool and returns
// its handle. Callers may ignore the handle; failures are only logged.
func (o *Orchestrator) LoadAll() (*workpool.Task, error) {
	return o.pool.Submit("load-all", func(ctx context.Context) error {
		rep := o.run(ctx, "load", func(ctx context.Context, src domain.FilterSource) (string, error) {
			out, err := o.cache.EnsureLoaded(ctx, src)
			return string(out), err
		})
		o.logger.Info(map[string]any{
			"batch":   rep.ID,
			"sources": len(rep.Results),
			"failed":  rep.Failed(),
		}, "initial filter load finished")
		return nil
	})
}

// UpdateAll clears the engine's rules and force-refreshes every source.
// Every call runs its own batch; a batch waits for any earlier one, including
// one whose caller already timed out, before it starts. UpdateAll blocks for
// at most the configured timeout. On timeout it returns ErrUpdateTimeout
// while the batch stays queued or keeps running in the background.
func (o *Orchestrator) UpdateAll(ctx context.Context) (Report, error) {
	result := make(chan Report, 1)
	task, err := o.pool.Submit(updateKey, func(ctx context.Context) error {
		if err := o.batch.Acquire(ctx, 1); err != nil {
			return err
		}
		defer o.batch.Release(1)
		result <- o.update(ctx)
		return nil
	})
	if err != nil {
		return Report{}, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	select {
	case rep := <-result:
		return rep, nil
	case <-task.Done():
		select {
		case rep := <-result:
			return rep, nil
		default:
		}
		if err := task.Err(); err != nil {
			return Report{}, err
		}
		return Report{}, fmt.Errorf("update batch %s ended without a report", updateKey)
	case <-waitCtx.Done():
		o.logger.Warn(map[string]any{"timeout": o.timeout.String()}, "filter update still running after timeout")
		if errors.Is(ctx.Err(), context.Canceled) {
			return Report{}, ctx.Err()
		}
		return Report{}, fmt.Errorf("%w after %s", domain.ErrUpdateTimeout, o.timeout)
	}
}

func (o *Orchestrator) update(ctx context.Context) Report {
	if err := o.engine.ClearRules(); err != nil {
		o.logger.Error(map[string]any{"error": err}, "clearing rules before update failed")
	}
	rep := o.run(ctx, "update", func(ctx context.Context, src domain.FilterSource) (string, error) {
		if err := o.cache.ForceRefresh(ctx, src); err != nil {
			return "", err
		}
		return string(filtercache.OutcomeDownloaded), nil
	})
	o.metrics.RecordUpdate(rep.Duration(), rep.Failed())
	o.logger.Info(map[string]any{
		"batch":    rep.ID,
		"sources":  len(rep.Results),
		"failed":   rep.Failed(),
		"duration": rep.Duration().String(),
	}, "filter update finished")
	return rep
}

// run applies step to every source in order, recording each outcome.
func (o *Orchestrator) run(ctx context.Context, kind string, step func(context.Context, domain.FilterSource) (string, error)) Report {
	rep := Report{ID: uuid.NewString(), Kind: kind, StartedAt: o.clock.Now()}
	for _, src := range o.sources {
		res := SourceResult{SourceID: src.ID, URL: src.URL}
		res.Outcome, res.Err = step(ctx, src)
		if res.Err != nil {
			res.Outcome = OutcomeFailed
			o.logSourceError(kind, src, res.Err)
		}
		rep.Results = append(rep.Results, res)
	}
	rep.FinishedAt = o.clock.Now()
	return rep
}

func (o *Orchestrator) logSourceError(kind string, src domain.FilterSource, err error) {
	fields := map[string]any{"batch": kind, "source": src.ID, "url": src.URL, "error": err}
	if errors.Is(err, domain.ErrRuleLoad) {
		o.logger.Warn(fields, "filter rules rejected")
		return
	}
	o.logger.Error(fields, "filter source failed")
}
