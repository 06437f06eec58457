// Package lifecycle owns the initialized and enabled state of the blocker
// and the resources behind it: cache directory, HTTP client, worker pool
// and the rule engine bootstrap.
package lifecycle

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"

	"github.com/haukened/rr-adblock/internal/adblock/common/clock"
	"github.com/haukened/rr-adblock/internal/adblock/common/log"
	"github.com/haukened/rr-adblock/internal/adblock/domain"
	"github.com/haukened/rr-adblock/internal/adblock/infra/metrics"
	"github.com/haukened/rr-adblock/internal/adblock/infra/workpool"
	"github.com/haukened/rr-adblock/internal/adblock/repos/filtercache"
	"github.com/haukened/rr-adblock/internal/adblock/services/updater"
)

const (
	DefaultWorkers      = 4
	DefaultDrainTimeout = 5 * time.Second
)

// Fetcher is the network client acquired on Initialize and released on
// Cleanup.
type Fetcher interface {
	filtercache.Fetcher
	CloseIdleConnections()
}

// Options configures a Controller.
type Options struct {
	Engine        domain.RuleEngine
	CacheDir      string
	Sources       []domain.SourceSpec
	NewFetcher    func() Fetcher
	Clock         clock.Clock
	Freshness     time.Duration
	UpdateTimeout time.Duration
	Workers       int
	DrainTimeout  time.Duration
	Logger        log.Logger
	Metrics       metrics.Recorder
}

// Controller is the single owner of the blocker's lifecycle. Mutations are
// serialized by one mutex; IsEnabled is a lock-free snapshot for the
// request path and may briefly lag a concurrent toggle.
type Controller struct {
	opts   Options
	logger log.Logger

	mu      sync.Mutex
	ready   atomic.Bool
	enabled atomic.Bool

	// owned while ready, guarded by mu
	engineUp    bool
	pool        *workpool.Pool
	fetcher     Fetcher
	updater     *updater.Orchestrator
	initialLoad *workpool.Task
}

// New returns an uninitialized Controller.
func New(opts Options) (*Controller, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("%w: lifecycle needs a rule engine", domain.ErrInvalidInput)
	}
	if opts.NewFetcher == nil {
		return nil, fmt.Errorf("%w: lifecycle needs a fetcher factory", domain.ErrInvalidInput)
	}
	if opts.CacheDir == "" {
		return nil, fmt.Errorf("%w: lifecycle needs a cache directory", domain.ErrInvalidInput)
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = DefaultDrainTimeout
	}
	opts.Logger = log.OrNoop(opts.Logger)
	opts.Metrics = metrics.OrNoop(opts.Metrics)
	opts.Sources = append([]domain.SourceSpec(nil), opts.Sources...)
	return &Controller{opts: opts, logger: log.Named(opts.Logger, "lifecycle")}, nil
}

// Initialize acquires resources, bootstraps the engine, starts the
// background load of every source and marks the controller ready. Calling it
// again while ready is a no-op. On failure everything acquired so far is
// released and the controller stays uninitialized; the error wraps
// domain.ErrInitialization.
func (c *Controller) Initialize(ctx context.Context) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ready.Load() {
		c.logger.Debug(nil, "already initialized")
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", domain.ErrInitialization, r)
		}
		if err != nil {
			c.releaseLocked()
			c.logger.Error(map[string]any{"error": err}, "initialization failed")
		}
	}()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInitialization, err)
	}
	if err := os.MkdirAll(c.opts.CacheDir, 0o755); err != nil {
		return fmt.Errorf("%w: cache directory: %v", domain.ErrInitialization, err)
	}
	sources, err := domain.NewFilterSources(c.opts.Sources, c.opts.CacheDir)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInitialization, err)
	}

	c.fetcher = c.opts.NewFetcher()
	c.pool = workpool.New(c.opts.Workers, c.opts.Logger)

	if err := c.opts.Engine.Init(); err != nil {
		return fmt.Errorf("%w: engine bootstrap: %v", domain.ErrInitialization, err)
	}
	c.engineUp = true

	cache, err := filtercache.NewManager(filtercache.Options{
		Fetcher:   c.fetcher,
		Loader:    c.opts.Engine,
		Clock:     c.opts.Clock,
		Freshness: c.opts.Freshness,
		Logger:    c.opts.Logger,
		Metrics:   c.opts.Metrics,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInitialization, err)
	}
	c.updater, err = updater.New(updater.Options{
		Sources: sources,
		Cache:   cache,
		Engine:  c.opts.Engine,
		Pool:    c.pool,
		Timeout: c.opts.UpdateTimeout,
		Clock:   c.opts.Clock,
		Logger:  c.opts.Logger,
		Metrics: c.opts.Metrics,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInitialization, err)
	}
	c.initialLoad, err = c.updater.LoadAll()
	if err != nil {
		return fmt.Errorf("%w: initial load: %v", domain.ErrInitialization, err)
	}

	c.ready.Store(true)
	c.logger.Info(map[string]any{"sources": len(sources), "cache_dir": c.opts.CacheDir}, "ad blocker initialized")
	return nil
}

// releaseLocked drops everything acquired by a failed Initialize.
func (c *Controller) releaseLocked() {
	if c.pool != nil {
		_ = c.pool.Shutdown(0)
	}
	if c.engineUp {
		_ = safely("engine shutdown", c.opts.Engine.Shutdown)
		c.engineUp = false
	}
	if c.fetcher != nil {
		c.fetcher.CloseIdleConnections()
	}
	c.pool, c.fetcher, c.updater, c.initialLoad = nil, nil, nil, nil
}

// Enable turns blocking on. Before a successful Initialize it only logs a
// warning.
func (c *Controller) Enable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ready.Load() {
		c.logger.Warn(nil, "enable ignored, ad blocker not initialized")
		return
	}
	c.enabled.Store(true)
	c.logger.Info(nil, "ad blocking enabled")
}

// Disable turns blocking off, whether or not the controller is ready.
func (c *Controller) Disable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled.Store(false)
	c.logger.Info(nil, "ad blocking disabled")
}

// IsEnabled reports enabled AND ready without taking the lock.
func (c *Controller) IsEnabled() bool {
	return c.ready.Load() && c.enabled.Load()
}

// State returns the lifecycle state.
func (c *Controller) State() domain.EngineState {
	if c.ready.Load() {
		return domain.StateReady
	}
	return domain.StateUninitialized
}

// Cleanup drains and then cancels the worker pool, releases the engine and
// evicts pooled connections. The pool goes first so in-flight loads finish
// against a live engine. The controller ends uninitialized and disabled
// even when a step fails; step failures are combined into the returned
// error. Calling Cleanup when not ready is a no-op.
func (c *Controller) Cleanup() (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.ready.Load() {
		return nil
	}
	defer func() {
		c.pool, c.fetcher, c.updater, c.initialLoad = nil, nil, nil, nil
		c.engineUp = false
		c.enabled.Store(false)
		c.ready.Store(false)
		if err != nil {
			c.logger.Warn(map[string]any{"error": err}, "cleanup finished with errors")
		} else {
			c.logger.Info(nil, "ad blocker cleaned up")
		}
	}()

	if pool := c.pool; pool != nil {
		err = multierr.Append(err, safely("worker pool shutdown", func() error {
			return pool.Shutdown(c.opts.DrainTimeout)
		}))
	}
	err = multierr.Append(err, safely("engine shutdown", c.opts.Engine.Shutdown))
	if f := c.fetcher; f != nil {
		err = multierr.Append(err, safely("close connections", func() error {
			f.CloseIdleConnections()
			return nil
		}))
	}
	return err
}

// UpdateFilters forces a refresh of every source. It needs a ready
// controller and blocks for at most the update timeout. The controller lock
// is not held while waiting.
func (c *Controller) UpdateFilters(ctx context.Context) (updater.Report, error) {
	c.mu.Lock()
	upd := c.updater
	ready := c.ready.Load()
	c.mu.Unlock()

	if !ready || upd == nil {
		c.logger.Warn(nil, "update ignored, ad blocker not initialized")
		return updater.Report{}, domain.ErrNotInitialized
	}
	return upd.UpdateAll(ctx)
}

// AwaitInitialLoad waits for the background load started by Initialize.
func (c *Controller) AwaitInitialLoad(ctx context.Context) error {
	c.mu.Lock()
	task := c.initialLoad
	c.mu.Unlock()
	if task == nil {
		return domain.ErrNotInitialized
	}
	return task.Wait(ctx)
}

// Sources returns the configured filter sources, or nil when not ready.
func (c *Controller) Sources() []domain.FilterSource {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.updater == nil {
		return nil
	}
	return c.updater.Sources()
}

func safely(step string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", step, r)
		}
	}()
	if err := fn(); err != nil {
		return fmt.Errorf("%s: %w", step, err)
	}
	return nil
}
