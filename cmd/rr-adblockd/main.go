package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/haukened/rr-adblock/internal/adblock/common/clock"
	"github.com/haukened/rr-adblock/internal/adblock/common/log"
	"github.com/haukened/rr-adblock/internal/adblock/config"
	"github.com/haukened/rr-adblock/internal/adblock/gateways/bridge"
	"github.com/haukened/rr-adblock/internal/adblock/gateways/fetch"
	"github.com/haukened/rr-adblock/internal/adblock/infra/metrics"
	"github.com/haukened/rr-adblock/internal/adblock/repos/rules"
	"github.com/haukened/rr-adblock/internal/adblock/repos/rules/bloom"
	"github.com/haukened/rr-adblock/internal/adblock/repos/rules/bolt"
	"github.com/haukened/rr-adblock/internal/adblock/repos/rules/lru"
	"github.com/haukened/rr-adblock/internal/adblock/services/decision"
	"github.com/haukened/rr-adblock/internal/adblock/services/lifecycle"
)

const (
	// Version information
	version = "0.1.0-dev"
	appName = "rr-adblockd"

	defaultShutdownTimeout = 10 * time.Second
)

// Application holds all the components of the blocker.
type Application struct {
	config     *config.AppConfig
	engine     *rules.Engine
	controller *lifecycle.Controller
	pipeline   *decision.Pipeline
	bridge     *bridge.Server  // nil when disabled
	metrics    *metrics.Server // nil when disabled
	prom       *metrics.Prometheus
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   appName,
		Short: "rr-adblockd - filter-list based request blocker",
		Long: `rr-adblockd keeps a set of AdBlock-style filter lists cached and loaded,
and decides for each outbound request whether it should be blocked.

Configuration is read from ADBLOCK_* environment variables.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}

	root.AddCommand(newServeCommand())
	root.AddCommand(newCheckCommand())
	root.AddCommand(newUpdateCommand())
	return root
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the blocker with its command bridge until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

// setup loads configuration and configures global logging.
func setup() (*config.AppConfig, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	if err := log.Configure(cfg.Env, cfg.Log.Level); err != nil {
		return nil, fmt.Errorf("logging configuration error: %w", err)
	}
	return cfg, nil
}

func runServe(ctx context.Context) error {
	cfg, err := setup()
	if err != nil {
		return err
	}

	log.Info(map[string]any{
		"version":   version,
		"env":       cfg.Env,
		"log_level": cfg.Log.Level,
		"cache_dir": cfg.Cache.Dir,
		"bridge":    cfg.Bridge.Addr,
		"metrics":   cfg.Metrics.Addr,
	}, "Starting rr-adblock")

	app, err := buildApplication(cfg)
	if err != nil {
		log.Error(map[string]any{"error": err.Error()}, "Failed to build application")
		return err
	}
	return app.Run(ctx)
}

// buildApplication constructs all components and wires them together.
func buildApplication(cfg *config.AppConfig) (*Application, error) {
	logger := log.GetLogger()

	var (
		recorder metrics.Recorder = metrics.Noop{}
		prom     *metrics.Prometheus
	)
	if cfg.Metrics.Addr != "" {
		prom = metrics.NewPrometheus()
		recorder = prom
	}

	engine, err := buildEngine(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build rule engine: %w", err)
	}

	specs, err := cfg.SourceSpecs()
	if err != nil {
		return nil, err
	}

	controller, err := lifecycle.New(lifecycle.Options{
		Engine:   engine,
		CacheDir: cfg.Cache.Dir,
		Sources:  specs,
		NewFetcher: func() lifecycle.Fetcher {
			return fetch.New(fetch.Options{
				ConnectTimeout: cfg.HTTP.ConnectTimeout,
				ReadTimeout:    cfg.HTTP.ReadTimeout,
				UserAgent:      cfg.HTTP.UserAgent,
				Logger:         logger,
			})
		},
		Clock:         clock.RealClock{},
		Freshness:     cfg.Cache.Freshness,
		UpdateTimeout: cfg.Update.Timeout,
		Workers:       cfg.Update.Workers,
		DrainTimeout:  cfg.Update.DrainTimeout,
		Logger:        logger,
		Metrics:       recorder,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build lifecycle controller: %w", err)
	}

	pipeline := decision.New(decision.Options{
		State:   controller,
		Engine:  engine,
		Logger:  logger,
		Metrics: recorder,
	})

	app := &Application{
		config:     cfg,
		engine:     engine,
		controller: controller,
		pipeline:   pipeline,
		prom:       prom,
	}

	if cfg.Bridge.Addr != "" {
		b := bridge.New(bridge.Options{Lifecycle: controller, Decider: pipeline, Logger: logger})
		app.bridge = bridge.NewServer(cfg.Bridge.Addr, b, logger)
	}

	if prom != nil {
		if err := registerEngineMetrics(prom, engine); err != nil {
			return nil, fmt.Errorf("failed to register engine metrics: %w", err)
		}
		app.metrics = metrics.NewServer(cfg.Metrics.Addr, prom, logger)
	}

	log.Info(map[string]any{
		"sources":    len(specs),
		"engine_db":  cfg.Engine.DB,
		"cache_size": cfg.Engine.CacheSize,
		"builtin":    cfg.Engine.Builtin,
	}, "Application configured")

	return app, nil
}

// buildEngine wires the rule engine's store, prefilter and verdict cache.
func buildEngine(cfg *config.AppConfig, logger log.Logger) (*rules.Engine, error) {
	cache, err := lru.New(cfg.Engine.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create verdict cache: %w", err)
	}

	opener := rules.StoreOpener(rules.MemoryOpener)
	if cfg.Engine.DB != "" {
		opener = bolt.Opener(cfg.Engine.DB)
	}

	return rules.New(rules.Options{
		OpenStore: opener,
		Bloom:     bloom.NewFactory(),
		FPRate:    cfg.Engine.FPRate,
		Cache:     cache,
		Builtin:   cfg.Engine.Builtin,
		Logger:    logger,
	}), nil
}

// registerEngineMetrics exposes rule engine counters as scrape-time gauges.
func registerEngineMetrics(p *metrics.Prometheus, e *rules.Engine) error {
	return p.Register(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "rr_adblock_rules_loaded",
			Help: "Rules currently held by the rule engine.",
		}, func() float64 { return float64(e.Stats().Rules()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "rr_adblock_verdict_cache_hits_total",
			Help: "URL verdicts served from the cache.",
		}, func() float64 { return float64(e.Stats().Cache.Hits) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "rr_adblock_verdict_cache_misses_total",
			Help: "URL verdicts computed by the matchers.",
		}, func() float64 { return float64(e.Stats().Cache.Misses) }),
	)
}

// Run initializes and enables the blocker, starts the optional servers and
// blocks until ctx is cancelled.
func (app *Application) Run(ctx context.Context) error {
	if err := app.controller.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize blocker: %w", err)
	}
	app.controller.Enable()

	if app.metrics != nil {
		if err := app.metrics.Start(); err != nil {
			_ = app.controller.Cleanup()
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}
	if app.bridge != nil {
		if err := app.bridge.Start(); err != nil {
			app.stopServers()
			_ = app.controller.Cleanup()
			return fmt.Errorf("failed to start command bridge: %w", err)
		}
		log.Info(map[string]any{
			"address":   app.bridge.Address(),
			"transport": "websocket",
		}, "Command bridge started")
	}

	<-ctx.Done()
	log.Info(nil, "Shutdown initiated")

	done := make(chan error, 1)
	go func() {
		app.stopServers()
		done <- app.controller.Cleanup()
	}()

	select {
	case err := <-done:
		if err != nil {
			log.Warn(map[string]any{"error": err.Error()}, "Cleanup reported errors")
		}
		log.Info(nil, "Graceful shutdown completed")
		return nil
	case <-time.After(defaultShutdownTimeout):
		log.Warn(map[string]any{"timeout": defaultShutdownTimeout.String()}, "Shutdown timeout exceeded")
		return errors.New("shutdown timeout")
	}
}

func (app *Application) stopServers() {
	if app.bridge != nil {
		if err := app.bridge.Stop(); err != nil {
			log.Warn(map[string]any{"error": err.Error()}, "Error during bridge shutdown")
		}
	}
	if app.metrics != nil {
		if err := app.metrics.Stop(5 * time.Second); err != nil {
			log.Warn(map[string]any{"error": err.Error()}, "Error during metrics shutdown")
		}
	}
}
