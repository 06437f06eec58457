// Package metrics exposes rr-adblock counters to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haukened/rr-adblock/internal/adblock/common/log"
)

const namespace = "rr_adblock"

// Download outcomes.
const (
	OutcomeCached     = "cached"
	OutcomeDownloaded = "downloaded"
	OutcomeFailed     = "failed"
	OutcomeRejected   = "rejected"
)

// Recorder is what the services report into. Implementations must be safe
// for concurrent use.
type Recorder interface {
	RecordDecision(role, verdict, reason string)
	RecordDownload(source, outcome string)
	RecordUpdate(duration time.Duration, failedSources int)
}

// Noop discards everything.
type Noop struct{}

func (Noop) RecordDecision(string, string, string) {}
func (Noop) RecordDownload(string, string)         {}
func (Noop) RecordUpdate(time.Duration, int)       {}

// OrNoop returns r, or Noop when r is nil.
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return Noop{}
	}
	return r
}

// Prometheus records into its own registry.
type Prometheus struct {
	registry       *prometheus.Registry
	decisions      *prometheus.CounterVec
	downloads      *prometheus.CounterVec
	updateDuration prometheus.Histogram
	updateFailed   prometheus.Gauge
}

// NewPrometheus builds a Prometheus recorder with every metric registered.
// Extra collectors (e.g. rule engine gauges) can be added with Register.
func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decisions_total",
				Help:      "Request decisions by resource role, verdict and reason",
			},
			[]string{"role", "verdict", "reason"},
		),
		downloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "downloads_total",
				Help:      "Filter source acquisitions by outcome",
			},
			[]string{"source", "outcome"},
		),
		updateDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "update_duration_seconds",
				Help:      "Duration of forced filter updates",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),
		updateFailed: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "update_failed_sources",
				Help:      "Number of sources that failed in the last forced update",
			},
		),
	}
	p.registry.MustRegister(p.decisions, p.downloads, p.updateDuration, p.updateFailed)
	return p
}

func (p *Prometheus) RecordDecision(role, verdict, reason string) {
	if reason == "" {
		reason = "none"
	}
	p.decisions.WithLabelValues(role, verdict, reason).Inc()
}

func (p *Prometheus) RecordDownload(source, outcome string) {
	p.downloads.WithLabelValues(source, outcome).Inc()
}

func (p *Prometheus) RecordUpdate(d time.Duration, failed int) {
	p.updateDuration.Observe(d.Seconds())
	p.updateFailed.Set(float64(failed))
}

// Register adds extra collectors to the recorder's registry.
func (p *Prometheus) Register(cs ...prometheus.Collector) error {
	for _, c := range cs {
		if err := p.registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Registry exposes the underlying registry, mostly for tests.
func (p *Prometheus) Registry() *prometheus.Registry { return p.registry }

// Handler returns an HTTP handler for the metrics endpoint.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// Server serves /metrics on a TCP address.
type Server struct {
	addr   string
	h      http.Handler
	logger log.Logger

	mu  sync.Mutex
	srv *http.Server
	ln  net.Listener
}

// NewServer returns a Server for p on addr.
func NewServer(addr string, p *Prometheus, logger log.Logger) *Server {
	return &Server{addr: addr, h: p.Handler(), logger: log.Named(logger, "metrics")}
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return errors.New("metrics server already started")
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.h)
	s.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	s.ln = ln
	srv := s.srv
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error(map[string]any{"error": err}, "metrics server stopped")
		}
	}()
	s.logger.Info(map[string]any{"addr": ln.Addr().String()}, "metrics server listening")
	return nil
}

// Address returns the bound address, or the configured one before Start.
func (s *Server) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// Stop shuts the server down, waiting up to timeout for open requests.
func (s *Server) Stop(timeout time.Duration) error {
	s.mu.Lock()
	srv := s.srv
	s.srv, s.ln = nil, nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return srv.Shutdown(ctx)
}
