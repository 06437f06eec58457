// Package filtercache keeps one on-disk copy per filter source and feeds it
// to the rule engine. A copy younger than the freshness window is reused
// without touching the network; anything else is downloaded first.
package filtercache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/haukened/rr-adblock/internal/adblock/common/clock"
	"github.com/haukened/rr-adblock/internal/adblock/common/log"
	"github.com/haukened/rr-adblock/internal/adblock/domain"
	"github.com/haukened/rr-adblock/internal/adblock/infra/metrics"
)

// Fetcher retrieves a remote filter list.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (io.ReadCloser, error)
}

// Outcome says how EnsureLoaded satisfied a source.
type Outcome string

const (
	OutcomeCached     Outcome = "cached"
	OutcomeDownloaded Outcome = "downloaded"
)

// Options configures a Manager.
type Options struct {
	Fetcher   Fetcher
	Loader    domain.RuleLoader
	Clock     clock.Clock
	Freshness time.Duration
	Logger    log.Logger
	Metrics   metrics.Recorder
}

// Manager owns the cache files of a fixed set of sources. Operations on the
// same source are serialized; different sources proceed in parallel.
type Manager struct {
	fetcher Fetcher
	loader  domain.RuleLoader
	clock   clock.Clock
	window  time.Duration
	logger  log.Logger
	metrics metrics.Recorder

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager validates opts and returns a Manager.
func NewManager(opts Options) (*Manager, error) {
	if opts.Fetcher == nil {
		return nil, fmt.Errorf("%w: filter cache needs a fetcher", domain.ErrInvalidInput)
	}
	if opts.Loader == nil {
		return nil, fmt.Errorf("%w: filter cache needs a rule loader", domain.ErrInvalidInput)
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Freshness <= 0 {
		opts.Freshness = domain.DefaultFreshnessWindow
	}
	return &Manager{
		fetcher: opts.Fetcher,
		loader:  opts.Loader,
		clock:   opts.Clock,
		window:  opts.Freshness,
		logger:  log.Named(log.OrNoop(opts.Logger), "filtercache"),
		metrics: metrics.OrNoop(opts.Metrics),
		locks:   make(map[string]*sync.Mutex),
	}, nil
}

func (m *Manager) lock(src domain.FilterSource) func() {
	m.mu.Lock()
	l, ok := m.locks[src.CachePath]
	if !ok {
		l = &sync.Mutex{}
		m.locks[src.CachePath] = l
	}
	m.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Entry describes the cache file of src. ok is false when there is none.
func (m *Manager) Entry(src domain.FilterSource) (entry domain.CacheEntry, ok bool, err error) {
	fi, err := os.Stat(src.CachePath)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.CacheEntry{}, false, nil
	}
	if err != nil {
		return domain.CacheEntry{}, false, err
	}
	return domain.CacheEntry{
		SourceID:  src.ID,
		Path:      src.CachePath,
		FetchedAt: fi.ModTime(),
		Size:      fi.Size(),
	}, true, nil
}

// IsFresh reports whether src has a cache file inside the freshness window.
func (m *Manager) IsFresh(src domain.FilterSource) bool {
	e, ok, err := m.Entry(src)
	return err == nil && ok && e.IsFresh(m.clock.Now(), m.window)
}

// EnsureLoaded loads src into the rule engine, downloading it only when the
// cached copy is missing or stale. A fresh copy that cannot be read or that
// the engine rejects is treated as corrupt and downloaded again once.
func (m *Manager) EnsureLoaded(ctx context.Context, src domain.FilterSource) (Outcome, error) {
	unlock := m.lock(src)
	defer unlock()

	if m.IsFresh(src) {
		err := m.loadFromDisk(src)
		if err == nil {
			m.metrics.RecordDownload(src.ID, metrics.OutcomeCached)
			m.logger.Debug(map[string]any{"source": src.ID, "path": src.CachePath}, "using cached filter list")
			return OutcomeCached, nil
		}
		m.logger.Warn(map[string]any{"source": src.ID, "error": err}, "cached filter list unusable, refetching")
	}

	if err := m.download(ctx, src); err != nil {
		return OutcomeDownloaded, err
	}
	return OutcomeDownloaded, nil
}

// ForceRefresh deletes the cached copy of src and downloads it again,
// regardless of freshness.
func (m *Manager) ForceRefresh(ctx context.Context, src domain.FilterSource) error {
	unlock := m.lock(src)
	defer unlock()

	if err := os.Remove(src.CachePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove cached %s: %w", src.ID, err)
	}
	return m.download(ctx, src)
}

func (m *Manager) loadFromDisk(src domain.FilterSource) error {
	b, err := os.ReadFile(src.CachePath)
	if err != nil {
		return fmt.Errorf("read cached %s: %w", src.ID, err)
	}
	return m.load(src, b)
}

func (m *Manager) load(src domain.FilterSource, content []byte) error {
	if err := m.loader.LoadRules(string(content)); err != nil {
		m.metrics.RecordDownload(src.ID, metrics.OutcomeRejected)
		if errors.Is(err, domain.ErrRuleLoad) {
			return fmt.Errorf("source %s: %w", src.ID, err)
		}
		return fmt.Errorf("%w: source %s: %v", domain.ErrRuleLoad, src.ID, err)
	}
	return nil
}

// download streams src to a temp file next to the cache file, renames it
// into place, stamps its mtime from the injected clock and loads it.
func (m *Manager) download(ctx context.Context, src domain.FilterSource) error {
	start := time.Now()
	body, err := m.fetcher.Fetch(ctx, src.URL)
	if err != nil {
		m.metrics.RecordDownload(src.ID, metrics.OutcomeFailed)
		return tagDownloadError(src, err)
	}
	defer body.Close()

	var buf bytes.Buffer
	if err := m.writeFile(src, io.TeeReader(body, &buf)); err != nil {
		m.metrics.RecordDownload(src.ID, metrics.OutcomeFailed)
		return tagDownloadError(src, err)
	}
	m.metrics.RecordDownload(src.ID, metrics.OutcomeDownloaded)
	m.logger.Info(map[string]any{
		"source":  src.ID,
		"url":     src.URL,
		"bytes":   buf.Len(),
		"elapsed": time.Since(start).String(),
	}, "filter list downloaded")

	return m.load(src, buf.Bytes())
}

func (m *Manager) writeFile(src domain.FilterSource, r io.Reader) error {
	dir := filepath.Dir(src.CachePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(src.CachePath)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, src.CachePath); err != nil {
		cleanup()
		return err
	}
	now := m.clock.Now()
	return os.Chtimes(src.CachePath, now, now)
}

func tagDownloadError(src domain.FilterSource, err error) error {
	var de *domain.DownloadError
	if errors.As(err, &de) {
		if de.SourceID == "" {
			de.SourceID = src.ID
		}
		return fmt.Errorf("source %s: %w", src.ID, err)
	}
	return &domain.DownloadError{SourceID: src.ID, URL: src.URL, Err: err}
}
