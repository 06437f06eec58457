// Package workpool runs background filter acquisition off the request path.
// Concurrency is bounded by a weighted semaphore; shutdown drains for a
// bounded time and then cancels whatever is still running.
package workpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/haukened/rr-adblock/internal/adblock/common/log"
)

var (
	// ErrPoolClosed is returned by Submit after Shutdown.
	ErrPoolClosed = errors.New("worker pool closed")
	// ErrDrainTimeout is returned by Shutdown when tasks were still running
	// after the drain window and had to be cancelled.
	ErrDrainTimeout = errors.New("worker pool drain timed out")
)

// Pool is a bounded set of background workers.
type Pool struct {
	ctx    context.Context
	cancel context.CancelFunc
	sem    *semaphore.Weighted
	logger log.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// New returns a Pool running at most workers tasks at once.
func New(workers int, logger log.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		ctx:    ctx,
		cancel: cancel,
		sem:    semaphore.NewWeighted(int64(workers)),
		logger: log.Named(log.OrNoop(logger), "workpool"),
	}
}

// Task is a handle on submitted work. Waiting on it never cancels it.
type Task struct {
	name string
	done chan struct{}
	err  error
}

// Name returns the label given at submission.
func (t *Task) Name() string { return t.name }

// Done is closed when the task has finished.
func (t *Task) Done() <-chan struct{} { return t.done }

// Err returns the task's result. It is only meaningful after Done is closed.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Wait blocks until the task finishes or ctx ends. On ctx expiry it returns
// the context error; the task keeps running.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit schedules fn. fn receives a context that is cancelled on forced
// shutdown. A panic in fn is recovered and reported as the task error.
func (p *Pool) Submit(name string, fn func(ctx context.Context) error) (*Task, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	p.wg.Add(1)
	p.mu.Unlock()

	t := &Task{name: name, done: make(chan struct{})}
	go p.run(t, fn)
	return t, nil
}

func (p *Pool) run(t *Task, fn func(ctx context.Context) error) {
	defer p.wg.Done()
	defer close(t.done)

	if err := p.sem.Acquire(p.ctx, 1); err != nil {
		t.err = fmt.Errorf("task %s not started: %w", t.name, err)
		return
	}
	defer p.sem.Release(1)

	defer func() {
		if r := recover(); r != nil {
			t.err = fmt.Errorf("task %s panicked: %v", t.name, r)
			p.logger.Error(map[string]any{"task": t.name, "panic": r}, "background task panicked")
		}
	}()
	t.err = fn(p.ctx)
}

// Closed reports whether Shutdown has been called.
func (p *Pool) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Shutdown stops accepting work and waits up to drain for running tasks.
// After that it cancels the task context and returns ErrDrainTimeout without
// waiting further. Calling Shutdown more than once is safe.
func (p *Pool) Shutdown(drain time.Duration) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(drain)
	defer timer.Stop()
	select {
	case <-done:
		p.cancel()
		return nil
	case <-timer.C:
		p.logger.Warn(map[string]any{"drain": drain.String()}, "tasks still running after drain, cancelling")
		p.cancel()
		return ErrDrainTimeout
	}
}
