// Package worker runs the render pool: the only work done off the
// rendering goroutine. Workers draw icons, store them in the icon cache and
// publish a Completion for every job, successful or not.
package worker

import (
	"context"
	"errors"
	"fmt"
	"image"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/okian/geocluster/internal/adapters/iconcache"
	"github.com/okian/geocluster/internal/adapters/mq/queue"
	"github.com/okian/geocluster/internal/adapters/render"
	"github.com/okian/geocluster/internal/domain/dedupe"
	"github.com/okian/geocluster/pkg/logger"
	"github.com/okian/geocluster/pkg/metrics"
)

const (
	defaultRetries      = 2
	defaultBackoff      = 250 * time.Millisecond
	poolShutdownTimeout = 30 * time.Second
)

// Waiter identifies a displayed cluster that asked for an icon during a
// given settle cycle.
type Waiter struct {
	ClusterID string
	Epoch     uint64
}

// Completion reports the outcome of one render job. Bitmap is nil when Err
// is set.
type Completion struct {
	JobID   uuid.UUID
	Key     iconcache.Key
	Bitmap  *image.RGBA
	Err     error
	Waiters []Waiter
}

// Renderer draws an icon.
type Renderer interface {
	Render(ctx context.Context, spec render.Spec) (*image.RGBA, error)
}

// Cache stores finished icons.
type Cache interface {
	Insert(key iconcache.Key, bmp *image.RGBA) error
}

// Queue defines how workers receive jobs.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.Job
}

// Tracker is the in-flight key set shared with the icon requesters.
type Tracker = dedupe.Tracker[iconcache.Key, Waiter]

// Sink receives completions. Deliver must not block past ctx.
type Sink interface {
	Deliver(ctx context.Context, c Completion)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, c Completion)

// Deliver calls f.
func (f SinkFunc) Deliver(ctx context.Context, c Completion) { f(ctx, c) }

// InMemoryWorker processes render jobs from a queue.
type InMemoryWorker struct {
	queue    Queue
	renderer Renderer
	cache    Cache
	tracker  Tracker
	sink     Sink
	name     string

	retries int
	backoff time.Duration
	busy    *atomic.Int64

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(q Queue, r Renderer, cache Cache, tracker Tracker, sink Sink, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:    q,
		renderer: r,
		cache:    cache,
		tracker:  tracker,
		sink:     sink,
		name:     "worker",
		retries:  defaultRetries,
		backoff:  defaultBackoff,
		busy:     new(atomic.Int64),
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = logger.OrDefault(w.logger, "worker").Named(w.name)
	return w
}

// Run consumes jobs until ctx is cancelled, Shutdown is called, or the
// queue is closed and drained.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	jobs := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case j, ok := <-jobs:
			if !ok {
				return
			}
			w.process(ctx, j)
		}
	}
}

// Shutdown stops the worker after its current job.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	w.shutdownOnce.Do(func() { close(w.shutdown) })

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// process renders one job. The icon is cached before its key is released,
// so a request arriving after release is served from the cache.
func (w *InMemoryWorker) process(ctx context.Context, j queue.Job) { //nolint:gocritic // hugeParam: Job is passed by value for channel semantics
	metrics.UpdateRenderInflight(int(w.busy.Add(1)))
	defer func() { metrics.UpdateRenderInflight(int(w.busy.Add(-1))) }()

	start := time.Now()
	bmp, err := w.renderWithRetry(ctx, j.Spec)
	metrics.RecordRender(j.Spec.Kind.String(), time.Since(start), err != nil)

	if err != nil {
		metrics.RecordErrorByComponent("worker", "render_failed")
		w.logger.Warn(ctx, "icon render failed, keeping placeholder",
			logger.String("key", j.Spec.Key.String()),
			logger.String("job", j.ID.String()),
			logger.Error(err),
		)
	} else if ierr := w.cache.Insert(j.Spec.Key, bmp); ierr != nil {
		w.logger.Debug(ctx, "icon not cached",
			logger.String("key", j.Spec.Key.String()),
			logger.Error(ierr),
		)
	}

	waiters := w.tracker.Release(ctx, j.Spec.Key)
	w.sink.Deliver(ctx, Completion{
		JobID:   j.ID,
		Key:     j.Spec.Key,
		Bitmap:  bmp,
		Err:     err,
		Waiters: waiters,
	})
}

func (w *InMemoryWorker) renderWithRetry(ctx context.Context, spec render.Spec) (*image.RGBA, error) {
	var lastErr error
	for attempt := 0; attempt <= w.retries; attempt++ {
		if attempt > 0 {
			metrics.RecordRenderRetry()
			t := time.NewTimer(w.backoff)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, fmt.Errorf("render %s: %w", spec.Key, ctx.Err())
			case <-t.C:
			}
		}

		bmp, err := w.renderer.Render(ctx, spec)
		if err == nil {
			return bmp, nil
		}
		lastErr = err
		if !retryable(err) {
			break
		}
	}
	return nil, lastErr
}

func retryable(err error) bool {
	switch {
	case errors.Is(err, render.ErrNoFetcher), errors.Is(err, render.ErrUnsupportedKind):
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

// Pool manages multiple workers sharing one queue.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue
	logger  logger.Logger
}

// NewPool creates a pool of workerCount workers. A count below one uses
// runtime.NumCPU. opts apply to every worker.
func NewPool(workerCount int, q Queue, r Renderer, cache Cache, tracker Tracker, sink Sink, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU()
	}

	p := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   q,
	}
	busy := new(atomic.Int64)
	for i := 0; i < workerCount; i++ {
		wopts := append([]Option{WithName("worker-" + strconv.Itoa(i))}, opts...)
		w := NewInMemoryWorker(q, r, cache, tracker, sink, wopts...)
		w.busy = busy
		p.workers[i] = w
	}
	// The pool logs through the same logger the options give its workers.
	shared := &InMemoryWorker{}
	for _, opt := range opts {
		opt(shared)
	}
	p.logger = logger.OrDefault(shared.logger, "worker").Named("pool")

	metrics.UpdateWorkerActiveCount(workerCount)
	metrics.UpdateRenderInflight(0)
	return p
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
}

// Shutdown closes the queue and waits for the workers to drain it.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	ctx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	var timedOut bool
	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-ctx.Done():
			w.shutdownOnce.Do(func() { close(w.shutdown) })
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
			timedOut = true
		}
	}
	metrics.UpdateWorkerActiveCount(0)
	if timedOut {
		return fmt.Errorf("pool shutdown: %w", ctx.Err())
	}
	return nil
}
