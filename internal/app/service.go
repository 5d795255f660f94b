// Package service composes the map screen: it turns settled viewports into
// clustered markers on a surface, keeps their icons up to date, and routes
// taps and long presses.
package service

import (
	"context"
	"fmt"
	"image"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/geocluster/internal/adapters/iconcache"
	"github.com/okian/geocluster/internal/adapters/mq/queue"
	"github.com/okian/geocluster/internal/adapters/mq/worker"
	"github.com/okian/geocluster/internal/adapters/render"
	"github.com/okian/geocluster/internal/adapters/surface"
	"github.com/okian/geocluster/internal/adapters/thumbnail"
	"github.com/okian/geocluster/internal/domain/clustering"
	"github.com/okian/geocluster/internal/domain/dedupe"
	"github.com/okian/geocluster/internal/domain/interaction"
	"github.com/okian/geocluster/internal/domain/model"
	"github.com/okian/geocluster/internal/domain/projection"
	"github.com/okian/geocluster/internal/domain/reconcile"
	"github.com/okian/geocluster/pkg/logger"
	"github.com/okian/geocluster/pkg/metrics"
	"github.com/paulmach/orb"
)

const (
	defaultCacheEntries = 256
	defaultCacheBytes   = 32 << 20
	defaultQueueSize    = 1024
	defaultIconSize     = 64
	defaultRetries      = 2
	defaultBackoff      = 250 * time.Millisecond
	stopTimeout         = 10 * time.Second
)

// MarkerSource answers bounding-box queries for markers.
type MarkerSource interface {
	Query(ctx context.Context, bound orb.Bound) ([]model.MarkerItem, error)
}

// Renderer draws icons and supplies the pending-icon placeholder.
type Renderer interface {
	worker.Renderer
	Placeholder() *image.RGBA
}

// CreateHandler receives long-press coordinates untouched.
type CreateHandler func(ctx context.Context, at model.Coordinate)

// RevealHandler receives the members of a tapped cluster to preview.
type RevealHandler func(ctx context.Context, members []model.MarkerItem)

// MapScreen owns the rendered marker set. Settle, ApplyCompletion(s), Tap and
// WaitIdle mutate it under one lock; icon rendering is the only work done
// elsewhere, and its results come back as Completions.
type MapScreen struct {
	mu sync.RWMutex

	engine     *clustering.Engine
	resolver   *interaction.Resolver
	canvas     *surface.Canvas
	reconciler *reconcile.Reconciler
	icons      *iconcache.Cache
	renderer   Renderer
	fetcher    render.Fetcher
	source     MarkerSource
	tracker    worker.Tracker

	eventQueue  *queue.InMemoryQueue
	workerPool  *worker.Pool
	provider    *iconProvider
	completions chan worker.Completion
	outstanding atomic.Int64

	// Configuration
	threshold    float64
	tapPolicy    interaction.Policy
	minSpan      float64
	maxZoom      float64
	cacheEntries int
	cacheBytes   int
	workerCount  int
	queueSize    int
	iconSize     int
	retries      int
	backoff      time.Duration

	// State
	epoch    atomic.Uint64
	items    []model.MarkerItem
	vp       model.Viewport
	settled  bool
	pending  map[string]iconcache.Key
	started  bool
	cancel   context.CancelFunc
	onCreate CreateHandler
	onReveal RevealHandler

	logger logger.Logger
}

// New constructs a MapScreen. Components that need the render pool are
// created by Start.
func New(opts ...Option) *MapScreen {
	s := &MapScreen{
		threshold:    clustering.DefaultPixelThreshold,
		tapPolicy:    interaction.RevealAlways,
		minSpan:      interaction.DefaultMinSpanDelta,
		maxZoom:      interaction.DefaultMaxZoomLevel,
		cacheEntries: defaultCacheEntries,
		cacheBytes:   defaultCacheBytes,
		workerCount:  runtime.NumCPU(),
		queueSize:    defaultQueueSize,
		iconSize:     defaultIconSize,
		retries:      defaultRetries,
		backoff:      defaultBackoff,
		pending:      make(map[string]iconcache.Key),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logger.OrDefault(s.logger, "mapscreen")

	proj := projection.New()
	s.engine = clustering.New(
		clustering.WithPixelThreshold(s.threshold),
		clustering.WithProjector(proj),
		clustering.WithLogger(s.logger.Named("clustering")),
	)
	s.resolver = interaction.New(
		interaction.WithPolicy(s.tapPolicy),
		interaction.WithMinSpanDelta(s.minSpan),
		interaction.WithMaxZoomLevel(s.maxZoom),
		interaction.WithLogger(s.logger.Named("interaction")),
	)
	s.canvas = surface.New(model.Viewport{}, surface.WithProjector(proj))
	s.reconciler = reconcile.New(s.canvas, reconcile.WithLogger(s.logger.Named("reconcile")))
	s.icons = iconcache.New(
		iconcache.WithMaxEntries(s.cacheEntries),
		iconcache.WithMaxBytes(s.cacheBytes),
		iconcache.WithLogger(s.logger.Named("iconcache")),
	)

	if s.renderer == nil {
		if s.fetcher == nil {
			// Decoded sources get their own cache: they share PlainKey(url)
			// with finished single-photo icons.
			sources := iconcache.New(
				iconcache.WithMaxEntries(s.cacheEntries),
				iconcache.WithMaxBytes(s.cacheBytes),
				iconcache.WithLogger(s.logger.Named("sourcecache")),
			)
			s.fetcher = thumbnail.New(
				thumbnail.WithSourceCache(sources),
				thumbnail.WithLogger(s.logger.Named("thumbnail")),
			)
		}
		s.renderer = render.New(
			render.WithSize(s.iconSize),
			render.WithFetcher(s.fetcher),
			render.WithLogger(s.logger.Named("render")),
		)
	}
	return s
}

// Start creates the render queue and starts the worker pool.
func (s *MapScreen) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel

	s.tracker = dedupe.NewInMemoryTracker[iconcache.Key, worker.Waiter](dedupe.WithMaxSize(s.queueSize))
	s.eventQueue = queue.NewInMemoryQueue(queue.WithCapacity(s.queueSize))
	s.completions = make(chan worker.Completion, s.queueSize)
	sink := worker.SinkFunc(func(ctx context.Context, c worker.Completion) {
		select {
		case s.completions <- c:
		case <-ctx.Done():
		}
	})
	s.workerPool = worker.NewPool(s.workerCount, s.eventQueue, s.renderer, s.icons, s.tracker, sink,
		worker.WithRetries(s.retries),
		worker.WithBackoff(s.backoff),
		worker.WithLogger(s.logger.Named("worker")),
	)
	s.workerPool.Start(runCtx)

	s.outstanding.Store(0)
	clear(s.pending)
	s.provider = &iconProvider{
		cache:       s.icons,
		tracker:     s.tracker,
		queue:       s.eventQueue,
		placeholder: s.renderer.Placeholder(),
		outstanding: &s.outstanding,
		log:         s.logger.Named("icons"),
	}

	s.started = true
	s.logger.Info(ctx, "map screen started",
		logger.Int("workers", s.workerPool.Size()),
		logger.Int("queueSize", s.queueSize),
		logger.Float64("threshold", s.engine.Threshold()),
		logger.String("tapPolicy", s.resolver.Policy().String()),
	)
	return nil
}

// Stop cancels outstanding renders and shuts the pool down.
func (s *MapScreen) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping map screen...")

	ctx, cancel := context.WithTimeout(ctx, stopTimeout)
	defer cancel()

	// Queued jobs are abandoned; workers blocked on a full completion
	// channel are released by the cancelled run context.
	s.cancel()
	err := s.workerPool.Shutdown(ctx)

	s.started = false
	s.logger.Info(ctx, "map screen stopped")
	if err != nil {
		return fmt.Errorf("stop render pool: %w", err)
	}
	return nil
}

// SetItems replaces the marker set used when no MarkerSource is configured.
// It takes effect on the next Settle or Refresh.
func (s *MapScreen) SetItems(items []model.MarkerItem) {
	cp := make([]model.MarkerItem, len(items))
	copy(cp, items)

	s.mu.Lock()
	s.items = cp
	s.mu.Unlock()
}

// Settle runs one recompute cycle for a settled viewport: load markers,
// drop invalid coordinates, cluster, reconcile the surface and request icons.
// Callers coalesce rapid camera moves before calling it (see Settler).
func (s *MapScreen) Settle(ctx context.Context, vp model.Viewport) error {
	if err := vp.Validate(); err != nil {
		return err
	}

	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()
	if !started {
		return ErrNotStarted
	}

	items, err := s.load(ctx, vp)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.source != nil {
		s.items = items
	}
	s.settle(ctx, vp, items)
	return nil
}

// Refresh re-runs the cycle for the last settled viewport.
func (s *MapScreen) Refresh(ctx context.Context) error {
	s.mu.RLock()
	vp, ok := s.vp, s.settled
	s.mu.RUnlock()
	if !ok {
		return ErrNoViewport
	}
	return s.Settle(ctx, vp)
}

func (s *MapScreen) load(ctx context.Context, vp model.Viewport) ([]model.MarkerItem, error) {
	if s.source == nil {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return s.items, nil
	}
	items, err := s.source.Query(ctx, vp.Bound())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadMarkers, err)
	}
	return items, nil
}

// settle must be called with s.mu held.
func (s *MapScreen) settle(ctx context.Context, vp model.Viewport, items []model.MarkerItem) {
	start := time.Now()

	valid, dropped := model.FilterValid(items)
	if dropped > 0 {
		metrics.RecordInvalidCoordinates(dropped)
		s.logger.Warn(ctx, "markers with invalid coordinates dropped", logger.Int("dropped", dropped))
	}

	epoch := s.epoch.Add(1)
	s.vp, s.settled = vp, true
	s.canvas.SetViewport(vp)

	clusters := s.engine.Cluster(ctx, valid, vp)
	plan := s.reconciler.Apply(ctx, clusters)

	for _, id := range plan.ToRemove {
		delete(s.pending, id)
	}
	added := make(map[string]struct{}, len(plan.ToAdd))
	for _, c := range plan.ToAdd {
		added[c.ID] = struct{}{}
		s.requestIcon(ctx, c, epoch, true)
	}

	// Retained markers still on the placeholder ask again under this epoch;
	// completions for the old epoch will be dropped.
	retained := make([]string, 0, len(s.pending))
	for id := range s.pending {
		if _, ok := added[id]; !ok {
			retained = append(retained, id)
		}
	}
	sort.Strings(retained)
	for _, id := range retained {
		if c, ok := s.reconciler.Cluster(id); ok {
			s.requestIcon(ctx, c, epoch, false)
		}
	}

	s.logger.Debug(ctx, "viewport settled",
		logger.Uint64("epoch", epoch),
		logger.Int("items", len(valid)),
		logger.Int("clusters", len(clusters)),
		logger.Int("added", len(plan.ToAdd)),
		logger.Int("removed", len(plan.ToRemove)),
		logger.Int("pendingIcons", len(s.pending)),
		logger.Duration("took", time.Since(start)),
	)
}

// requestIcon must be called with s.mu held. Fresh markers always get a
// bitmap, the placeholder if nothing better is ready.
func (s *MapScreen) requestIcon(ctx context.Context, c model.ClusterResult, epoch uint64, fresh bool) { //nolint:gocritic // hugeParam: ClusterResult is passed by value like everywhere else
	h, ok := s.reconciler.Handle(c.ID)
	if !ok {
		return
	}
	spec := render.SpecFor(c)
	bmp, ready := s.provider.GetOrRender(ctx, spec, worker.Waiter{ClusterID: c.ID, Epoch: epoch})
	if ready || fresh {
		s.canvas.SetIcon(h, bmp)
	}
	if ready {
		delete(s.pending, c.ID)
		return
	}
	s.pending[c.ID] = spec.Key
}

// Tap resolves a tap on the displayed cluster with the given id. A reveal is
// passed to the RevealHandler; a zoom moves the camera and settles there.
func (s *MapScreen) Tap(ctx context.Context, clusterID string) (interaction.Action, error) {
	s.mu.RLock()
	c, ok := s.reconciler.Cluster(clusterID)
	vp := s.vp
	s.mu.RUnlock()
	if !ok {
		return interaction.Action{}, fmt.Errorf("%w: %s", ErrUnknownCluster, clusterID)
	}

	action := s.resolver.Resolve(ctx, interaction.Tap{
		Cluster:   c,
		ZoomLevel: vp.ZoomLevel(),
		Span:      vp.Span,
	})

	switch action.Kind {
	case interaction.ActionReveal:
		if s.onReveal != nil {
			s.onReveal(ctx, action.Members)
		}
	case interaction.ActionZoom:
		next := model.Viewport{Center: action.Center, Span: action.Span, Size: vp.Size}
		if err := s.Settle(ctx, next); err != nil {
			return action, err
		}
	}
	return action, nil
}

// LongPress forwards the coordinate to the CreateHandler.
func (s *MapScreen) LongPress(ctx context.Context, at model.Coordinate) {
	if s.onCreate != nil {
		s.onCreate(ctx, at)
	}
}

// Canvas returns the rendering surface.
func (s *MapScreen) Canvas() *surface.Canvas { return s.canvas }

// Epoch returns the current settle generation.
func (s *MapScreen) Epoch() uint64 { return s.epoch.Load() }

// Clusters returns the rendered clusters sorted by id.
func (s *MapScreen) Clusters() []model.ClusterResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.reconciler.IDs()
	out := make([]model.ClusterResult, 0, len(ids))
	for _, id := range ids {
		if c, ok := s.reconciler.Cluster(id); ok {
			out = append(out, c)
		}
	}
	return out
}
