package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/okian/geocluster/internal/adapters/http/api"
	"github.com/okian/geocluster/internal/adapters/http/swagger"
	"github.com/okian/geocluster/internal/adapters/markerapi"
	service "github.com/okian/geocluster/internal/app"
	"github.com/okian/geocluster/internal/config"
	"github.com/okian/geocluster/internal/domain/model"
	"github.com/okian/geocluster/pkg/logger"
	"github.com/okian/geocluster/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout               = 10 * time.Second
	writeTimeout              = 10 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	shutdownTimeout           = 30 * time.Second
	nanosecondsPerMillisecond = 1e6
)

// Default viewport: central Berlin on a phone-sized screen.
const (
	defaultLat     = 52.52
	defaultLng     = 13.405
	defaultSpan    = 0.05
	defaultWidth   = 390
	defaultHeight  = 844
	defaultWait    = 30 * time.Second
	snapshotPerm   = 0600
	snapshotDirPrm = 0750
)

// runOptions are the command-line settings of one headless run.
type runOptions struct {
	Viewport model.Viewport
	Fixture  string
	Out      string
	Serve    bool
	Wait     time.Duration
}

func main() {
	var (
		lat     = flag.Float64("lat", defaultLat, "Viewport centre latitude")
		lng     = flag.Float64("lng", defaultLng, "Viewport centre longitude")
		span    = flag.Float64("span", defaultSpan, "Viewport longitude span in degrees; the latitude span follows the aspect ratio")
		width   = flag.Float64("width", defaultWidth, "Viewport width in pixels")
		height  = flag.Float64("height", defaultHeight, "Viewport height in pixels")
		fixture = flag.String("fixture", "", "GeoJSON marker file; the marker API is queried when empty")
		out     = flag.String("out", "", "Write a PNG snapshot of the settled surface to this file")
		serve   = flag.Bool("serve", false, "Keep running and serve the debug API until interrupted")
		wait    = flag.Duration("wait", defaultWait, "How long to wait for icon renders before the snapshot")
	)
	flag.Parse()

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() {
		if err := logger.Sync(); err != nil {
			os.Stderr.WriteString("failed to sync logger: " + err.Error() + "\n")
		}
	}()

	loggerInstance := logger.Get()

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return
	}

	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		loggerInstance.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	metrics.Init(
		metrics.WithMetricsEnabled(cfg.MetricsEnabled),
		metrics.WithRefreshInterval(cfg.MetricsRefresh()),
	)

	opts := runOptions{
		Viewport: viewportFor(*lat, *lng, *span, *width, *height),
		Fixture:  *fixture,
		Out:      *out,
		Serve:    *serve,
		Wait:     *wait,
	}
	if err := run(ctx, cfg, opts, loggerInstance); err != nil {
		loggerInstance.Error(ctx, "run failed", logger.Error(err))
		return
	}
}

// viewportFor builds a viewport whose latitude span keeps square pixels.
func viewportFor(lat, lng, lngSpan, width, height float64) model.Viewport {
	latSpan := lngSpan
	if width > 0 {
		latSpan = lngSpan * height / width
	}
	return model.Viewport{
		Center: model.Coordinate{Lat: lat, Lng: lng},
		Span:   model.Span{LatDelta: latSpan, LngDelta: lngSpan},
		Size:   model.PixelSize{Width: width, Height: height},
	}
}

// newScreen builds the map screen from cfg. With a fixture the markers are
// loaded once from disk; otherwise every settle queries the marker API.
func newScreen(ctx context.Context, cfg *config.Config, fixture string, log logger.Logger) (*service.MapScreen, error) {
	opts := service.ConfigOptions(cfg, log)
	if fixture == "" {
		opts = append(opts, service.WithMarkerSource(markerapi.New(cfg.MarkerAPIURL,
			markerapi.WithTimeout(cfg.FetchTimeout()),
			markerapi.WithLogger(log.Named("markerapi")),
		)))
	}
	screen := service.New(opts...)

	if fixture != "" {
		data, err := os.ReadFile(fixture)
		if err != nil {
			return nil, fmt.Errorf("read fixture: %w", err)
		}
		items, err := markerapi.Decode(ctx, data, log.Named("fixture"))
		if err != nil {
			return nil, err
		}
		screen.SetItems(items)
		log.Info(ctx, "fixture loaded", logger.String("file", fixture), logger.Int("markers", len(items)))
	}
	return screen, nil
}

func run(ctx context.Context, cfg *config.Config, opts runOptions, log logger.Logger) error {
	screen, err := newScreen(ctx, cfg, opts.Fixture, log)
	if err != nil {
		return err
	}
	if err := screen.Start(ctx); err != nil {
		return fmt.Errorf("start map screen: %w", err)
	}
	defer func() {
		if err := screen.Stop(context.WithoutCancel(ctx)); err != nil {
			log.Error(ctx, "map screen stop failed", logger.Error(err))
		}
	}()

	if err := screen.Settle(ctx, opts.Viewport); err != nil {
		return fmt.Errorf("settle viewport: %w", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, opts.Wait)
	err = screen.WaitIdle(waitCtx)
	cancel()
	if err != nil {
		log.Warn(ctx, "icons still rendering; snapshot keeps placeholders", logger.Error(err))
	}

	st := screen.Stats()
	log.Info(ctx, "viewport settled",
		logger.Int("markers", st.RenderedMarkers),
		logger.Int("pendingIcons", st.PendingIcons),
		logger.Int("cacheEntries", st.CacheEntries),
	)

	if opts.Out != "" {
		if err := writeSnapshot(opts.Out, screen); err != nil {
			return err
		}
		log.Info(ctx, "snapshot written", logger.String("file", opts.Out))
	}

	if !opts.Serve {
		return nil
	}
	if cfg.Addr == "" {
		return errors.New("serve requested but addr is empty")
	}
	return serve(ctx, cfg.Addr, screen, log)
}

// camera routes debug gestures to the map screen. Moves go through the
// settler so a burst of them settles once.
type camera struct {
	*service.MapScreen
	settler *service.Settler
}

func (c camera) Move(vp model.Viewport) { c.settler.Moved(vp) }

// debugMux registers the swagger, stats, snapshot and gesture routes.
func debugMux(ctx context.Context, screen *service.MapScreen, settler *service.Settler, log logger.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	swagger.Register(ctx, mux)
	api.NewServer(screen, screen.Canvas(),
		api.WithLogger(log.Named("api")),
		api.WithCamera(camera{MapScreen: screen, settler: settler}),
	).Register(mux)
	return mux
}

// settle applies a settled camera position. A rejected viewport is logged
// and the screen keeps its previous state.
func settle(ctx context.Context, screen *service.MapScreen, vp model.Viewport, log logger.Logger) {
	if err := screen.Settle(ctx, vp); err != nil {
		log.Warn(ctx, "settle failed", logger.Error(err))
	}
}

// serve exposes the debug API and keeps applying late icon completions and
// settled camera moves until ctx is cancelled.
func serve(ctx context.Context, addr string, screen *service.MapScreen, log logger.Logger) error {
	if metrics.Enabled() {
		interval := metrics.RefreshInterval()
		go startSystemMetricsUpdater(ctx, interval)
		go startServiceMetricsUpdater(ctx, screen, interval)
	}

	settler := service.NewSettler(service.DefaultQuietPeriod)
	defer settler.Stop()

	srv := &http.Server{
		Addr:              addr,
		Handler:           debugMux(ctx, screen, settler, log),
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("%w: %w", api.ErrServe, err)
		}
	}()

	completions := screen.Completions()
	for {
		select {
		case c := <-completions:
			screen.ApplyCompletion(ctx, c)
		case vp := <-settler.Settled():
			settle(ctx, screen, vp, log)
		case err := <-errc:
			return err
		case <-ctx.Done():
			log.Info(ctx, "shutting down server...")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error(ctx, "server shutdown failed", logger.Error(err))
			}
			log.Info(ctx, "server stopped")
			return nil
		}
	}
}

func writeSnapshot(path string, screen *service.MapScreen) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, snapshotDirPrm); err != nil {
			return fmt.Errorf("create snapshot directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, snapshotPerm)
	if err != nil {
		return fmt.Errorf("open snapshot: %w", err)
	}
	if err := screen.Canvas().EncodePNG(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// startSystemMetricsUpdater samples process metrics every interval.
func startSystemMetricsUpdater(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// startServiceMetricsUpdater samples map screen metrics every interval.
func startServiceMetricsUpdater(ctx context.Context, screen *service.MapScreen, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateServiceMetrics(screen)
		}
	}
}

func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())

	if m.NumGC > 0 {
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}

// updateServiceMetrics publishes queue and worker gauges. GetStats already
// refreshes the cache gauges.
func updateServiceMetrics(screen *service.MapScreen) {
	stats := screen.GetStats()

	if queueLen, ok := stats["queue_length"].(int); ok {
		metrics.UpdateQueueSize(queueLen)
	}
	if inflight, ok := stats["inflight_renders"].(int64); ok {
		metrics.UpdateRenderInflight(int(inflight))
	}
	if workers, ok := stats["workers"].(int); ok {
		metrics.UpdateWorkerActiveCount(workers)
	}
}
