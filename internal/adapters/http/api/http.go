// Package api serves the map screen's debug endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/okian/geocluster/pkg/logger"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// Server wires the debug routes.
type Server struct {
	healthHandler   *HealthHandler
	statsHandler    *StatsHandler
	snapshotHandler *SnapshotHandler
	cameraHandler   *CameraHandler

	httpServer *http.Server
	log        logger.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithCamera registers the gesture routes /camera, /tap and /longpress.
func WithCamera(c Camera) Option {
	return func(s *Server) {
		if c != nil {
			s.cameraHandler = NewCameraHandler(c)
		}
	}
}

// NewServer creates a new API server with all handlers. snapshots may be nil,
// in which case /snapshot.png is not registered.
func NewServer(stats StatsProvider, snapshots SnapshotProvider, opts ...Option) *Server {
	s := &Server{
		healthHandler: NewHealthHandler(),
		statsHandler:  NewStatsHandler(stats),
	}
	if snapshots != nil {
		s.snapshotHandler = NewSnapshotHandler(snapshots)
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logger.OrDefault(s.log, "api")
	return s
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	if s.snapshotHandler != nil {
		mux.HandleFunc("/snapshot.png", MetricsMiddleware(s.snapshotHandler.HandleSnapshot, "snapshot"))
	}
	if s.cameraHandler != nil {
		mux.HandleFunc("/camera", MetricsMiddleware(s.cameraHandler.HandleMove, "camera"))
		mux.HandleFunc("/tap", MetricsMiddleware(s.cameraHandler.HandleTap, "tap"))
		mux.HandleFunc("/longpress", MetricsMiddleware(s.cameraHandler.HandleLongPress, "longpress"))
	}
}

// Start serves on addr in the background. Serve errors other than a clean
// shutdown are logged.
func (s *Server) Start(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	s.Register(mux)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		s.log.Info(ctx, "debug server listening", logger.String("addr", addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error(ctx, "debug server stopped", logger.Error(fmt.Errorf("%w: %w", ErrServe, err)))
		}
	}()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}
