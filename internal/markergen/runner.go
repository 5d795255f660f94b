package markergen

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/okian/geocluster/internal/adapters/markerapi"
	"github.com/okian/geocluster/pkg/logger"
)

const (
	directoryPermission = 0750
	filePermission      = 0600
	readHeaderTimeout   = 5 * time.Second
	shutdownTimeout     = 5 * time.Second
)

// Run generates the fixture, writes it, and serves it until ctx ends when
// ServeAddr is set.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	if cfg.Count < 0 || cfg.RadiusDeg <= 0 {
		return nil, fmt.Errorf("invalid fixture: count %d radius %v", cfg.Count, cfg.RadiusDeg)
	}
	if err := cfg.Center.Validate(); err != nil {
		return nil, fmt.Errorf("invalid fixture centre: %w", err)
	}

	log := logger.OrDefault(cfg.Logger, "markergen")
	stats := &Stats{}
	items := Generate(ctx, cfg, stats)

	if cfg.OutputFile != "" {
		data, err := markerapi.Encode(items)
		if err != nil {
			return stats, err
		}
		if err := writeFile(cfg.OutputFile, data); err != nil {
			return stats, err
		}
		stats.Bytes = len(data)
		log.Info(ctx, "fixture written",
			logger.String("file", cfg.OutputFile),
			logger.Int("bytes", stats.Bytes),
		)
	}

	if cfg.ServeAddr == "" {
		return stats, nil
	}

	backend := NewBackend(items, log.Named("backend"))
	srv := &http.Server{Addr: cfg.ServeAddr, Handler: backend, ReadHeaderTimeout: readHeaderTimeout}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	log.Info(ctx, "marker backend listening", logger.String("addr", cfg.ServeAddr))

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return stats, fmt.Errorf("marker backend: %w", err)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
	stats.Queries = backend.Queries()
	return stats, nil
}

func writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, filePermission); err != nil {
		return fmt.Errorf("failed to write fixture: %w", err)
	}
	return nil
}
