package service

import (
	"time"

	"github.com/okian/geocluster/internal/adapters/render"
	"github.com/okian/geocluster/internal/domain/interaction"
	"github.com/okian/geocluster/pkg/logger"
)

// Option applies a configuration option to the MapScreen.
type Option func(*MapScreen)

// WithPixelThreshold sets the clustering distance in screen pixels.
func WithPixelThreshold(px float64) Option {
	return func(s *MapScreen) {
		if px > 0 {
			s.threshold = px
		}
	}
}

// WithTapPolicy sets how cluster taps are resolved.
func WithTapPolicy(p interaction.Policy) Option {
	return func(s *MapScreen) { s.tapPolicy = p }
}

// WithZoomLimits sets the smallest span a zoom may reach and the zoom level
// at which taps always reveal.
func WithZoomLimits(minSpanDelta, maxZoomLevel float64) Option {
	return func(s *MapScreen) {
		if minSpanDelta > 0 {
			s.minSpan = minSpanDelta
		}
		if maxZoomLevel > 0 {
			s.maxZoom = maxZoomLevel
		}
	}
}

// WithCacheLimits bounds the icon cache by entry count and total bytes.
func WithCacheLimits(entries, bytes int) Option {
	return func(s *MapScreen) {
		if entries > 0 {
			s.cacheEntries = entries
		}
		if bytes > 0 {
			s.cacheBytes = bytes
		}
	}
}

// WithWorkerCount sets the number of render workers.
func WithWorkerCount(count int) Option {
	return func(s *MapScreen) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the render queue capacity.
func WithQueueSize(size int) Option {
	return func(s *MapScreen) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithIconSize sets the icon edge length in pixels.
func WithIconSize(px int) Option {
	return func(s *MapScreen) {
		if px > 0 {
			s.iconSize = px
		}
	}
}

// WithRetry sets how often a failed render is retried and the fixed delay
// between attempts.
func WithRetry(retries int, backoff time.Duration) Option {
	return func(s *MapScreen) {
		if retries >= 0 {
			s.retries = retries
		}
		if backoff >= 0 {
			s.backoff = backoff
		}
	}
}

// WithFetcher sets the thumbnail source loader used by the default renderer.
func WithFetcher(f render.Fetcher) Option {
	return func(s *MapScreen) { s.fetcher = f }
}

// WithRenderer replaces the icon renderer.
func WithRenderer(r Renderer) Option {
	return func(s *MapScreen) { s.renderer = r }
}

// WithMarkerSource makes Settle query src for the settled viewport instead
// of using the items given to SetItems.
func WithMarkerSource(src MarkerSource) Option {
	return func(s *MapScreen) { s.source = src }
}

// WithCreateHandler receives long presses.
func WithCreateHandler(h CreateHandler) Option {
	return func(s *MapScreen) { s.onCreate = h }
}

// WithRevealHandler receives the members of clusters resolved to reveal.
func WithRevealHandler(h RevealHandler) Option {
	return func(s *MapScreen) { s.onReveal = h }
}

// WithLogger sets a custom logger for the map screen and its components.
func WithLogger(l logger.Logger) Option {
	return func(s *MapScreen) {
		if l != nil {
			s.logger = l
		}
	}
}
