// Package config defines map-screen configuration and its loading hooks.
//
// Conventions:
// - New returns a Config populated with defaults.
// - Load layers an optional YAML file and GEOCLUSTER_ env vars on top.
// - Failures are wrapped with this package's sentinel errors.
package config

import (
	"runtime"
	"time"
)

// Tap policies accepted by TapPolicy.
const (
	TapPolicyReveal = "reveal"
	TapPolicyZoom   = "zoom"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the debug HTTP listen address. Empty disables it.
	Addr string `koanf:"addr"`

	// PixelThreshold is the screen distance below which a marker joins a pivot's cluster.
	PixelThreshold float64 `koanf:"pixel_threshold"`

	// CacheMaxEntries and CacheMaxBytes bound the icon cache.
	CacheMaxEntries int `koanf:"cache_max_entries"`
	CacheMaxBytes   int `koanf:"cache_max_bytes"`

	// RenderWorkers sets the number of icon render workers.
	RenderWorkers int `koanf:"render_workers"`

	// RenderQueueSize bounds the pending render job queue.
	RenderQueueSize int `koanf:"render_queue_size"`

	// FetchRetries is the number of retries after a failed thumbnail render.
	FetchRetries int `koanf:"fetch_retries"`

	// FetchBackoffMS is the fixed pause between retries.
	FetchBackoffMS int `koanf:"fetch_backoff_ms"`

	// FetchTimeoutMS bounds a single thumbnail or marker API request.
	FetchTimeoutMS int `koanf:"fetch_timeout_ms"`

	// IconSizePx is the edge length of generated icons.
	IconSizePx int `koanf:"icon_size_px"`

	// MinSpanDelta is the smallest lat/lng span a zoom may produce, in degrees.
	MinSpanDelta float64 `koanf:"min_span_delta"`

	// MaxZoomLevel stops zoom-to-expand once the viewport is this deep.
	MaxZoomLevel float64 `koanf:"max_zoom_level"`

	// TapPolicy is either "reveal" or "zoom".
	TapPolicy string `koanf:"tap_policy"`

	// MarkerAPIURL is the bounding-box query endpoint.
	MarkerAPIURL string `koanf:"marker_api_url"`

	// MetricsEnabled exposes the prometheus registry and runs the gauge samplers.
	MetricsEnabled bool `koanf:"metrics_enabled"`

	// MetricsRefreshMS is how often the process and queue gauges are sampled.
	MetricsRefreshMS int `koanf:"metrics_refresh_ms"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:        "info",
		Addr:            ":9080",
		PixelThreshold:  88,
		CacheMaxEntries: 256,
		CacheMaxBytes:   32 << 20,
		RenderWorkers:   runtime.NumCPU(),
		RenderQueueSize: 1024,
		FetchRetries:    2,
		FetchBackoffMS:  250,
		FetchTimeoutMS:  5000,
		IconSizePx:      64,
		MinSpanDelta:    0.0005,
		MaxZoomLevel:    20,
		TapPolicy:       TapPolicyReveal,
		MarkerAPIURL:    "http://localhost:8080/markers",

		MetricsEnabled:   true,
		MetricsRefreshMS: 5000,
	}
}

// FetchBackoff returns FetchBackoffMS as a duration.
func (c *Config) FetchBackoff() time.Duration {
	return time.Duration(c.FetchBackoffMS) * time.Millisecond
}

// FetchTimeout returns FetchTimeoutMS as a duration.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutMS) * time.Millisecond
}

// MetricsRefresh returns MetricsRefreshMS as a duration.
func (c *Config) MetricsRefresh() time.Duration {
	return time.Duration(c.MetricsRefreshMS) * time.Millisecond
}
