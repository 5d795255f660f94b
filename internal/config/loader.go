package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix  = "GEOCLUSTER_"
	envCfgPath = "GEOCLUSTER_CONFIG"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New)
//  2. file (YAML) if GEOCLUSTER_CONFIG is set
//  3. env (prefix GEOCLUSTER_)
func Load(_ context.Context) (*Config, error) {
	base := New()

	k := koanf.New(".")

	if path := os.Getenv(envCfgPath); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: read %s: %w", ErrLoadConfig, path, err)
		}
	}

	// GEOCLUSTER_PIXEL_THRESHOLD -> pixel_threshold; flat keys keep their underscores.
	envProvider := env.Provider(envPrefix, ".", func(s string) string {
		s = strings.ToLower(s)
		return strings.TrimPrefix(s, strings.ToLower(envPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: unmarshal: %w", ErrLoadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid field wrapped with ErrInvalidConfig.
func (c *Config) Validate() error {
	switch {
	case c.PixelThreshold <= 0:
		return fmt.Errorf("%w: pixel_threshold must be positive", ErrInvalidConfig)
	case c.CacheMaxEntries <= 0:
		return fmt.Errorf("%w: cache_max_entries must be positive", ErrInvalidConfig)
	case c.CacheMaxBytes <= 0:
		return fmt.Errorf("%w: cache_max_bytes must be positive", ErrInvalidConfig)
	case c.RenderWorkers <= 0:
		return fmt.Errorf("%w: render_workers must be positive", ErrInvalidConfig)
	case c.RenderQueueSize <= 0:
		return fmt.Errorf("%w: render_queue_size must be positive", ErrInvalidConfig)
	case c.FetchRetries < 0:
		return fmt.Errorf("%w: fetch_retries must not be negative", ErrInvalidConfig)
	case c.FetchBackoffMS < 0:
		return fmt.Errorf("%w: fetch_backoff_ms must not be negative", ErrInvalidConfig)
	case c.IconSizePx < 16:
		return fmt.Errorf("%w: icon_size_px must be at least 16", ErrInvalidConfig)
	case c.MinSpanDelta <= 0:
		return fmt.Errorf("%w: min_span_delta must be positive", ErrInvalidConfig)
	case c.MetricsRefreshMS <= 0:
		return fmt.Errorf("%w: metrics_refresh_ms must be positive", ErrInvalidConfig)
	case c.TapPolicy != TapPolicyReveal && c.TapPolicy != TapPolicyZoom:
		return fmt.Errorf("%w: unknown tap_policy %q", ErrInvalidConfig, c.TapPolicy)
	}
	return nil
}
