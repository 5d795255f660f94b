package service

import (
	"github.com/okian/geocluster/internal/adapters/iconcache"
	"github.com/okian/geocluster/internal/adapters/thumbnail"
	"github.com/okian/geocluster/internal/config"
	"github.com/okian/geocluster/internal/domain/interaction"
	"github.com/okian/geocluster/pkg/logger"
)

// ConfigOptions maps a validated Config onto MapScreen options, including a
// thumbnail client bounded by the configured fetch timeout. The marker
// source is left to the caller.
func ConfigOptions(cfg *config.Config, log logger.Logger) []Option {
	log = logger.OrDefault(log, "mapscreen")

	policy, ok := interaction.ParsePolicy(cfg.TapPolicy)
	if !ok {
		policy = interaction.RevealAlways
	}

	sources := iconcache.New(
		iconcache.WithMaxEntries(cfg.CacheMaxEntries),
		iconcache.WithMaxBytes(cfg.CacheMaxBytes),
		iconcache.WithLogger(log.Named("sourcecache")),
	)
	fetcher := thumbnail.New(
		thumbnail.WithSourceCache(sources),
		thumbnail.WithTimeout(cfg.FetchTimeout()),
		thumbnail.WithLogger(log.Named("thumbnail")),
	)

	return []Option{
		WithLogger(log),
		WithPixelThreshold(cfg.PixelThreshold),
		WithTapPolicy(policy),
		WithZoomLimits(cfg.MinSpanDelta, cfg.MaxZoomLevel),
		WithCacheLimits(cfg.CacheMaxEntries, cfg.CacheMaxBytes),
		WithWorkerCount(cfg.RenderWorkers),
		WithQueueSize(cfg.RenderQueueSize),
		WithIconSize(cfg.IconSizePx),
		WithRetry(cfg.FetchRetries, cfg.FetchBackoff()),
		WithFetcher(fetcher),
	}
}
