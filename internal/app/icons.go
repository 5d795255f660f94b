package service

import (
	"context"
	"errors"
	"image"
	"sync/atomic"

	"github.com/okian/geocluster/internal/adapters/iconcache"
	"github.com/okian/geocluster/internal/adapters/mq/queue"
	"github.com/okian/geocluster/internal/adapters/mq/worker"
	"github.com/okian/geocluster/internal/adapters/render"
	"github.com/okian/geocluster/internal/domain/dedupe"
	"github.com/okian/geocluster/pkg/logger"
	"github.com/okian/geocluster/pkg/metrics"
)

// iconProvider is the get-or-render front of the icon cache. A hit returns
// the cached bitmap synchronously. A miss returns the placeholder and hands
// the work to the render pool, coalescing concurrent misses per key.
type iconProvider struct {
	cache       *iconcache.Cache
	tracker     worker.Tracker
	queue       queue.Queue
	placeholder *image.RGBA
	outstanding *atomic.Int64
	log         logger.Logger
}

// blank returns a private copy of the placeholder so no two markers share
// pixel memory.
func (p *iconProvider) blank() *image.RGBA {
	return iconcache.Clone(p.placeholder)
}

// GetOrRender returns the icon for spec and whether it is final. waiter is
// notified through a Completion when the bitmap is not ready yet.
func (p *iconProvider) GetOrRender(ctx context.Context, spec render.Spec, waiter worker.Waiter) (*image.RGBA, bool) { //nolint:gocritic // hugeParam: Spec is a small value type
	if bmp, ok := p.cache.Get(spec.Key); ok {
		return bmp, true
	}

	first, err := p.tracker.Track(ctx, spec.Key, waiter)
	switch {
	case errors.Is(err, dedupe.ErrFull):
		p.log.Debug(ctx, "render backlog full, showing placeholder", logger.String("key", spec.Key.String()))
		return p.blank(), false
	case err != nil:
		p.log.Warn(ctx, "icon request not tracked", logger.String("key", spec.Key.String()), logger.Error(err))
		return p.blank(), false
	case !first:
		metrics.RecordRenderCoalesced()
		return p.blank(), false
	}

	p.outstanding.Add(1)
	if err := p.queue.Enqueue(ctx, queue.NewJob(spec)); err != nil {
		p.outstanding.Add(-1)
		// Nobody will release the key; drop the waiters so a later
		// request can try again.
		p.tracker.Release(ctx, spec.Key)
		p.log.Debug(ctx, "icon render not queued", logger.String("key", spec.Key.String()), logger.Error(err))
		return p.blank(), false
	}
	return p.blank(), false
}
