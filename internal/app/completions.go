package service

import (
	"context"

	"github.com/okian/geocluster/internal/adapters/iconcache"
	"github.com/okian/geocluster/internal/adapters/mq/worker"
	"github.com/okian/geocluster/pkg/logger"
	"github.com/okian/geocluster/pkg/metrics"
)

// Completions delivers finished render jobs. An event loop that owns the
// map screen selects on it and passes each value to ApplyCompletion.
func (s *MapScreen) Completions() <-chan worker.Completion {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.completions
}

// ApplyCompletion swaps finished icons into the markers that asked for them.
// Waiters from an older epoch, or whose marker is gone, are dropped. A failed
// render leaves the marker on its placeholder. It returns the number of
// markers updated.
func (s *MapScreen) ApplyCompletion(ctx context.Context, c worker.Completion) int { //nolint:gocritic // hugeParam: Completion arrives by value off a channel
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apply(ctx, c)
}

// ApplyCompletions applies every completion that is ready without blocking.
func (s *MapScreen) ApplyCompletions(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var applied int
	for {
		select {
		case c := <-s.completions:
			applied += s.apply(ctx, c)
		default:
			return applied
		}
	}
}

// WaitIdle applies completions until no render is outstanding.
func (s *MapScreen) WaitIdle(ctx context.Context) error {
	for {
		s.ApplyCompletions(ctx)
		if s.outstanding.Load() == 0 {
			return nil
		}

		select {
		case c := <-s.Completions():
			s.ApplyCompletion(ctx, c)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// apply must be called with s.mu held.
func (s *MapScreen) apply(ctx context.Context, c worker.Completion) int { //nolint:gocritic // hugeParam: see ApplyCompletion
	s.outstanding.Add(-1)

	current := s.epoch.Load()
	var applied int
	for _, w := range c.Waiters {
		if w.Epoch != current {
			metrics.RecordCompletionStale()
			continue
		}
		h, ok := s.reconciler.Handle(w.ClusterID)
		if !ok {
			metrics.RecordCompletionStale()
			continue
		}
		if key, waiting := s.pending[w.ClusterID]; !waiting || key != c.Key {
			continue
		}

		// Done either way: a failed icon stays a placeholder until the
		// marker is added again.
		delete(s.pending, w.ClusterID)
		if c.Err != nil {
			continue
		}
		if s.canvas.SetIcon(h, iconcache.Clone(c.Bitmap)) {
			metrics.RecordCompletionApplied()
			applied++
		}
	}

	if c.Err != nil {
		s.logger.Debug(ctx, "icon stays placeholder",
			logger.String("key", c.Key.String()),
			logger.Error(c.Err),
		)
	}
	return applied
}
