// Package clustering groups visually overlapping markers with a greedy,
// single-pass, pivot-based algorithm.
//
// Each unprocessed item in input order becomes a pivot and absorbs every
// later unprocessed item closer than the pixel threshold to the pivot itself.
// Distances are not transitive, so a cluster may span up to twice the
// threshold. The pass is O(n²) in visible items, which bounds how many
// markers a single viewport can hold.
package clustering

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/okian/geocluster/internal/domain/model"
	"github.com/okian/geocluster/internal/domain/projection"
	"github.com/okian/geocluster/pkg/logger"
	"github.com/okian/geocluster/pkg/metrics"
)

const (
	// DefaultPixelThreshold is the marker overlap distance in screen pixels.
	DefaultPixelThreshold = 88.0

	// IDSeparator joins member keys into a cluster id.
	IDSeparator = "|"
)

// Engine computes clusters for a viewport. It holds no per-call state and is
// safe for concurrent use.
type Engine struct {
	projector *projection.Projector
	threshold float64
	log       logger.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithPixelThreshold overrides DefaultPixelThreshold. Non-positive values are ignored.
func WithPixelThreshold(px float64) Option {
	return func(e *Engine) {
		if px > 0 {
			e.threshold = px
		}
	}
}

// WithProjector shares a projector with other components.
func WithProjector(p *projection.Projector) Option {
	return func(e *Engine) {
		if p != nil {
			e.projector = p
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// New creates an Engine.
func New(opts ...Option) *Engine {
	e := &Engine{threshold: DefaultPixelThreshold}
	for _, opt := range opts {
		opt(e)
	}
	if e.projector == nil {
		e.projector = projection.New()
	}
	e.log = logger.OrDefault(e.log, "clustering")
	return e
}

// Threshold returns the configured pixel threshold.
func (e *Engine) Threshold() float64 { return e.threshold }

// Cluster partitions items using the engine threshold. Items must already
// have valid coordinates.
func (e *Engine) Cluster(ctx context.Context, items []model.MarkerItem, vp model.Viewport) []model.ClusterResult {
	return e.ClusterWithThreshold(ctx, items, vp, e.threshold)
}

// ClusterWithThreshold partitions items into clusters. Every item lands in
// exactly one cluster; clusters come out in pivot order.
func (e *Engine) ClusterWithThreshold(ctx context.Context, items []model.MarkerItem, vp model.Viewport, threshold float64) []model.ClusterResult {
	start := time.Now()

	points := e.projector.ProjectAll(items, vp)
	processed := make([]bool, len(points))
	clusters := make([]model.ClusterResult, 0, len(points))

	for i := range points {
		if processed[i] {
			continue
		}
		processed[i] = true
		pivot := points[i]
		members := []model.MarkerItem{pivot.Item}

		// everything before i is already processed
		for j := i + 1; j < len(points); j++ {
			if processed[j] {
				continue
			}
			if pivot.ScreenPos.Distance(points[j].ScreenPos) < threshold {
				members = append(members, points[j].Item)
				processed[j] = true
			}
		}

		clusters = append(clusters, model.ClusterResult{
			ID:      ID(members),
			Center:  model.Centroid(members),
			Members: members,
		})
	}

	took := time.Since(start)
	metrics.RecordClustering(took, len(items), len(clusters))
	e.log.Debug(ctx, "clusters computed",
		logger.Int("items", len(items)),
		logger.Int("clusters", len(clusters)),
		logger.Float64("threshold", threshold),
		logger.Duration("took", took),
	)
	return clusters
}

// ID derives a cluster id from its membership alone: member keys sorted and
// joined with IDSeparator.
func ID(members []model.MarkerItem) string {
	keys := make([]string, len(members))
	for i, m := range members {
		keys[i] = m.Key()
	}
	sort.Strings(keys)
	return strings.Join(keys, IDSeparator)
}
