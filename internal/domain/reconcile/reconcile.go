// Package reconcile keeps the rendered marker set in step with the latest
// clusters using minimal add and remove operations.
package reconcile

import (
	"context"
	"sort"

	"github.com/okian/geocluster/internal/domain/model"
	"github.com/okian/geocluster/pkg/logger"
	"github.com/okian/geocluster/pkg/metrics"
)

// Handle identifies a marker on the rendering surface.
type Handle string

// Surface is the rendering surface the reconciler drives.
type Surface interface {
	AddMarker(c model.ClusterResult) Handle
	RemoveMarker(h Handle)
}

// Plan is the minimal change between two cluster sets.
type Plan struct {
	ToAdd    []model.ClusterResult
	ToRemove []string
}

// Empty reports whether the plan changes nothing.
func (p Plan) Empty() bool { return len(p.ToAdd) == 0 && len(p.ToRemove) == 0 }

// Diff compares the rendered ids with the next clusters. Ids present in both
// appear in neither list. ToAdd keeps the order of next and skips repeated
// ids; ToRemove is sorted.
func Diff[V any](previous map[string]V, next []model.ClusterResult) Plan {
	nextIDs := make(map[string]struct{}, len(next))
	var plan Plan
	for _, c := range next {
		if _, dup := nextIDs[c.ID]; dup {
			continue
		}
		nextIDs[c.ID] = struct{}{}
		if _, ok := previous[c.ID]; !ok {
			plan.ToAdd = append(plan.ToAdd, c)
		}
	}
	for id := range previous {
		if _, ok := nextIDs[id]; !ok {
			plan.ToRemove = append(plan.ToRemove, id)
		}
	}
	sort.Strings(plan.ToRemove)
	return plan
}

type rendered struct {
	handle  Handle
	cluster model.ClusterResult
}

// Reconciler owns the rendered annotation set. It must only be used from the
// goroutine that owns the surface.
type Reconciler struct {
	surface  Surface
	rendered map[string]rendered
	log      logger.Logger
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithLogger sets the reconciler logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Reconciler) { r.log = l }
}

// New creates a Reconciler drawing on surface.
func New(surface Surface, opts ...Option) *Reconciler {
	r := &Reconciler{
		surface:  surface,
		rendered: make(map[string]rendered),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = logger.OrDefault(r.log, "reconcile")
	return r
}

// Apply diffs next against the rendered set, removes stale markers, then
// adds new ones. Markers present in both keep their handle.
func (r *Reconciler) Apply(ctx context.Context, next []model.ClusterResult) Plan {
	plan := Diff(r.rendered, next)

	for _, id := range plan.ToRemove {
		r.surface.RemoveMarker(r.rendered[id].handle)
		delete(r.rendered, id)
	}
	for _, c := range plan.ToAdd {
		r.rendered[c.ID] = rendered{handle: r.surface.AddMarker(c), cluster: c}
	}

	metrics.RecordReconcile(len(plan.ToAdd), len(plan.ToRemove), len(r.rendered))
	if !plan.Empty() {
		r.log.Debug(ctx, "markers reconciled",
			logger.Int("added", len(plan.ToAdd)),
			logger.Int("removed", len(plan.ToRemove)),
			logger.Int("rendered", len(r.rendered)),
		)
	}
	return plan
}

// Handle returns the surface handle for a rendered cluster id.
func (r *Reconciler) Handle(id string) (Handle, bool) {
	e, ok := r.rendered[id]
	return e.handle, ok
}

// Cluster returns the rendered cluster for id.
func (r *Reconciler) Cluster(id string) (model.ClusterResult, bool) {
	e, ok := r.rendered[id]
	return e.cluster, ok
}

// Len returns the number of rendered markers.
func (r *Reconciler) Len() int { return len(r.rendered) }

// IDs returns the rendered cluster ids, sorted.
func (r *Reconciler) IDs() []string {
	ids := make([]string, 0, len(r.rendered))
	for id := range r.rendered {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
