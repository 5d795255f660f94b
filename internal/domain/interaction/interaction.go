// Package interaction resolves a tap on a cluster into the next UI action.
package interaction

import (
	"context"
	"math"
	"strings"

	"github.com/okian/geocluster/internal/domain/model"
	"github.com/okian/geocluster/pkg/logger"
	"github.com/okian/geocluster/pkg/metrics"
)

const (
	// DefaultMinSpanDelta is the smallest span a zoom may produce, in degrees.
	DefaultMinSpanDelta = 0.0005
	// DefaultMaxZoomLevel is the deepest level the map surface renders.
	DefaultMaxZoomLevel = 20.0
)

// Policy selects which decision a multi-member cluster tap leads to.
type Policy uint8

const (
	// RevealAlways opens the member list for every tap.
	RevealAlways Policy = iota
	// ZoomToExpand zooms into multi-member clusters until the zoom limit.
	ZoomToExpand
)

// ParsePolicy maps "reveal" and "zoom" to a Policy.
func ParsePolicy(s string) (Policy, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "reveal":
		return RevealAlways, true
	case "zoom":
		return ZoomToExpand, true
	default:
		return RevealAlways, false
	}
}

func (p Policy) String() string {
	if p == ZoomToExpand {
		return "zoom"
	}
	return "reveal"
}

// ActionKind is the decision taken for a tap.
type ActionKind uint8

const (
	ActionReveal ActionKind = iota + 1
	ActionZoom
)

func (k ActionKind) String() string {
	switch k {
	case ActionReveal:
		return "reveal"
	case ActionZoom:
		return "zoom"
	default:
		return "unknown"
	}
}

// Tap is a tap on a displayed cluster.
type Tap struct {
	Cluster   model.ClusterResult
	ZoomLevel float64
	Span      model.Span
}

// Action tells the caller what to do next. Members is set for reveal;
// Center and Span are set for zoom.
type Action struct {
	Kind    ActionKind
	Members []model.MarkerItem
	Center  model.Coordinate
	Span    model.Span
}

// Resolver is a pure decision function over taps.
type Resolver struct {
	policy  Policy
	minSpan float64
	maxZoom float64
	log     logger.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithPolicy sets the resolution policy.
func WithPolicy(p Policy) Option {
	return func(r *Resolver) { r.policy = p }
}

// WithMinSpanDelta clamps zoomed spans. Non-positive values are ignored.
func WithMinSpanDelta(d float64) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.minSpan = d
		}
	}
}

// WithMaxZoomLevel sets the level at or beyond which taps always reveal.
func WithMaxZoomLevel(z float64) Option {
	return func(r *Resolver) {
		if z > 0 {
			r.maxZoom = z
		}
	}
}

// WithLogger sets the resolver logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Resolver) { r.log = l }
}

// New creates a Resolver. The default policy is RevealAlways.
func New(opts ...Option) *Resolver {
	r := &Resolver{
		policy:  RevealAlways,
		minSpan: DefaultMinSpanDelta,
		maxZoom: DefaultMaxZoomLevel,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = logger.OrDefault(r.log, "interaction")
	return r
}

// Policy returns the active policy.
func (r *Resolver) Policy() Policy { return r.policy }

// Resolve decides between reveal and zoom. Single-member clusters always
// reveal. Tapping an empty cluster is a programming error and panics.
func (r *Resolver) Resolve(ctx context.Context, tap Tap) Action {
	if tap.Cluster.Size() == 0 {
		panic("interaction: tapped cluster " + tap.Cluster.ID + " has no members")
	}

	action := r.reveal(tap.Cluster)
	if r.shouldZoom(tap) {
		action = Action{
			Kind:   ActionZoom,
			Center: tap.Cluster.Center,
			Span:   ZoomSpan(tap.Span, r.minSpan),
		}
	}

	metrics.RecordTapDecision(action.Kind.String())
	r.log.Debug(ctx, "cluster tap resolved",
		logger.String("cluster", tap.Cluster.ID),
		logger.Int("members", tap.Cluster.Size()),
		logger.String("action", action.Kind.String()),
	)
	return action
}

func (r *Resolver) shouldZoom(tap Tap) bool {
	if r.policy != ZoomToExpand || tap.Cluster.Size() < 2 {
		return false
	}
	if tap.ZoomLevel >= r.maxZoom {
		return false
	}
	// already at the clamp, zooming would not separate anything
	return tap.Span.LatDelta > r.minSpan || tap.Span.LngDelta > r.minSpan
}

func (r *Resolver) reveal(c model.ClusterResult) Action {
	members := make([]model.MarkerItem, len(c.Members))
	copy(members, c.Members)
	return Action{Kind: ActionReveal, Members: members}
}

// ZoomSpan halves both deltas, clamped to minDelta.
func ZoomSpan(s model.Span, minDelta float64) model.Span {
	return model.Span{
		LatDelta: math.Max(s.LatDelta/2, minDelta),
		LngDelta: math.Max(s.LngDelta/2, minDelta),
	}
}
