// Package surface is an in-memory rendering surface. It places one icon per
// cluster at the cluster's projected position and composes the viewport into
// a single image on demand.
package surface

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/okian/geocluster/internal/domain/model"
	"github.com/okian/geocluster/internal/domain/projection"
	"github.com/okian/geocluster/internal/domain/reconcile"
)

var defaultBackground = color.RGBA{0xEC, 0xEF, 0xF1, 0xFF}

// Marker is a read-only view of one placed marker.
type Marker struct {
	Handle   reconcile.Handle
	Cluster  model.ClusterResult
	Position model.ScreenPoint
	Icon     *image.RGBA
}

type marker struct {
	cluster model.ClusterResult
	pos     model.ScreenPoint
	icon    *image.RGBA
}

// Canvas implements reconcile.Surface. Safe for concurrent use.
type Canvas struct {
	mu         sync.RWMutex
	vp         model.Viewport
	markers    map[reconcile.Handle]*marker
	proj       *projection.Projector
	background color.RGBA
}

// Option configures a Canvas.
type Option func(*Canvas)

// WithProjector sets the projector used to place markers.
func WithProjector(p *projection.Projector) Option {
	return func(c *Canvas) {
		if p != nil {
			c.proj = p
		}
	}
}

// WithBackground sets the fill colour of snapshots.
func WithBackground(bg color.RGBA) Option {
	return func(c *Canvas) { c.background = bg }
}

// New creates an empty Canvas showing vp.
func New(vp model.Viewport, opts ...Option) *Canvas {
	c := &Canvas{
		vp:         vp,
		markers:    make(map[reconcile.Handle]*marker),
		background: defaultBackground,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.proj == nil {
		c.proj = projection.New()
	}
	return c
}

// SetViewport moves the camera and re-places every marker.
func (c *Canvas) SetViewport(vp model.Viewport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vp = vp
	for _, m := range c.markers {
		m.pos = c.proj.Project(m.cluster.Center, vp)
	}
}

// Viewport returns the current camera.
func (c *Canvas) Viewport() model.Viewport {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vp
}

// AddMarker places a marker without an icon and returns its handle.
func (c *Canvas) AddMarker(cl model.ClusterResult) reconcile.Handle {
	h := reconcile.Handle(uuid.NewString())
	c.mu.Lock()
	c.markers[h] = &marker{cluster: cl, pos: c.proj.Project(cl.Center, c.vp)}
	c.mu.Unlock()
	return h
}

// RemoveMarker deletes a marker. Unknown handles are ignored.
func (c *Canvas) RemoveMarker(h reconcile.Handle) {
	c.mu.Lock()
	delete(c.markers, h)
	c.mu.Unlock()
}

// SetIcon swaps the bitmap of a placed marker in place. It reports false
// when the marker is gone.
func (c *Canvas) SetIcon(h reconcile.Handle, bmp *image.RGBA) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.markers[h]
	if !ok {
		return false
	}
	m.icon = bmp
	return true
}

// Marker returns the marker for h.
func (c *Canvas) Marker(h reconcile.Handle) (Marker, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.markers[h]
	if !ok {
		return Marker{}, false
	}
	return Marker{Handle: h, Cluster: m.cluster, Position: m.pos, Icon: m.icon}, true
}

// Markers returns every marker in draw order.
func (c *Canvas) Markers() []Marker {
	c.mu.RLock()
	out := make([]Marker, 0, len(c.markers))
	for h, m := range c.markers {
		out = append(out, Marker{Handle: h, Cluster: m.cluster, Position: m.pos, Icon: m.icon})
	}
	c.mu.RUnlock()

	// Lower markers are drawn over higher ones; ties fall back to cluster id.
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position.Y != out[j].Position.Y {
			return out[i].Position.Y < out[j].Position.Y
		}
		return out[i].Cluster.ID < out[j].Cluster.ID
	})
	return out
}

// Len returns the number of placed markers.
func (c *Canvas) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.markers)
}

// Snapshot composes the viewport: background first, then each icon centred
// on its marker position. Markers without an icon are not drawn.
func (c *Canvas) Snapshot() *image.RGBA {
	vp := c.Viewport()
	dst := image.NewRGBA(image.Rect(0, 0, int(vp.Size.Width), int(vp.Size.Height)))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: c.background}, image.Point{}, draw.Src)

	for _, m := range c.Markers() {
		if m.Icon == nil {
			continue
		}
		b := m.Icon.Bounds()
		at := image.Pt(int(m.Position.X)-b.Dx()/2, int(m.Position.Y)-b.Dy()/2)
		draw.Draw(dst, image.Rectangle{Min: at, Max: at.Add(b.Size())}, m.Icon, b.Min, draw.Over)
	}
	return dst
}

// EncodePNG writes Snapshot to w.
func (c *Canvas) EncodePNG(w io.Writer) error {
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(w, c.Snapshot()); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return nil
}
