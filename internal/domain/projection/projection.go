// Package projection maps geographic coordinates to viewport pixels with the
// same Web Mercator mapping the map surface draws with.
package projection

import (
	"math"

	"github.com/okian/geocluster/internal/domain/model"
	"github.com/wroge/wgs84"
)

// MaxLatitude is the Web Mercator latitude limit.
const MaxLatitude = 85.05112878

const (
	epsgWGS84       = 4326
	epsgWebMercator = 3857
)

type transformFunc = func(a, b, c float64) (float64, float64, float64)

// Projector converts between coordinates and screen positions. It is
// stateless after construction and safe for concurrent use.
type Projector struct {
	forward transformFunc
	inverse transformFunc
}

// New builds a projector over EPSG:3857.
func New() *Projector {
	epsg := wgs84.EPSG()
	return &Projector{
		forward: epsg.Transform(epsgWGS84, epsgWebMercator),
		inverse: epsg.Transform(epsgWebMercator, epsgWGS84),
	}
}

// frame is a viewport's edges in mercator metres.
type frame struct {
	left, right, top, bottom float64
	width, height            float64
}

func (p *Projector) frame(vp model.Viewport) frame {
	left, top, _ := p.forward(vp.West(), clampLat(vp.North()), 0)
	right, bottom, _ := p.forward(vp.East(), clampLat(vp.South()), 0)
	return frame{left: left, right: right, top: top, bottom: bottom, width: vp.Size.Width, height: vp.Size.Height}
}

func (f frame) project(p *Projector, c model.Coordinate) model.ScreenPoint {
	mx, my, _ := p.forward(c.Lng, clampLat(c.Lat), 0)
	return model.ScreenPoint{
		X: (mx - f.left) / (f.right - f.left) * f.width,
		Y: (f.top - my) / (f.top - f.bottom) * f.height,
	}
}

// Project returns the pixel position of c inside vp. Callers filter invalid
// coordinates and viewports first; the result is undefined otherwise.
func (p *Projector) Project(c model.Coordinate, vp model.Viewport) model.ScreenPoint {
	return p.frame(vp).project(p, c)
}

// ProjectAll projects every item against the same viewport, keeping order.
func (p *Projector) ProjectAll(items []model.MarkerItem, vp model.Viewport) []model.ProjectedPoint {
	f := p.frame(vp)
	out := make([]model.ProjectedPoint, len(items))
	for i, it := range items {
		out[i] = model.ProjectedPoint{Item: it, ScreenPos: f.project(p, it.Coordinate)}
	}
	return out
}

// Unproject returns the coordinate displayed at pt inside vp.
func (p *Projector) Unproject(pt model.ScreenPoint, vp model.Viewport) model.Coordinate {
	f := p.frame(vp)
	mx := f.left + pt.X/f.width*(f.right-f.left)
	my := f.top - pt.Y/f.height*(f.top-f.bottom)
	lng, lat, _ := p.inverse(mx, my, 0)
	return model.Coordinate{Lat: lat, Lng: lng}
}

func clampLat(lat float64) float64 {
	return math.Max(-MaxLatitude, math.Min(MaxLatitude, lat))
}
