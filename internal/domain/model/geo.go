package model

import (
	"fmt"
	"math"

	"github.com/golang/geo/s2"
	"github.com/paulmach/orb"
)

// Tile edge used by slippy-map zoom levels.
const tileSize = 256

// Coordinate is a WGS84 position in degrees.
type Coordinate struct {
	Lat float64
	Lng float64
}

// Valid reports whether the coordinate is finite and within range.
func (c Coordinate) Valid() bool {
	return s2.LatLngFromDegrees(c.Lat, c.Lng).IsValid()
}

// Validate returns ErrInvalidCoordinate for NaN or out-of-range values.
func (c Coordinate) Validate() error {
	if !c.Valid() {
		return fmt.Errorf("%w: lat=%v lng=%v", ErrInvalidCoordinate, c.Lat, c.Lng)
	}
	return nil
}

// Point returns the coordinate as an orb point (lng, lat).
func (c Coordinate) Point() orb.Point {
	return orb.Point{c.Lng, c.Lat}
}

// Span is the geographic extent visible in a viewport, in degrees.
type Span struct {
	LatDelta float64
	LngDelta float64
}

// PixelSize is the viewport size in screen pixels.
type PixelSize struct {
	Width  float64
	Height float64
}

// ScreenPoint is a pixel position with the origin at the top-left corner.
type ScreenPoint struct {
	X float64
	Y float64
}

// Distance returns the Euclidean distance to o.
func (p ScreenPoint) Distance(o ScreenPoint) float64 {
	return math.Hypot(p.X-o.X, p.Y-o.Y)
}

// Viewport is the visible map region. It is replaced wholesale on every
// settled pan or zoom.
type Viewport struct {
	Center Coordinate
	Span   Span
	Size   PixelSize
}

// Validate rejects viewports the projector cannot map.
func (v Viewport) Validate() error {
	switch {
	case !v.Center.Valid():
		return fmt.Errorf("%w: center %v", ErrInvalidViewport, v.Center)
	case !(v.Span.LatDelta > 0) || !(v.Span.LngDelta > 0):
		return fmt.Errorf("%w: span %+v", ErrInvalidViewport, v.Span)
	case !(v.Size.Width > 0) || !(v.Size.Height > 0):
		return fmt.Errorf("%w: size %+v", ErrInvalidViewport, v.Size)
	}
	return nil
}

// North returns the latitude of the top edge.
func (v Viewport) North() float64 { return v.Center.Lat + v.Span.LatDelta/2 }

// South returns the latitude of the bottom edge.
func (v Viewport) South() float64 { return v.Center.Lat - v.Span.LatDelta/2 }

// West returns the longitude of the left edge.
func (v Viewport) West() float64 { return v.Center.Lng - v.Span.LngDelta/2 }

// East returns the longitude of the right edge.
func (v Viewport) East() float64 { return v.Center.Lng + v.Span.LngDelta/2 }

// Bound returns the bounding box used for the marker query.
func (v Viewport) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{v.West(), v.South()},
		Max: orb.Point{v.East(), v.North()},
	}
}

// ZoomLevel estimates the slippy-map zoom level showing this span at this
// width. It is 0 for a viewport that does not validate.
func (v Viewport) ZoomLevel() float64 {
	if v.Validate() != nil {
		return 0
	}
	return math.Log2(360 / v.Span.LngDelta * v.Size.Width / tileSize)
}

// Centroid returns the unweighted mean coordinate of items. It is not
// metrically correct near the poles or across the antimeridian.
func Centroid(items []MarkerItem) Coordinate {
	if len(items) == 0 {
		return Coordinate{}
	}
	var lat, lng float64
	for _, it := range items {
		lat += it.Coordinate.Lat
		lng += it.Coordinate.Lng
	}
	n := float64(len(items))
	return Coordinate{Lat: lat / n, Lng: lng / n}
}

// FilterValid drops items with invalid coordinates and reports how many were dropped.
// The input slice is not modified.
func FilterValid(items []MarkerItem) ([]MarkerItem, int) {
	out := make([]MarkerItem, 0, len(items))
	for _, it := range items {
		if it.Coordinate.Valid() {
			out = append(out, it)
		}
	}
	return out, len(items) - len(out)
}
