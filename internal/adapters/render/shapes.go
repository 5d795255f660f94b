package render

import (
	"image"
	"image/color"
	"math"
)

// roundedRect is an anti-aliased alpha mask of a w×h rectangle with corner radius r.
type roundedRect struct {
	w, h int
	r    float64
}

func (m roundedRect) ColorModel() color.Model { return color.AlphaModel }

func (m roundedRect) Bounds() image.Rectangle { return image.Rect(0, 0, m.w, m.h) }

func (m roundedRect) At(x, y int) color.Color {
	px, py := float64(x)+0.5, float64(y)+0.5
	cx := math.Max(m.r, math.Min(float64(m.w)-m.r, px))
	cy := math.Max(m.r, math.Min(float64(m.h)-m.r, py))
	return coverage(math.Hypot(px-cx, py-cy), m.r)
}

// circle is an anti-aliased alpha mask of a disc with diameter d.
type circle struct {
	d int
}

func (m circle) ColorModel() color.Model { return color.AlphaModel }

func (m circle) Bounds() image.Rectangle { return image.Rect(0, 0, m.d, m.d) }

func (m circle) At(x, y int) color.Color {
	r := float64(m.d) / 2
	return coverage(math.Hypot(float64(x)+0.5-r, float64(y)+0.5-r), r)
}

// coverage is the alpha of a pixel whose center lies dist from a shape
// center that extends radius, with a one-pixel soft edge.
func coverage(dist, radius float64) color.Alpha {
	a := radius - dist + 0.5
	switch {
	case a <= 0:
		return color.Alpha{}
	case a >= 1:
		return color.Alpha{A: 0xFF}
	default:
		return color.Alpha{A: uint8(a * 0xFF)}
	}
}
