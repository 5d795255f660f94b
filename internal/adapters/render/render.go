// Package render draws map marker icons: photo thumbnails, badged photo
// thumbnails, the question glyph, and numeric cluster discs.
package render

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strconv"
	"sync"

	"github.com/okian/geocluster/pkg/logger"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

const (
	defaultSize  = 64
	minSize      = 16
	maxBadge     = 999
	fontDPI      = 72
	borderRatio  = 0.06
	radiusRatio  = 0.18
	badgeRatio   = 0.42
	glyphRatio   = 0.55
	badgeText    = 0.6
	questionRune = "?"
)

var (
	colorBorder      = color.RGBA{0xFF, 0xFF, 0xFF, 0xFF}
	colorBadge       = color.RGBA{0xE7, 0x4C, 0x3C, 0xFF}
	colorText        = color.RGBA{0xFF, 0xFF, 0xFF, 0xFF}
	colorPlaceholder = color.RGBA{0xBD, 0xC3, 0xC7, 0xFF}
	colorQuestion    = color.RGBA{0xF3, 0x9C, 0x12, 0xFF}
	colorPhoto       = color.RGBA{0x27, 0xAE, 0x60, 0xFF}
	colorMixed       = color.RGBA{0x2D, 0x7F, 0xF9, 0xFF}
)

// Fetcher loads a decoded source image.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (image.Image, error)
}

// Renderer draws icons of a fixed edge size. Every draw is a pure function
// of its Spec and the fetched source, so results may be cached by Spec.Key.
// Safe for concurrent use.
type Renderer struct {
	size    int
	fetcher Fetcher
	log     logger.Logger

	questionOnce sync.Once
	question     *image.RGBA
	placeholder  *image.RGBA
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithSize sets the icon edge length in pixels.
func WithSize(px int) Option {
	return func(r *Renderer) {
		if px >= minSize {
			r.size = px
		}
	}
}

// WithFetcher sets the source loader used for thumbnails.
func WithFetcher(f Fetcher) Option {
	return func(r *Renderer) { r.fetcher = f }
}

// WithLogger sets the renderer logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Renderer) { r.log = l }
}

// New creates a Renderer.
func New(opts ...Option) *Renderer {
	r := &Renderer{size: defaultSize}
	for _, opt := range opts {
		opt(r)
	}
	r.log = logger.OrDefault(r.log, "render")
	r.placeholder = r.drawPlaceholder()
	return r
}

// Size returns the icon edge length.
func (r *Renderer) Size() int { return r.size }

// Render draws the icon described by spec, fetching the source when needed.
func (r *Renderer) Render(ctx context.Context, spec Spec) (*image.RGBA, error) {
	switch spec.Kind {
	case KindQuestion:
		return r.Question(), nil
	case KindNumeric:
		return r.Numeric(spec.Count, spec.Mode), nil
	case KindThumbnail, KindBadgedThumbnail:
		if r.fetcher == nil {
			return nil, ErrNoFetcher
		}
		src, err := r.fetcher.Fetch(ctx, spec.SourceURL)
		if err != nil {
			r.log.Debug(ctx, "thumbnail source unavailable", logger.String("key", spec.Key.String()), logger.Error(err))
			return nil, fmt.Errorf("render %s: %w", spec.Key, err)
		}
		if spec.Kind == KindThumbnail {
			return r.Thumbnail(src), nil
		}
		return r.BadgedThumbnail(src, spec.Count), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedKind, spec.Kind)
	}
}

// Placeholder returns the bitmap shown while an icon is pending or after it failed.
func (r *Renderer) Placeholder() *image.RGBA { return cloneRGBA(r.placeholder) }

// Thumbnail crops src to a centred square and draws it bordered with rounded corners.
func (r *Renderer) Thumbnail(src image.Image) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, r.size, r.size))
	radius := float64(r.size) * radiusRatio
	draw.DrawMask(dst, dst.Bounds(), image.NewUniform(colorBorder), image.Point{},
		roundedRect{w: r.size, h: r.size, r: radius}, image.Point{}, draw.Over)

	border := max(1, int(float64(r.size)*borderRatio))
	inner := r.size - 2*border
	tile := image.NewRGBA(image.Rect(0, 0, inner, inner))
	xdraw.CatmullRom.Scale(tile, tile.Bounds(), src, squareCrop(src.Bounds()), xdraw.Src, nil)

	innerRect := image.Rect(border, border, border+inner, border+inner)
	draw.DrawMask(dst, innerRect, tile, image.Point{},
		roundedRect{w: inner, h: inner, r: max(0, radius-float64(border))}, image.Point{}, draw.Over)
	return dst
}

// BadgedThumbnail draws Thumbnail with a count badge in the top-right corner.
func (r *Renderer) BadgedThumbnail(src image.Image, count int) *image.RGBA {
	dst := r.Thumbnail(src)
	d := int(float64(r.size) * badgeRatio)
	rect := image.Rect(r.size-d, 0, r.size, d)
	draw.DrawMask(dst, rect, image.NewUniform(colorBadge), image.Point{}, circle{d: d}, image.Point{}, draw.Over)

	label := BadgeLabel(count)
	drawCentered(dst, rect, label, float64(d)*badgeText*FontScale(label), colorText)
	return dst
}

// Question returns the question glyph icon. It is drawn once per renderer.
func (r *Renderer) Question() *image.RGBA {
	r.questionOnce.Do(func() {
		r.question = r.disc(colorQuestion, questionRune, float64(r.size)*glyphRatio)
	})
	return cloneRGBA(r.question)
}

// Numeric draws a disc coloured by mode with the centred member count.
func (r *Renderer) Numeric(count int, mode Mode) *image.RGBA {
	label := BadgeLabel(count)
	return r.disc(modeColor(mode), label, float64(r.size)*glyphRatio*FontScale(label))
}

func (r *Renderer) disc(fill color.RGBA, label string, fontSize float64) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, r.size, r.size))
	draw.DrawMask(dst, dst.Bounds(), image.NewUniform(colorBorder), image.Point{}, circle{d: r.size}, image.Point{}, draw.Over)

	border := max(1, int(float64(r.size)*borderRatio))
	inner := image.Rect(border, border, r.size-border, r.size-border)
	draw.DrawMask(dst, inner, image.NewUniform(fill), image.Point{}, circle{d: inner.Dx()}, image.Point{}, draw.Over)

	drawCentered(dst, dst.Bounds(), label, fontSize, colorText)
	return dst
}

func (r *Renderer) drawPlaceholder() *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, r.size, r.size))
	draw.DrawMask(dst, dst.Bounds(), image.NewUniform(colorPlaceholder), image.Point{},
		roundedRect{w: r.size, h: r.size, r: float64(r.size) * radiusRatio}, image.Point{}, draw.Over)
	return dst
}

// BadgeLabel formats a member count, capping it at 999+.
func BadgeLabel(count int) string {
	if count > maxBadge {
		return strconv.Itoa(maxBadge) + "+"
	}
	return strconv.Itoa(count)
}

// FontScale shrinks badge text so 2 and 3 digit counts still fit the disc.
func FontScale(label string) float64 {
	switch len(label) {
	case 0, 1:
		return 1
	case 2:
		return 0.8
	case 3:
		return 0.65
	default:
		return 0.55
	}
}

func modeColor(m Mode) color.RGBA {
	switch m {
	case ModePhoto:
		return colorPhoto
	case ModeQuestion:
		return colorQuestion
	default:
		return colorMixed
	}
}

// squareCrop returns the largest centred square inside b.
func squareCrop(b image.Rectangle) image.Rectangle {
	side := min(b.Dx(), b.Dy())
	x := b.Min.X + (b.Dx()-side)/2
	y := b.Min.Y + (b.Dy()-side)/2
	return image.Rect(x, y, x+side, y+side)
}

var (
	boldOnce sync.Once
	boldFont *opentype.Font
	boldErr  error
)

// newFace returns a fresh bold face. Faces keep glyph caches and are not
// safe for concurrent use, so each draw gets its own.
func newFace(size float64) font.Face {
	boldOnce.Do(func() {
		boldFont, boldErr = opentype.Parse(gobold.TTF)
	})
	if boldErr != nil {
		return basicfont.Face7x13
	}
	face, err := opentype.NewFace(boldFont, &opentype.FaceOptions{
		Size:    size,
		DPI:     fontDPI,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return basicfont.Face7x13
	}
	return face
}

func drawCentered(dst *image.RGBA, rect image.Rectangle, text string, size float64, c color.Color) {
	face := newFace(size)
	defer face.Close()

	width := font.MeasureString(face, text).Ceil()
	m := face.Metrics()
	ascent, descent := m.Ascent.Ceil(), m.Descent.Ceil()
	x := rect.Min.X + (rect.Dx()-width)/2
	y := rect.Min.Y + (rect.Dy()-(ascent+descent))/2 + ascent

	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}

func cloneRGBA(src *image.RGBA) *image.RGBA {
	dst := image.NewRGBA(src.Rect)
	copy(dst.Pix, src.Pix)
	return dst
}
