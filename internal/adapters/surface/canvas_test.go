package surface_test

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"testing"

	"github.com/okian/geocluster/internal/adapters/surface"
	"github.com/okian/geocluster/internal/domain/model"
	"github.com/okian/geocluster/internal/domain/reconcile"
	. "github.com/smartystreets/goconvey/convey"
)

var red = color.RGBA{0xFF, 0, 0, 0xFF}

func viewport() model.Viewport {
	return model.Viewport{
		Center: model.Coordinate{Lat: 52.52, Lng: 13.40},
		Span:   model.Span{LatDelta: 0.01, LngDelta: 0.01},
		Size:   model.PixelSize{Width: 200, Height: 100},
	}
}

func solid(n int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, n, n))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return img
}

func cluster(id string, c model.Coordinate) model.ClusterResult {
	return model.ClusterResult{ID: id, Center: c}
}

func TestCanvas(t *testing.T) {
	Convey("Given an empty canvas", t, func() {
		vp := viewport()
		c := surface.New(vp, surface.WithBackground(color.RGBA{0, 0, 0, 0xFF}))

		var _ reconcile.Surface = c

		Convey("When a marker is added at the viewport centre", func() {
			h := c.AddMarker(cluster("photo:a", vp.Center))

			Convey("Then it is placed at the middle of the screen", func() {
				m, ok := c.Marker(h)
				So(ok, ShouldBeTrue)
				So(m.Position.X, ShouldAlmostEqual, 100, 0.01)
				So(m.Position.Y, ShouldAlmostEqual, 50, 0.5)
				So(m.Icon, ShouldBeNil)
				So(c.Len(), ShouldEqual, 1)
			})

			Convey("Then handles are unique", func() {
				h2 := c.AddMarker(cluster("photo:b", vp.Center))
				So(h2, ShouldNotEqual, h)
			})

			Convey("Then a snapshot without icons is only background", func() {
				snap := c.Snapshot()
				So(snap.Bounds(), ShouldResemble, image.Rect(0, 0, 200, 100))
				So(snap.RGBAAt(100, 50), ShouldResemble, color.RGBA{0, 0, 0, 0xFF})
			})

			Convey("And when its icon is set", func() {
				So(c.SetIcon(h, solid(8, red)), ShouldBeTrue)

				Convey("Then the snapshot draws the icon centred on the marker", func() {
					snap := c.Snapshot()
					So(snap.RGBAAt(100, 50), ShouldResemble, red)
					So(snap.RGBAAt(10, 10), ShouldResemble, color.RGBA{0, 0, 0, 0xFF})
				})

				Convey("Then the PNG encoding decodes to the same picture", func() {
					var buf bytes.Buffer
					So(c.EncodePNG(&buf), ShouldBeNil)
					img, err := png.Decode(&buf)
					So(err, ShouldBeNil)
					So(img.Bounds().Dx(), ShouldEqual, 200)
					r, _, _, _ := img.At(100, 50).RGBA()
					So(r, ShouldEqual, 0xFFFF)
				})
			})

			Convey("And when it is removed", func() {
				c.RemoveMarker(h)
				c.RemoveMarker(h)

				Convey("Then it is gone and icon updates are refused", func() {
					_, ok := c.Marker(h)
					So(ok, ShouldBeFalse)
					So(c.Len(), ShouldEqual, 0)
					So(c.SetIcon(h, solid(4, red)), ShouldBeFalse)
				})
			})

			Convey("And when the camera pans east by half a span", func() {
				moved := vp
				moved.Center.Lng += vp.Span.LngDelta / 2
				c.SetViewport(moved)

				Convey("Then the marker moves to the left edge region", func() {
					m, _ := c.Marker(h)
					So(m.Position.X, ShouldAlmostEqual, 0, 0.01)
					So(c.Viewport(), ShouldResemble, moved)
				})
			})
		})

		Convey("When markers are at different heights", func() {
			north := model.Coordinate{Lat: vp.Center.Lat + 0.002, Lng: vp.Center.Lng}
			c.AddMarker(cluster("b", vp.Center))
			c.AddMarker(cluster("a", north))
			c.AddMarker(cluster("c", vp.Center))

			Convey("Then draw order goes from top to bottom, ties by id", func() {
				ms := c.Markers()
				So(len(ms), ShouldEqual, 3)
				So(ms[0].Cluster.ID, ShouldEqual, "a")
				So(ms[1].Cluster.ID, ShouldEqual, "b")
				So(ms[2].Cluster.ID, ShouldEqual, "c")
			})
		})
	})
}
