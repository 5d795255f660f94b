package thumbnail_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/geocluster/internal/adapters/iconcache"
	"github.com/okian/geocluster/internal/adapters/thumbnail"
	"github.com/okian/geocluster/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func pngBytes(w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < w*h; i++ {
		img.Set(i%w, i/w, color.RGBA{0, 0x80, 0xFF, 0xFF})
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}

func TestFetch(t *testing.T) {
	Convey("Given an object store serving a PNG", t, func() {
		var hits atomic.Int64
		body := pngBytes(8, 6)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			switch r.URL.Path {
			case "/ok.png":
				w.Header().Set("Content-Type", "image/png")
				_, _ = w.Write(body)
			case "/garbage.png":
				_, _ = w.Write([]byte("not an image"))
			case "/slow.png":
				time.Sleep(200 * time.Millisecond)
				_, _ = w.Write(body)
			default:
				http.NotFound(w, r)
			}
		}))
		defer srv.Close()

		quiet := thumbnail.WithLogger(logger.New(io.Discard))
		ctx := context.Background()

		Convey("When fetching without a source cache", func() {
			c := thumbnail.New(quiet)
			img, err := c.Fetch(ctx, srv.URL+"/ok.png")

			Convey("Then the decoded image is returned", func() {
				So(err, ShouldBeNil)
				So(img.Bounds().Dx(), ShouldEqual, 8)
				So(img.Bounds().Dy(), ShouldEqual, 6)
			})
		})

		Convey("When fetching twice through a source cache", func() {
			sources := iconcache.New(iconcache.WithMaxEntries(4), iconcache.WithLogger(logger.New(io.Discard)))
			c := thumbnail.New(quiet, thumbnail.WithSourceCache(sources))

			_, err1 := c.Fetch(ctx, srv.URL+"/ok.png")
			img, err2 := c.Fetch(ctx, srv.URL+"/ok.png")

			Convey("Then the second load is served from cache", func() {
				So(err1, ShouldBeNil)
				So(err2, ShouldBeNil)
				So(hits.Load(), ShouldEqual, 1)
				So(img.Bounds().Dx(), ShouldEqual, 8)
				So(sources.Len(), ShouldEqual, 1)
			})
		})

		Convey("When the object is missing", func() {
			_, err := thumbnail.New(quiet).Fetch(ctx, srv.URL+"/missing.png")

			Convey("Then an unexpected status error is returned", func() {
				So(errors.Is(err, thumbnail.ErrUnexpectedStatus), ShouldBeTrue)
			})
		})

		Convey("When the body is not an image", func() {
			_, err := thumbnail.New(quiet).Fetch(ctx, srv.URL+"/garbage.png")

			Convey("Then a decode error is returned", func() {
				So(errors.Is(err, thumbnail.ErrDecodeFailed), ShouldBeTrue)
			})
		})

		Convey("When the store is slower than the timeout", func() {
			_, err := thumbnail.New(quiet, thumbnail.WithTimeout(20*time.Millisecond)).Fetch(ctx, srv.URL+"/slow.png")

			Convey("Then the fetch fails", func() {
				So(errors.Is(err, thumbnail.ErrFetchFailed), ShouldBeTrue)
			})
		})

		Convey("When the url is malformed", func() {
			_, err := thumbnail.New(quiet).Fetch(ctx, "http://[::1")

			Convey("Then the fetch fails", func() {
				So(errors.Is(err, thumbnail.ErrFetchFailed), ShouldBeTrue)
			})
		})
	})
}
