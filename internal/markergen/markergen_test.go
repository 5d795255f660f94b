package markergen_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/okian/geocluster/internal/adapters/markerapi"
	"github.com/okian/geocluster/internal/domain/model"
	"github.com/okian/geocluster/internal/markergen"
	"github.com/okian/geocluster/pkg/logger"
	"github.com/paulmach/orb"
	. "github.com/smartystreets/goconvey/convey"
)

func fixtureConfig() *markergen.Config {
	return &markergen.Config{
		Center:      model.Coordinate{Lat: 52.52, Lng: 13.405},
		RadiusDeg:   0.05,
		Count:       200,
		PhotoRatio:  0.7,
		HotspotRate: 0.3,
		ThumbURL:    "https://cdn.example.com/%s.jpg",
		Seed:        42,
	}
}

func TestGenerate(t *testing.T) {
	Convey("Given a seeded fixture config", t, func() {
		ctx := context.Background()
		cfg := fixtureConfig()

		Convey("When markers are generated", func() {
			stats := &markergen.Stats{}
			items := markergen.Generate(ctx, cfg, stats)

			Convey("Then every marker is valid and near the centre", func() {
				So(len(items), ShouldEqual, 200)
				So(stats.Photos+stats.Questions, ShouldEqual, 200)
				So(stats.Photos, ShouldBeGreaterThan, 0)
				So(stats.Questions, ShouldBeGreaterThan, 0)

				seen := map[string]bool{}
				for _, it := range items {
					So(it.Coordinate.Valid(), ShouldBeTrue)
					So(it.Coordinate.Lat, ShouldAlmostEqual, 52.52, 0.0511)
					So(it.Coordinate.Lng, ShouldAlmostEqual, 13.405, 0.0511)
					So(seen[it.ID], ShouldBeFalse)
					seen[it.ID] = true
					if p, ok := it.Photo(); ok {
						So(p.ThumbnailURL, ShouldEqual, "https://cdn.example.com/"+it.ID+".jpg")
					}
				}
			})

			Convey("Then the same seed reproduces the same fixture", func() {
				again := markergen.Generate(ctx, cfg, &markergen.Stats{})
				So(again, ShouldResemble, items)
			})
		})
	})
}

func TestBackend(t *testing.T) {
	Convey("Given a backend over three markers", t, func() {
		items := []model.MarkerItem{
			{ID: "in1", Kind: model.KindPhoto, Coordinate: model.Coordinate{Lat: 1, Lng: 1}, Payload: model.PhotoPayload{ThumbnailURL: "u"}},
			{ID: "out", Kind: model.KindPhoto, Coordinate: model.Coordinate{Lat: 5, Lng: 5}, Payload: model.PhotoPayload{ThumbnailURL: "u"}},
			{ID: "in2", Kind: model.KindQuestion, Coordinate: model.Coordinate{Lat: 1.5, Lng: 0.5}, Payload: model.QuestionPayload{Text: "t", Status: "open"}},
		}
		backend := markergen.NewBackend(items, logger.New(io.Discard))
		srv := httptest.NewServer(backend)
		defer srv.Close()

		Convey("When the marker client queries a box", func() {
			client := markerapi.New(srv.URL, markerapi.WithLogger(logger.New(io.Discard)))
			got, err := client.Query(context.Background(), orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{2, 2}})

			Convey("Then only markers inside are returned, in order", func() {
				So(err, ShouldBeNil)
				So(len(got), ShouldEqual, 2)
				So(got[0].ID, ShouldEqual, "in1")
				So(got[1].ID, ShouldEqual, "in2")
				So(backend.Queries(), ShouldEqual, 1)
			})
		})

		Convey("When the bbox is malformed", func() {
			resp, err := http.Get(srv.URL + "?bbox=1,2,3")
			So(err, ShouldBeNil)
			defer resp.Body.Close()

			Convey("Then the request is rejected", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
			})
		})
	})

	Convey("Given bbox strings", t, func() {
		_, err := markergen.ParseBBox("3,0,1,2")
		So(err, ShouldNotBeNil)

		b, err := markergen.ParseBBox("13.3, 52.4, 13.5, 52.6")
		So(err, ShouldBeNil)
		So(markerapi.BBox(b), ShouldEqual, "13.3,52.4,13.5,52.6")
	})
}

func TestRun(t *testing.T) {
	Convey("Given a config writing to a temp file", t, func() {
		cfg := fixtureConfig()
		cfg.OutputFile = filepath.Join(t.TempDir(), "out", "markers.geojson")

		Convey("When run without serving", func() {
			stats, err := markergen.Run(context.Background(), cfg)

			Convey("Then the file decodes back to the generated markers", func() {
				So(err, ShouldBeNil)
				data, rerr := os.ReadFile(cfg.OutputFile)
				So(rerr, ShouldBeNil)
				So(len(data), ShouldEqual, stats.Bytes)

				items, derr := markerapi.Decode(context.Background(), data, logger.New(io.Discard))
				So(derr, ShouldBeNil)
				So(len(items), ShouldEqual, cfg.Count)
			})
		})

		Convey("When run with an injected logger", func() {
			var buf bytes.Buffer
			cfg.Logger = logger.New(&buf)
			_, err := markergen.Run(context.Background(), cfg)

			Convey("Then progress is logged through it", func() {
				So(err, ShouldBeNil)
				So(buf.String(), ShouldContainSubstring, "markers generated")
				So(buf.String(), ShouldContainSubstring, "fixture written")
			})
		})

		Convey("When no logger is injected and none was initialised", func() {
			cfg.Logger = nil

			Convey("Then generating and running do not panic", func() {
				So(func() { markergen.Generate(context.Background(), cfg, &markergen.Stats{}) }, ShouldNotPanic)
				So(func() { _, _ = markergen.Run(context.Background(), cfg) }, ShouldNotPanic)
			})
		})

		Convey("When the radius is not positive", func() {
			cfg.RadiusDeg = 0
			_, err := markergen.Run(context.Background(), cfg)

			Convey("Then the run is refused", func() {
				So(err, ShouldNotBeNil)
			})
		})
	})
}
