package markerapi_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/okian/geocluster/internal/adapters/markerapi"
	"github.com/okian/geocluster/internal/domain/model"
	"github.com/okian/geocluster/pkg/logger"
	"github.com/paulmach/orb"
	. "github.com/smartystreets/goconvey/convey"
)

const collection = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "id": "p1", "geometry": {"type": "Point", "coordinates": [13.40, 52.52]},
     "properties": {"kind": "photo", "thumbnail_url": "https://cdn/p1.jpg", "display_order": 2}},
    {"type": "Feature", "geometry": {"type": "Point", "coordinates": [13.41, 52.51]},
     "properties": {"id": "q1", "kind": "question", "text": "Where is this?", "status": "open"}},
    {"type": "Feature", "id": "r1", "geometry": {"type": "Point", "coordinates": [13.42, 52.50]},
     "properties": {"kind": "reply"}},
    {"type": "Feature", "id": "l1", "geometry": {"type": "LineString", "coordinates": [[0, 0], [1, 1]]},
     "properties": {"kind": "photo"}},
    {"type": "Feature", "geometry": {"type": "Point", "coordinates": [13.43, 52.49]},
     "properties": {"kind": "photo"}}
  ]
}`

func TestDecode(t *testing.T) {
	Convey("Given a feature collection with valid and invalid features", t, func() {
		items, err := markerapi.Decode(context.Background(), []byte(collection), logger.New(io.Discard))

		Convey("Then only well-formed points of known kinds survive, in order", func() {
			So(err, ShouldBeNil)
			So(len(items), ShouldEqual, 2)

			So(items[0].ID, ShouldEqual, "p1")
			So(items[0].Kind, ShouldEqual, model.KindPhoto)
			So(items[0].Coordinate, ShouldResemble, model.Coordinate{Lat: 52.52, Lng: 13.40})
			p, ok := items[0].Photo()
			So(ok, ShouldBeTrue)
			So(p.ThumbnailURL, ShouldEqual, "https://cdn/p1.jpg")
			So(p.DisplayOrder, ShouldEqual, 2)

			So(items[1].ID, ShouldEqual, "q1")
			q, ok := items[1].Question()
			So(ok, ShouldBeTrue)
			So(q.Text, ShouldEqual, "Where is this?")
			So(q.Status, ShouldEqual, "open")
		})
	})

	Convey("Given a body that is not GeoJSON", t, func() {
		_, err := markerapi.Decode(context.Background(), []byte("{"), logger.New(io.Discard))
		So(errors.Is(err, markerapi.ErrQuery), ShouldBeTrue)
	})

	Convey("Given encoded markers", t, func() {
		in := []model.MarkerItem{
			{ID: "a", Kind: model.KindPhoto, Coordinate: model.Coordinate{Lat: 1, Lng: 2}, Payload: model.PhotoPayload{ThumbnailURL: "https://cdn/a.jpg", DisplayOrder: 1}},
			{ID: "b", Kind: model.KindQuestion, Coordinate: model.Coordinate{Lat: 3, Lng: 4}, Payload: model.QuestionPayload{Text: "t", Status: "open"}},
		}
		data, err := markerapi.Encode(in)
		So(err, ShouldBeNil)

		Convey("Then decoding restores them", func() {
			out, err := markerapi.Decode(context.Background(), data, logger.New(io.Discard))
			So(err, ShouldBeNil)
			So(out, ShouldResemble, in)
		})
	})
}

func TestQuery(t *testing.T) {
	Convey("Given a marker backend", t, func() {
		var gotBBox string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/markers" {
				http.Error(w, "nope", http.StatusInternalServerError)
				return
			}
			gotBBox = r.URL.Query().Get("bbox")
			w.Header().Set("Content-Type", "application/geo+json")
			_, _ = w.Write([]byte(collection))
		}))
		defer srv.Close()

		bound := orb.Bound{Min: orb.Point{13.3, 52.4}, Max: orb.Point{13.5, 52.6}}

		Convey("When querying a bounding box", func() {
			c := markerapi.New(srv.URL+"/markers", markerapi.WithLogger(logger.New(io.Discard)))
			items, err := c.Query(context.Background(), bound)

			Convey("Then the bbox is sent and markers decoded", func() {
				So(err, ShouldBeNil)
				So(gotBBox, ShouldEqual, "13.3,52.4,13.5,52.6")
				So(len(items), ShouldEqual, 2)
			})
		})

		Convey("When the backend fails", func() {
			c := markerapi.New(srv.URL+"/broken", markerapi.WithLogger(logger.New(io.Discard)))
			_, err := c.Query(context.Background(), bound)

			Convey("Then a query error is returned", func() {
				So(errors.Is(err, markerapi.ErrQuery), ShouldBeTrue)
			})
		})
	})
}
