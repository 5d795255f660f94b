package service_test

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/okian/geocluster/internal/adapters/iconcache"
	"github.com/okian/geocluster/internal/adapters/render"
	service "github.com/okian/geocluster/internal/app"
	"github.com/okian/geocluster/internal/domain/interaction"
	"github.com/okian/geocluster/internal/domain/model"
	logging "github.com/okian/geocluster/pkg/logger"
	"github.com/paulmach/orb"
	. "github.com/smartystreets/goconvey/convey"
)

const (
	placeholderShade = 1
	renderedShade    = 200
)

// fakeRenderer counts renders per key. Sources listed in gates block until
// their channel is closed; sources in fail always error.
type fakeRenderer struct {
	mu    sync.Mutex
	calls map[iconcache.Key]int
	gates map[string]chan struct{}
	fail  map[string]bool
}

func newFakeRenderer() *fakeRenderer {
	return &fakeRenderer{
		calls: map[iconcache.Key]int{},
		gates: map[string]chan struct{}{},
		fail:  map[string]bool{},
	}
}

func (f *fakeRenderer) gate(url string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.gates[url] = ch
	return ch
}

func (f *fakeRenderer) count(k iconcache.Key) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[k]
}

func (f *fakeRenderer) Render(ctx context.Context, spec render.Spec) (*image.RGBA, error) {
	f.mu.Lock()
	f.calls[spec.Key]++
	gate := f.gates[spec.SourceURL]
	fail := f.fail[spec.SourceURL]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail {
		return nil, errors.New("source unavailable")
	}
	return shade(renderedShade), nil
}

func (f *fakeRenderer) Placeholder() *image.RGBA { return shade(placeholderShade) }

func shade(v uint8) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	for i := 0; i < 4; i++ {
		img.SetRGBA(i%2, i/2, color.RGBA{v, v, v, 0xFF})
	}
	return img
}

var center = model.Coordinate{Lat: 52.52, Lng: 13.40}

func viewport(span float64) model.Viewport {
	return model.Viewport{
		Center: center,
		Span:   model.Span{LatDelta: span, LngDelta: span},
		Size:   model.PixelSize{Width: 400, Height: 400},
	}
}

func photo(id string, dLng float64, url string) model.MarkerItem {
	return model.MarkerItem{
		ID:         id,
		Kind:       model.KindPhoto,
		Coordinate: model.Coordinate{Lat: center.Lat, Lng: center.Lng + dLng},
		Payload:    model.PhotoPayload{ThumbnailURL: url},
	}
}

func question(id string, dLng float64) model.MarkerItem {
	return model.MarkerItem{
		ID:         id,
		Kind:       model.KindQuestion,
		Coordinate: model.Coordinate{Lat: center.Lat, Lng: center.Lng + dLng},
		Payload:    model.QuestionPayload{Text: "?", Status: "open"},
	}
}

// iconShade returns the red channel of the marker icon for cluster id, or -1.
func iconShade(s *service.MapScreen, clusterID string) int {
	for _, m := range s.Canvas().Markers() {
		if m.Cluster.ID == clusterID {
			if m.Icon == nil {
				return -1
			}
			return int(m.Icon.RGBAAt(0, 0).R)
		}
	}
	return -1
}

func waitIdle(s *service.MapScreen) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return s.WaitIdle(ctx)
}

func newScreen(r *fakeRenderer, opts ...service.Option) *service.MapScreen {
	base := []service.Option{
		service.WithRenderer(r),
		service.WithLogger(logging.New(io.Discard)),
		service.WithWorkerCount(2),
		service.WithRetry(0, 0),
	}
	return service.New(append(base, opts...)...)
}

func TestMapScreen_Settle(t *testing.T) {
	Convey("Given a started map screen with nearby and distant photos", t, func() {
		ctx := context.Background()
		r := newFakeRenderer()
		s := newScreen(r)
		So(s.Start(ctx), ShouldBeNil)
		Reset(func() { _ = s.Stop(ctx) })

		// 0.0005° is ~20px and 0.004° ~160px at this zoom.
		s.SetItems([]model.MarkerItem{
			photo("a", 0, "https://cdn/a.jpg"),
			photo("b", 0.0005, "https://cdn/b.jpg"),
			photo("c", 0.004, "https://cdn/c.jpg"),
		})

		Convey("When the viewport settles", func() {
			So(s.Settle(ctx, viewport(0.01)), ShouldBeNil)

			Convey("Then markers appear immediately with placeholders", func() {
				So(s.Canvas().Len(), ShouldEqual, 2)
				So(iconShade(s, "photo:a|photo:b"), ShouldEqual, placeholderShade)
				So(iconShade(s, "photo:c"), ShouldEqual, placeholderShade)
				So(s.Stats().PendingIcons, ShouldEqual, 2)
				So(s.Epoch(), ShouldEqual, 1)
			})

			Convey("Then finished renders replace the placeholders", func() {
				So(waitIdle(s), ShouldBeNil)
				So(iconShade(s, "photo:a|photo:b"), ShouldEqual, renderedShade)
				So(iconShade(s, "photo:c"), ShouldEqual, renderedShade)

				st := s.Stats()
				So(st.PendingIcons, ShouldEqual, 0)
				So(st.CacheEntries, ShouldEqual, 2)
				So(st.RenderedMarkers, ShouldEqual, 2)
				So(r.count(iconcache.BadgeKey("https://cdn/a.jpg", 2)), ShouldEqual, 1)
				So(r.count(iconcache.PlainKey("https://cdn/c.jpg")), ShouldEqual, 1)
			})

			Convey("And when the camera zooms out and back", func() {
				So(waitIdle(s), ShouldBeNil)
				So(s.Settle(ctx, viewport(1)), ShouldBeNil)
				So(waitIdle(s), ShouldBeNil)
				So(s.Clusters()[0].ID, ShouldEqual, "photo:a|photo:b|photo:c")

				So(s.Settle(ctx, viewport(0.01)), ShouldBeNil)

				Convey("Then cached icons are shown synchronously without re-rendering", func() {
					So(iconShade(s, "photo:a|photo:b"), ShouldEqual, renderedShade)
					So(iconShade(s, "photo:c"), ShouldEqual, renderedShade)
					So(s.Stats().PendingIcons, ShouldEqual, 0)
					So(r.count(iconcache.BadgeKey("https://cdn/a.jpg", 2)), ShouldEqual, 1)
					So(r.count(iconcache.PlainKey("https://cdn/c.jpg")), ShouldEqual, 1)
					So(r.count(iconcache.BadgeKey("https://cdn/a.jpg", 3)), ShouldEqual, 1)
				})
			})
		})

		Convey("When markers carry invalid coordinates", func() {
			bad := photo("x", 0, "https://cdn/x.jpg")
			bad.Coordinate.Lat = 123
			s.SetItems([]model.MarkerItem{bad, photo("c", 0.004, "https://cdn/c.jpg")})
			So(s.Settle(ctx, viewport(0.01)), ShouldBeNil)

			Convey("Then they are dropped and the rest still renders", func() {
				So(s.Canvas().Len(), ShouldEqual, 1)
				So(s.Clusters()[0].ID, ShouldEqual, "photo:c")
			})
		})

		Convey("When the viewport is invalid", func() {
			err := s.Settle(ctx, model.Viewport{Center: center})

			Convey("Then settle is refused", func() {
				So(errors.Is(err, model.ErrInvalidViewport), ShouldBeTrue)
				So(s.Epoch(), ShouldEqual, 0)
			})
		})
	})

	Convey("Given a map screen that was never started", t, func() {
		s := newScreen(newFakeRenderer())

		Convey("Then settle and refresh fail", func() {
			So(errors.Is(s.Settle(context.Background(), viewport(0.01)), service.ErrNotStarted), ShouldBeTrue)
			So(errors.Is(s.Refresh(context.Background()), service.ErrNoViewport), ShouldBeTrue)
			So(s.WaitIdle(context.Background()), ShouldBeNil)
		})
	})
}

func TestMapScreen_IconCompletions(t *testing.T) {
	Convey("Given a started map screen", t, func() {
		ctx := context.Background()
		r := newFakeRenderer()
		s := newScreen(r)
		So(s.Start(ctx), ShouldBeNil)
		Reset(func() { _ = s.Stop(ctx) })

		Convey("When two markers need the same thumbnail", func() {
			s.SetItems([]model.MarkerItem{
				photo("a", 0, "https://cdn/same.jpg"),
				photo("b", 0.004, "https://cdn/same.jpg"),
			})
			So(s.Settle(ctx, viewport(0.01)), ShouldBeNil)
			So(waitIdle(s), ShouldBeNil)

			Convey("Then it is rendered once and both markers get it", func() {
				So(r.count(iconcache.PlainKey("https://cdn/same.jpg")), ShouldEqual, 1)
				So(iconShade(s, "photo:a"), ShouldEqual, renderedShade)
				So(iconShade(s, "photo:b"), ShouldEqual, renderedShade)
			})

			Convey("Then each marker holds its own pixels", func() {
				ms := s.Canvas().Markers()
				So(len(ms), ShouldEqual, 2)
				So(ms[0].Icon, ShouldNotPointTo, ms[1].Icon)

				ms[0].Icon.Pix[0] = 7
				So(iconShade(s, ms[1].Cluster.ID), ShouldEqual, renderedShade)

				Convey("And the cached icon survives a zoom out and back", func() {
					So(s.Settle(ctx, viewport(1)), ShouldBeNil)
					So(waitIdle(s), ShouldBeNil)
					So(s.Settle(ctx, viewport(0.01)), ShouldBeNil)

					So(iconShade(s, "photo:a"), ShouldEqual, renderedShade)
					So(iconShade(s, "photo:b"), ShouldEqual, renderedShade)
				})
			})
		})

		Convey("When markers are still waiting for their icons", func() {
			release := r.gate("https://cdn/slow.jpg")
			s.SetItems([]model.MarkerItem{
				photo("a", 0, "https://cdn/slow.jpg"),
				photo("b", 0.004, "https://cdn/slow.jpg"),
			})
			So(s.Settle(ctx, viewport(0.01)), ShouldBeNil)
			ms := s.Canvas().Markers()
			So(len(ms), ShouldEqual, 2)

			Convey("Then their placeholders do not share pixels", func() {
				So(ms[0].Icon, ShouldNotPointTo, ms[1].Icon)
				ms[0].Icon.Pix[0] = 7
				So(iconShade(s, ms[1].Cluster.ID), ShouldEqual, placeholderShade)
			})

			Reset(func() {
				close(release)
				_ = waitIdle(s)
			})
		})

		Convey("When a marker scrolls away before its icon is ready", func() {
			release := r.gate("https://cdn/slow.jpg")
			s.SetItems([]model.MarkerItem{photo("a", 0, "https://cdn/slow.jpg")})
			So(s.Settle(ctx, viewport(0.01)), ShouldBeNil)

			s.SetItems(nil)
			So(s.Refresh(ctx), ShouldBeNil)
			close(release)

			c := <-s.Completions()
			applied := s.ApplyCompletion(ctx, c)

			Convey("Then the stale completion is dropped but the icon is cached", func() {
				So(applied, ShouldEqual, 0)
				So(c.Err, ShouldBeNil)
				So(s.Canvas().Len(), ShouldEqual, 0)
				So(s.Stats().CacheEntries, ShouldEqual, 1)
				So(s.WaitIdle(ctx), ShouldBeNil)
			})
		})

		Convey("When a retained marker is still waiting at the next settle", func() {
			release := r.gate("https://cdn/slow.jpg")
			s.SetItems([]model.MarkerItem{photo("a", 0, "https://cdn/slow.jpg")})
			So(s.Settle(ctx, viewport(0.01)), ShouldBeNil)
			So(s.Refresh(ctx), ShouldBeNil)
			close(release)

			c := <-s.Completions()
			applied := s.ApplyCompletion(ctx, c)

			Convey("Then one render serves both epochs and only the current one applies", func() {
				So(len(c.Waiters), ShouldEqual, 2)
				So(c.Waiters[0].Epoch, ShouldEqual, 1)
				So(c.Waiters[1].Epoch, ShouldEqual, 2)
				So(applied, ShouldEqual, 1)
				So(iconShade(s, "photo:a"), ShouldEqual, renderedShade)
				So(r.count(iconcache.PlainKey("https://cdn/slow.jpg")), ShouldEqual, 1)
			})
		})

		Convey("When a thumbnail cannot be loaded", func() {
			r.fail["https://cdn/broken.jpg"] = true
			s.SetItems([]model.MarkerItem{photo("a", 0, "https://cdn/broken.jpg")})
			So(s.Settle(ctx, viewport(0.01)), ShouldBeNil)
			So(waitIdle(s), ShouldBeNil)

			Convey("Then the marker keeps its placeholder and nothing is pending", func() {
				So(iconShade(s, "photo:a"), ShouldEqual, placeholderShade)
				So(s.Stats().PendingIcons, ShouldEqual, 0)
				So(s.Stats().CacheEntries, ShouldEqual, 0)
			})
		})

		Convey("When a lone question and a mixed cluster are shown", func() {
			s.SetItems([]model.MarkerItem{
				question("q", 0),
				photo("p", 0.004, "https://cdn/p.jpg"),
				question("q2", 0.0045),
			})
			So(s.Settle(ctx, viewport(0.01)), ShouldBeNil)
			So(waitIdle(s), ShouldBeNil)

			Convey("Then the local icon kinds render too", func() {
				So(r.count(iconcache.PlainKey(render.QuestionSource)), ShouldEqual, 1)
				So(iconShade(s, "question:q"), ShouldEqual, renderedShade)
				So(iconShade(s, "photo:p|question:q2"), ShouldEqual, renderedShade)
			})
		})
	})
}

func TestMapScreen_Interaction(t *testing.T) {
	items := []model.MarkerItem{
		photo("a", 0, "https://cdn/a.jpg"),
		photo("b", 0.0005, "https://cdn/b.jpg"),
		photo("c", 0.004, "https://cdn/c.jpg"),
	}

	Convey("Given a map screen with the default tap policy", t, func() {
		ctx := context.Background()
		var revealed []model.MarkerItem
		var created []model.Coordinate
		s := newScreen(newFakeRenderer(),
			service.WithRevealHandler(func(_ context.Context, members []model.MarkerItem) { revealed = members }),
			service.WithCreateHandler(func(_ context.Context, at model.Coordinate) { created = append(created, at) }),
		)
		So(s.Start(ctx), ShouldBeNil)
		Reset(func() { _ = s.Stop(ctx) })
		s.SetItems(items)
		So(s.Settle(ctx, viewport(0.01)), ShouldBeNil)

		Convey("When a multi-member cluster is tapped", func() {
			action, err := s.Tap(ctx, "photo:a|photo:b")

			Convey("Then its members are revealed", func() {
				So(err, ShouldBeNil)
				So(action.Kind, ShouldEqual, interaction.ActionReveal)
				So(len(revealed), ShouldEqual, 2)
				So(revealed[0].ID, ShouldEqual, "a")
				So(s.Epoch(), ShouldEqual, 1)
			})
		})

		Convey("When an unknown cluster is tapped", func() {
			_, err := s.Tap(ctx, "photo:zzz")

			Convey("Then an error is returned", func() {
				So(errors.Is(err, service.ErrUnknownCluster), ShouldBeTrue)
			})
		})

		Convey("When the map is long pressed", func() {
			at := model.Coordinate{Lat: 1.5, Lng: 2.5}
			s.LongPress(ctx, at)

			Convey("Then the coordinate is forwarded untouched", func() {
				So(created, ShouldResemble, []model.Coordinate{at})
			})
		})
	})

	Convey("Given a map screen that zooms to expand", t, func() {
		ctx := context.Background()
		s := newScreen(newFakeRenderer(), service.WithTapPolicy(interaction.ZoomToExpand))
		So(s.Start(ctx), ShouldBeNil)
		Reset(func() { _ = s.Stop(ctx) })
		s.SetItems(items)
		So(s.Settle(ctx, viewport(0.01)), ShouldBeNil)

		Convey("When a multi-member cluster is tapped", func() {
			action, err := s.Tap(ctx, "photo:a|photo:b")

			Convey("Then the camera zooms onto it and settles", func() {
				So(err, ShouldBeNil)
				So(action.Kind, ShouldEqual, interaction.ActionZoom)
				So(action.Span.LngDelta, ShouldAlmostEqual, 0.005)
				So(s.Epoch(), ShouldEqual, 2)
				So(s.Canvas().Viewport().Span, ShouldResemble, action.Span)
			})
		})

		Convey("When a single marker is tapped", func() {
			action, err := s.Tap(ctx, "photo:c")

			Convey("Then it is revealed", func() {
				So(err, ShouldBeNil)
				So(action.Kind, ShouldEqual, interaction.ActionReveal)
				So(s.Epoch(), ShouldEqual, 1)
			})
		})
	})
}

type fakeSource struct {
	items []model.MarkerItem
	err   error
	bound orb.Bound
}

func (f *fakeSource) Query(_ context.Context, b orb.Bound) ([]model.MarkerItem, error) {
	f.bound = b
	return f.items, f.err
}

func TestMapScreen_MarkerSource(t *testing.T) {
	Convey("Given a map screen backed by a marker source", t, func() {
		ctx := context.Background()
		src := &fakeSource{items: []model.MarkerItem{photo("a", 0, "https://cdn/a.jpg")}}
		s := newScreen(newFakeRenderer(), service.WithMarkerSource(src))
		So(s.Start(ctx), ShouldBeNil)
		Reset(func() { _ = s.Stop(ctx) })

		Convey("When a viewport settles", func() {
			vp := viewport(0.01)
			So(s.Settle(ctx, vp), ShouldBeNil)

			Convey("Then the visible bounds are queried", func() {
				So(src.bound, ShouldResemble, vp.Bound())
				So(s.Canvas().Len(), ShouldEqual, 1)
			})
		})

		Convey("When the source fails", func() {
			src.err = errors.New("backend down")
			err := s.Settle(ctx, viewport(0.01))

			Convey("Then settle reports it and the screen is untouched", func() {
				So(errors.Is(err, service.ErrLoadMarkers), ShouldBeTrue)
				So(s.Epoch(), ShouldEqual, 0)
			})
		})
	})
}

func TestMapScreen_GetStats(t *testing.T) {
	Convey("Given a started map screen", t, func() {
		ctx := context.Background()
		s := newScreen(newFakeRenderer())
		So(s.Start(ctx), ShouldBeNil)
		Reset(func() { _ = s.Stop(ctx) })

		Convey("Then stats are exposed for the debug endpoint", func() {
			st := s.GetStats()
			So(st["started"], ShouldEqual, true)
			So(st["workers"], ShouldEqual, 2)
			So(st["epoch"], ShouldEqual, uint64(0))
		})

		Convey("Then stopping twice is harmless", func() {
			So(s.Stop(ctx), ShouldBeNil)
			So(s.Stop(ctx), ShouldBeNil)
			So(s.GetStats()["started"], ShouldEqual, false)
		})
	})
}
