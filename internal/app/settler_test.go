package service_test

import (
	"testing"
	"time"

	service "github.com/okian/geocluster/internal/app"
	"github.com/okian/geocluster/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

// recv waits up to d for one settled viewport.
func recv(st *service.Settler, d time.Duration) []model.Viewport {
	select {
	case vp := <-st.Settled():
		return []model.Viewport{vp}
	case <-time.After(d):
		return nil
	}
}

func TestSettler(t *testing.T) {
	Convey("Given a settler with a short quiet period", t, func() {
		st := service.NewSettler(20 * time.Millisecond)
		Reset(st.Stop)

		Convey("When the camera moves several times in a burst", func() {
			for i := 1; i <= 5; i++ {
				st.Moved(viewport(float64(i) * 0.01))
			}

			Convey("Then only the last viewport is emitted", func() {
				first := recv(st, time.Second)
				So(first, ShouldHaveLength, 1)
				So(first[0].Span.LngDelta, ShouldAlmostEqual, 0.05)
				So(recv(st, 60*time.Millisecond), ShouldBeEmpty)
			})
		})

		Convey("When flushed before the quiet period ends", func() {
			st.Moved(viewport(0.02))
			flushed := st.Flush()

			Convey("Then the viewport is available at once and only once", func() {
				So(flushed, ShouldBeTrue)
				So((<-st.Settled()).Span.LngDelta, ShouldAlmostEqual, 0.02)
				So(st.Flush(), ShouldBeFalse)
			})
		})

		Convey("When stopped with a move pending", func() {
			st.Moved(viewport(0.03))
			st.Stop()
			st.Moved(viewport(0.04))

			Convey("Then nothing is emitted", func() {
				So(recv(st, 60*time.Millisecond), ShouldBeEmpty)
			})
		})
	})

	Convey("Given a non-positive quiet period", t, func() {
		st := service.NewSettler(0)
		Reset(st.Stop)

		Convey("Then the default applies", func() {
			start := time.Now()
			st.Moved(viewport(0.01))
			<-st.Settled()
			So(time.Since(start), ShouldBeGreaterThanOrEqualTo, service.DefaultQuietPeriod)
		})
	})
}
