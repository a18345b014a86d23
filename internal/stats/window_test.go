package stats_test

import (
	"math"
	"testing"

	"github.com/okian/cadence/internal/stats"
	. "github.com/smartystreets/goconvey/convey"
)

func TestWindow(t *testing.T) {
	Convey("Given a window of three samples", t, func() {
		w := stats.NewWindow(3)

		Convey("When it is empty", func() {
			Convey("Then the summary is zero", func() {
				So(w.Summary(), ShouldResemble, stats.Summary{})
				So(w.Mean(), ShouldEqual, 0)
			})
		})

		Convey("When more samples than capacity are added", func() {
			for _, v := range []float64{1, 2, 3, 4, 5} {
				w.Add(v)
			}

			Convey("Then only the most recent ones remain", func() {
				s := w.Summary()
				So(w.Len(), ShouldEqual, 3)
				So(s.Min, ShouldEqual, 3)
				So(s.Max, ShouldEqual, 5)
				So(s.Avg, ShouldEqual, 4)
				So(s.P50, ShouldEqual, 4)
			})
		})

		Convey("When non-finite samples are added", func() {
			w.Add(math.NaN())
			w.Add(math.Inf(1))
			w.Add(2)

			Convey("Then they are ignored", func() {
				So(w.Len(), ShouldEqual, 1)
			})
		})

		Convey("When the window is reset", func() {
			w.Add(1)
			w.Reset()

			Convey("Then it is empty again with the same capacity", func() {
				So(w.Len(), ShouldEqual, 0)
				So(w.Cap(), ShouldEqual, 3)
			})
		})
	})

	Convey("Given a non-positive size", t, func() {
		So(stats.NewWindow(0).Cap(), ShouldEqual, stats.DefaultWindowSize)
	})
}

func TestPercentiles(t *testing.T) {
	Convey("Given unsorted values", t, func() {
		values := []float64{10, 0, 5}

		Convey("Then percentiles interpolate and leave the input untouched", func() {
			ps := stats.Percentiles(values, []float64{0, 50, 75, 100, 150})
			So(ps, ShouldResemble, []float64{0, 5, 7.5, 10, 10})
			So(values, ShouldResemble, []float64{10, 0, 5})
		})
	})
}
