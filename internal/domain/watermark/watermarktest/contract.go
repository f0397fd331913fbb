// Package watermarktest holds the behavioural contract every
// watermark.Tracker implementation must satisfy.
package watermarktest

import (
	"context"
	"testing"
	"time"

	"github.com/okian/telewatch/internal/domain/watermark"
	. "github.com/smartystreets/goconvey/convey"
)

// RunContract exercises a fresh tracker from newTracker against the
// watermark invariants.
func RunContract(t *testing.T, newTracker func() watermark.Tracker) {
	t.Helper()
	base := time.Date(2016, 4, 9, 12, 0, 0, 0, time.UTC)

	Convey("Given a fresh tracker", t, func() {
		ctx := context.Background()
		tr := newTracker()

		Convey("When a stream has never been seen", func() {
			ok, err := tr.ShouldProcess(ctx, "hasFallen", base)
			_, found, lastErr := tr.Last(ctx, "hasFallen")

			Convey("Then the first window is processed", func() {
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)
				So(lastErr, ShouldBeNil)
				So(found, ShouldBeFalse)
			})
		})

		Convey("When the watermark has advanced", func() {
			So(tr.Advance(ctx, "hasFallen", base), ShouldBeNil)

			Convey("Then an equal end is stale", func() {
				ok, err := tr.ShouldProcess(ctx, "hasFallen", base)
				So(err, ShouldBeNil)
				So(ok, ShouldBeFalse)
			})

			Convey("Then an older end is stale", func() {
				ok, err := tr.ShouldProcess(ctx, "hasFallen", base.Add(-time.Second))
				So(err, ShouldBeNil)
				So(ok, ShouldBeFalse)
			})

			Convey("Then a newer end is processed", func() {
				ok, err := tr.ShouldProcess(ctx, "hasFallen", base.Add(time.Millisecond))
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)
			})

			Convey("Then other streams are unaffected", func() {
				ok, err := tr.ShouldProcess(ctx, "patientMove", base.Add(-time.Hour))
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)
			})
		})

		Convey("When advancing with an out-of-order sequence", func() {
			ends := []time.Duration{5, 3, 10, 10, 7, 15, 1}
			var prev time.Time
			monotonic := true
			for _, d := range ends {
				So(tr.Advance(ctx, "patientMove", base.Add(d*time.Second)), ShouldBeNil)
				last, found, err := tr.Last(ctx, "patientMove")
				So(err, ShouldBeNil)
				So(found, ShouldBeTrue)
				if last.Before(prev) {
					monotonic = false
				}
				prev = last
			}

			Convey("Then the watermark never decreases", func() {
				So(monotonic, ShouldBeTrue)
				So(prev.Equal(base.Add(15*time.Second)), ShouldBeTrue)
			})
		})

		Convey("When several streams are tracked", func() {
			So(tr.Advance(ctx, "patientState", base.Add(2*time.Second)), ShouldBeNil)
			So(tr.Advance(ctx, "hasFallen", base.Add(time.Second)), ShouldBeNil)

			Convey("Then the snapshot lists them ordered by ID", func() {
				snap, err := tr.Snapshot(ctx)
				So(err, ShouldBeNil)
				So(len(snap), ShouldEqual, 2)
				So(snap[0].StreamID, ShouldEqual, "hasFallen")
				So(snap[0].LastSeenEnd.Equal(base.Add(time.Second)), ShouldBeTrue)
				So(snap[1].StreamID, ShouldEqual, "patientState")
			})
		})
	})
}
