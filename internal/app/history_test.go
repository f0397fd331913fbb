package service

import (
	"fmt"
	"testing"

	"github.com/okian/telewatch/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestHistory(t *testing.T) {
	Convey("Given a history of three slots", t, func() {
		h := newHistory(3)

		Convey("When it is empty", func() {
			Convey("Then nothing is returned", func() {
				So(h.recent(5), ShouldBeEmpty)
				So(h.count(), ShouldEqual, 0)
			})
		})

		Convey("When five events are added", func() {
			for i := 1; i <= 5; i++ {
				h.add(model.Event{ID: fmt.Sprintf("e%d", i)})
			}

			Convey("Then the newest three are kept newest first", func() {
				ids := func(es []model.Event) []string {
					out := make([]string, len(es))
					for i, e := range es {
						out[i] = e.ID
					}
					return out
				}
				So(ids(h.recent(0)), ShouldResemble, []string{"e5", "e4", "e3"})
				So(ids(h.recent(2)), ShouldResemble, []string{"e5", "e4"})
				So(ids(h.recent(10)), ShouldResemble, []string{"e5", "e4", "e3"})
				So(h.count(), ShouldEqual, 5)
			})
		})
	})
}
