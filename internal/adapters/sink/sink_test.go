package sink_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/okian/telewatch/internal/adapters/sink"
	"github.com/okian/telewatch/internal/domain/model"
	"github.com/okian/telewatch/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

var fallEvent = model.Event{
	ID:        "e-1",
	StreamID:  "hasFallen",
	Kind:      "fall",
	Timestamp: time.Date(2016, 4, 9, 14, 0, 5, 0, time.UTC),
	Value:     "fall",
}

type fakePublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
	err      error
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, data)
	return nil
}

type update struct {
	stream, value string
	ts            time.Time
}

type fakeUpdater struct {
	updates []update
	err     error
}

func (u *fakeUpdater) UpdateValue(_ context.Context, streamID, value string, ts time.Time) error {
	if u.err != nil {
		return u.err
	}
	u.updates = append(u.updates, update{streamID, value, ts})
	return nil
}

func TestNATSSink(t *testing.T) {
	Convey("Given a NATS sink over a fake connection", t, func() {
		pub := &fakePublisher{}
		s := sink.NewNATSSink(pub, "ward.3.")

		Convey("When an event is delivered", func() {
			err := s.OnEvent(context.Background(), fallEvent)

			Convey("Then it is published as JSON on the stream and kind subject", func() {
				So(err, ShouldBeNil)
				So(pub.subjects, ShouldResemble, []string{"ward.3.hasFallen.fall"})

				var got model.Event
				So(json.Unmarshal(pub.payloads[0], &got), ShouldBeNil)
				So(got.ID, ShouldEqual, "e-1")
				So(got.Timestamp.Equal(fallEvent.Timestamp), ShouldBeTrue)
			})
		})

		Convey("When identifiers contain subject wildcards", func() {
			e := fallEvent
			e.StreamID = "patient.move"
			e.Kind = "level >"

			Convey("Then they are escaped into single tokens", func() {
				So(s.Subject(e), ShouldEqual, "ward.3.patient_move.level__")
			})
		})

		Convey("When the connection fails", func() {
			pub.err = errors.New("nats: connection closed")
			err := s.OnEvent(context.Background(), fallEvent)

			Convey("Then the error names the subject", func() {
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "ward.3.hasFallen.fall")
			})
		})

		Convey("When no prefix is given", func() {
			Convey("Then the default is used", func() {
				So(sink.NewNATSSink(pub, "").Subject(fallEvent), ShouldEqual, "telewatch.events.hasFallen.fall")
			})
		})
	})
}

func TestDial(t *testing.T) {
	Convey("Given no NATS server on the address", t, func() {
		_, err := sink.Dial("nats://127.0.0.1:1", "telewatch-test")

		Convey("Then Dial fails", func() {
			So(err, ShouldNotBeNil)
		})
	})
}

func TestStreamSink(t *testing.T) {
	Convey("Given a stream sink mapping kinds to streams", t, func() {
		u := &fakeUpdater{}
		s := sink.NewStreamSink(u, map[string]string{
			"fall":             "fallAlerts",
			"movement_changed": "patientMoveState",
			"":                 "ignored",
		})

		Convey("When a mapped event arrives", func() {
			So(s.OnEvent(context.Background(), fallEvent), ShouldBeNil)

			Convey("Then its value is written at the event time", func() {
				So(u.updates, ShouldResemble, []update{{"fallAlerts", "fall", fallEvent.Timestamp}})
			})
		})

		Convey("When a level event arrives", func() {
			e := fallEvent
			e.Kind = "movement_changed"
			e.Value = "0.31"
			e.Level = "moving"
			So(s.OnEvent(context.Background(), e), ShouldBeNil)

			Convey("Then the level is written", func() {
				So(u.updates[0].value, ShouldEqual, "moving")
				So(u.updates[0].stream, ShouldEqual, "patientMoveState")
			})
		})

		Convey("When an unmapped event arrives", func() {
			e := fallEvent
			e.Kind = "activity_changed"

			Convey("Then nothing is written", func() {
				So(s.OnEvent(context.Background(), e), ShouldBeNil)
				So(u.updates, ShouldBeEmpty)
			})
		})

		Convey("When the write fails", func() {
			u.err = &model.TransportError{Op: "update", StreamID: "fallAlerts", StatusCode: 503}
			err := s.OnEvent(context.Background(), fallEvent)

			Convey("Then the transport error is preserved", func() {
				So(errors.Is(err, model.ErrTransport), ShouldBeTrue)
			})
		})
	})
}

func TestLogSink(t *testing.T) {
	Convey("Given a log sink writing JSON", t, func() {
		var buf bytes.Buffer
		So(logger.InitWith(&buf, logger.FormatJSON), ShouldBeNil)
		defer func() { _ = logger.Init() }()

		e := fallEvent
		e.Level = "2"
		So(sink.NewLogSink(nil).OnEvent(context.Background(), e), ShouldBeNil)

		Convey("Then the event fields are logged", func() {
			out := buf.String()
			So(out, ShouldContainSubstring, `"msg":"event detected"`)
			So(out, ShouldContainSubstring, `"stream":"hasFallen"`)
			So(out, ShouldContainSubstring, `"kind":"fall"`)
			So(out, ShouldContainSubstring, `"level":"2"`)
		})
	})
}

func TestMultiAndFunc(t *testing.T) {
	Convey("Given a fan-out over three sinks", t, func() {
		var calls []string
		record := func(name string, err error) sink.Sink {
			return sink.Func(func(_ context.Context, _ model.Event) error {
				calls = append(calls, name)
				return err
			})
		}
		boom := errors.New("boom")
		m := sink.Multi{record("a", nil), record("b", boom), record("c", nil)}

		Convey("When one sink fails", func() {
			err := m.OnEvent(context.Background(), fallEvent)

			Convey("Then every sink still runs and the failure is reported", func() {
				So(calls, ShouldResemble, []string{"a", "b", "c"})
				So(errors.Is(err, boom), ShouldBeTrue)
			})
		})

		Convey("When all succeed", func() {
			Convey("Then there is no error", func() {
				So(sink.Multi{record("a", nil)}.OnEvent(context.Background(), fallEvent), ShouldBeNil)
			})
		})
	})
}
