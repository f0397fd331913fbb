package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/okian/telewatch/internal/adapters/http/api"
	"github.com/okian/telewatch/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

var t0 = time.Date(2016, 4, 9, 14, 0, 0, 0, time.UTC)

// Mock dependencies that implements the Dependencies interface
type mockDependencies struct {
	stats     map[string]interface{}
	marks     []model.WatermarkState
	marksErr  error
	events    []model.Event
	requested int
}

func (m *mockDependencies) GetStats() map[string]interface{} {
	return m.stats
}

func (m *mockDependencies) Watermarks(ctx context.Context) ([]model.WatermarkState, error) {
	if m.marksErr != nil {
		return nil, m.marksErr
	}
	return m.marks, nil
}

func (m *mockDependencies) RecentEvents(n int) []model.Event {
	m.requested = n
	if n > len(m.events) {
		return m.events
	}
	return m.events[:n]
}

func newMockDependencies() *mockDependencies {
	return &mockDependencies{
		stats: map[string]interface{}{"started": true, "streamCount": 3},
		marks: []model.WatermarkState{{StreamID: "hasFallen", LastSeenEnd: t0}},
		events: []model.Event{
			{ID: "e3", StreamID: "hasFallen", Kind: "fall", Timestamp: t0.Add(3 * time.Minute), Value: "fall"},
			{ID: "e2", StreamID: "patientMove", Kind: "movement", Timestamp: t0.Add(2 * time.Minute), Value: "0.031", Level: "moving"},
			{ID: "e1", StreamID: "hasFallen", Kind: "fall", Timestamp: t0.Add(time.Minute), Value: "fall"},
		},
	}
}

func TestServer_Register(t *testing.T) {
	Convey("Given a new API server", t, func() {
		deps := newMockDependencies()
		server := api.NewServer(deps, api.WithMaxEventsLimit(10))
		mux := http.NewServeMux()

		Convey("When registering routes", func() {
			server.Register(context.Background(), mux)

			routes := []string{"/healthz", "/stats", "/watermarks", "/events"}

			Convey("Then every ops endpoint should be accessible", func() {
				for _, route := range routes {
					req := httptest.NewRequest("GET", route, nil)
					w := httptest.NewRecorder()
					mux.ServeHTTP(w, req)
					So(w.Code, ShouldEqual, http.StatusOK)
				}
			})

			Convey("And unknown paths should not be served", func() {
				req := httptest.NewRequest("GET", "/dashboard", nil)
				w := httptest.NewRecorder()
				mux.ServeHTTP(w, req)
				So(w.Code, ShouldEqual, http.StatusNotFound)
			})

			Convey("And non-GET methods should not be served", func() {
				req := httptest.NewRequest("POST", "/events", nil)
				w := httptest.NewRecorder()
				mux.ServeHTTP(w, req)
				So(w.Code, ShouldEqual, http.StatusNotFound)
			})

			Convey("And request metrics should appear on /healthz", func() {
				w := httptest.NewRecorder()
				mux.ServeHTTP(w, httptest.NewRequest("GET", "/stats", nil))

				w = httptest.NewRecorder()
				mux.ServeHTTP(w, httptest.NewRequest("GET", "/healthz", nil))
				So(w.Body.String(), ShouldContainSubstring, `endpoint="stats"`)
			})
		})
	})
}

func TestEventsHandler_HandleGetEvents(t *testing.T) {
	Convey("Given an events handler", t, func() {
		deps := newMockDependencies()
		handler := api.NewEventsHandler(deps, 2)

		Convey("When requesting the latest N events", func() {
			req := httptest.NewRequest("GET", "/events?limit=1", nil)
			w := httptest.NewRecorder()
			handler.HandleGetEvents(w, req)

			Convey("Then it should return the newest events", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var response []model.Event
				So(json.NewDecoder(w.Body).Decode(&response), ShouldBeNil)
				So(len(response), ShouldEqual, 1)
				So(response[0].ID, ShouldEqual, "e3")
				So(response[0].Timestamp, ShouldEqual, t0.Add(3*time.Minute))
			})
		})

		Convey("When no limit is specified", func() {
			req := httptest.NewRequest("GET", "/events", nil)
			w := httptest.NewRecorder()
			handler.HandleGetEvents(w, req)

			Convey("Then the maximum is used", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(deps.requested, ShouldEqual, 2)
			})
		})

		Convey("When the limit is invalid", func() {
			for _, q := range []string{"0", "-1", "abc"} {
				req := httptest.NewRequest("GET", "/events?limit="+q, nil)
				w := httptest.NewRecorder()
				handler.HandleGetEvents(w, req)

				Convey("Then it should return 400 Bad Request for "+q, func() {
					So(w.Code, ShouldEqual, http.StatusBadRequest)
				})
			}
		})

		Convey("When the limit exceeds the maximum", func() {
			req := httptest.NewRequest("GET", "/events?limit=3", nil)
			w := httptest.NewRecorder()
			handler.HandleGetEvents(w, req)

			Convey("Then it should report the exceeded limit", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				var response map[string]string
				So(json.NewDecoder(w.Body).Decode(&response), ShouldBeNil)
				So(response["code"], ShouldEqual, "limit_exceeded")
			})
		})
	})
}

func TestWatermarksHandler_HandleGetWatermarks(t *testing.T) {
	Convey("Given a watermarks handler", t, func() {
		deps := newMockDependencies()
		handler := api.NewWatermarksHandler(deps)

		Convey("When requesting watermarks", func() {
			req := httptest.NewRequest("GET", "/watermarks", nil)
			w := httptest.NewRecorder()
			handler.HandleGetWatermarks(w, req)

			Convey("Then it should return every stream", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Header().Get("Content-Type"), ShouldContainSubstring, "application/json")
				var response []model.WatermarkState
				So(json.NewDecoder(w.Body).Decode(&response), ShouldBeNil)
				So(len(response), ShouldEqual, 1)
				So(response[0].StreamID, ShouldEqual, "hasFallen")
				So(response[0].LastSeenEnd, ShouldEqual, t0)
			})
		})

		Convey("When the tracker is unavailable", func() {
			deps.marksErr = errors.New("connection refused")
			req := httptest.NewRequest("GET", "/watermarks", nil)
			w := httptest.NewRecorder()
			handler.HandleGetWatermarks(w, req)

			Convey("Then it should return service unavailable", func() {
				So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
				So(w.Body.String(), ShouldContainSubstring, "connection refused")
			})
		})
	})
}

func TestHealthHandler_HandleHealth(t *testing.T) {
	Convey("Given a health handler", t, func() {
		handler := api.NewHealthHandler()

		Convey("When handling health check request", func() {
			req := httptest.NewRequest("GET", "/healthz", nil)
			w := httptest.NewRecorder()

			Convey("Then it should return OK status", func() {
				handler.HandleHealth(w, req)
				So(w.Code, ShouldEqual, http.StatusOK)
			})
		})
	})
}

func TestStatsHandler_HandleStats(t *testing.T) {
	Convey("Given a stats handler", t, func() {
		handler := api.NewStatsHandler(newMockDependencies())

		Convey("When handling stats request", func() {
			req := httptest.NewRequest("GET", "/stats", nil)
			w := httptest.NewRecorder()

			Convey("Then it should return stats", func() {
				handler.HandleStats(w, req)
				So(w.Code, ShouldEqual, http.StatusOK)

				var response map[string]interface{}
				err := json.NewDecoder(w.Body).Decode(&response)
				So(err, ShouldBeNil)
				So(response["started"], ShouldEqual, true)
				So(response["streamCount"], ShouldEqual, 3)
			})
		})
	})
}

func TestErrorKinds(t *testing.T) {
	Convey("Given errors raised by handlers", t, func() {
		cause := errors.New("boom")
		err := api.WrapKind("api.get_watermarks", api.ErrUnavailable, cause)

		Convey("Then both the kind and the cause are matchable", func() {
			So(errors.Is(err, api.ErrUnavailable), ShouldBeTrue)
			So(errors.Is(err, cause), ShouldBeTrue)
			So(err.Error(), ShouldEqual, "api.get_watermarks: unavailable: boom")
			So(errors.Is(api.NewKind("op", api.ErrBadRequest), api.ErrBadRequest), ShouldBeTrue)
		})
	})
}
