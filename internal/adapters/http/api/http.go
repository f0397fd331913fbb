// Package api declares the ops HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/okian/telewatch/internal/domain/model"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to the watcher.
type Dependencies interface {
	StatsProvider
	WatermarkDependencies
	EventDependencies
}

// WatermarkDependencies exposes the per-stream high-water marks.
type WatermarkDependencies interface {
	Watermarks(ctx context.Context) ([]model.WatermarkState, error)
}

// EventDependencies exposes the most recent classified events.
type EventDependencies interface {
	RecentEvents(n int) []model.Event
}

// Default route limits.
const defaultMaxEventsLimit = 256

// Server wires HTTP routes for the ops API.
type Server struct {
	healthHandler     *HealthHandler
	statsHandler      *StatsHandler
	watermarksHandler *WatermarksHandler
	eventsHandler     *EventsHandler
}

// Option applies a configuration option to the Server.
type Option func(*serverConfig)

type serverConfig struct {
	maxEventsLimit int
}

// WithMaxEventsLimit caps GET /events?limit.
func WithMaxEventsLimit(n int) Option {
	return func(c *serverConfig) {
		if n > 0 {
			c.maxEventsLimit = n
		}
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, opts ...Option) *Server {
	cfg := serverConfig{maxEventsLimit: defaultMaxEventsLimit}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{
		healthHandler:     NewHealthHandler(),
		statsHandler:      NewStatsHandler(deps),
		watermarksHandler: NewWatermarksHandler(deps),
		eventsHandler:     NewEventsHandler(deps, cfg.maxEventsLimit),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))
	mux.HandleFunc("/watermarks", MetricsMiddleware(s.watermarksHandler.HandleGetWatermarks, "watermarks"))
	mux.HandleFunc("/events", MetricsMiddleware(s.eventsHandler.HandleGetEvents, "events"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}
