package simulator

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/okian/telewatch/internal/adapters/m2x"
	"github.com/okian/telewatch/internal/domain/model"
	"github.com/okian/telewatch/pkg/logger"
)

const defaultLimit = 1000

// Server serves the stream values endpoints over a Store.
type Server struct {
	store  *Store
	apiKey string
	limit  int
	now    func() time.Time
	mux    *http.ServeMux
	logger logger.Logger
}

// ServerOption applies a configuration option to the Server.
type ServerOption func(*Server)

// WithAPIKey requires requests to carry key in X-M2X-KEY.
func WithAPIKey(key string) ServerOption {
	return func(s *Server) {
		s.apiKey = key
	}
}

// WithLimit caps the number of values returned per request.
func WithLimit(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.limit = n
		}
	}
}

// WithServerClock replaces time.Now, used when a request has no end.
func WithServerClock(now func() time.Time) ServerOption {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// WithServerLogger sets the logger used for accepted writes.
func WithServerLogger(l logger.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates a server over store.
func NewServer(store *Store, opts ...ServerOption) *Server {
	s := &Server{
		store: store,
		limit: defaultLimit,
		now:   time.Now,
		mux:   http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("m2x-sim")
	}

	s.mux.HandleFunc("GET /devices/{device}/streams/{stream}/values.json", s.handleValues)
	s.mux.HandleFunc("PUT /devices/{device}/streams/{stream}/value", s.handleUpdate)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.apiKey != "" && r.Header.Get("X-M2X-KEY") != s.apiKey {
		writeMessage(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleValues(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var start, end time.Time
	var err error
	if v := q.Get("start"); v != "" {
		if start, err = m2x.ParseTime(v); err != nil {
			writeMessage(w, http.StatusUnprocessableEntity, "invalid start")
			return
		}
	}
	end = s.now().UTC()
	if v := q.Get("end"); v != "" {
		if end, err = m2x.ParseTime(v); err != nil {
			writeMessage(w, http.StatusUnprocessableEntity, "invalid end")
			return
		}
	}
	if !start.IsZero() && end.Before(start) {
		writeMessage(w, http.StatusUnprocessableEntity, "end before start")
		return
	}

	limit := s.limit
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n < limit {
			limit = n
		}
	}

	samples := s.store.Range(r.PathValue("device"), r.PathValue("stream"), start, end)
	if len(samples) > limit {
		// keep the newest values, as the real API does
		samples = samples[len(samples)-limit:]
	}

	resp := m2x.ValuesResponse{
		End:    m2x.FormatTime(end),
		Limit:  limit,
		Values: make([]m2x.WireValue, 0, len(samples)),
	}
	if !start.IsZero() {
		resp.Start = m2x.FormatTime(start)
	}
	// newest first on the wire
	for i := len(samples) - 1; i >= 0; i-- {
		resp.Values = append(resp.Values, m2x.WireValue{
			Timestamp: m2x.FormatTime(samples[i].Timestamp),
			Value:     wireValue(samples[i].Value),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req m2x.UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Value == "" {
		writeMessage(w, http.StatusUnprocessableEntity, "invalid value")
		return
	}
	ts := s.now().UTC()
	if req.Timestamp != "" {
		t, err := m2x.ParseTime(req.Timestamp)
		if err != nil {
			writeMessage(w, http.StatusUnprocessableEntity, "invalid timestamp")
			return
		}
		ts = t
	}

	s.store.Append(r.PathValue("device"), r.PathValue("stream"), model.Sample{Timestamp: ts, Value: req.Value})
	s.logger.Debug(r.Context(), "value written",
		logger.String("device", r.PathValue("device")),
		logger.String("stream", r.PathValue("stream")),
		logger.String("value", req.Value))
	writeMessage(w, http.StatusAccepted, "Accepted")
}

// wireValue sends numbers as JSON numbers and everything else as strings.
func wireValue(v string) json.RawMessage {
	if _, err := strconv.ParseFloat(v, 64); err == nil {
		return json.RawMessage(v)
	}
	b, _ := json.Marshal(v)
	return b
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}
