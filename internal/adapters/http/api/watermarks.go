package api

import (
	"net/http"
)

// WatermarksHandler handles watermark requests
type WatermarksHandler struct {
	deps WatermarkDependencies
}

// NewWatermarksHandler creates a new watermarks handler
func NewWatermarksHandler(deps WatermarkDependencies) *WatermarksHandler {
	return &WatermarksHandler{deps: deps}
}

// HandleGetWatermarks handles GET /watermarks requests
func (h *WatermarksHandler) HandleGetWatermarks(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_watermarks"
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	marks, err := h.deps.Watermarks(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", WrapKind(op, ErrUnavailable, err))
		return
	}
	writeJSON(w, http.StatusOK, marks)
}
