package handlers

import (
	"net/http"

	"vidforge/internal/httpkit"
)

// Health reports liveness plus a shallow summary of engine load.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":  "ok",
		"service": "vidforge-api",
		"version": "0.1.0",
	}
	if h.exports != nil {
		body["active_exports"] = len(h.exports.GetActiveJobs())
	}
	httpkit.WriteJSON(w, http.StatusOK, body)
}
