package handlers

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"vidforge/internal/export"
	"vidforge/internal/httpkit"
	"vidforge/internal/pkg/errors"
	"vidforge/internal/pkg/logger"
)

// StartExport queues an export job. With a fleet queue configured the
// task is handed to a worker process over Redis; otherwise it runs on the
// in-process pool.
func (h *Handler) StartExport(w http.ResponseWriter, r *http.Request) {
	var req export.Request
	if err := httpkit.DecodeJSON(r, &req); err != nil {
		httpkit.WriteErr(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid JSON body", nil)
		return
	}

	if h.fleet != nil {
		// Validate synchronously so a bad request never reaches the queue.
		if _, err := export.LookupPreset(req.PresetName); err != nil {
			httpkit.WriteError(w, err)
			return
		}
		task := export.Task{
			ID:            fmt.Sprintf("exp_%s", uuid.NewString()),
			CorrelationID: logger.CorrelationIDFromContext(r.Context()),
			Request:       req,
		}
		if err := h.fleet.Push(r.Context(), task); err != nil {
			httpkit.WriteError(w, err)
			return
		}
		httpkit.WriteJSON(w, http.StatusAccepted, map[string]any{
			"job_id": task.ID,
			"status": string(export.StatusQueued),
			"mode":   "fleet",
		})
		return
	}

	id, err := h.exports.QueueExport(r.Context(), req)
	if err != nil {
		httpkit.WriteError(w, err)
		return
	}
	httpkit.WriteJSON(w, http.StatusAccepted, map[string]any{
		"job_id": id,
		"status": string(export.StatusQueued),
	})
}

// ExportStatus resolves a job from the in-process orchestrator first,
// then from persisted history for fleet-mode jobs.
func (h *Handler) ExportStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobId")

	if job, ok := h.exports.GetJobStatus(id); ok {
		body := map[string]any{"job": job}
		if eta := job.EstimatedTimeRemaining(); eta != nil {
			body["eta_seconds"] = int(eta.Seconds())
		}
		httpkit.WriteJSON(w, http.StatusOK, body)
		return
	}

	if h.history != nil {
		if rec, err := h.history.Get(r.Context(), id); err == nil {
			httpkit.WriteJSON(w, http.StatusOK, map[string]any{"job": rec})
			return
		}
	}
	httpkit.WriteError(w, errors.NotFound("export job", id))
}

// CancelExport requests cancellation of an export job.
func (h *Handler) CancelExport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobId")
	if h.exports.CancelJob(id) {
		httpkit.WriteJSON(w, http.StatusAccepted, map[string]any{"cancel_requested": true})
		return
	}
	if job, ok := h.exports.GetJobStatus(id); ok {
		httpkit.WriteError(w, errors.IllegalStatef("export job is already %s", job.Status))
		return
	}
	httpkit.WriteError(w, errors.NotFound("export job", id))
}

// ActiveExports lists queued and running export jobs.
func (h *Handler) ActiveExports(w http.ResponseWriter, r *http.Request) {
	httpkit.WriteJSON(w, http.StatusOK, map[string]any{
		"jobs": h.exports.GetActiveJobs(),
	})
}

// ExportHistory lists terminal export jobs, preferring the persistent
// store when one is configured.
func (h *Handler) ExportHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	status := export.Status(r.URL.Query().Get("status"))

	if h.history != nil {
		records, err := h.history.List(r.Context(), status, limit)
		if err != nil {
			httpkit.WriteError(w, err)
			return
		}
		httpkit.WriteJSON(w, http.StatusOK, map[string]any{"jobs": records})
		return
	}
	httpkit.WriteJSON(w, http.StatusOK, map[string]any{
		"jobs": h.exports.GetHistory(status, limit),
	})
}

// ExportPresets lists the static preset catalog.
func (h *Handler) ExportPresets(w http.ResponseWriter, r *http.Request) {
	httpkit.WriteJSON(w, http.StatusOK, map[string]any{
		"presets": export.Presets(),
	})
}

// RetryExport clones a failed export into a fresh job.
func (h *Handler) RetryExport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobId")
	newID, err := h.exports.RetryJob(id)
	if err != nil {
		httpkit.WriteError(w, err)
		return
	}
	httpkit.WriteJSON(w, http.StatusAccepted, map[string]any{
		"job_id":     newID,
		"retried_of": id,
		"status":     string(export.StatusQueued),
	})
}
