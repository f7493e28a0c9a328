package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"vidforge/internal/httpkit"
	"vidforge/internal/media"
	"vidforge/internal/pipeline"
	"vidforge/internal/pkg/errors"
)

type startRenderRequest struct {
	Topic                 string            `json:"topic"`
	Audience              string            `json:"audience,omitempty"`
	Tone                  string            `json:"tone,omitempty"`
	TargetDurationSeconds int               `json:"target_duration_seconds,omitempty"`
	Plan                  pipeline.PlanSpec `json:"plan"`
	Spec                  *media.RenderSpec `json:"spec,omitempty"`
}

// defaultRenderSpec is used when a submission does not pin encode
// parameters.
func defaultRenderSpec() media.RenderSpec {
	return media.RenderSpec{
		Resolution:    "1920x1080",
		Container:     "mp4",
		VideoBitrateK: 8000,
		AudioBitrateK: 192,
		Fps:           30,
		Codec:         "libx264",
		QualityLevel:  85,
	}
}

// StartRender submits a generation job and returns its id immediately.
func (h *Handler) StartRender(w http.ResponseWriter, r *http.Request) {
	var req startRenderRequest
	if err := httpkit.DecodeJSON(r, &req); err != nil {
		httpkit.WriteErr(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid JSON body", nil)
		return
	}

	spec := defaultRenderSpec()
	if req.Spec != nil {
		spec = *req.Spec
	}
	brief := pipeline.Brief{
		Topic:          req.Topic,
		Audience:       req.Audience,
		Tone:           req.Tone,
		TargetDuration: time.Duration(req.TargetDurationSeconds) * time.Second,
	}

	id, err := h.runner.Submit(r.Context(), brief, req.Plan, spec)
	if err != nil {
		httpkit.WriteError(w, err)
		return
	}
	httpkit.WriteJSON(w, http.StatusAccepted, map[string]any{
		"job_id": id,
		"status": string(pipeline.StatusQueued),
	})
}

// RenderProgress returns the job snapshot plus a coarse ETA while the job
// is running.
func (h *Handler) RenderProgress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, ok := h.runner.GetJob(id)
	if !ok {
		httpkit.WriteError(w, errors.NotFound("job", id))
		return
	}

	body := map[string]any{"job": job}
	if eta := jobETA(job); eta != nil {
		body["eta_seconds"] = int(eta.Seconds())
	}
	httpkit.WriteJSON(w, http.StatusOK, body)
}

// CancelRender requests cooperative cancellation of a job.
func (h *Handler) CancelRender(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if h.runner.CancelJob(id) {
		httpkit.WriteJSON(w, http.StatusAccepted, map[string]any{"cancel_requested": true})
		return
	}
	if job, ok := h.runner.GetJob(id); ok {
		httpkit.WriteError(w, errors.IllegalStatef("job is already %s", job.Status))
		return
	}
	httpkit.WriteError(w, errors.NotFound("job", id))
}

// ResumeRender re-enters a failed or canceled job as a new attempt.
func (h *Handler) ResumeRender(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.runner.Resume(id); err != nil {
		httpkit.WriteError(w, err)
		return
	}
	httpkit.WriteJSON(w, http.StatusAccepted, map[string]any{
		"job_id": id,
		"status": string(pipeline.StatusQueued),
	})
}

// Queue lists jobs most-recent-first with aggregate counts. The status
// filter accepts legacy aliases ("pending", "done", "cancelled").
func (h *Handler) Queue(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 0)

	var filter pipeline.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		parsed, err := pipeline.ParseStatus(raw)
		if err != nil {
			httpkit.WriteError(w, err)
			return
		}
		filter = parsed
	}

	jobs := h.runner.ListJobs(0)
	counts := map[string]int{}
	filtered := make([]*pipeline.Job, 0, len(jobs))
	for _, j := range jobs {
		counts[string(j.Status)]++
		if filter != "" && j.Status != filter {
			continue
		}
		if limit > 0 && len(filtered) >= limit {
			continue
		}
		filtered = append(filtered, j)
	}
	counts["total"] = len(jobs)

	httpkit.WriteJSON(w, http.StatusOK, map[string]any{
		"jobs":   filtered,
		"counts": counts,
	})
}

// QueueStream pushes the queue summary as server-sent events until the
// client disconnects.
func (h *Handler) QueueStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpkit.WriteErr(w, http.StatusInternalServerError, "INTERNAL_ERROR", "streaming unsupported", nil)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			jobs := h.runner.ListJobs(0)
			counts := map[string]int{"total": len(jobs)}
			for _, j := range jobs {
				counts[string(j.Status)]++
			}
			payload, err := json.Marshal(counts)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

// jobETA extrapolates remaining time from elapsed wall time and the
// weighted percent. Nil unless the job is running with progress.
func jobETA(job *pipeline.Job) *time.Duration {
	if job.Status != pipeline.StatusRunning || job.StartedAt == nil || job.Percent <= 0 {
		return nil
	}
	elapsed := time.Since(*job.StartedAt)
	remaining := time.Duration(float64(elapsed) * float64(100-job.Percent) / float64(job.Percent))
	if remaining < 0 {
		remaining = 0
	}
	return &remaining
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}
