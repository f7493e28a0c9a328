package handlers

import (
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"vidforge/internal/httpkit"
	"vidforge/internal/media"
	"vidforge/internal/pkg/errors"
	"vidforge/internal/timeline"
)

// GetTimeline loads the stored editable timeline for a job.
func (h *Handler) GetTimeline(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	tl, err := h.timelines.Load(jobID)
	if err != nil {
		httpkit.WriteError(w, err)
		return
	}
	httpkit.WriteJSON(w, http.StatusOK, map[string]any{"timeline": tl})
}

// PutTimeline replaces the stored timeline. Validation runs before any
// write, so a rejected body leaves the previous timeline untouched.
func (h *Handler) PutTimeline(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")

	var tl timeline.EditableTimeline
	if err := httpkit.DecodeJSON(r, &tl); err != nil {
		httpkit.WriteErr(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid JSON body", nil)
		return
	}
	if err := tl.Validate(); err != nil {
		httpkit.WriteError(w, err)
		return
	}
	if err := h.timelines.Save(jobID, &tl); err != nil {
		httpkit.WriteError(w, err)
		return
	}
	httpkit.WriteJSON(w, http.StatusOK, map[string]any{"saved": true})
}

type editorRenderRequest struct {
	Spec *media.RenderSpec `json:"spec,omitempty"`
}

// RenderPreview composes the stored timeline into preview.mp4 at reduced
// fidelity. Runs synchronously; previews are expected to be fast.
func (h *Handler) RenderPreview(w http.ResponseWriter, r *http.Request) {
	h.editorRender(w, r, true)
}

// RenderFinal composes the stored timeline into final_edited.mp4 at full
// fidelity.
func (h *Handler) RenderFinal(w http.ResponseWriter, r *http.Request) {
	h.editorRender(w, r, false)
}

func (h *Handler) editorRender(w http.ResponseWriter, r *http.Request, preview bool) {
	jobID := chi.URLParam(r, "jobId")

	var req editorRenderRequest
	if r.ContentLength > 0 {
		if err := httpkit.DecodeJSON(r, &req); err != nil {
			httpkit.WriteErr(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid JSON body", nil)
			return
		}
	}
	spec := defaultRenderSpec()
	if req.Spec != nil {
		spec = *req.Spec
	}

	tl, err := h.timelines.Load(jobID)
	if err != nil {
		httpkit.WriteError(w, err)
		return
	}
	dir, err := h.artifacts.JobDir(jobID)
	if err != nil {
		httpkit.WriteError(w, err)
		return
	}

	name := "final_edited.mp4"
	renderFn := h.renderer.GenerateFinal
	if preview {
		name = "preview.mp4"
		renderFn = h.renderer.GeneratePreview
	}
	out := filepath.Join(dir, name)

	if err := renderFn(r.Context(), tl, spec, out, nil); err != nil {
		if r.Context().Err() != nil || errors.IsCode(err, errors.CodeCanceled) {
			// Client went away mid-render; nothing to report.
			return
		}
		httpkit.WriteError(w, err)
		return
	}
	httpkit.WriteJSON(w, http.StatusOK, map[string]any{
		"output":  out,
		"preview": preview,
	})
}
