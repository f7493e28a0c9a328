// Package httpapi wires the chi router for the render, export and editor
// surfaces.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"vidforge/internal/httpapi/handlers"
	"vidforge/internal/httpkit"
	"vidforge/internal/pkg/logger"
	"vidforge/internal/pkg/middleware"
)

type Deps struct {
	Handlers           handlers.Deps
	CORSAllowedOrigins []string
	Log                *logger.Logger
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	r.Use(middleware.CorrelationID)
	r.Use(middleware.Logging(log))
	r.Use(middleware.Recovery(log))
	r.Use(httpkit.CORS(httpkit.CORSOptions{
		AllowedOrigins:   d.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Correlation-ID"},
		AllowCredentials: false,
		MaxAgeSeconds:    600,
	}))

	h := handlers.New(d.Handlers)

	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Post("/render/start", h.StartRender)
		r.Get("/render/{id}/progress", h.RenderProgress)
		r.Post("/render/{id}/cancel", h.CancelRender)
		r.Post("/render/{id}/resume", h.ResumeRender)

		r.Get("/queue", h.Queue)
		r.Get("/queue/stream", h.QueueStream)

		r.Post("/export/start", h.StartExport)
		r.Get("/export/status/{jobId}", h.ExportStatus)
		r.Post("/export/cancel/{jobId}", h.CancelExport)
		r.Get("/export/active", h.ActiveExports)
		r.Get("/export/history", h.ExportHistory)
		r.Get("/export/presets", h.ExportPresets)
		r.Post("/export/retry/{jobId}", h.RetryExport)

		r.Get("/editor/timeline/{jobId}", h.GetTimeline)
		r.Put("/editor/timeline/{jobId}", h.PutTimeline)
		r.Post("/editor/timeline/{jobId}/render-preview", h.RenderPreview)
		r.Post("/editor/timeline/{jobId}/render-final", h.RenderFinal)
	})

	return r
}
