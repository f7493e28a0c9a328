// Package handlers implements the HTTP handlers for the render, export
// and editor surfaces.
package handlers

import (
	"context"

	"vidforge/internal/artifacts"
	"vidforge/internal/export"
	"vidforge/internal/media"
	"vidforge/internal/pipeline"
	"vidforge/internal/pkg/logger"
	"vidforge/internal/repositories"
	"vidforge/internal/timeline"
)

// EditorRenderer drives ad-hoc timeline renders from the editor surface.
// Satisfied by render.Renderer.
type EditorRenderer interface {
	GeneratePreview(ctx context.Context, tl *timeline.EditableTimeline, spec media.RenderSpec, outputPath string, progress func(float64)) error
	GenerateFinal(ctx context.Context, tl *timeline.EditableTimeline, spec media.RenderSpec, outputPath string, progress func(float64)) error
}

type Deps struct {
	Runner    *pipeline.Runner
	Exports   *export.Orchestrator
	Timelines *timeline.Store
	Artifacts *artifacts.Store
	Renderer  EditorRenderer
	// Fleet, when set, routes export submissions through Redis to a
	// separate worker process instead of the in-process pool.
	Fleet *export.RedisQueue
	// History backs status lookups for fleet-mode jobs this process
	// never executed.
	History *repositories.ExportHistoryRepository
	Log     *logger.Logger
}

type Handler struct {
	runner    *pipeline.Runner
	exports   *export.Orchestrator
	timelines *timeline.Store
	artifacts *artifacts.Store
	renderer  EditorRenderer
	fleet     *export.RedisQueue
	history   *repositories.ExportHistoryRepository
	log       *logger.Logger
}

func New(d Deps) *Handler {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	return &Handler{
		runner:    d.Runner,
		exports:   d.Exports,
		timelines: d.Timelines,
		artifacts: d.Artifacts,
		renderer:  d.Renderer,
		fleet:     d.Fleet,
		history:   d.History,
		log:       log.WithComponent("httpapi"),
	}
}
