package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidforge/internal/artifacts"
	"vidforge/internal/export"
	"vidforge/internal/httpapi/handlers"
	"vidforge/internal/media"
	"vidforge/internal/pipeline"
	"vidforge/internal/pkg/logger"
	"vidforge/internal/timeline"
)

type stubScript struct{}

func (stubScript) GenerateScript(ctx context.Context, brief pipeline.Brief, plan pipeline.PlanSpec) (*timeline.EditableTimeline, error) {
	return &timeline.EditableTimeline{Scenes: []timeline.Scene{
		{Index: 0, Heading: brief.Topic, Script: "text", Duration: 5 * time.Second},
	}}, nil
}

type stubRenderer struct{}

func (stubRenderer) GeneratePreview(ctx context.Context, tl *timeline.EditableTimeline, spec media.RenderSpec, outputPath string, progress func(float64)) error {
	return os.WriteFile(outputPath, []byte("preview"), 0o644)
}

func (stubRenderer) GenerateFinal(ctx context.Context, tl *timeline.EditableTimeline, spec media.RenderSpec, outputPath string, progress func(float64)) error {
	return os.WriteFile(outputPath, []byte("final"), 0o644)
}

type stubEncoder struct{}

func (stubEncoder) Transcode(ctx context.Context, inputFile, outputFile string, spec media.RenderSpec, progress func(float64)) error {
	if progress != nil {
		progress(1.0)
	}
	return os.WriteFile(outputFile, []byte("encoded"), 0o644)
}

type env struct {
	srv       *httptest.Server
	runner    *pipeline.Runner
	exports   *export.Orchestrator
	timelines *timeline.Store
	store     *artifacts.Store
}

func newEnv(t *testing.T) *env {
	t.Helper()
	log := logger.New(logger.Config{Level: "error", Format: "json", Output: &bytes.Buffer{}})

	store := artifacts.NewStore(t.TempDir())
	timelines := timeline.NewStore(store)

	runner, err := pipeline.NewRunner(pipeline.Deps{
		Artifacts: store,
		Timelines: timelines,
		Renderer:  stubRenderer{},
		Providers: pipeline.Providers{Script: stubScript{}},
		Log:       log,
	})
	require.NoError(t, err)

	exports, err := export.New(export.Deps{
		Artifacts: store,
		Encoder:   stubEncoder{},
		Renderer:  stubRenderer{},
		Log:       log,
	})
	require.NoError(t, err)
	t.Cleanup(exports.Close)

	router := NewRouter(Deps{
		Handlers: handlers.Deps{
			Runner:    runner,
			Exports:   exports,
			Timelines: timelines,
			Artifacts: store,
			Renderer:  stubRenderer{},
			Log:       log,
		},
		Log: log,
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &env{srv: srv, runner: runner, exports: exports, timelines: timelines, store: store}
}

func (e *env) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func clip(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(p, []byte("clip"), 0o644))
	return p
}

func TestHealth(t *testing.T) {
	e := newEnv(t)
	resp, body := e.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestRenderLifecycle(t *testing.T) {
	e := newEnv(t)

	resp, body := e.do(t, http.MethodPost, "/api/render/start", map[string]any{"topic": "glaciers"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	jobID, _ := body["job_id"].(string)
	require.NotEmpty(t, jobID)

	require.Eventually(t, func() bool {
		resp, body := e.do(t, http.MethodGet, "/api/render/"+jobID+"/progress", nil)
		if resp.StatusCode != http.StatusOK {
			return false
		}
		job, _ := body["job"].(map[string]any)
		return job["status"] == "succeeded"
	}, 5*time.Second, 20*time.Millisecond)

	// Cancel on a terminal job is an illegal-state error.
	resp, _ = e.do(t, http.MethodPost, "/api/render/"+jobID+"/cancel", nil)
	assert.Equal(t, http.StatusPreconditionFailed, resp.StatusCode)

	resp, _ = e.do(t, http.MethodGet, "/api/render/job_missing/progress", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestQueueCountsAndAliasFilter(t *testing.T) {
	e := newEnv(t)

	resp, body := e.do(t, http.MethodPost, "/api/render/start", map[string]any{"topic": "tides"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	jobID := body["job_id"].(string)
	e.runner.Wait()

	resp, body = e.do(t, http.MethodGet, "/api/queue?status=done", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	jobs := body["jobs"].([]any)
	require.Len(t, jobs, 1)
	assert.Equal(t, jobID, jobs[0].(map[string]any)["id"])

	counts := body["counts"].(map[string]any)
	assert.EqualValues(t, 1, counts["succeeded"])
	assert.EqualValues(t, 1, counts["total"])

	resp, _ = e.do(t, http.MethodGet, "/api/queue?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestExportEndpoints(t *testing.T) {
	e := newEnv(t)

	resp, _ := e.do(t, http.MethodPost, "/api/export/start", map[string]any{
		"preset": "Betamax", "input_file": clip(t),
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := e.do(t, http.MethodPost, "/api/export/start", map[string]any{
		"preset": "YouTube-1080p", "input_file": clip(t),
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	jobID := body["job_id"].(string)

	require.Eventually(t, func() bool {
		resp, body := e.do(t, http.MethodGet, "/api/export/status/"+jobID, nil)
		if resp.StatusCode != http.StatusOK {
			return false
		}
		job, _ := body["job"].(map[string]any)
		return job["status"] == "completed"
	}, 5*time.Second, 20*time.Millisecond)

	resp, body = e.do(t, http.MethodGet, "/api/export/history", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["jobs"].([]any), 1)

	resp, body = e.do(t, http.MethodGet, "/api/export/presets", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, body["presets"])

	// Retry only applies to failed jobs.
	resp, _ = e.do(t, http.MethodPost, "/api/export/retry/"+jobID, nil)
	assert.Equal(t, http.StatusPreconditionFailed, resp.StatusCode)

	resp, _ = e.do(t, http.MethodGet, "/api/export/status/exp_missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEditorTimelineRoundTrip(t *testing.T) {
	e := newEnv(t)
	const jobID = "job_editor"

	// Nothing stored yet.
	resp, _ := e.do(t, http.MethodGet, "/api/editor/timeline/"+jobID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Empty timelines are rejected and nothing is stored.
	resp, body := e.do(t, http.MethodPut, "/api/editor/timeline/"+jobID, map[string]any{"scenes": []any{}})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	errBody, _ := body["error"].(map[string]any)
	assert.Contains(t, errBody["message"], "Timeline must have at least one scene")

	resp, _ = e.do(t, http.MethodGet, "/api/editor/timeline/"+jobID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	tl := map[string]any{"scenes": []any{
		map[string]any{"index": 0, "heading": "intro", "duration": int64(5 * time.Second)},
	}}
	resp, _ = e.do(t, http.MethodPut, "/api/editor/timeline/"+jobID, tl)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = e.do(t, http.MethodGet, "/api/editor/timeline/"+jobID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stored, _ := body["timeline"].(map[string]any)
	require.NotNil(t, stored)
	assert.Len(t, stored["scenes"], 1)
}

func TestEditorRenderEndpoints(t *testing.T) {
	e := newEnv(t)
	const jobID = "job_editor_render"

	tl := &timeline.EditableTimeline{Scenes: []timeline.Scene{{Index: 0, Duration: 3 * time.Second}}}
	require.NoError(t, e.timelines.Save(jobID, tl))

	resp, body := e.do(t, http.MethodPost, "/api/editor/timeline/"+jobID+"/render-preview", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out, _ := body["output"].(string)
	assert.FileExists(t, out)
	assert.Contains(t, out, "preview.mp4")

	resp, body = e.do(t, http.MethodPost, "/api/editor/timeline/"+jobID+"/render-final", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out, _ = body["output"].(string)
	assert.FileExists(t, out)
	assert.Contains(t, out, "final_edited.mp4")
}
