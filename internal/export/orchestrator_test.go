package export

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidforge/internal/adapters/storage/localfs"
	"vidforge/internal/artifacts"
	"vidforge/internal/media"
	"vidforge/internal/pkg/errors"
	"vidforge/internal/pkg/logger"
	"vidforge/internal/timeline"
)

type fakeEncoder struct {
	mu    sync.Mutex
	calls int
	err   error
	block chan struct{}
}

func (f *fakeEncoder) Transcode(ctx context.Context, inputFile, outputFile string, spec media.RenderSpec, progress func(float64)) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.err != nil {
		return f.err
	}
	if progress != nil {
		progress(0.5)
		progress(1.0)
	}
	return os.WriteFile(outputFile, []byte("encoded"), 0o644)
}

type fakeRenderer struct{ err error }

func (f *fakeRenderer) GenerateFinal(ctx context.Context, tl *timeline.EditableTimeline, spec media.RenderSpec, outputPath string, progress func(float64)) error {
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(outputPath, []byte("rendered"), 0o644)
}

func newTestOrchestrator(t *testing.T, d Deps) *Orchestrator {
	t.Helper()
	if d.Artifacts == nil {
		d.Artifacts = artifacts.NewStore(t.TempDir())
	}
	if d.Log == nil {
		d.Log = logger.New(logger.Config{Level: "error", Format: "json", Output: &bytes.Buffer{}})
	}
	o, err := New(d)
	require.NoError(t, err)
	t.Cleanup(o.Close)
	return o
}

func clipFile(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(p, []byte("clip"), 0o644))
	return p
}

func waitForExportStatus(t *testing.T, o *Orchestrator, id string, want Status) *Job {
	t.Helper()
	require.Eventually(t, func() bool {
		job, ok := o.GetJobStatus(id)
		return ok && job.Status == want
	}, 5*time.Second, 10*time.Millisecond)
	job, _ := o.GetJobStatus(id)
	return job
}

func TestQueueExport_InputFileRunsToCompleted(t *testing.T) {
	o := newTestOrchestrator(t, Deps{Encoder: &fakeEncoder{}, Workers: 2})

	id, err := o.QueueExport(context.Background(), Request{PresetName: "YouTube-1080p", InputFile: clipFile(t)})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	job := waitForExportStatus(t, o, id, StatusCompleted)
	assert.Equal(t, 1.0, job.Progress)
	assert.Equal(t, "youtube", job.TargetPlatform)
	assert.Equal(t, "YouTube-1080p", job.Preset.Name)
	assert.FileExists(t, job.OutputFile)
	assert.Nil(t, job.EstimatedTimeRemaining())
}

func TestQueueExport_UnknownPresetLeavesNoRecord(t *testing.T) {
	o := newTestOrchestrator(t, Deps{Encoder: &fakeEncoder{}})

	_, err := o.QueueExport(context.Background(), Request{PresetName: "Betamax", InputFile: clipFile(t)})
	require.Error(t, err)

	assert.Empty(t, o.GetActiveJobs())
	assert.Empty(t, o.GetHistory("", 0))
}

func TestQueueExport_InputValidation(t *testing.T) {
	o := newTestOrchestrator(t, Deps{Encoder: &fakeEncoder{}, Renderer: &fakeRenderer{}})

	_, err := o.QueueExport(context.Background(), Request{PresetName: "TikTok"})
	assert.Error(t, err, "neither input set")

	_, err = o.QueueExport(context.Background(), Request{
		PresetName: "TikTok",
		InputFile:  clipFile(t),
		Timeline:   &timeline.EditableTimeline{},
	})
	assert.Error(t, err, "both inputs set")

	_, err = o.QueueExport(context.Background(), Request{PresetName: "TikTok", InputFile: filepath.Join(t.TempDir(), "nope.mp4")})
	assert.Error(t, err, "input file missing")
}

func TestQueueExport_TimelineRenderedSynchronously(t *testing.T) {
	o := newTestOrchestrator(t, Deps{Encoder: &fakeEncoder{}, Renderer: &fakeRenderer{}})

	tl := &timeline.EditableTimeline{Scenes: []timeline.Scene{{Index: 0, Duration: 5 * time.Second}}}
	id, err := o.QueueExport(context.Background(), Request{PresetName: "Twitter-720p", Timeline: tl})
	require.NoError(t, err)

	job := waitForExportStatus(t, o, id, StatusCompleted)
	assert.Contains(t, job.InputFile, "timeline_input.mp4")
	assert.FileExists(t, job.InputFile)
}

func TestQueueExport_TimelineRenderFailureLeavesNoRecord(t *testing.T) {
	o := newTestOrchestrator(t, Deps{Encoder: &fakeEncoder{}, Renderer: &fakeRenderer{err: assert.AnError}})

	tl := &timeline.EditableTimeline{Scenes: []timeline.Scene{{Index: 0, Duration: 5 * time.Second}}}
	_, err := o.QueueExport(context.Background(), Request{PresetName: "Twitter-720p", Timeline: tl})
	require.Error(t, err)

	assert.Empty(t, o.GetActiveJobs())
	assert.Empty(t, o.GetHistory("", 0))
}

func TestQueueExport_EmptyTimelineRejected(t *testing.T) {
	o := newTestOrchestrator(t, Deps{Encoder: &fakeEncoder{}, Renderer: &fakeRenderer{}})

	_, err := o.QueueExport(context.Background(), Request{PresetName: "TikTok", Timeline: &timeline.EditableTimeline{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Timeline must have at least one scene")
}

func TestQueueExport_FullQueueRejectsCleanly(t *testing.T) {
	blocker := &fakeEncoder{block: make(chan struct{})}
	o := newTestOrchestrator(t, Deps{Encoder: blocker, Workers: 1, QueueDepth: 1})

	clip := clipFile(t)
	running, err := o.QueueExport(context.Background(), Request{PresetName: "TikTok", InputFile: clip})
	require.NoError(t, err)
	waitForExportStatus(t, o, running, StatusRunning)

	queued, err := o.QueueExport(context.Background(), Request{PresetName: "TikTok", InputFile: clip})
	require.NoError(t, err)

	_, err = o.QueueExport(context.Background(), Request{PresetName: "TikTok", InputFile: clip})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeUnavailable))

	// The rejected submission left no record behind and listing still works.
	active := o.GetActiveJobs()
	require.Len(t, active, 2)
	assert.Equal(t, queued, active[0].ID)
	assert.Equal(t, running, active[1].ID)

	close(blocker.block)
	waitForExportStatus(t, o, running, StatusCompleted)
	waitForExportStatus(t, o, queued, StatusCompleted)
}

func TestQueueExport_RejectedLeavesNoJobDir(t *testing.T) {
	root := t.TempDir()
	o := newTestOrchestrator(t, Deps{
		Artifacts: artifacts.NewStore(root),
		Encoder:   &fakeEncoder{},
		Renderer:  &fakeRenderer{},
	})

	_, err := o.QueueExport(context.Background(), Request{PresetName: "TikTok", InputFile: filepath.Join(t.TempDir(), "nope.mp4")})
	require.Error(t, err)
	_, err = o.QueueExport(context.Background(), Request{PresetName: "TikTok", Timeline: &timeline.EditableTimeline{}})
	require.Error(t, err)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries, "rejected submissions must not create job directories")
}

func TestCancel_QueuedBeforeClaim(t *testing.T) {
	blocker := &fakeEncoder{block: make(chan struct{})}
	o := newTestOrchestrator(t, Deps{Encoder: blocker, Workers: 1})

	// Occupy the only worker, then queue a second job behind it.
	first, err := o.QueueExport(context.Background(), Request{PresetName: "TikTok", InputFile: clipFile(t)})
	require.NoError(t, err)
	waitForExportStatus(t, o, first, StatusRunning)

	second, err := o.QueueExport(context.Background(), Request{PresetName: "TikTok", InputFile: clipFile(t)})
	require.NoError(t, err)

	require.True(t, o.CancelJob(second))
	job := waitForExportStatus(t, o, second, StatusCancelled)
	assert.Equal(t, 0.0, job.Progress)
	assert.Nil(t, job.StartedAt)

	close(blocker.block)
	waitForExportStatus(t, o, first, StatusCompleted)
}

func TestCancel_RunningKillsEncode(t *testing.T) {
	blocker := &fakeEncoder{block: make(chan struct{})}
	o := newTestOrchestrator(t, Deps{Encoder: blocker, Workers: 1})
	t.Cleanup(func() { close(blocker.block) })

	id, err := o.QueueExport(context.Background(), Request{PresetName: "TikTok", InputFile: clipFile(t)})
	require.NoError(t, err)
	waitForExportStatus(t, o, id, StatusRunning)

	require.True(t, o.CancelJob(id))
	job := waitForExportStatus(t, o, id, StatusCancelled)
	assert.NotNil(t, job.CompletedAt)
}

func TestCancel_TerminalReturnsFalse(t *testing.T) {
	o := newTestOrchestrator(t, Deps{Encoder: &fakeEncoder{}})

	id, err := o.QueueExport(context.Background(), Request{PresetName: "TikTok", InputFile: clipFile(t)})
	require.NoError(t, err)
	before := waitForExportStatus(t, o, id, StatusCompleted)

	assert.False(t, o.CancelJob(id))
	assert.False(t, o.CancelJob("exp_missing"))

	after, _ := o.GetJobStatus(id)
	assert.Equal(t, before.Status, after.Status)
	assert.Equal(t, before.CompletedAt, after.CompletedAt)
}

func TestRetryJob(t *testing.T) {
	enc := &fakeEncoder{err: assert.AnError}
	o := newTestOrchestrator(t, Deps{Encoder: enc})

	id, err := o.QueueExport(context.Background(), Request{PresetName: "Instagram-Reel", InputFile: clipFile(t)})
	require.NoError(t, err)
	failed := waitForExportStatus(t, o, id, StatusFailed)
	assert.NotEmpty(t, failed.ErrorMessage)

	enc.mu.Lock()
	enc.err = nil
	enc.mu.Unlock()

	newID, err := o.RetryJob(id)
	require.NoError(t, err)
	require.NotEqual(t, id, newID)

	retried := waitForExportStatus(t, o, newID, StatusCompleted)
	assert.Equal(t, failed.InputFile, retried.InputFile)
	assert.Equal(t, failed.Preset, retried.Preset)

	// Original record untouched.
	original, _ := o.GetJobStatus(id)
	assert.Equal(t, StatusFailed, original.Status)
	assert.Equal(t, failed.ErrorMessage, original.ErrorMessage)
}

func TestRetryJob_OnlyFailed(t *testing.T) {
	o := newTestOrchestrator(t, Deps{Encoder: &fakeEncoder{}})

	id, err := o.QueueExport(context.Background(), Request{PresetName: "TikTok", InputFile: clipFile(t)})
	require.NoError(t, err)
	waitForExportStatus(t, o, id, StatusCompleted)

	_, err = o.RetryJob(id)
	assert.Error(t, err)
	_, err = o.RetryJob("exp_missing")
	assert.Error(t, err)
}

func TestGetHistory_FilterAndLimit(t *testing.T) {
	enc := &fakeEncoder{}
	o := newTestOrchestrator(t, Deps{Encoder: enc, Workers: 1})

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := o.QueueExport(context.Background(), Request{PresetName: "TikTok", InputFile: clipFile(t)})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	for _, id := range ids {
		waitForExportStatus(t, o, id, StatusCompleted)
	}

	enc.mu.Lock()
	enc.err = assert.AnError
	enc.mu.Unlock()
	failID, err := o.QueueExport(context.Background(), Request{PresetName: "TikTok", InputFile: clipFile(t)})
	require.NoError(t, err)
	waitForExportStatus(t, o, failID, StatusFailed)

	all := o.GetHistory("", 0)
	require.Len(t, all, 4)
	assert.Equal(t, failID, all[0].ID, "most recent first")

	completed := o.GetHistory(StatusCompleted, 2)
	require.Len(t, completed, 2)
	assert.Equal(t, ids[2], completed[0].ID)

	failedOnly := o.GetHistory(StatusFailed, 0)
	require.Len(t, failedOnly, 1)
	assert.Equal(t, failID, failedOnly[0].ID)

	assert.Empty(t, o.GetActiveJobs())
}

func TestCompletedExportIsPublished(t *testing.T) {
	pubRoot := t.TempDir()
	o := newTestOrchestrator(t, Deps{Encoder: &fakeEncoder{}, Publisher: localfs.New(pubRoot)})

	id, err := o.QueueExport(context.Background(), Request{PresetName: "YouTube-1080p", InputFile: clipFile(t)})
	require.NoError(t, err)

	job := waitForExportStatus(t, o, id, StatusCompleted)
	require.NotEmpty(t, job.PublishedKey)
	assert.FileExists(t, filepath.Join(pubRoot, filepath.FromSlash(job.PublishedKey)))
}

func TestIDsUnique(t *testing.T) {
	o := newTestOrchestrator(t, Deps{Encoder: &fakeEncoder{}, Workers: 2})

	clip := clipFile(t)
	seen := make(map[string]bool)
	for i := 0; i < 10; i++ {
		id, err := o.QueueExport(context.Background(), Request{PresetName: "Web-Preview", InputFile: clip})
		require.NoError(t, err)
		require.False(t, seen[id])
		seen[id] = true
	}
}

func TestEstimatedTimeRemaining(t *testing.T) {
	started := time.Now().UTC().Add(-10 * time.Second)
	job := &Job{Status: StatusRunning, StartedAt: &started, Progress: 0.5}
	eta := job.EstimatedTimeRemaining()
	require.NotNil(t, eta)
	assert.InDelta(t, 10*time.Second, *eta, float64(2*time.Second))

	assert.Nil(t, (&Job{Status: StatusQueued}).EstimatedTimeRemaining())
	assert.Nil(t, (&Job{Status: StatusCompleted}).EstimatedTimeRemaining())
}

func TestLookupPreset(t *testing.T) {
	p, err := LookupPreset("youtube-1080p")
	require.NoError(t, err)
	assert.Equal(t, "YouTube-1080p", p.Name)
	assert.Equal(t, "1920x1080", p.Resolution)

	spec := p.RenderSpec()
	assert.Equal(t, 85, spec.QualityLevel)
	assert.Equal(t, "libx264", spec.Codec)
	require.NoError(t, spec.Validate())

	_, err = LookupPreset("vhs")
	assert.Error(t, err)
}

func TestQualityLevels(t *testing.T) {
	assert.Equal(t, 50, QualityDraft.Level())
	assert.Equal(t, 75, QualityGood.Level())
	assert.Equal(t, 85, QualityHigh.Level())
	assert.Equal(t, 95, QualityBest.Level())
}

func TestPresetsSorted(t *testing.T) {
	all := Presets()
	require.NotEmpty(t, all)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].Name, all[i].Name)
	}
	for _, p := range all {
		require.NoError(t, p.RenderSpec().Validate(), p.Name)
	}
}
