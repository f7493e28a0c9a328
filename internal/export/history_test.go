package export_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidforge/internal/artifacts"
	"vidforge/internal/export"
	"vidforge/internal/media"
	"vidforge/internal/pkg/logger"
	"vidforge/internal/repositories"
)

type passthroughEncoder struct{}

func (passthroughEncoder) Transcode(ctx context.Context, inputFile, outputFile string, spec media.RenderSpec, progress func(float64)) error {
	return os.WriteFile(outputFile, []byte("encoded"), 0o644)
}

// A nil *ExportHistoryRepository handed to the orchestrator must behave
// like no history at all: the worker finishes the export without touching
// a database.
func TestNilHistoryRepository_ExportStillCompletes(t *testing.T) {
	var history *repositories.ExportHistoryRepository

	o, err := export.New(export.Deps{
		Artifacts: artifacts.NewStore(t.TempDir()),
		Encoder:   passthroughEncoder{},
		History:   history,
		Log:       logger.New(logger.Config{Level: "error", Format: "json", Output: &bytes.Buffer{}}),
	})
	require.NoError(t, err)
	t.Cleanup(o.Close)

	clip := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(clip, []byte("clip"), 0o644))

	id, err := o.QueueExport(context.Background(), export.Request{PresetName: "TikTok", InputFile: clip})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		job, ok := o.GetJobStatus(id)
		return ok && job.Status == export.StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	job, _ := o.GetJobStatus(id)
	assert.Equal(t, 1.0, job.Progress)
}
