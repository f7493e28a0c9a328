package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"vidforge/internal/export"
)

func TestRecordExport_NilReceiverIsNoOp(t *testing.T) {
	var r *ExportHistoryRepository

	err := r.RecordExport(context.Background(), &export.Job{
		ID:        "exp_test",
		Status:    export.StatusCompleted,
		Progress:  1.0,
		CreatedAt: time.Now().UTC(),
	})
	assert.NoError(t, err)
}
