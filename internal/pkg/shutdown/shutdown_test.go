package shutdown

import (
	"bytes"
	"context"
	"os/exec"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidforge/internal/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Level: "error", Format: "json", Output: &bytes.Buffer{}})
}

func TestManager_RunsHandlers(t *testing.T) {
	m := NewManager(testLogger(), time.Second)

	var ran atomic.Int32
	m.Register("a", func(ctx context.Context) error {
		ran.Add(1)
		return nil
	})
	m.RegisterSimple("b", func() {
		ran.Add(1)
	})

	m.Shutdown()

	assert.Equal(t, int32(2), ran.Load())

	select {
	case <-m.Done():
	default:
		t.Fatal("done channel not closed after shutdown")
	}
}

func TestManager_TimeoutDoesNotBlockForever(t *testing.T) {
	m := NewManager(testLogger(), 50*time.Millisecond)

	m.Register("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	done := make(chan struct{})
	go func() {
		m.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not respect timeout")
	}
}

func TestProcessTracker_TrackAndRelease(t *testing.T) {
	tr := NewProcessTracker(testLogger())

	cmd := exec.Command("sleep", "60")
	release := tr.Track(cmd)
	assert.Equal(t, 1, tr.Active())

	release()
	release() // idempotent
	assert.Equal(t, 0, tr.Active())
}

func TestProcessTracker_KillAll(t *testing.T) {
	tr := NewProcessTracker(testLogger())

	cmd := exec.Command("sleep", "60")
	require.NoError(t, cmd.Start())
	release := tr.Track(cmd)
	defer release()

	require.NoError(t, tr.KillAll(context.Background()))
	assert.Equal(t, 0, tr.Active())

	// Process should terminate promptly after the kill.
	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()
	select {
	case <-waitErr:
	case <-time.After(2 * time.Second):
		t.Fatal("killed process did not exit")
	}
}
