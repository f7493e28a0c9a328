package shutdown

import (
	"context"
	"os/exec"
	"sync"

	"vidforge/internal/pkg/logger"
)

// ProcessTracker tracks external subprocesses (encode commands) started by
// the engine so they can be killed when the application shuts down. Encode
// workers register a command before starting it and release it once the
// command has exited.
type ProcessTracker struct {
	log  *logger.Logger
	mu   sync.Mutex
	next int
	cmds map[int]*exec.Cmd
}

// NewProcessTracker creates an empty tracker.
func NewProcessTracker(log *logger.Logger) *ProcessTracker {
	return &ProcessTracker{
		log:  log.WithComponent("proctracker"),
		cmds: make(map[int]*exec.Cmd),
	}
}

// Track registers a command and returns a release function. The release
// function is idempotent and must be called after the command exits.
func (t *ProcessTracker) Track(cmd *exec.Cmd) (release func()) {
	t.mu.Lock()
	t.next++
	id := t.next
	t.cmds[id] = cmd
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.cmds, id)
			t.mu.Unlock()
		})
	}
}

// Active returns the number of tracked subprocesses.
func (t *ProcessTracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.cmds)
}

// KillAll force-kills every tracked subprocess. Intended to run as a
// shutdown handler; abrupt kill of an encode is acceptable on shutdown.
func (t *ProcessTracker) KillAll(ctx context.Context) error {
	t.mu.Lock()
	cmds := make([]*exec.Cmd, 0, len(t.cmds))
	for _, cmd := range t.cmds {
		cmds = append(cmds, cmd)
	}
	t.cmds = make(map[int]*exec.Cmd)
	t.mu.Unlock()

	for _, cmd := range cmds {
		if cmd.Process == nil {
			continue
		}
		t.log.Info("killing in-flight encode process", "pid", cmd.Process.Pid)
		if err := cmd.Process.Kill(); err != nil {
			t.log.Warn("failed to kill process", "pid", cmd.Process.Pid, "error", err.Error())
		}
	}
	return nil
}
