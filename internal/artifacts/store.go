// Package artifacts implements the per-job artifact store: a private
// directory per job id plus a registry of named output files.
package artifacts

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"vidforge/internal/pkg/errors"
)

// Artifact is a named output file recorded against a job.
type Artifact struct {
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	SizeBytes int64     `json:"size_bytes"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
}

// Store maps job ids to private directories and tracks named output files.
// Once a job is sealed (terminal status) its artifact list is immutable.
type Store struct {
	root string

	mu     sync.RWMutex
	byJob  map[string]map[string]Artifact
	sealed map[string]bool
}

var jobIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// NewStore creates a store rooted at dir. The root is created on first use.
func NewStore(root string) *Store {
	return &Store{
		root:   root,
		byJob:  make(map[string]map[string]Artifact),
		sealed: make(map[string]bool),
	}
}

// JobDir returns the private directory for a job, creating it on first use.
// Job ids are restricted to a safe character set so a caller-supplied id can
// never escape the root.
func (s *Store) JobDir(jobID string) (string, error) {
	if !jobIDPattern.MatchString(jobID) {
		return "", errors.Validationf("invalid job id %q", jobID)
	}
	dir := filepath.Join(s.root, jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(err, "artifacts.dir", "failed to create job directory")
	}
	return dir, nil
}

// Register records a named artifact for a job. The file must exist; its size
// is captured at registration time. Registering against a sealed job is
// rejected; re-registering an existing name replaces the entry, so a resumed
// attempt can overwrite artifacts left behind by a failed step.
func (s *Store) Register(jobID, name, artifactType, path string) (Artifact, error) {
	st, err := os.Stat(path)
	if err != nil {
		return Artifact{}, errors.Wrap(err, "artifacts.register", "artifact file not readable")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sealed[jobID] {
		return Artifact{}, errors.IllegalStatef("job %s is terminal, artifacts are immutable", jobID)
	}
	entries := s.byJob[jobID]
	if entries == nil {
		entries = make(map[string]Artifact)
		s.byJob[jobID] = entries
	}

	a := Artifact{
		Name:      name,
		Type:      artifactType,
		SizeBytes: st.Size(),
		Path:      path,
		CreatedAt: time.Now().UTC(),
	}
	entries[name] = a
	return a, nil
}

// List returns the artifacts recorded for a job, oldest first.
func (s *Store) List(jobID string) []Artifact {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.byJob[jobID]
	out := make([]Artifact, 0, len(entries))
	for _, a := range entries {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Name < out[j].Name
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Seal marks a job's artifact list immutable. Called by the owning engine
// when the job reaches a terminal status.
func (s *Store) Seal(jobID string) {
	s.mu.Lock()
	s.sealed[jobID] = true
	s.mu.Unlock()
}

// Unseal reopens a job's artifact list for a resumed attempt. Only the
// owning engine may call this, and only when re-entering execution.
func (s *Store) Unseal(jobID string) {
	s.mu.Lock()
	delete(s.sealed, jobID)
	s.mu.Unlock()
}
