package timeline

import (
	"encoding/json"
	"os"
	"path/filepath"

	"vidforge/internal/pkg/errors"
)

const (
	timelineFile = "timeline.json"
	scenesFile   = "scenes.json"
)

// DirResolver resolves the private directory for a job id. Satisfied by
// artifacts.Store.
type DirResolver interface {
	JobDir(jobID string) (string, error)
}

// Store persists timelines as JSON inside each job's artifact directory.
// timeline.json holds the edited timeline; scenes.json holds the source
// scene list written by the generation pipeline before editing.
type Store struct {
	dirs DirResolver
}

func NewStore(dirs DirResolver) *Store {
	return &Store{dirs: dirs}
}

// Save validates and atomically writes the edited timeline. An invalid
// timeline leaves any previously stored one unchanged.
func (s *Store) Save(jobID string, t *EditableTimeline) error {
	if err := t.Validate(); err != nil {
		return err
	}
	t.Normalize()
	return s.writeJSON(jobID, timelineFile, t)
}

// Load reads the edited timeline for a job. Falls back to scenes.json when
// the timeline has never been edited, so the editor always has something to
// show for a rendered job.
func (s *Store) Load(jobID string) (*EditableTimeline, error) {
	t, err := s.readJSON(jobID, timelineFile)
	if err == nil {
		return t, nil
	}
	if !errors.IsNotFound(err) {
		return nil, err
	}
	return s.readJSON(jobID, scenesFile)
}

// SaveScenes records the source scene list produced by the pipeline.
func (s *Store) SaveScenes(jobID string, t *EditableTimeline) error {
	if err := t.Validate(); err != nil {
		return err
	}
	t.Normalize()
	return s.writeJSON(jobID, scenesFile, t)
}

func (s *Store) writeJSON(jobID, name string, t *EditableTimeline) error {
	dir, err := s.dirs.JobDir(jobID)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return errors.Wrap(err, "timeline.save", "failed to encode timeline")
	}

	// Write-and-rename so a crash mid-write never corrupts the stored copy.
	tmp := filepath.Join(dir, name+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(err, "timeline.save", "failed to write timeline")
	}
	if err := os.Rename(tmp, filepath.Join(dir, name)); err != nil {
		return errors.Wrap(err, "timeline.save", "failed to replace timeline")
	}
	return nil
}

func (s *Store) readJSON(jobID, name string) (*EditableTimeline, error) {
	dir, err := s.dirs.JobDir(jobID)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFound("timeline", jobID)
		}
		return nil, errors.Wrap(err, "timeline.load", "failed to read timeline")
	}

	var t EditableTimeline
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, errors.Wrap(err, "timeline.load", "failed to decode timeline")
	}
	t.Normalize()
	return &t, nil
}
