// Package timeline defines the editable timeline model: an ordered scene
// list with narration, visual assets and transitions, plus an optional
// background music track.
package timeline

import (
	"sort"
	"time"

	"vidforge/internal/pkg/errors"
)

// TransitionType names how a scene hands over to the next one.
type TransitionType string

const (
	TransitionCut       TransitionType = "cut"
	TransitionCrossfade TransitionType = "crossfade"
	TransitionFade      TransitionType = "fade"
)

// VisualAsset is an image or video clip shown during a scene.
type VisualAsset struct {
	Path string `json:"path"`
	Kind string `json:"kind,omitempty"`
}

// Scene is one entry of the timeline. Start/Duration are offsets on the
// composed output; transitions may overlap the tail of the preceding scene
// by TransitionDuration.
type Scene struct {
	Index              int            `json:"index"`
	Heading            string         `json:"heading,omitempty"`
	Script             string         `json:"script,omitempty"`
	Start              time.Duration  `json:"start"`
	Duration           time.Duration  `json:"duration"`
	NarrationAudioPath string         `json:"narration_audio_path,omitempty"`
	VisualAssets       []VisualAsset  `json:"visual_assets,omitempty"`
	TransitionType     TransitionType `json:"transition_type,omitempty"`
	TransitionDuration time.Duration  `json:"transition_duration,omitempty"`
}

// EditableTimeline is the ordered scene list plus global audio.
type EditableTimeline struct {
	Scenes              []Scene `json:"scenes"`
	BackgroundMusicPath string  `json:"background_music_path,omitempty"`
}

// Validate checks structural invariants before a timeline is stored or
// rendered. The empty-timeline message is part of the API contract.
func (t *EditableTimeline) Validate() error {
	if len(t.Scenes) == 0 {
		return errors.Validation("Timeline must have at least one scene")
	}
	for i, sc := range t.Scenes {
		if sc.Duration <= 0 {
			return errors.Validationf("scene %d has non-positive duration", sc.Index)
		}
		if sc.Start < 0 {
			return errors.Validationf("scene %d has negative start offset", sc.Index)
		}
		if sc.TransitionDuration < 0 {
			return errors.Validationf("scene %d has negative transition duration", sc.Index)
		}
		if sc.TransitionDuration > 0 && sc.TransitionDuration >= sc.Duration {
			return errors.Validationf("scene %d transition exceeds scene duration", sc.Index)
		}
		if i > 0 && sc.Index <= t.Scenes[i-1].Index {
			return errors.Validation("scene indexes must be strictly increasing")
		}
	}
	return nil
}

// Normalize sorts scenes by index and fills transition defaults.
func (t *EditableTimeline) Normalize() {
	sort.Slice(t.Scenes, func(i, j int) bool {
		return t.Scenes[i].Index < t.Scenes[j].Index
	})
	for i := range t.Scenes {
		if t.Scenes[i].TransitionType == "" {
			t.Scenes[i].TransitionType = TransitionCut
		}
	}
}

// TotalDuration is the end of the last scene on the composed output.
func (t *EditableTimeline) TotalDuration() time.Duration {
	var end time.Duration
	for _, sc := range t.Scenes {
		if sceneEnd := sc.Start + sc.Duration; sceneEnd > end {
			end = sceneEnd
		}
	}
	return end
}

// AssetPaths returns every file path the timeline references, in scene
// order: narration, visual assets, then background music.
func (t *EditableTimeline) AssetPaths() []string {
	paths := make([]string, 0, len(t.Scenes)*2+1)
	for _, sc := range t.Scenes {
		if sc.NarrationAudioPath != "" {
			paths = append(paths, sc.NarrationAudioPath)
		}
		for _, va := range sc.VisualAssets {
			paths = append(paths, va.Path)
		}
	}
	if t.BackgroundMusicPath != "" {
		paths = append(paths, t.BackgroundMusicPath)
	}
	return paths
}
