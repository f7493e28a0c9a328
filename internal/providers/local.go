// Package providers holds the built-in generation collaborators used when
// no external providers are configured. The script generator is
// deterministic: it splits the brief's target duration evenly across the
// planned scene count. Narration and visuals have no built-in fallback;
// those steps are skipped unless real providers are wired in.
package providers

import (
	"context"
	"fmt"
	"time"

	"vidforge/internal/pipeline"
	"vidforge/internal/timeline"
)

const (
	defaultSceneCount    = 3
	defaultSceneDuration = 10 * time.Second
)

type LocalScript struct{}

func NewLocalScript() *LocalScript { return &LocalScript{} }

func (g *LocalScript) GenerateScript(ctx context.Context, brief pipeline.Brief, plan pipeline.PlanSpec) (*timeline.EditableTimeline, error) {
	count := plan.SceneCount
	if count <= 0 {
		count = defaultSceneCount
	}

	per := defaultSceneDuration
	if brief.TargetDuration > 0 {
		per = brief.TargetDuration / time.Duration(count)
		if per < time.Second {
			per = time.Second
		}
	}

	tl := &timeline.EditableTimeline{}
	var offset time.Duration
	for i := 0; i < count; i++ {
		tl.Scenes = append(tl.Scenes, timeline.Scene{
			Index:    i,
			Heading:  fmt.Sprintf("%s, part %d", brief.Topic, i+1),
			Script:   sceneScript(brief, i, count),
			Start:    offset,
			Duration: per,
		})
		offset += per
	}
	return tl, nil
}

func sceneScript(brief pipeline.Brief, index, count int) string {
	switch {
	case index == 0:
		return fmt.Sprintf("An introduction to %s.", brief.Topic)
	case index == count-1:
		return fmt.Sprintf("Closing thoughts on %s.", brief.Topic)
	default:
		return fmt.Sprintf("More about %s.", brief.Topic)
	}
}
