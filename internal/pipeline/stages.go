package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"vidforge/internal/pkg/errors"
	"vidforge/internal/timeline"
)

// Stage names, in declared pipeline order.
const (
	StageScripting   = "Scripting"
	StageNarration   = "Narration"
	StageVisuals     = "Visuals"
	StageComposition = "Composition"
	StageRender      = "Render"
)

// Brief is the content request a caller submits.
type Brief struct {
	Topic          string        `json:"topic"`
	Audience       string        `json:"audience,omitempty"`
	Tone           string        `json:"tone,omitempty"`
	TargetDuration time.Duration `json:"target_duration,omitempty"`
}

// PlanSpec shapes how the brief is expanded into scenes.
type PlanSpec struct {
	SceneCount int    `json:"scene_count,omitempty"`
	Voice      string `json:"voice,omitempty"`
	VisualKind string `json:"visual_kind,omitempty"`
}

// ScriptGenerator expands a brief into a scene list with script text and
// per-scene timing. Required collaborator.
type ScriptGenerator interface {
	GenerateScript(ctx context.Context, brief Brief, plan PlanSpec) (*timeline.EditableTimeline, error)
}

// NarrationSynthesizer renders one scene's script to a wav file. Optional;
// when absent the narration step is skipped.
type NarrationSynthesizer interface {
	Synthesize(ctx context.Context, text, voice, outputPath string) error
}

// VisualGenerator produces one visual asset for a scene. Optional; when
// absent the visuals step is skipped and scenes render on a plain
// background.
type VisualGenerator interface {
	Generate(ctx context.Context, prompt, kind, outputPath string) error
}

// Providers bundles the external generation collaborators. Which of them
// are required is declared once in NewRunner instead of null-checks
// scattered through each step.
type Providers struct {
	Script    ScriptGenerator
	Narration NarrationSynthesizer
	Visuals   VisualGenerator
}

// defaultSteps declares the pipeline in execution order with per-type
// weights used for progress computation.
func defaultSteps() []Step {
	return []Step{
		{Name: "script", Stage: StageScripting, Status: StepPending, Weight: 10},
		{Name: "narration", Stage: StageNarration, Status: StepPending, Weight: 20},
		{Name: "visuals", Stage: StageVisuals, Status: StepPending, Weight: 25},
		{Name: "composition", Stage: StageComposition, Status: StepPending, Weight: 10},
		{Name: "render", Stage: StageRender, Status: StepPending, Weight: 35},
	}
}

// execState carries intermediate outputs between steps of one attempt.
type execState struct {
	job      *Job
	dir      string
	timeline *timeline.EditableTimeline
}

// runScript expands the brief into scenes and persists them as
// scenes.json, the durable checkpoint for this step.
func (r *Runner) runScript(ctx context.Context, st *execState) error {
	tl, err := r.providers.Script.GenerateScript(ctx, st.job.Brief, st.job.Plan)
	if err != nil {
		return errors.Wrap(err, "pipeline.script", "script generation failed")
	}
	if err := r.timelines.SaveScenes(st.job.ID, tl); err != nil {
		return err
	}
	st.timeline = tl
	return nil
}

// runNarration synthesizes one wav per scene under audio/ and registers
// each as an artifact.
func (r *Runner) runNarration(ctx context.Context, st *execState) error {
	audioDir := filepath.Join(st.dir, "audio")
	if err := os.MkdirAll(audioDir, 0o755); err != nil {
		return errors.Wrap(err, "pipeline.narration", "failed to create audio directory")
	}

	for i := range st.timeline.Scenes {
		if err := ctx.Err(); err != nil {
			return err
		}
		sc := &st.timeline.Scenes[i]
		if sc.Script == "" {
			r.appendWarning(st.job.ID, fmt.Sprintf("scene %d has no script, narration skipped", sc.Index))
			continue
		}
		out := filepath.Join(audioDir, fmt.Sprintf("scene_%d.wav", sc.Index))
		if err := r.providers.Narration.Synthesize(ctx, sc.Script, st.job.Plan.Voice, out); err != nil {
			return errors.Wrap(err, "pipeline.narration", fmt.Sprintf("narration failed for scene %d", sc.Index))
		}
		sc.NarrationAudioPath = out
		name := filepath.Join("audio", fmt.Sprintf("scene_%d.wav", sc.Index))
		if _, err := r.artifacts.Register(st.job.ID, name, "audio/wav", out); err != nil {
			return err
		}
	}
	return r.timelines.SaveScenes(st.job.ID, st.timeline)
}

// runVisuals generates one asset per scene under assets/, fanning out with
// a budget-bounded errgroup since visual providers are the slowest
// collaborators.
func (r *Runner) runVisuals(ctx context.Context, st *execState) error {
	assetDir := filepath.Join(st.dir, "assets")
	if err := os.MkdirAll(assetDir, 0o755); err != nil {
		return errors.Wrap(err, "pipeline.visuals", "failed to create assets directory")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.budget)

	for i := range st.timeline.Scenes {
		sc := &st.timeline.Scenes[i]
		g.Go(func() error {
			prompt := sc.Heading
			if prompt == "" {
				prompt = sc.Script
			}
			out := filepath.Join(assetDir, fmt.Sprintf("scene_%d.png", sc.Index))
			if err := r.providers.Visuals.Generate(gctx, prompt, st.job.Plan.VisualKind, out); err != nil {
				return errors.Wrap(err, "pipeline.visuals", fmt.Sprintf("visual generation failed for scene %d", sc.Index))
			}
			sc.VisualAssets = []timeline.VisualAsset{{Path: out, Kind: "image"}}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, sc := range st.timeline.Scenes {
		for _, va := range sc.VisualAssets {
			name := filepath.Join("assets", filepath.Base(va.Path))
			if _, err := r.artifacts.Register(st.job.ID, name, "image/png", va.Path); err != nil {
				return err
			}
		}
	}
	return r.timelines.SaveScenes(st.job.ID, st.timeline)
}

// runComposition freezes the generated scene list into the editable
// timeline read by the editor endpoints.
func (r *Runner) runComposition(ctx context.Context, st *execState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.timelines.Save(st.job.ID, st.timeline)
}

// runRender composes the timeline into final.mp4 using the full render
// spec, reporting fractional progress into the job's percent.
func (r *Runner) runRender(ctx context.Context, st *execState) error {
	// The editor may have replaced the timeline between attempts; always
	// render what is stored.
	tl, err := r.timelines.Load(st.job.ID)
	if err != nil {
		return err
	}

	out := filepath.Join(st.dir, "final.mp4")
	err = r.renderer.GenerateFinal(ctx, tl, st.job.Spec, out, func(frac float64) {
		r.reportStepProgress(st.job.ID, frac)
	})
	if err != nil {
		return err
	}
	if _, err := r.artifacts.Register(st.job.ID, "final.mp4", "video/mp4", out); err != nil {
		return err
	}
	return nil
}

// loadCheckpointState rebuilds execState for a resumed attempt from the
// durably stored scene list.
func (r *Runner) loadCheckpointState(st *execState) error {
	tl, err := r.timelines.Load(st.job.ID)
	if err != nil {
		return errors.Wrap(err, "pipeline.resume", "checkpoint timeline missing")
	}
	st.timeline = tl
	return nil
}
