// Package render composes an editable timeline into a single video file by
// driving one ffmpeg invocation with a generated filter graph: per-scene
// visuals, scene transitions, time-aligned narration and ducked background
// music.
package render

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"vidforge/internal/media"
	"vidforge/internal/pkg/errors"
	"vidforge/internal/pkg/logger"
	"vidforge/internal/timeline"
)

// backgroundMusicGain keeps music underneath narration.
const backgroundMusicGain = 0.25

// CommandRunner executes a prepared ffmpeg argument list. Satisfied by
// media.FFmpeg.
type CommandRunner interface {
	Run(ctx context.Context, args []string, totalDuration time.Duration, progress func(float64)) error
}

// Renderer turns timelines into preview or final composites.
type Renderer struct {
	runner CommandRunner
	log    *logger.Logger
}

func New(runner CommandRunner, log *logger.Logger) *Renderer {
	return &Renderer{
		runner: runner,
		log:    log.WithComponent("renderer"),
	}
}

// GeneratePreview produces a fast, reduced-fidelity composite: half
// resolution, quarter bitrate, hard cuts only.
func (r *Renderer) GeneratePreview(ctx context.Context, tl *timeline.EditableTimeline, spec media.RenderSpec, outputPath string, progress func(float64)) error {
	return r.render(ctx, tl, previewSpec(spec), outputPath, progress, true)
}

// GenerateFinal produces the full-fidelity composite using the complete
// render spec, including declared transitions.
func (r *Renderer) GenerateFinal(ctx context.Context, tl *timeline.EditableTimeline, spec media.RenderSpec, outputPath string, progress func(float64)) error {
	return r.render(ctx, tl, spec, outputPath, progress, false)
}

func (r *Renderer) render(ctx context.Context, tl *timeline.EditableTimeline, spec media.RenderSpec, outputPath string, progress func(float64), preview bool) error {
	if err := tl.Validate(); err != nil {
		return err
	}
	tl.Normalize()
	if err := spec.Validate(); err != nil {
		return err
	}
	if err := preflight(tl); err != nil {
		return err
	}

	total := tl.TotalDuration()
	args, err := composeArgs(tl, spec, preview)
	if err != nil {
		return err
	}

	// Encode into a sibling temp file and rename on success, so a failed or
	// canceled render never leaves a partial output at outputPath.
	tmp := outputPath + ".part"
	args = append(args, "-f", container(spec), tmp)

	r.log.FromContext(ctx).Info("rendering timeline",
		"scenes", len(tl.Scenes),
		"duration_s", total.Seconds(),
		"preview", preview,
	)

	if err := r.runner.Run(ctx, args, total, progress); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, outputPath); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrap(err, "render.finalize", "failed to move rendered output")
	}
	return nil
}

// preflight verifies every referenced asset exists before any work starts.
func preflight(tl *timeline.EditableTimeline) error {
	for _, p := range tl.AssetPaths() {
		if _, err := os.Stat(p); err != nil {
			return errors.Validationf("referenced file does not exist: %s", p)
		}
	}
	return nil
}

// composeArgs builds the full ffmpeg input and filter arguments for the
// timeline. Input ordering: one visual input per scene, then narration
// inputs, then background music.
func composeArgs(tl *timeline.EditableTimeline, spec media.RenderSpec, preview bool) ([]string, error) {
	width, height, err := spec.Dimensions()
	if err != nil {
		return nil, err
	}

	args := make([]string, 0, len(tl.Scenes)*4+16)
	var filters []string

	// Visual inputs, one per scene.
	for i, sc := range tl.Scenes {
		visual := firstVisual(sc)
		switch {
		case visual == "":
			args = append(args, "-f", "lavfi", "-t", ffSeconds(sc.Duration),
				"-i", fmt.Sprintf("color=c=black:s=%dx%d:r=%d", width, height, spec.Fps))
		case isStillImage(visual):
			args = append(args, "-loop", "1", "-t", ffSeconds(sc.Duration), "-i", visual)
		default:
			args = append(args, "-t", ffSeconds(sc.Duration), "-i", visual)
		}

		filters = append(filters, fmt.Sprintf(
			"[%d:v]scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,setsar=1,fps=%d[v%d]",
			i, width, height, width, height, spec.Fps, i))
	}

	// Narration inputs, delayed to their scene's start offset.
	narrationLabels := make([]string, 0, len(tl.Scenes))
	inputIdx := len(tl.Scenes)
	for i, sc := range tl.Scenes {
		if sc.NarrationAudioPath == "" {
			continue
		}
		args = append(args, "-i", sc.NarrationAudioPath)
		delayMs := sc.Start.Milliseconds()
		filters = append(filters, fmt.Sprintf(
			"[%d:a]adelay=%d:all=1[nar%d]", inputIdx, delayMs, i))
		narrationLabels = append(narrationLabels, fmt.Sprintf("[nar%d]", i))
		inputIdx++
	}

	// Background music under the whole composition at reduced gain.
	total := tl.TotalDuration()
	musicLabel := ""
	if tl.BackgroundMusicPath != "" {
		args = append(args, "-stream_loop", "-1", "-i", tl.BackgroundMusicPath)
		filters = append(filters, fmt.Sprintf(
			"[%d:a]volume=%.2f,atrim=0:%s[bgm]", inputIdx, backgroundMusicGain, ffSeconds(total)))
		musicLabel = "[bgm]"
		inputIdx++
	}

	filters = append(filters, videoChain(tl, preview)...)
	filters = append(filters, audioChain(narrationLabels, musicLabel, total, &args, &inputIdx))

	args = append(args,
		"-filter_complex", strings.Join(filters, ";"),
		"-map", "[vout]",
		"-map", "[aout]",
		"-c:v", spec.Codec,
		"-b:v", fmt.Sprintf("%dk", spec.VideoBitrateK),
		"-crf", fmt.Sprintf("%d", spec.CRF()),
		"-c:a", "aac",
		"-b:a", fmt.Sprintf("%dk", spec.AudioBitrateK),
		"-t", ffSeconds(total),
	)
	if preview {
		args = append(args, "-preset", "ultrafast")
	}
	return args, nil
}

// videoChain joins the per-scene streams. Preview mode always uses hard
// cuts; final mode applies xfade for scenes that declared a crossfade.
func videoChain(tl *timeline.EditableTimeline, preview bool) []string {
	n := len(tl.Scenes)
	if n == 1 {
		return []string{"[v0]copy[vout]"}
	}

	if preview || !hasCrossfade(tl) {
		var b strings.Builder
		for i := 0; i < n; i++ {
			fmt.Fprintf(&b, "[v%d]", i)
		}
		fmt.Fprintf(&b, "concat=n=%d:v=1:a=0[vout]", n)
		return []string{b.String()}
	}

	// Chain xfades left to right. The transition declared on scene i covers
	// the handover to scene i+1; the offset is measured on the accumulated
	// stream, so each crossfade shortens it by the overlap.
	filters := make([]string, 0, n-1)
	prev := "[v0]"
	var elapsed time.Duration
	for i := 0; i < n-1; i++ {
		sc := tl.Scenes[i]
		elapsed += sc.Duration

		out := fmt.Sprintf("[x%d]", i)
		if i == n-2 {
			out = "[vout]"
		}

		dur := sc.TransitionDuration
		if sc.TransitionType == timeline.TransitionCut || dur <= 0 {
			// A cut inside an xfade chain is a zero-length fade.
			dur = time.Millisecond
		}
		offset := elapsed - dur
		filters = append(filters, fmt.Sprintf(
			"%s[v%d]xfade=transition=fade:duration=%s:offset=%s%s",
			prev, i+1, ffSeconds(dur), ffSeconds(offset), out))
		prev = out
		elapsed -= dur
	}
	return filters
}

// audioChain mixes narration and music into [aout]. When the timeline has
// no audio at all, a silent source keeps the output stream layout stable.
func audioChain(narration []string, music string, total time.Duration, args *[]string, inputIdx *int) string {
	labels := append([]string{}, narration...)
	if music != "" {
		labels = append(labels, music)
	}

	switch len(labels) {
	case 0:
		*args = append(*args, "-f", "lavfi", "-t", ffSeconds(total), "-i", "anullsrc=channel_layout=stereo:sample_rate=44100")
		idx := *inputIdx
		*inputIdx++
		return fmt.Sprintf("[%d:a]acopy[aout]", idx)
	case 1:
		return fmt.Sprintf("%sacopy[aout]", labels[0])
	default:
		return fmt.Sprintf("%samix=inputs=%d:duration=longest:dropout_transition=0,alimiter=limit=0.9[aout]",
			strings.Join(labels, ""), len(labels))
	}
}

func hasCrossfade(tl *timeline.EditableTimeline) bool {
	for _, sc := range tl.Scenes[:len(tl.Scenes)-1] {
		if sc.TransitionType != timeline.TransitionCut && sc.TransitionDuration > 0 {
			return true
		}
	}
	return false
}

func firstVisual(sc timeline.Scene) string {
	if len(sc.VisualAssets) == 0 {
		return ""
	}
	return sc.VisualAssets[0].Path
}

func isStillImage(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".jpg", ".jpeg", ".webp", ".bmp":
		return true
	default:
		return false
	}
}

// previewSpec derives the reduced-fidelity spec used for preview renders.
func previewSpec(spec media.RenderSpec) media.RenderSpec {
	width, height, err := spec.Dimensions()
	if err == nil {
		spec.Resolution = fmt.Sprintf("%dx%d", even(width/2), even(height/2))
	}
	spec.VideoBitrateK = max(spec.VideoBitrateK/4, 250)
	spec.AudioBitrateK = max(spec.AudioBitrateK/2, 64)
	spec.QualityLevel = 50
	return spec
}

func even(v int) int {
	if v < 2 {
		return 2
	}
	return v - v%2
}

func container(spec media.RenderSpec) string {
	if spec.Container == "" {
		return "mp4"
	}
	return spec.Container
}

func ffSeconds(d time.Duration) string {
	return fmt.Sprintf("%.3f", d.Seconds())
}
