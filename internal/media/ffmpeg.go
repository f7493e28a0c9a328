// Package media wraps the ffmpeg and ffprobe binaries. The engine never
// encodes anything itself; it builds argument lists, launches the external
// process, parses its progress stream and kills it on cancellation.
package media

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"vidforge/internal/pkg/errors"
	"vidforge/internal/pkg/logger"
	"vidforge/internal/pkg/shutdown"
)

// FFmpeg launches encode subprocesses. Safe for concurrent use.
type FFmpeg struct {
	ffmpegCmd  string
	ffprobeCmd string
	tracker    *shutdown.ProcessTracker
	log        *logger.Logger
}

// NewFFmpeg creates a wrapper around the given binaries. The tracker is
// optional; when present every launched process is registered so shutdown
// can kill it.
func NewFFmpeg(ffmpegPath, ffprobePath string, tracker *shutdown.ProcessTracker, log *logger.Logger) *FFmpeg {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpeg{
		ffmpegCmd:  ffmpegPath,
		ffprobeCmd: ffprobePath,
		tracker:    tracker,
		log:        log.WithComponent("ffmpeg"),
	}
}

// Transcode re-encodes inputFile into outputFile according to spec,
// reporting fractional progress as the encode advances.
func (f *FFmpeg) Transcode(ctx context.Context, inputFile, outputFile string, spec RenderSpec, progress func(float64)) error {
	if err := spec.Validate(); err != nil {
		return err
	}

	total, err := f.ProbeDuration(ctx, inputFile)
	if err != nil {
		return err
	}

	args := transcodeArgs(inputFile, outputFile, spec)
	return f.Run(ctx, args, total, progress)
}

// Run executes ffmpeg with the given arguments. totalDuration scales the
// out_time progress values into a 0..1 fraction; pass zero when the output
// length is unknown and no progress will be reported. Cancellation of ctx
// kills the subprocess.
func (f *FFmpeg) Run(ctx context.Context, args []string, totalDuration time.Duration, progress func(float64)) error {
	path, err := exec.LookPath(f.ffmpegCmd)
	if err != nil {
		return errors.WrapWithCode(err, errors.CodeUnavailable, "media.run", "ffmpeg binary not found")
	}

	full := append([]string{"-hide_banner", "-nostats", "-loglevel", "error", "-progress", "pipe:1", "-y"}, args...)
	cmd := exec.CommandContext(ctx, path, full...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errors.Wrap(err, "media.run", "failed to open progress pipe")
	}

	if err := cmd.Start(); err != nil {
		return errors.Wrap(err, "media.run", "failed to start ffmpeg")
	}

	var release func()
	if f.tracker != nil {
		release = f.tracker.Track(cmd)
		defer release()
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		if progress == nil || totalDuration <= 0 {
			continue
		}
		if frac, ok := parseProgressLine(scanner.Text(), totalDuration); ok {
			progress(frac)
		}
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return errors.WrapWithCode(ctx.Err(), errors.CodeCanceled, "media.run", "encode canceled")
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return errors.Internalf("ffmpeg failed: %s", firstLine(msg))
	}

	if progress != nil {
		progress(1.0)
	}
	return nil
}

// ProbeDuration reads the container duration of a media file.
func (f *FFmpeg) ProbeDuration(ctx context.Context, path string) (time.Duration, error) {
	probe, err := exec.LookPath(f.ffprobeCmd)
	if err != nil {
		return 0, errors.WrapWithCode(err, errors.CodeUnavailable, "media.probe", "ffprobe binary not found")
	}

	cmd := exec.CommandContext(ctx, probe, probeArgs(path)...)
	out, err := cmd.Output()
	if err != nil {
		return 0, errors.Wrap(err, "media.probe", "ffprobe failed")
	}

	var result struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal(out, &result); err != nil {
		return 0, errors.Wrap(err, "media.probe", "failed to parse ffprobe output")
	}

	seconds, err := strconv.ParseFloat(result.Format.Duration, 64)
	if err != nil {
		return 0, errors.Internalf("unparseable duration %q", result.Format.Duration)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

func probeArgs(path string) []string {
	return []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		path,
	}
}

func transcodeArgs(inputFile, outputFile string, spec RenderSpec) []string {
	width, height, _ := spec.Dimensions()
	return []string{
		"-i", inputFile,
		"-vf", fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2", width, height, width, height),
		"-c:v", spec.Codec,
		"-b:v", spec.videoBitrate(),
		"-crf", strconv.Itoa(spec.CRF()),
		"-r", strconv.Itoa(spec.Fps),
		"-c:a", "aac",
		"-b:a", spec.audioBitrate(),
		"-movflags", "+faststart",
		outputFile,
	}
}

// parseProgressLine extracts a progress fraction from one key=value line of
// ffmpeg's -progress output.
func parseProgressLine(line string, total time.Duration) (float64, bool) {
	key, value, found := strings.Cut(strings.TrimSpace(line), "=")
	if !found {
		return 0, false
	}

	var out time.Duration
	switch key {
	case "out_time_us", "out_time_ms":
		// Both keys are microseconds in current ffmpeg builds.
		us, err := strconv.ParseInt(value, 10, 64)
		if err != nil || us < 0 {
			return 0, false
		}
		out = time.Duration(us) * time.Microsecond
	case "progress":
		if value == "end" {
			return 1.0, true
		}
		return 0, false
	default:
		return 0, false
	}

	frac := float64(out) / float64(total)
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	return frac, true
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
