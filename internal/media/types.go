package media

import (
	"fmt"
	"strconv"
	"strings"

	"vidforge/internal/pkg/errors"
)

// RenderSpec holds the concrete encode parameters handed to ffmpeg. Derived
// from an export preset or supplied directly for ad-hoc timeline renders.
type RenderSpec struct {
	Resolution    string `json:"resolution"` // "1920x1080"
	Container     string `json:"container"`  // "mp4"
	VideoBitrateK int    `json:"video_bitrate_k"`
	AudioBitrateK int    `json:"audio_bitrate_k"`
	Fps           int    `json:"fps"`
	Codec         string `json:"codec"`
	QualityLevel  int    `json:"quality_level"` // 50/75/85/95
}

// Validate rejects specs that would produce a broken encode invocation.
func (s RenderSpec) Validate() error {
	if _, _, err := s.Dimensions(); err != nil {
		return err
	}
	if s.Fps <= 0 {
		return errors.Validationf("invalid fps %d", s.Fps)
	}
	if s.VideoBitrateK <= 0 || s.AudioBitrateK <= 0 {
		return errors.Validation("bitrates must be positive")
	}
	if s.Codec == "" {
		return errors.Validation("codec is required")
	}
	return nil
}

// Dimensions parses Resolution into width and height.
func (s RenderSpec) Dimensions() (width, height int, err error) {
	parts := strings.SplitN(strings.ToLower(s.Resolution), "x", 2)
	if len(parts) != 2 {
		return 0, 0, errors.Validationf("invalid resolution %q", s.Resolution)
	}
	width, werr := strconv.Atoi(parts[0])
	height, herr := strconv.Atoi(parts[1])
	if werr != nil || herr != nil || width <= 0 || height <= 0 {
		return 0, 0, errors.Validationf("invalid resolution %q", s.Resolution)
	}
	return width, height, nil
}

// CRF maps the quality level onto an x264/x265 constant rate factor. Higher
// quality level means lower CRF.
func (s RenderSpec) CRF() int {
	switch {
	case s.QualityLevel >= 95:
		return 17
	case s.QualityLevel >= 85:
		return 20
	case s.QualityLevel >= 75:
		return 23
	default:
		return 28
	}
}

func (s RenderSpec) videoBitrate() string { return fmt.Sprintf("%dk", s.VideoBitrateK) }
func (s RenderSpec) audioBitrate() string { return fmt.Sprintf("%dk", s.AudioBitrateK) }
