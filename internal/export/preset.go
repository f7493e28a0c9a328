package export

import (
	"sort"
	"strings"

	"vidforge/internal/media"
	"vidforge/internal/pkg/errors"
)

// Quality is the preset quality tier. Tiers map to the numeric quality
// level consumed by the encoder when deriving a render spec.
type Quality string

const (
	QualityDraft Quality = "draft"
	QualityGood  Quality = "good"
	QualityHigh  Quality = "high"
	QualityBest  Quality = "best"
)

// Level maps the tier to the numeric quality used in RenderSpec.
func (q Quality) Level() int {
	switch q {
	case QualityDraft:
		return 50
	case QualityHigh:
		return 85
	case QualityBest:
		return 95
	default:
		return 75
	}
}

// Preset is a named encoding profile. Presets are looked up by Name at
// enqueue time and copied by value onto the export job, so later catalog
// changes never affect in-flight work.
type Preset struct {
	Name          string  `json:"name"`
	Platform      string  `json:"platform"`
	Resolution    string  `json:"resolution"`
	VideoCodec    string  `json:"video_codec"`
	AudioCodec    string  `json:"audio_codec"`
	FrameRate     int     `json:"frame_rate"`
	VideoBitrateK int     `json:"video_bitrate_k"`
	AudioBitrateK int     `json:"audio_bitrate_k"`
	AspectRatio   string  `json:"aspect_ratio"`
	Quality       Quality `json:"quality"`
	Container     string  `json:"container"`
}

// RenderSpec derives the concrete encode parameters from the preset.
func (p Preset) RenderSpec() media.RenderSpec {
	return media.RenderSpec{
		Resolution:    p.Resolution,
		Container:     p.Container,
		VideoBitrateK: p.VideoBitrateK,
		AudioBitrateK: p.AudioBitrateK,
		Fps:           p.FrameRate,
		Codec:         p.VideoCodec,
		QualityLevel:  p.Quality.Level(),
	}
}

// catalog is the static preset table. Lookup is case-insensitive on Name.
var catalog = map[string]Preset{}

func init() {
	for _, p := range []Preset{
		{Name: "YouTube-1080p", Platform: "youtube", Resolution: "1920x1080", VideoCodec: "libx264", AudioCodec: "aac", FrameRate: 30, VideoBitrateK: 8000, AudioBitrateK: 192, AspectRatio: "16:9", Quality: QualityHigh, Container: "mp4"},
		{Name: "YouTube-4K", Platform: "youtube", Resolution: "3840x2160", VideoCodec: "libx264", AudioCodec: "aac", FrameRate: 30, VideoBitrateK: 35000, AudioBitrateK: 256, AspectRatio: "16:9", Quality: QualityBest, Container: "mp4"},
		{Name: "YouTube-Shorts", Platform: "youtube", Resolution: "1080x1920", VideoCodec: "libx264", AudioCodec: "aac", FrameRate: 30, VideoBitrateK: 6000, AudioBitrateK: 192, AspectRatio: "9:16", Quality: QualityHigh, Container: "mp4"},
		{Name: "TikTok", Platform: "tiktok", Resolution: "1080x1920", VideoCodec: "libx264", AudioCodec: "aac", FrameRate: 30, VideoBitrateK: 5000, AudioBitrateK: 128, AspectRatio: "9:16", Quality: QualityGood, Container: "mp4"},
		{Name: "Instagram-Feed", Platform: "instagram", Resolution: "1080x1080", VideoCodec: "libx264", AudioCodec: "aac", FrameRate: 30, VideoBitrateK: 4500, AudioBitrateK: 128, AspectRatio: "1:1", Quality: QualityGood, Container: "mp4"},
		{Name: "Instagram-Reel", Platform: "instagram", Resolution: "1080x1920", VideoCodec: "libx264", AudioCodec: "aac", FrameRate: 30, VideoBitrateK: 5000, AudioBitrateK: 128, AspectRatio: "9:16", Quality: QualityGood, Container: "mp4"},
		{Name: "Twitter-720p", Platform: "twitter", Resolution: "1280x720", VideoCodec: "libx264", AudioCodec: "aac", FrameRate: 30, VideoBitrateK: 5000, AudioBitrateK: 128, AspectRatio: "16:9", Quality: QualityGood, Container: "mp4"},
		{Name: "Web-Preview", Platform: "web", Resolution: "854x480", VideoCodec: "libx264", AudioCodec: "aac", FrameRate: 24, VideoBitrateK: 1200, AudioBitrateK: 96, AspectRatio: "16:9", Quality: QualityDraft, Container: "mp4"},
	} {
		catalog[strings.ToLower(p.Name)] = p
	}
}

// LookupPreset resolves a preset by name. Unknown names fail with a
// validation error so callers can reject the request before creating
// any job record.
func LookupPreset(name string) (Preset, error) {
	p, ok := catalog[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Preset{}, errors.ValidationField("preset", "unknown export preset: "+name)
	}
	return p, nil
}

// Presets returns the catalog sorted by name for listing endpoints.
func Presets() []Preset {
	out := make([]Preset, 0, len(catalog))
	for _, p := range catalog {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
