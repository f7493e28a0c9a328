package media

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderSpec_Validate(t *testing.T) {
	good := RenderSpec{Resolution: "1920x1080", Container: "mp4", VideoBitrateK: 8000, AudioBitrateK: 192, Fps: 30, Codec: "libx264", QualityLevel: 85}
	require.NoError(t, good.Validate())

	cases := []RenderSpec{
		{Resolution: "bad", VideoBitrateK: 1, AudioBitrateK: 1, Fps: 30, Codec: "libx264"},
		{Resolution: "1920x1080", VideoBitrateK: 1, AudioBitrateK: 1, Fps: 0, Codec: "libx264"},
		{Resolution: "1920x1080", VideoBitrateK: 0, AudioBitrateK: 1, Fps: 30, Codec: "libx264"},
		{Resolution: "1920x1080", VideoBitrateK: 1, AudioBitrateK: 1, Fps: 30, Codec: ""},
	}
	for i, spec := range cases {
		assert.Error(t, spec.Validate(), "case %d", i)
	}
}

func TestRenderSpec_Dimensions(t *testing.T) {
	w, h, err := RenderSpec{Resolution: "1080x1920"}.Dimensions()
	require.NoError(t, err)
	assert.Equal(t, 1080, w)
	assert.Equal(t, 1920, h)

	_, _, err = RenderSpec{Resolution: "4k"}.Dimensions()
	assert.Error(t, err)
}

func TestRenderSpec_CRF(t *testing.T) {
	assert.Equal(t, 17, RenderSpec{QualityLevel: 95}.CRF())
	assert.Equal(t, 20, RenderSpec{QualityLevel: 85}.CRF())
	assert.Equal(t, 23, RenderSpec{QualityLevel: 75}.CRF())
	assert.Equal(t, 28, RenderSpec{QualityLevel: 50}.CRF())
}

func TestTranscodeArgs(t *testing.T) {
	spec := RenderSpec{Resolution: "1280x720", Container: "mp4", VideoBitrateK: 4500, AudioBitrateK: 128, Fps: 30, Codec: "libx264", QualityLevel: 75}
	args := transcodeArgs("in.mov", "out.mp4", spec)

	assert.Equal(t, "in.mov", args[1])
	assert.Equal(t, "out.mp4", args[len(args)-1])
	assert.Contains(t, args, "libx264")
	assert.Contains(t, args, "4500k")
	assert.Contains(t, args, "128k")
	assert.Contains(t, args, "30")
}

func TestParseProgressLine(t *testing.T) {
	total := 10 * time.Second

	frac, ok := parseProgressLine("out_time_us=5000000", total)
	require.True(t, ok)
	assert.InDelta(t, 0.5, frac, 0.001)

	frac, ok = parseProgressLine("out_time_ms=2500000", total)
	require.True(t, ok)
	assert.InDelta(t, 0.25, frac, 0.001)

	frac, ok = parseProgressLine("progress=end", total)
	require.True(t, ok)
	assert.Equal(t, 1.0, frac)

	_, ok = parseProgressLine("progress=continue", total)
	assert.False(t, ok)

	_, ok = parseProgressLine("fps=29.97", total)
	assert.False(t, ok)

	// Values past the probed duration clamp to 1.
	frac, ok = parseProgressLine("out_time_us=99000000", total)
	require.True(t, ok)
	assert.Equal(t, 1.0, frac)
}

func TestParseProgressLine_Garbage(t *testing.T) {
	_, ok := parseProgressLine("not a progress line", time.Second)
	assert.False(t, ok)

	_, ok = parseProgressLine("out_time_us=abc", time.Second)
	assert.False(t, ok)
}
