package ffmpeg_test

import (
	"strings"
	"testing"

	"grabbit/internal/ffmpeg"
	"grabbit/internal/media"

	"github.com/stretchr/testify/assert"
)

func defaultGifParams() *media.GifParams {
	return media.ParseGifArgs("https://example.com/v")
}

func Test_GifFilterGraph_Defaults(t *testing.T) {
	t.Parallel()

	opts := &ffmpeg.GifOptions{Params: defaultGifParams()}
	assert.Equal(t,
		"fps=15,scale=480:-1:flags=lanczos,split[s0][s1];[s0]palettegen=max_colors=256[p];[s1][p]paletteuse",
		opts.FilterGraph(),
	)
}

func Test_GifFilterGraph_SpeedAddsSetpts(t *testing.T) {
	t.Parallel()

	params := defaultGifParams()
	params.Speed = 2.0

	opts := &ffmpeg.GifOptions{Params: params}
	assert.Contains(t, opts.FilterGraph(), "setpts=0.5*PTS")
}

func Test_GifFilterGraph_OptimizeUsesDitherAndTransparency(t *testing.T) {
	t.Parallel()

	params := defaultGifParams()
	params.Optimize = true
	params.Colors = 128

	graph := (&ffmpeg.GifOptions{Params: params}).FilterGraph()
	assert.Contains(t, graph, "palettegen=max_colors=128:reserve_transparent=1")
	assert.Contains(t, graph, "paletteuse=bayer:bayer_scale=5")
}

func Test_GifOptions_Arguments(t *testing.T) {
	t.Parallel()

	params := defaultGifParams()
	params.Clip = &media.ClipRange{Start: 2.5, End: 10}
	params.Loop = 3

	args := (&ffmpeg.GifOptions{Params: params}).GetStrArguments()
	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "-y")
	assert.Contains(t, joined, "-ss 2.5 -t 7.5")
	assert.Contains(t, joined, "-loop 3")
	assert.Contains(t, joined, "-vf ")
}

func Test_AudioExtractOptions_Arguments(t *testing.T) {
	t.Parallel()

	args := (&ffmpeg.AudioExtractOptions{}).GetStrArguments()
	assert.Equal(t, []string{"-y", "-vn", "-acodec", "libmp3lame"}, args)

	clipped := (&ffmpeg.AudioExtractOptions{Clip: &media.ClipRange{Start: 1, End: 3}}).GetStrArguments()
	assert.Equal(t, []string{"-y", "-ss", "1", "-t", "2", "-vn", "-acodec", "libmp3lame"}, clipped)
}
