package ffmpeg

import (
	"fmt"
	"strconv"
	"strings"

	"grabbit/internal/media"
)

// GifOptions implements transcoder.Options for the GIF palette pipeline.
// The filter graph performs palette generation and palette use in a single
// pass by splitting the decoded stream.
type GifOptions struct {
	Params *media.GifParams
}

func (opts *GifOptions) GetStrArguments() []string {
	args := make([]string, 0, 10)
	args = append(args, "-y")

	if clip := opts.Params.Clip; clip != nil {
		args = append(args,
			"-ss", strconv.FormatFloat(clip.Start, 'f', -1, 64),
			"-t", strconv.FormatFloat(clip.Duration(), 'f', -1, 64),
		)
	}

	args = append(args, "-vf", opts.FilterGraph())

	if opts.Params.Loop >= -1 {
		args = append(args, "-loop", strconv.Itoa(opts.Params.Loop))
	}

	return args
}

// FilterGraph builds the ffmpeg video filter string for this conversion:
// frame rate, lanczos scaling, optional playback speed change, then the
// split/palettegen/paletteuse chain.
func (opts *GifOptions) FilterGraph() string {
	params := opts.Params

	parts := make([]string, 0, 4)
	parts = append(parts, fmt.Sprintf("fps=%d", params.FPS))
	parts = append(parts, fmt.Sprintf("scale=%s:flags=lanczos", params.Scale))

	if params.Speed != 1.0 {
		parts = append(parts, fmt.Sprintf("setpts=%g*PTS", 1/params.Speed))
	}

	if params.Optimize {
		parts = append(parts, fmt.Sprintf(
			"split[s0][s1];[s0]palettegen=max_colors=%d:reserve_transparent=1[p];[s1][p]paletteuse=%s",
			params.Colors, params.Dither,
		))
	} else {
		parts = append(parts, fmt.Sprintf(
			"split[s0][s1];[s0]palettegen=max_colors=%d[p];[s1][p]paletteuse",
			params.Colors,
		))
	}

	return strings.Join(parts, ",")
}

// AudioExtractOptions implements transcoder.Options for stripping the audio
// track out of a video as MP3.
type AudioExtractOptions struct {
	Clip *media.ClipRange
}

func (opts *AudioExtractOptions) GetStrArguments() []string {
	args := make([]string, 0, 6)
	args = append(args, "-y")

	if opts.Clip != nil {
		args = append(args,
			"-ss", strconv.FormatFloat(opts.Clip.Start, 'f', -1, 64),
			"-t", strconv.FormatFloat(opts.Clip.Duration(), 'f', -1, 64),
		)
	}

	args = append(args, "-vn", "-acodec", "libmp3lame")
	return args
}
