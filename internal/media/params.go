// Package media holds the parameter model for Grabbit's chat commands:
// the flag-style arguments a user attaches to a download or conversion
// request, their defaults, and their validation rules.
package media

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	DefaultQuality     = "1080"
	DefaultAudioFormat = "mp3"
	DefaultMode        = "auto"
	DefaultFPS         = 15
	DefaultScale       = "480:-1"
	DefaultSpeed       = 1.0
	DefaultLoop        = 0
	DefaultDither      = "bayer:bayer_scale=5"
	DefaultColors      = 256
)

var (
	validate = validator.New()

	qualityFlag = regexp.MustCompile(`^-(\d+)p$`)
	timeFlag    = regexp.MustCompile(`^-time=(\d+(?:\.\d+)?)-(\d+(?:\.\d+)?)$`)
	scaleFlag   = regexp.MustCompile(`^-scale=(\d+:-1)$`)
	fpsFlag     = regexp.MustCompile(`^-fps=(\d+)$`)
	speedFlag   = regexp.MustCompile(`^-speed=(\d*\.?\d+)$`)
	loopFlag    = regexp.MustCompile(`^-loop=(-?\d+)$`)
	ditherFlag  = regexp.MustCompile(`^-dither=([\w:=]+)$`)
	colorsFlag  = regexp.MustCompile(`^-colors=(\d+)$`)
)

type (
	// DownloadParams carries the arguments for a plain cobalt download.
	// Quality/AudioFormat/Mode map directly on to cobalt's request fields.
	DownloadParams struct {
		URL         string
		Quality     string `validate:"required"`
		AudioFormat string `validate:"oneof=mp3 wav ogg opus best"`
		Mode        string `validate:"oneof=auto audio mute"`
	}

	// ClipRange selects a sub-section of the source video, in seconds.
	ClipRange struct {
		Start float64 `validate:"gte=0"`
		End   float64 `validate:"gtfield=Start"`
	}

	// GifParams extends DownloadParams with the knobs for the GIF pipeline.
	GifParams struct {
		DownloadParams
		FPS      int     `validate:"gt=0,lte=60"`
		Scale    string  `validate:"required"`
		Clip     *ClipRange
		Optimize bool
		Speed    float64 `validate:"gt=0,lte=10"`
		Loop     int     `validate:"gte=-1"`
		Dither   string  `validate:"required"`
		Colors   int     `validate:"gt=1,lte=256"`
	}
)

// ParseDownloadArgs tokenises a command tail into DownloadParams. The URL
// is taken as every leading token which does not look like a flag;
// everything afterwards is interpreted as flags, unknown flags are ignored.
func ParseDownloadArgs(args string) *DownloadParams {
	params := &DownloadParams{
		Quality:     DefaultQuality,
		AudioFormat: DefaultAudioFormat,
		Mode:        DefaultMode,
	}

	url, flags := splitURLAndFlags(args)
	params.URL = url

	for _, flag := range flags {
		applyDownloadFlag(params, flag)
	}

	return params
}

// ParseGifArgs tokenises a command tail into GifParams, recognising the
// cobalt download flags as well as the GIF pipeline flags.
func ParseGifArgs(args string) *GifParams {
	params := &GifParams{
		DownloadParams: *ParseDownloadArgs(args),
		FPS:            DefaultFPS,
		Scale:          DefaultScale,
		Speed:          DefaultSpeed,
		Loop:           DefaultLoop,
		Dither:         DefaultDither,
		Colors:         DefaultColors,
	}

	_, flags := splitURLAndFlags(args)
	for _, flag := range flags {
		applyGifFlag(params, flag)
	}

	return params
}

func (params *DownloadParams) Validate() error {
	if err := validate.Struct(params); err != nil {
		return fmt.Errorf("illegal download parameters: %w", err)
	}

	return nil
}

func (params *GifParams) Validate() error {
	if err := validate.Struct(params); err != nil {
		return fmt.Errorf("illegal GIF parameters: %w", err)
	}

	if params.Clip != nil {
		if err := validate.Struct(params.Clip); err != nil {
			return fmt.Errorf("illegal time range: %w", err)
		}
	}

	return nil
}

func (clip *ClipRange) Validate() error {
	if err := validate.Struct(clip); err != nil {
		return fmt.Errorf("illegal time range: %w", err)
	}

	return nil
}

// Duration returns the length of the clip in seconds.
func (clip *ClipRange) Duration() float64 {
	return clip.End - clip.Start
}

func applyDownloadFlag(params *DownloadParams, flag string) {
	if match := qualityFlag.FindStringSubmatch(flag); match != nil {
		params.Quality = match[1]
		return
	}

	switch flag {
	case "-max":
		params.Quality = "max"
	case "-wav", "-ogg", "-opus", "-best":
		params.AudioFormat = flag[1:]
	case "-audio", "-mute":
		params.Mode = flag[1:]
	}
}

func applyGifFlag(params *GifParams, flag string) {
	if match := fpsFlag.FindStringSubmatch(flag); match != nil {
		if fps, err := strconv.Atoi(match[1]); err == nil {
			params.FPS = fps
		}
		return
	}

	if match := scaleFlag.FindStringSubmatch(flag); match != nil {
		params.Scale = match[1]
		return
	}

	if match := timeFlag.FindStringSubmatch(flag); match != nil {
		start, startErr := strconv.ParseFloat(match[1], 64)
		end, endErr := strconv.ParseFloat(match[2], 64)
		if startErr == nil && endErr == nil {
			params.Clip = &ClipRange{Start: start, End: end}
		}
		return
	}

	if match := speedFlag.FindStringSubmatch(flag); match != nil {
		if speed, err := strconv.ParseFloat(match[1], 64); err == nil {
			params.Speed = speed
		}
		return
	}

	if match := loopFlag.FindStringSubmatch(flag); match != nil {
		if loop, err := strconv.Atoi(match[1]); err == nil {
			params.Loop = loop
		}
		return
	}

	if match := ditherFlag.FindStringSubmatch(flag); match != nil {
		params.Dither = match[1]
		return
	}

	if match := colorsFlag.FindStringSubmatch(flag); match != nil {
		if colors, err := strconv.Atoi(match[1]); err == nil {
			params.Colors = colors
		}
		return
	}

	if flag == "-optimize" {
		params.Optimize = true
	}
}

// splitURLAndFlags separates a raw argument string into the URL portion
// (leading tokens which do not begin with '-') and the flag tokens.
func splitURLAndFlags(args string) (string, []string) {
	tokens := strings.Fields(args)

	urlParts := make([]string, 0, 1)
	idx := 0
	for ; idx < len(tokens); idx++ {
		if strings.HasPrefix(tokens[idx], "-") {
			break
		}

		urlParts = append(urlParts, tokens[idx])
	}

	return strings.Join(urlParts, " "), tokens[idx:]
}
