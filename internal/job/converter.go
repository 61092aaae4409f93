package job

import (
	"context"

	"grabbit/internal/ffmpeg"
	"grabbit/internal/media"
)

// ffmpegConverter is the production Converter implementation, delegating
// to the ffmpeg package's transcode command.
type ffmpegConverter struct {
	config ffmpeg.Config
}

func NewFfmpegConverter(config ffmpeg.Config) *ffmpegConverter {
	return &ffmpegConverter{config: config}
}

func (converter *ffmpegConverter) ConvertGif(ctx context.Context, inputPath string, outputPath string, params *media.GifParams, onProgress func(*ffmpeg.Progress)) error {
	cmd := ffmpeg.NewCmd(inputPath, outputPath, &converter.config)
	return cmd.Run(ctx, &ffmpeg.GifOptions{Params: params}, onProgress)
}

func (converter *ffmpegConverter) ExtractAudio(ctx context.Context, inputPath string, outputPath string, clip *media.ClipRange) error {
	cmd := ffmpeg.NewCmd(inputPath, outputPath, &converter.config)
	return cmd.Run(ctx, &ffmpeg.AudioExtractOptions{Clip: clip}, nil)
}
