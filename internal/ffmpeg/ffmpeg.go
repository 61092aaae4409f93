package ffmpeg

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
)

type Config struct {
	FfmpegBinPath  string `yaml:"ffmpeg_bin" env:"FFMPEG_BIN" env-default:"ffmpeg"`
	FfprobeBinPath string `yaml:"ffprobe_bin" env:"FFPROBE_BIN" env-default:"ffprobe"`
}

var versionPattern = regexp.MustCompile(`ffmpeg version (\S+)`)

// Version invokes the configured ffmpeg binary and extracts its version
// string. Used by the status command to prove the tool is runnable.
func (config *Config) Version(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, config.FfmpegBinPath, "-version").Output()
	if err != nil {
		return "", fmt.Errorf("failed to run %s -version: %w", config.FfmpegBinPath, err)
	}

	firstLine := strings.SplitN(string(out), "\n", 2)[0]
	if match := versionPattern.FindStringSubmatch(firstLine); match != nil {
		return match[1], nil
	}

	return strings.TrimSpace(firstLine), nil
}
