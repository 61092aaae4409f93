// Package gifsicle wraps the gifsicle binary, which Grabbit uses for lossy
// GIF compression when a conversion is asked to optimise for size.
package gifsicle

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"grabbit/pkg/logger"
)

var log = logger.Get("Gifsicle")

// The two lossy levels attempted when optimising. The second, harsher level
// is only used when the first pass fails to bring the file under the
// configured size threshold.
const (
	LossyLevel      = 30
	LossyLevelHarsh = 60
)

type (
	Config struct {
		BinPath string `yaml:"gifsicle_bin" env:"GIFSICLE_BIN" env-default:"gifsicle"`
	}

	OptimizeFailedError struct {
		output string
	}

	Optimizer struct {
		config Config
	}

	// Result reports the outcome of an optimisation attempt.
	Result struct {
		OutputPath   string
		OriginalSize int64
		FinalSize    int64
	}
)

func (err *OptimizeFailedError) Error() string {
	message := err.output
	if len(message) > 1000 {
		message = message[:997] + "..."
	}

	return fmt.Sprintf("gifsicle error: %s", message)
}

func New(config Config) *Optimizer {
	return &Optimizer{config: config}
}

// Version invokes gifsicle and extracts its version line for status reporting.
func (optimizer *Optimizer) Version(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, optimizer.config.BinPath, "--version").Output()
	if err != nil {
		return "", fmt.Errorf("failed to run %s --version: %w", optimizer.config.BinPath, err)
	}

	return strings.SplitN(strings.TrimSpace(string(out)), "\n", 2)[0], nil
}

// Optimize runs a lossy compression pass over inputPath, writing to
// outputPath. If the first pass leaves the file above limitBytes a second,
// harsher pass re-runs against the ORIGINAL file - compounding two lossy
// passes degrades quality for little size gain.
func (optimizer *Optimizer) Optimize(ctx context.Context, inputPath string, outputPath string, limitBytes int64) (*Result, error) {
	originalSize, err := fileSize(inputPath)
	if err != nil {
		return nil, err
	}

	if err := optimizer.runPass(ctx, inputPath, outputPath, LossyLevel); err != nil {
		return nil, err
	}

	finalSize, err := fileSize(outputPath)
	if err != nil {
		return nil, err
	}

	if finalSize > limitBytes {
		log.Emit(logger.INFO, "GIF still %.2fMB after lossy=%d pass, trying lossy=%d\n",
			float64(finalSize)/1024/1024, LossyLevel, LossyLevelHarsh)

		if err := optimizer.runPass(ctx, inputPath, outputPath, LossyLevelHarsh); err != nil {
			return nil, err
		}

		finalSize, err = fileSize(outputPath)
		if err != nil {
			return nil, err
		}
	}

	return &Result{OutputPath: outputPath, OriginalSize: originalSize, FinalSize: finalSize}, nil
}

func (optimizer *Optimizer) runPass(ctx context.Context, inputPath string, outputPath string, lossy int) error {
	cmd := exec.CommandContext(ctx, optimizer.config.BinPath,
		"-O3",
		"--lossy="+strconv.Itoa(lossy),
		inputPath,
		"-o", outputPath,
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	log.Emit(logger.DEBUG, "Running gifsicle pass (lossy=%d) on %s\n", lossy, inputPath)
	if err := cmd.Run(); err != nil {
		return &OptimizeFailedError{output: stderr.String()}
	}

	return nil
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	return info.Size(), nil
}
