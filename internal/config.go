package internal

import (
	"fmt"
	"os"
	"path/filepath"

	"grabbit/internal/api"
	"grabbit/internal/database"
	"grabbit/internal/ffmpeg"
	"grabbit/internal/gifsicle"
	"grabbit/internal/job"
	"grabbit/internal/telegram"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/mitchellh/go-homedir"
)

const grabbitDirSuffix = "grabbit"

// GrabbitConfig is the boot configuration, supplied by YAML file and/or
// environment. Runtime-mutable behaviour (cobalt URL, size threshold...)
// lives in the settings store instead, seeded on first run.
type GrabbitConfig struct {
	Telegram     telegram.Config         `yaml:"telegram" env-required:"true"`
	API          api.RestConfig          `yaml:"api"`
	Jobs         job.Config              `yaml:"jobs"`
	Ffmpeg       ffmpeg.Config           `yaml:"ffmpeg"`
	Gifsicle     gifsicle.Config         `yaml:"gifsicle"`
	Database     database.DatabaseConfig `yaml:"database"`
	CacheDirPath string                  `yaml:"cache_dir" env:"CACHE_DIR"`
}

// LoadFromFile reads the YAML config at the provided path, overlaying any
// environment variable overrides. A missing file is not an error when the
// environment alone can satisfy the config.
func (config *GrabbitConfig) LoadFromFile(configPath string) error {
	path, err := homedir.Expand(configPath)
	if err != nil {
		return fmt.Errorf("failed to expand config path %s: %w", configPath, err)
	}

	if _, statErr := os.Stat(path); statErr == nil {
		if err := cleanenv.ReadConfig(path, config); err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
	} else if err := cleanenv.ReadEnv(config); err != nil {
		return fmt.Errorf("failed to load configuration from environment: %w", err)
	}

	config.applyDerivedDefaults()
	return nil
}

// applyDerivedDefaults fills in paths which depend on the user's home or
// cache directory and so cannot be expressed as static struct defaults.
func (config *GrabbitConfig) applyDerivedDefaults() {
	if config.Database.Path == "" {
		config.Database.Path = filepath.Join(config.getCacheDir(), "grabbit.db")
	}
}

// DefaultDownloadDir is where downloads land until the download_path
// setting is changed at runtime.
func (config *GrabbitConfig) DefaultDownloadDir() string {
	return filepath.Join(config.getCacheDir(), "downloads")
}

func (config *GrabbitConfig) getCacheDir() string {
	if config.CacheDirPath != "" {
		if expanded, err := homedir.Expand(config.CacheDirPath); err == nil {
			return filepath.Join(expanded, grabbitDirSuffix)
		}

		return filepath.Join(config.CacheDirPath, grabbitDirSuffix)
	}

	dir, err := os.UserCacheDir()
	if err != nil {
		panic(fmt.Sprintf("FAILURE to derive user cache dir %s", err))
	}

	return filepath.Join(dir, grabbitDirSuffix)
}
