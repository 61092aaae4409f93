// Package status probes the moving parts Grabbit depends on - the cobalt
// instance and the ffmpeg/gifsicle binaries - and reports their health
// alongside the current runtime settings.
package status

import (
	"context"
	"os"
	"time"

	"grabbit/internal/database"
	"grabbit/internal/ffmpeg"
	"grabbit/internal/gifsicle"
	"grabbit/internal/http/cobalt"
	"grabbit/internal/settings"
)

const probeTimeout = time.Second * 10

type (
	ToolStatus struct {
		Available bool
		Version   string
		Error     string
	}

	CobaltStatus struct {
		Reachable     bool
		URL           string
		Version       string
		Services      []string
		DurationLimit int
		Error         string
	}

	PathStatus struct {
		Path     string
		Exists   bool
		Writable bool
	}

	Report struct {
		Cobalt       CobaltStatus
		Ffmpeg       ToolStatus
		Gifsicle     ToolStatus
		DownloadPath PathStatus
		Settings     *settings.Snapshot
	}

	InstanceProber interface {
		InstanceStatus(ctx context.Context, instanceURL string) (*cobalt.InstanceStatus, error)
	}

	Service struct {
		db       database.Queryable
		settings *settings.Store
		prober   InstanceProber
		ffmpeg   ffmpeg.Config
		gifsicle *gifsicle.Optimizer
	}
)

func New(db database.Queryable, settingsStore *settings.Store, prober InstanceProber, ffmpegConfig ffmpeg.Config, optimizer *gifsicle.Optimizer) *Service {
	return &Service{
		db:       db,
		settings: settingsStore,
		prober:   prober,
		ffmpeg:   ffmpegConfig,
		gifsicle: optimizer,
	}
}

// Report probes cobalt and the conversion binaries. A failing probe is a
// reportable condition, not an error; Report only fails when the settings
// snapshot itself cannot be loaded.
func (service *Service) Report(ctx context.Context) (*Report, error) {
	snapshot, err := service.settings.Snapshot(service.db)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	report := &Report{Settings: snapshot}

	report.Cobalt.URL = snapshot.CobaltURL
	if instance, err := service.prober.InstanceStatus(ctx, snapshot.CobaltURL); err != nil {
		report.Cobalt.Error = err.Error()
	} else {
		report.Cobalt.Reachable = true
		report.Cobalt.Version = instance.Version
		report.Cobalt.Services = instance.Services
		report.Cobalt.DurationLimit = instance.DurationLimit
	}

	if version, err := service.ffmpeg.Version(ctx); err != nil {
		report.Ffmpeg.Error = err.Error()
	} else {
		report.Ffmpeg.Available = true
		report.Ffmpeg.Version = version
	}

	if version, err := service.gifsicle.Version(ctx); err != nil {
		report.Gifsicle.Error = err.Error()
	} else {
		report.Gifsicle.Available = true
		report.Gifsicle.Version = version
	}

	report.DownloadPath = probePath(snapshot.DownloadPath)

	return report, nil
}

// probePath checks that the download directory exists and accepts writes.
func probePath(path string) PathStatus {
	status := PathStatus{Path: path}

	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return status
	}
	status.Exists = true

	probe, err := os.CreateTemp(path, ".probe-*")
	if err != nil {
		return status
	}
	probe.Close()
	os.Remove(probe.Name())
	status.Writable = true

	return status
}
