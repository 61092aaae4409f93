package status_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"grabbit/internal/database"
	"grabbit/internal/ffmpeg"
	"grabbit/internal/gifsicle"
	"grabbit/internal/http/cobalt"
	"grabbit/internal/settings"
	"grabbit/internal/status"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProber struct {
	instance *cobalt.InstanceStatus
	err      error
}

func (prober *fakeProber) InstanceStatus(_ context.Context, _ string) (*cobalt.InstanceStatus, error) {
	return prober.instance, prober.err
}

func newTestService(t *testing.T, prober status.InstanceProber) (*status.Service, *settings.Store, *sqlx.DB, string) {
	manager := database.New()
	require.Nil(t, manager.Connect(database.DatabaseConfig{Path: filepath.Join(t.TempDir(), "grabbit.db")}))
	db := manager.GetSqlxDb()

	downloadDir := t.TempDir()
	store := settings.NewStore(downloadDir)
	require.Nil(t, store.Seed(db))

	// Deliberately unresolvable binary paths; a missing tool must be a
	// reportable condition, not a hard failure.
	service := status.New(db, store, prober, ffmpeg.Config{FfmpegBinPath: "/nonexistent/ffmpeg"},
		gifsicle.New(gifsicle.Config{BinPath: "/nonexistent/gifsicle"}))

	return service, store, db, downloadDir
}

func Test_Report_HealthyInstance(t *testing.T) {
	t.Parallel()

	prober := &fakeProber{instance: &cobalt.InstanceStatus{
		Version:       "10.3",
		Services:      []string{"youtube", "twitter"},
		DurationLimit: 10800,
	}}
	service, _, _, downloadDir := newTestService(t, prober)

	report, err := service.Report(context.Background())
	require.Nil(t, err)

	assert.True(t, report.Cobalt.Reachable)
	assert.Equal(t, "10.3", report.Cobalt.Version)
	assert.Equal(t, []string{"youtube", "twitter"}, report.Cobalt.Services)
	assert.Equal(t, 10800, report.Cobalt.DurationLimit)
	assert.Equal(t, "http://localhost:9000", report.Cobalt.URL)

	assert.Equal(t, downloadDir, report.DownloadPath.Path)
	assert.True(t, report.DownloadPath.Exists)
	assert.True(t, report.DownloadPath.Writable)

	require.NotNil(t, report.Settings)
	assert.Equal(t, float64(8), report.Settings.LimitMB)
}

func Test_Report_UnreachableInstanceIsReportable(t *testing.T) {
	t.Parallel()

	prober := &fakeProber{err: errors.New("connection refused")}
	service, _, _, _ := newTestService(t, prober)

	report, err := service.Report(context.Background())
	require.Nil(t, err)

	assert.False(t, report.Cobalt.Reachable)
	assert.Contains(t, report.Cobalt.Error, "connection refused")
}

func Test_Report_MissingToolsAreReportable(t *testing.T) {
	t.Parallel()

	service, _, _, _ := newTestService(t, &fakeProber{instance: &cobalt.InstanceStatus{Version: "10.3"}})

	report, err := service.Report(context.Background())
	require.Nil(t, err)

	assert.False(t, report.Ffmpeg.Available)
	assert.NotEmpty(t, report.Ffmpeg.Error)
	assert.False(t, report.Gifsicle.Available)
	assert.NotEmpty(t, report.Gifsicle.Error)
}

func Test_Report_MissingDownloadPath(t *testing.T) {
	t.Parallel()

	prober := &fakeProber{instance: &cobalt.InstanceStatus{Version: "10.3"}}
	service, store, db, _ := newTestService(t, prober)
	require.Nil(t, store.Set(db, settings.KeyDownloadPath, "/nonexistent/downloads"))

	report, err := service.Report(context.Background())
	require.Nil(t, err)

	assert.False(t, report.DownloadPath.Exists)
	assert.False(t, report.DownloadPath.Writable)
}
