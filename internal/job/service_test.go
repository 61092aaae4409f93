// Exercises the job pipeline end to end with stubbed transport and
// conversion layers: queueing, per-kind processing, size-threshold
// fallback, failure reporting and release semantics.
package job_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	apijobs "grabbit/internal/api/jobs"
	"grabbit/internal/database"
	"grabbit/internal/event"
	"grabbit/internal/ffmpeg"
	"grabbit/internal/gifsicle"
	"grabbit/internal/http/cobalt"
	"grabbit/internal/job"
	"grabbit/internal/media"
	"grabbit/internal/settings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const completionTimeout = time.Second * 5

type (
	fakeResolver struct {
		resolve func(ctx context.Context, instanceURL string, request cobalt.Request) (*cobalt.Resolution, error)
	}

	fakeDownloader struct {
		content map[string]string // remote URL -> file content
	}

	fakeUploader struct {
		mu       sync.Mutex
		uploads  []string
		shareURL string
	}

	fakeConverter struct {
		gifContent string
		mp3Content string
	}

	fakeOptimizer struct {
		optimized string
	}
)

func (f *fakeResolver) Resolve(ctx context.Context, instanceURL string, request cobalt.Request) (*cobalt.Resolution, error) {
	return f.resolve(ctx, instanceURL, request)
}

func (f *fakeDownloader) Download(_ context.Context, rawURL string, filename string, _ string, destDir string) (string, error) {
	content, ok := f.content[rawURL]
	if !ok {
		return "", fmt.Errorf("unexpected download of %s", rawURL)
	}

	path := filepath.Join(destDir, filename)
	return path, os.WriteFile(path, []byte(content), 0644)
}

func (f *fakeUploader) Upload(_ context.Context, path string, expiry string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, path)
	return f.sharedURL(), nil
}

func (f *fakeUploader) sharedURL() string {
	if f.shareURL == "" {
		return "https://litter.catbox.moe/fake.bin"
	}

	return f.shareURL
}

func (f *fakeConverter) ConvertGif(_ context.Context, _ string, outputPath string, _ *media.GifParams, onProgress func(*ffmpeg.Progress)) error {
	if onProgress != nil {
		onProgress(&ffmpeg.Progress{Progress: 50})
	}

	return os.WriteFile(outputPath, []byte(f.gifContent), 0644)
}

func (f *fakeConverter) ExtractAudio(_ context.Context, _ string, outputPath string, _ *media.ClipRange) error {
	return os.WriteFile(outputPath, []byte(f.mp3Content), 0644)
}

func (f *fakeOptimizer) Optimize(_ context.Context, inputPath string, outputPath string, _ int64) (*gifsicle.Result, error) {
	if err := os.WriteFile(outputPath, []byte(f.optimized), 0644); err != nil {
		return nil, err
	}

	original, err := os.Stat(inputPath)
	if err != nil {
		return nil, err
	}

	return &gifsicle.Result{
		OutputPath:   outputPath,
		OriginalSize: original.Size(),
		FinalSize:    int64(len(f.optimized)),
	}, nil
}

type harness struct {
	service  job.Service
	db       *sqlx.DB
	store    *settings.Store
	bus      event.EventCoordinator
	complete event.HandlerChannel

	resolver   *fakeResolver
	downloader *fakeDownloader
	uploader   *fakeUploader
}

func newHarness(t *testing.T) *harness {
	manager := database.New()
	require.Nil(t, manager.Connect(database.DatabaseConfig{Path: filepath.Join(t.TempDir(), "grabbit.db")}))
	db := manager.GetSqlxDb()

	store := settings.NewStore(t.TempDir())
	require.Nil(t, store.Seed(db))

	bus := event.New()
	complete := make(event.HandlerChannel, 10)
	bus.RegisterHandlerChannel(complete, event.JobCompleteEvent)

	h := &harness{
		db:       db,
		store:    store,
		bus:      bus,
		complete: complete,
		resolver: &fakeResolver{
			resolve: func(_ context.Context, _ string, request cobalt.Request) (*cobalt.Resolution, error) {
				return &cobalt.Resolution{Files: []cobalt.RemoteFile{
					{URL: "https://tunnel.example/abc", Filename: "clip.mp4", Type: "media"},
				}}, nil
			},
		},
		downloader: &fakeDownloader{content: map[string]string{
			"https://tunnel.example/abc": "video bytes",
		}},
		uploader: &fakeUploader{},
	}

	h.service = job.New(
		job.Config{Parallelism: 1},
		bus,
		db,
		store,
		job.NewStore(),
		h.resolver,
		h.downloader,
		h.uploader,
		&fakeConverter{gifContent: "gif bytes", mp3Content: "mp3 bytes"},
		&fakeOptimizer{optimized: "tiny"},
	)

	wg := sync.WaitGroup{}
	wg.Add(1)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		defer wg.Done()
		assert.Nil(t, h.service.Run(ctx))
	}()

	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})

	return h
}

// awaitCompletion blocks until the given job finishes (complete or failed).
func (h *harness) awaitCompletion(t *testing.T, id uuid.UUID) *job.Job {
	for {
		select {
		case handlerEvent := <-h.complete:
			if handlerEvent.Payload == id {
				return h.service.Job(id)
			}
		case <-time.After(completionTimeout):
			t.Fatalf("timed out waiting for job %s to complete", id)
			return nil
		}
	}
}

func Test_DownloadJob_DeliversFile(t *testing.T) {
	h := newHarness(t)

	params := media.ParseDownloadArgs("https://example.com/v")
	queued, err := h.service.QueueDownload(params.URL, params, 42)
	require.Nil(t, err)

	finished := h.awaitCompletion(t, queued.ID())
	require.NotNil(t, finished)
	assert.Equal(t, job.Complete, finished.Status())

	deliveries := finished.Deliveries()
	require.Len(t, deliveries, 1)
	assert.Equal(t, "clip.mp4", filepath.Base(deliveries[0].Path))
	assert.Equal(t, int64(len("video bytes")), deliveries[0].SizeBytes)
	assert.Empty(t, deliveries[0].SharedURL)

	// Finished jobs land in the history table
	records, err := h.service.History(10)
	require.Nil(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, queued.ID(), records[0].ID)
	assert.Equal(t, "COMPLETE", records[0].Status)
}

func Test_DownloadJob_OversizedFileFallsBackToUpload(t *testing.T) {
	h := newHarness(t)

	// A one-byte threshold forces everything through the fallback host
	require.Nil(t, h.store.Set(h.db, settings.KeyLimitMB, "0.000001"))

	params := media.ParseDownloadArgs("https://example.com/v")
	queued, err := h.service.QueueDownload(params.URL, params, 42)
	require.Nil(t, err)

	finished := h.awaitCompletion(t, queued.ID())
	assert.Equal(t, job.Complete, finished.Status())

	deliveries := finished.Deliveries()
	require.Len(t, deliveries, 1)
	assert.Equal(t, "https://litter.catbox.moe/fake.bin", deliveries[0].SharedURL)
	assert.Equal(t, "24h", deliveries[0].Expiry)
	assert.Len(t, h.uploader.uploads, 1)
}

func Test_GifJob_ConvertsAndCleansScratch(t *testing.T) {
	h := newHarness(t)

	params := media.ParseGifArgs("https://example.com/v")
	queued, err := h.service.QueueGif(params.URL, "", params, 42, false)
	require.Nil(t, err)

	finished := h.awaitCompletion(t, queued.ID())
	assert.Equal(t, job.Complete, finished.Status())

	deliveries := finished.Deliveries()
	require.Len(t, deliveries, 1)
	assert.True(t, strings.HasSuffix(deliveries[0].Path, ".gif"))
	assert.Equal(t, int64(len("gif bytes")), deliveries[0].SizeBytes)

	// The intermediate video download must not outlive the job
	snapshot, err := h.store.Snapshot(h.db)
	require.Nil(t, err)
	workDir, err := snapshot.EnsureDownloadDir(true)
	require.Nil(t, err)
	_, statErr := os.Stat(filepath.Join(workDir, "clip.mp4"))
	assert.True(t, os.IsNotExist(statErr))
}

func Test_GifJob_OptimizeReplacesWhenSmaller(t *testing.T) {
	h := newHarness(t)

	params := media.ParseGifArgs("https://example.com/v -optimize")
	queued, err := h.service.QueueGif(params.URL, "", params, 42, false)
	require.Nil(t, err)

	finished := h.awaitCompletion(t, queued.ID())
	assert.Equal(t, job.Complete, finished.Status())

	deliveries := finished.Deliveries()
	require.Len(t, deliveries, 1)
	assert.Equal(t, int64(len("tiny")), deliveries[0].SizeBytes)
	assert.Equal(t, int64(len("gif bytes")), deliveries[0].OriginalSizeBytes)

	content, err := os.ReadFile(deliveries[0].Path)
	require.Nil(t, err)
	assert.Equal(t, "tiny", string(content))
}

func Test_AudioJob_DirectExtraction(t *testing.T) {
	h := newHarness(t)
	h.downloader.content["https://cdn.example/video.mp4"] = "attachment bytes"

	queued, err := h.service.QueueAudio("https://cdn.example/video.mp4", "video.mp4", nil, 42, true)
	require.Nil(t, err)

	finished := h.awaitCompletion(t, queued.ID())
	assert.Equal(t, job.Complete, finished.Status())

	deliveries := finished.Deliveries()
	require.Len(t, deliveries, 1)
	assert.True(t, strings.HasSuffix(deliveries[0].Path, ".mp3"))
	assert.Equal(t, int64(len("mp3 bytes")), deliveries[0].SizeBytes)
}

func Test_AudioJob_URLGoesThroughCobalt(t *testing.T) {
	h := newHarness(t)

	var seen cobalt.Request
	h.resolver.resolve = func(_ context.Context, _ string, request cobalt.Request) (*cobalt.Resolution, error) {
		seen = request
		return &cobalt.Resolution{Files: []cobalt.RemoteFile{
			{URL: "https://tunnel.example/abc", Filename: "track.mp3", Type: "media"},
		}}, nil
	}

	queued, err := h.service.QueueAudio("https://example.com/v", "", nil, 42, false)
	require.Nil(t, err)

	finished := h.awaitCompletion(t, queued.ID())
	assert.Equal(t, job.Complete, finished.Status())
	assert.Equal(t, "audio", seen.DownloadMode)
	assert.Equal(t, "mp3", seen.AudioFormat)
}

// Exercises the job accessors from a second goroutine while the worker is
// mutating the job, so the race detector can vouch for the locking.
func Test_JobState_ReadableWhileProcessing(t *testing.T) {
	h := newHarness(t)

	params := media.ParseGifArgs("https://example.com/v")
	queued, err := h.service.QueueGif(params.URL, "", params, 42, false)
	require.Nil(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			item := h.service.Job(queued.ID())
			if item == nil {
				return
			}

			status := item.Status()
			_ = item.Deliveries()
			_ = item.Progress()
			_ = item.Failure()
			_ = item.CompletedAt()
			if status == job.Complete || status == job.Failed {
				return
			}
		}
	}()

	finished := h.awaitCompletion(t, queued.ID())
	assert.Equal(t, job.Complete, finished.Status())
	<-done
}

func Test_JobDto_CarriesProgressAndFilename(t *testing.T) {
	h := newHarness(t)
	h.downloader.content["https://cdn.example/video.mp4"] = "attachment bytes"

	params := media.ParseGifArgs("https://cdn.example/video.mp4")
	queued, err := h.service.QueueGif(params.URL, "video.mp4", params, 42, true)
	require.Nil(t, err)

	finished := h.awaitCompletion(t, queued.ID())
	assert.Equal(t, job.Complete, finished.Status())

	dto := apijobs.NewDto(finished)
	assert.Equal(t, "video.mp4", dto.Filename)
	assert.Equal(t, "COMPLETE", dto.Status)
	require.NotNil(t, dto.Progress)
	assert.Equal(t, float64(50), dto.Progress.Progress)
	require.Len(t, dto.Deliveries, 1)
}

func Test_FailedResolution_MarksJobFailed(t *testing.T) {
	h := newHarness(t)
	h.resolver.resolve = func(_ context.Context, _ string, _ cobalt.Request) (*cobalt.Resolution, error) {
		return nil, &cobalt.UnsupportedSiteError{}
	}

	params := media.ParseDownloadArgs("https://example.com/v")
	queued, err := h.service.QueueDownload(params.URL, params, 42)
	require.Nil(t, err)

	finished := h.awaitCompletion(t, queued.ID())
	assert.Equal(t, job.Failed, finished.Status())
	assert.IsType(t, &cobalt.UnsupportedSiteError{}, finished.Failure())

	records, err := h.service.History(10)
	require.Nil(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "FAILED", records[0].Status)
	require.NotNil(t, records[0].Failure)
}

func Test_ReleaseJob_DeletesFilesUnlessPersistent(t *testing.T) {
	h := newHarness(t)

	params := media.ParseDownloadArgs("https://example.com/v")
	queued, err := h.service.QueueDownload(params.URL, params, 42)
	require.Nil(t, err)
	finished := h.awaitCompletion(t, queued.ID())
	outputPath := finished.Deliveries()[0].Path

	require.Nil(t, h.service.ReleaseJob(queued.ID()))
	_, statErr := os.Stat(outputPath)
	assert.True(t, os.IsNotExist(statErr))
	assert.Nil(t, h.service.Job(queued.ID()))
}

func Test_ReleaseJob_KeepsFilesWhenPersistent(t *testing.T) {
	h := newHarness(t)
	require.Nil(t, h.store.Set(h.db, settings.KeyPersistent, "true"))

	params := media.ParseDownloadArgs("https://example.com/v")
	queued, err := h.service.QueueDownload(params.URL, params, 42)
	require.Nil(t, err)
	finished := h.awaitCompletion(t, queued.ID())
	outputPath := finished.Deliveries()[0].Path

	require.Nil(t, h.service.ReleaseJob(queued.ID()))
	_, statErr := os.Stat(outputPath)
	assert.Nil(t, statErr)
}

func Test_UploadFallback_SharesExistingDelivery(t *testing.T) {
	h := newHarness(t)

	params := media.ParseDownloadArgs("https://example.com/v")
	queued, err := h.service.QueueDownload(params.URL, params, 42)
	require.Nil(t, err)
	h.awaitCompletion(t, queued.ID())

	url, err := h.service.UploadFallback(context.Background(), queued.ID(), 0)
	require.Nil(t, err)
	assert.Equal(t, "https://litter.catbox.moe/fake.bin", url)

	updated := h.service.Job(queued.ID()).Deliveries()[0]
	assert.Equal(t, url, updated.SharedURL)
	assert.Equal(t, "24h", updated.Expiry)
}
