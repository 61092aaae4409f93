package job

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"grabbit/internal/database"
	"grabbit/internal/event"
	"grabbit/internal/ffmpeg"
	"grabbit/internal/gifsicle"
	"grabbit/internal/http/cobalt"
	"grabbit/internal/media"
	"grabbit/internal/settings"
	"grabbit/pkg/logger"
	"grabbit/pkg/worker"

	"github.com/google/uuid"
)

var log = logger.Get("JobService")

var unsafeStemChars = regexp.MustCompile(`[^\w\-]`)

type Config struct {
	Parallelism int `yaml:"parallelism" env:"JOB_PARALLELISM" env-default:"2"`
}

// The narrow views of the HTTP clients and subprocess wrappers that the job
// service consumes. Production wiring passes the real implementations from
// the cobalt, fetch, litterbox, ffmpeg and gifsicle packages.
type (
	CobaltResolver interface {
		Resolve(ctx context.Context, instanceURL string, request cobalt.Request) (*cobalt.Resolution, error)
	}

	FileDownloader interface {
		Download(ctx context.Context, rawURL string, filename string, referer string, destDir string) (string, error)
	}

	Uploader interface {
		Upload(ctx context.Context, path string, expiry string) (string, error)
	}

	Converter interface {
		ConvertGif(ctx context.Context, inputPath string, outputPath string, params *media.GifParams, onProgress func(*ffmpeg.Progress)) error
		ExtractAudio(ctx context.Context, inputPath string, outputPath string, clip *media.ClipRange) error
	}

	Optimizer interface {
		Optimize(ctx context.Context, inputPath string, outputPath string, limitBytes int64) (*gifsicle.Result, error)
	}

	// Service accepts media requests from the gateways, runs them through
	// the download/convert/optimize/deliver pipeline on a worker pool, and
	// emits events as each job progresses.
	Service interface {
		Run(ctx context.Context) error
		QueueDownload(source string, params *media.DownloadParams, chatID int64) (*Job, error)
		QueueGif(source string, filename string, params *media.GifParams, chatID int64, direct bool) (*Job, error)
		QueueAudio(source string, filename string, clip *media.ClipRange, chatID int64, direct bool) (*Job, error)
		Job(id uuid.UUID) *Job
		AllJobs() []*Job
		History(limit uint64) ([]*Record, error)
		UploadFallback(ctx context.Context, id uuid.UUID, deliveryIndex int) (string, error)
		ReleaseJob(id uuid.UUID) error
	}

	service struct {
		*sync.Mutex
		config     Config
		jobs       []*Job
		pool       *worker.WorkerPool
		eventBus   event.EventCoordinator
		db         database.Queryable
		settings   *settings.Store
		history    *Store
		cobalt     CobaltResolver
		downloader FileDownloader
		uploader   Uploader
		converter  Converter
		optimizer  Optimizer
	}
)

func New(
	config Config,
	eventBus event.EventCoordinator,
	db database.Queryable,
	settingsStore *settings.Store,
	historyStore *Store,
	resolver CobaltResolver,
	downloader FileDownloader,
	uploader Uploader,
	converter Converter,
	optimizer Optimizer,
) *service {
	return &service{
		Mutex:      &sync.Mutex{},
		config:     config,
		jobs:       make([]*Job, 0),
		pool:       worker.NewWorkerPool(),
		eventBus:   eventBus,
		db:         db,
		settings:   settingsStore,
		history:    historyStore,
		cobalt:     resolver,
		downloader: downloader,
		uploader:   uploader,
		converter:  converter,
		optimizer:  optimizer,
	}
}

// Run starts the worker pool and blocks until the context is cancelled,
// at which point the workers are instructed to finish their current task
// and exit.
func (service *service) Run(ctx context.Context) error {
	parallelism := service.config.Parallelism
	if parallelism < 1 {
		parallelism = 1
	}

	for i := 0; i < parallelism; i++ {
		label := fmt.Sprintf("JobWorker:%d", i)
		if err := service.pool.PushWorker(worker.NewWorker(label, &jobTask{service: service, ctx: ctx})); err != nil {
			return fmt.Errorf("failed to push job worker: %w", err)
		}
	}

	if err := service.pool.Start(); err != nil {
		return fmt.Errorf("failed to start job worker pool: %w", err)
	}

	<-ctx.Done()
	log.Emit(logger.STOP, "Job service shutting down, closing workers...\n")
	service.pool.CloseWorkers()
	service.pool.Wg.Wait()

	return nil
}

func (service *service) QueueDownload(source string, params *media.DownloadParams, chatID int64) (*Job, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	job := newJob(KindDownload, source, chatID)
	job.download = params

	service.enqueue(job)
	return job, nil
}

func (service *service) QueueGif(source string, filename string, params *media.GifParams, chatID int64, direct bool) (*Job, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	kind := KindGif
	if direct {
		kind = KindDirectGif
	}

	job := newJob(kind, source, chatID)
	job.filename = filename
	job.gif = params
	if !direct {
		job.download = &params.DownloadParams
	}

	service.enqueue(job)
	return job, nil
}

func (service *service) QueueAudio(source string, filename string, clip *media.ClipRange, chatID int64, direct bool) (*Job, error) {
	if clip != nil {
		if err := clip.Validate(); err != nil {
			return nil, err
		}
	}

	job := newJob(KindAudio, source, chatID)
	job.filename = filename
	job.clip = clip
	if !direct {
		job.download = &media.DownloadParams{
			URL:         source,
			Quality:     media.DefaultQuality,
			AudioFormat: "mp3",
			Mode:        "audio",
		}
	}

	service.enqueue(job)
	return job, nil
}

func (service *service) Job(id uuid.UUID) *Job {
	service.Lock()
	defer service.Unlock()

	for _, job := range service.jobs {
		if job.id == id {
			return job
		}
	}

	return nil
}

func (service *service) AllJobs() []*Job {
	service.Lock()
	defer service.Unlock()

	out := make([]*Job, len(service.jobs))
	copy(out, service.jobs)
	return out
}

func (service *service) History(limit uint64) ([]*Record, error) {
	return service.history.Latest(service.db, limit)
}

// UploadFallback pushes an already-delivered file to the fallback host on
// demand. The gateways use this when the chat platform rejects an
// attachment that was under our own configured size threshold.
func (service *service) UploadFallback(ctx context.Context, id uuid.UUID, deliveryIndex int) (string, error) {
	job := service.Job(id)
	if job == nil {
		return "", fmt.Errorf("no job found with ID %s", id)
	}

	delivery, ok := job.delivery(deliveryIndex)
	if !ok {
		return "", fmt.Errorf("job %s has no delivery at index %d", id, deliveryIndex)
	}

	snapshot, err := service.settings.Snapshot(service.db)
	if err != nil {
		return "", err
	}

	url, err := service.uploader.Upload(ctx, delivery.Path, snapshot.LitterboxExpiry)
	if err != nil {
		return "", err
	}

	job.setShared(deliveryIndex, url, snapshot.LitterboxExpiry)

	service.eventBus.Dispatch(event.JobUpdateEvent, job.id)
	return url, nil
}

// ReleaseJob discards a finished job from the in-memory list. Unless the
// persistent setting is enabled, the job's output files are deleted from
// disk as part of the release.
func (service *service) ReleaseJob(id uuid.UUID) error {
	job := service.Job(id)
	if job == nil {
		return fmt.Errorf("no job found with ID %s", id)
	}

	if status := job.Status(); status != Complete && status != Failed {
		return fmt.Errorf("cannot release job %s while it is still %s", id, status)
	}
	deliveries := job.Deliveries()

	snapshot, err := service.settings.Snapshot(service.db)
	if err != nil {
		return err
	}

	if !snapshot.Persistent {
		for _, delivery := range deliveries {
			if err := os.Remove(delivery.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
				log.Emit(logger.WARNING, "Failed to remove delivered file %s: %v\n", delivery.Path, err)
			}
		}
	}

	service.Lock()
	defer service.Unlock()
	for i, known := range service.jobs {
		if known.id == id {
			service.jobs = append(service.jobs[:i], service.jobs[i+1:]...)
			break
		}
	}

	return nil
}

func (service *service) enqueue(job *Job) {
	service.Lock()
	service.jobs = append(service.jobs, job)
	service.Unlock()

	log.Emit(logger.NEW, "Queued job %s (%s) for %s\n", job.id, job.kind, job.source)
	service.eventBus.Dispatch(event.JobUpdateEvent, job.id)
	if err := service.pool.WakeupWorkers(); err != nil {
		log.Emit(logger.DEBUG, "Could not wake workers: %v\n", err)
	}
}

// claimNext pops the oldest queued job, marking it as in-progress so that
// no other worker picks it up. Nil is returned when the queue is drained.
func (service *service) claimNext() *Job {
	service.Lock()
	defer service.Unlock()

	for _, job := range service.jobs {
		if job.claim() {
			return job
		}
	}

	return nil
}

type jobTask struct {
	service *service
	ctx     context.Context
}

func (task *jobTask) Execute(w worker.Worker) error {
	for {
		if job := task.service.claimNext(); job != nil {
			task.service.eventBus.Dispatch(event.JobUpdateEvent, job.ID())
			task.service.process(task.ctx, job)
			continue
		}

		if !w.Sleep() {
			return nil
		}
	}
}

func (service *service) process(ctx context.Context, job *Job) {
	log.Emit(logger.INFO, "Processing job %s (%s)\n", job.id, job.kind)

	snapshot, err := service.settings.Snapshot(service.db)
	if err != nil {
		service.fail(job, fmt.Errorf("failed to load settings: %w", err))
		return
	}

	var deliveries []Delivery
	switch job.kind {
	case KindDownload:
		deliveries, err = service.processDownload(ctx, job, snapshot)
	case KindGif, KindDirectGif:
		deliveries, err = service.processGif(ctx, job, snapshot)
	case KindAudio:
		deliveries, err = service.processAudio(ctx, job, snapshot)
	default:
		err = fmt.Errorf("unknown job kind %s", job.kind)
	}

	service.cleanupScratch(job)

	if err != nil {
		service.fail(job, err)
		return
	}

	service.complete(job, deliveries)
}

func (service *service) processDownload(ctx context.Context, job *Job, snapshot *settings.Snapshot) ([]Delivery, error) {
	outputDir, err := snapshot.EnsureDownloadDir(false)
	if err != nil {
		return nil, err
	}

	resolution, err := service.resolve(ctx, job.download, snapshot)
	if err != nil {
		return nil, err
	}

	deliveries := make([]Delivery, 0, len(resolution.Files))
	for _, file := range resolution.Files {
		path, err := service.downloader.Download(ctx, file.URL, file.Filename, job.source, outputDir)
		if err != nil {
			return nil, err
		}

		delivery, err := service.buildDelivery(ctx, job, snapshot, path)
		if err != nil {
			return nil, err
		}

		deliveries = append(deliveries, *delivery)
	}

	return deliveries, nil
}

func (service *service) processGif(ctx context.Context, job *Job, snapshot *settings.Snapshot) ([]Delivery, error) {
	workDir, err := snapshot.EnsureDownloadDir(true)
	if err != nil {
		return nil, err
	}
	outputDir, err := snapshot.EnsureDownloadDir(false)
	if err != nil {
		return nil, err
	}

	var videoPath, sourceName string
	if job.kind == KindDirectGif {
		videoPath, err = service.downloader.Download(ctx, job.source, job.filename, "", workDir)
		sourceName = job.filename
	} else {
		var resolution *cobalt.Resolution
		resolution, err = service.resolve(ctx, job.download, snapshot)
		if err != nil {
			return nil, err
		}

		file := resolution.Files[0]
		videoPath, err = service.downloader.Download(ctx, file.URL, file.Filename, job.source, workDir)
		sourceName = file.Filename
	}
	if err != nil {
		return nil, err
	}
	job.addScratch(videoPath)

	service.setStatus(job, Converting)
	gifPath := filepath.Join(outputDir, outputName(sourceName, "gif"))
	err = service.converter.ConvertGif(ctx, videoPath, gifPath, job.gif, func(progress *ffmpeg.Progress) {
		job.setProgress(progress)
		service.eventBus.Dispatch(event.JobProgressEvent, job.id)
	})
	if err != nil {
		return nil, fmt.Errorf("GIF conversion failed: %w", err)
	}

	originalSize, err := fileSizeAt(gifPath)
	if err != nil {
		return nil, err
	}

	delivery := Delivery{Path: gifPath, SizeBytes: originalSize, OriginalSizeBytes: originalSize}
	if job.gif.Optimize || originalSize > snapshot.LimitBytes() {
		service.setStatus(job, Optimizing)
		optimizedPath := filepath.Join(workDir, "optimized_"+filepath.Base(gifPath))
		result, optimizeErr := service.optimizer.Optimize(ctx, gifPath, optimizedPath, snapshot.LimitBytes())
		if optimizeErr != nil {
			// An unoptimized GIF is still deliverable, so don't fail the job
			log.Emit(logger.WARNING, "Optimization of %s failed: %v\n", gifPath, optimizeErr)
		} else if result.FinalSize < delivery.SizeBytes {
			if err := os.Rename(result.OutputPath, gifPath); err != nil {
				return nil, fmt.Errorf("failed to move optimized GIF into place: %w", err)
			}
			delivery.SizeBytes = result.FinalSize
		} else {
			job.addScratch(result.OutputPath)
		}
	}

	if err := service.maybeShare(ctx, job, snapshot, &delivery); err != nil {
		return nil, err
	}

	return []Delivery{delivery}, nil
}

func (service *service) processAudio(ctx context.Context, job *Job, snapshot *settings.Snapshot) ([]Delivery, error) {
	outputDir, err := snapshot.EnsureDownloadDir(false)
	if err != nil {
		return nil, err
	}

	// URL sources are delegated to the cobalt instance, which transcodes
	// server-side. Attachment sources are fetched and run through ffmpeg.
	if job.download != nil {
		resolution, err := service.resolve(ctx, job.download, snapshot)
		if err != nil {
			return nil, err
		}

		file := resolution.Files[0]
		path, err := service.downloader.Download(ctx, file.URL, file.Filename, job.source, outputDir)
		if err != nil {
			return nil, err
		}

		delivery, err := service.buildDelivery(ctx, job, snapshot, path)
		if err != nil {
			return nil, err
		}

		return []Delivery{*delivery}, nil
	}

	workDir, err := snapshot.EnsureDownloadDir(true)
	if err != nil {
		return nil, err
	}

	videoPath, err := service.downloader.Download(ctx, job.source, job.filename, "", workDir)
	if err != nil {
		return nil, err
	}
	job.addScratch(videoPath)

	service.setStatus(job, Converting)
	mp3Path := filepath.Join(outputDir, outputName(job.filename, "mp3"))
	if err := service.converter.ExtractAudio(ctx, videoPath, mp3Path, job.clip); err != nil {
		return nil, fmt.Errorf("audio extraction failed: %w", err)
	}

	delivery, err := service.buildDelivery(ctx, job, snapshot, mp3Path)
	if err != nil {
		return nil, err
	}

	return []Delivery{*delivery}, nil
}

func (service *service) resolve(ctx context.Context, params *media.DownloadParams, snapshot *settings.Snapshot) (*cobalt.Resolution, error) {
	resolution, err := service.cobalt.Resolve(ctx, snapshot.CobaltURL, cobalt.Request{
		URL:          params.URL,
		VideoQuality: params.Quality,
		AudioFormat:  params.AudioFormat,
		DownloadMode: params.Mode,
	})
	if err != nil {
		return nil, err
	}

	if len(resolution.Files) == 0 {
		return nil, errors.New("cobalt instance returned no downloadable files")
	}

	return resolution, nil
}

// buildDelivery stats the produced file and, if it exceeds the configured
// size threshold, pushes it to the fallback host so the gateway can send a
// link instead of the file.
func (service *service) buildDelivery(ctx context.Context, job *Job, snapshot *settings.Snapshot, path string) (*Delivery, error) {
	size, err := fileSizeAt(path)
	if err != nil {
		return nil, err
	}

	delivery := &Delivery{Path: path, SizeBytes: size, OriginalSizeBytes: size}
	if err := service.maybeShare(ctx, job, snapshot, delivery); err != nil {
		return nil, err
	}

	return delivery, nil
}

func (service *service) maybeShare(ctx context.Context, job *Job, snapshot *settings.Snapshot, delivery *Delivery) error {
	if delivery.SizeBytes <= snapshot.LimitBytes() {
		return nil
	}

	log.Emit(logger.INFO, "File %s (%d bytes) exceeds threshold (%d bytes), uploading to fallback host\n",
		delivery.Path, delivery.SizeBytes, snapshot.LimitBytes())

	service.setStatus(job, Uploading)
	url, err := service.uploader.Upload(ctx, delivery.Path, snapshot.LitterboxExpiry)
	if err != nil {
		return fmt.Errorf("fallback upload failed: %w", err)
	}

	delivery.SharedURL = url
	delivery.Expiry = snapshot.LitterboxExpiry
	return nil
}

func (service *service) setStatus(job *Job, status Status) {
	job.setStatus(status)
	service.eventBus.Dispatch(event.JobUpdateEvent, job.id)
}

func (service *service) complete(job *Job, deliveries []Delivery) {
	job.finish(Complete, deliveries, nil)

	if err := service.history.Save(service.db, job); err != nil {
		log.Emit(logger.ERROR, "Failed to record job %s in history: %v\n", job.id, err)
	}

	log.Emit(logger.SUCCESS, "Job %s complete with %d deliveries\n", job.id, len(deliveries))
	service.eventBus.Dispatch(event.JobCompleteEvent, job.id)
}

func (service *service) fail(job *Job, err error) {
	job.finish(Failed, nil, err)

	if saveErr := service.history.Save(service.db, job); saveErr != nil {
		log.Emit(logger.ERROR, "Failed to record job %s in history: %v\n", job.id, saveErr)
	}

	log.Emit(logger.ERROR, "Job %s failed: %v\n", job.id, err)
	service.eventBus.Dispatch(event.JobCompleteEvent, job.id)
}

func (service *service) cleanupScratch(job *Job) {
	for _, path := range job.takeScratch() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Emit(logger.WARNING, "Failed to remove scratch file %s: %v\n", path, err)
		}
	}
}

func outputName(sourceName string, extension string) string {
	stem := strings.TrimSuffix(filepath.Base(sourceName), filepath.Ext(sourceName))
	stem = unsafeStemChars.ReplaceAllString(stem, "_")
	if stem == "" || stem == "." {
		stem = "output"
	}

	return fmt.Sprintf("%s_%s.%s", stem, time.Now().Format("20060102_150405"), extension)
}

func fileSizeAt(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("failed to stat produced file %s: %w", path, err)
	}

	return info.Size(), nil
}
