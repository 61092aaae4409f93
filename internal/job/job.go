package job

import (
	"sync"
	"time"

	"grabbit/internal/ffmpeg"
	"grabbit/internal/media"

	"github.com/google/uuid"
)

type Kind string

const (
	KindDownload  Kind = "download"   // plain cobalt download
	KindGif       Kind = "gif"        // cobalt download followed by GIF conversion
	KindDirectGif Kind = "direct_gif" // direct fetch followed by GIF conversion
	KindAudio     Kind = "audio"      // MP3 extraction (attachment) or cobalt audio download
)

type Status int

const (
	Queued Status = iota
	Downloading
	Converting
	Optimizing
	Uploading
	Complete
	Failed
)

func (s Status) String() string {
	return []string{
		"QUEUED",
		"DOWNLOADING",
		"CONVERTING",
		"OPTIMIZING",
		"UPLOADING",
		"COMPLETE",
		"FAILED",
	}[s]
}

type (
	// Delivery is one output file a job produced, ready for the chat gateway
	// to relay. When SharedURL is set the file was pushed to the fallback
	// host and the link should be sent instead of the file itself.
	Delivery struct {
		Path              string
		SizeBytes         int64
		OriginalSizeBytes int64
		SharedURL         string
		Expiry            string
	}

	// Job tracks a single chat request through its lifecycle. The identity
	// fields (id, kind, source, params...) are set before the job is
	// published to the queue and never change; the lifecycle fields are
	// guarded by the job's own mutex since the worker mutates them while
	// the REST controllers and chat gateway read through the accessors.
	Job struct {
		id        uuid.UUID
		kind      Kind
		source    string
		filename  string
		chatID    int64
		download  *media.DownloadParams
		gif       *media.GifParams
		clip      *media.ClipRange
		createdAt time.Time

		mu         sync.Mutex
		status     Status
		progress   *ffmpeg.Progress
		failure    error
		deliveries []Delivery
		scratch    []string
		completed  *time.Time
	}
)

func newJob(kind Kind, source string, chatID int64) *Job {
	return &Job{
		id:        uuid.New(),
		kind:      kind,
		source:    source,
		chatID:    chatID,
		status:    Queued,
		createdAt: time.Now(),
	}
}

func (job *Job) ID() uuid.UUID        { return job.id }
func (job *Job) Kind() Kind           { return job.kind }
func (job *Job) Source() string       { return job.source }
func (job *Job) ChatID() int64        { return job.chatID }
func (job *Job) Filename() string     { return job.filename }
func (job *Job) CreatedAt() time.Time { return job.createdAt }

func (job *Job) Status() Status {
	job.mu.Lock()
	defer job.mu.Unlock()
	return job.status
}

// Progress returns the most recent ffmpeg progress report for converting
// jobs, nil before conversion starts (or for jobs that never convert).
func (job *Job) Progress() *ffmpeg.Progress {
	job.mu.Lock()
	defer job.mu.Unlock()
	return job.progress
}

func (job *Job) Failure() error {
	job.mu.Lock()
	defer job.mu.Unlock()
	return job.failure
}

func (job *Job) CompletedAt() *time.Time {
	job.mu.Lock()
	defer job.mu.Unlock()
	return job.completed
}

// Deliveries returns a copy of the job's output list.
func (job *Job) Deliveries() []Delivery {
	job.mu.Lock()
	defer job.mu.Unlock()

	out := make([]Delivery, len(job.deliveries))
	copy(out, job.deliveries)
	return out
}

// claim transitions a queued job to Downloading. Reports whether the
// caller won the claim; losing means another worker already owns the job.
func (job *Job) claim() bool {
	job.mu.Lock()
	defer job.mu.Unlock()

	if job.status != Queued {
		return false
	}

	job.status = Downloading
	return true
}

func (job *Job) setStatus(status Status) {
	job.mu.Lock()
	job.status = status
	job.mu.Unlock()
}

func (job *Job) setProgress(progress *ffmpeg.Progress) {
	job.mu.Lock()
	job.progress = progress
	job.mu.Unlock()
}

// finish moves the job to its terminal state, recording the outcome and
// the completion time in one step.
func (job *Job) finish(status Status, deliveries []Delivery, failure error) {
	now := time.Now()

	job.mu.Lock()
	job.status = status
	job.deliveries = deliveries
	job.failure = failure
	job.completed = &now
	job.mu.Unlock()
}

func (job *Job) addScratch(path string) {
	job.mu.Lock()
	job.scratch = append(job.scratch, path)
	job.mu.Unlock()
}

// takeScratch hands ownership of the accumulated scratch paths to the
// caller, clearing the list so cleanup runs at most once per path.
func (job *Job) takeScratch() []string {
	job.mu.Lock()
	defer job.mu.Unlock()

	scratch := job.scratch
	job.scratch = nil
	return scratch
}

func (job *Job) delivery(index int) (Delivery, bool) {
	job.mu.Lock()
	defer job.mu.Unlock()

	if index < 0 || index >= len(job.deliveries) {
		return Delivery{}, false
	}

	return job.deliveries[index], true
}

func (job *Job) setShared(index int, url string, expiry string) {
	job.mu.Lock()
	defer job.mu.Unlock()

	if index < 0 || index >= len(job.deliveries) {
		return
	}

	job.deliveries[index].SharedURL = url
	job.deliveries[index].Expiry = expiry
}
