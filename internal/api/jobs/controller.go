package jobs

import (
	"net/http"
	"time"

	"grabbit/internal/job"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type (
	DeliveryDto struct {
		Path              string `json:"path"`
		SizeBytes         int64  `json:"size_bytes"`
		OriginalSizeBytes int64  `json:"original_size_bytes"`
		SharedURL         string `json:"shared_url,omitempty"`
		Expiry            string `json:"expiry,omitempty"`
	}

	// ProgressDto carries the most recent ffmpeg progress report for a
	// job in its conversion stage; nil for jobs that never transcode.
	ProgressDto struct {
		FramesProcessed string  `json:"frames_processed"`
		CurrentTime     string  `json:"current_time"`
		CurrentBitrate  string  `json:"current_bitrate"`
		Progress        float64 `json:"progress"`
		Speed           string  `json:"speed"`
	}

	// Dto is the response shape used by endpoints returning in-flight or
	// recently finished jobs.
	Dto struct {
		ID          uuid.UUID     `json:"id"`
		Kind        string        `json:"kind"`
		Source      string        `json:"source"`
		Filename    string        `json:"filename,omitempty"`
		Status      string        `json:"status"`
		Progress    *ProgressDto  `json:"progress,omitempty"`
		Failure     string        `json:"failure,omitempty"`
		Deliveries  []DeliveryDto `json:"deliveries"`
		CreatedAt   time.Time     `json:"created_at"`
		CompletedAt *time.Time    `json:"completed_at"`
	}

	// HistoryDto mirrors the persisted job record; finished jobs released
	// from memory are still reachable through the history endpoint.
	HistoryDto struct {
		ID          uuid.UUID  `json:"id"`
		Kind        string     `json:"kind"`
		Source      string     `json:"source"`
		Status      string     `json:"status"`
		OutputPath  *string    `json:"output_path"`
		OutputSize  *int64     `json:"output_size_bytes"`
		SharedURL   *string    `json:"shared_url"`
		Failure     *string    `json:"failure"`
		CreatedAt   time.Time  `json:"created_at"`
		CompletedAt *time.Time `json:"completed_at"`
	}

	Service interface {
		AllJobs() []*job.Job
		Job(uuid.UUID) *job.Job
		History(limit uint64) ([]*job.Record, error)
		ReleaseJob(uuid.UUID) error
	}

	Controller struct {
		service Service
	}
)

const defaultHistoryLimit = 50

func New(service Service) *Controller {
	return &Controller{service: service}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.GET("/", controller.list)
	eg.GET("/history/", controller.history)
	eg.GET("/:id/", controller.get)
	eg.DELETE("/:id/", controller.release)
}

func (controller *Controller) list(ec echo.Context) error {
	items := controller.service.AllJobs()
	dtos := make([]*Dto, len(items))
	for k, v := range items {
		dtos[k] = NewDto(v)
	}

	return ec.JSON(http.StatusOK, dtos)
}

func (controller *Controller) get(ec echo.Context) error {
	id, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Job ID is not a valid UUID")
	}

	item := controller.service.Job(id)
	if item == nil {
		return echo.NewHTTPError(http.StatusNotFound)
	}

	return ec.JSON(http.StatusOK, NewDto(item))
}

// release removes a finished job, deleting its output files unless the
// persistent setting is enabled.
func (controller *Controller) release(ec echo.Context) error {
	id, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Job ID is not a valid UUID")
	}

	if err := controller.service.ReleaseJob(id); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	return ec.NoContent(http.StatusOK)
}

func (controller *Controller) history(ec echo.Context) error {
	records, err := controller.service.History(defaultHistoryLimit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	dtos := make([]*HistoryDto, len(records))
	for k, v := range records {
		dtos[k] = &HistoryDto{
			ID:          v.ID,
			Kind:        v.Kind,
			Source:      v.Source,
			Status:      v.Status,
			OutputPath:  v.OutputPath,
			OutputSize:  v.OutputSize,
			SharedURL:   v.SharedURL,
			Failure:     v.Failure,
			CreatedAt:   v.CreatedAt,
			CompletedAt: v.CompletedAt,
		}
	}

	return ec.JSON(http.StatusOK, dtos)
}

func NewDto(item *job.Job) *Dto {
	deliveries := item.Deliveries()
	deliveryDtos := make([]DeliveryDto, len(deliveries))
	for k, v := range deliveries {
		deliveryDtos[k] = DeliveryDto{
			Path:              v.Path,
			SizeBytes:         v.SizeBytes,
			OriginalSizeBytes: v.OriginalSizeBytes,
			SharedURL:         v.SharedURL,
			Expiry:            v.Expiry,
		}
	}

	dto := &Dto{
		ID:          item.ID(),
		Kind:        string(item.Kind()),
		Source:      item.Source(),
		Filename:    item.Filename(),
		Status:      item.Status().String(),
		Deliveries:  deliveryDtos,
		CreatedAt:   item.CreatedAt(),
		CompletedAt: item.CompletedAt(),
	}

	if progress := item.Progress(); progress != nil {
		dto.Progress = &ProgressDto{
			FramesProcessed: progress.FramesProcessed,
			CurrentTime:     progress.CurrentTime,
			CurrentBitrate:  progress.CurrentBitrate,
			Progress:        progress.Progress,
			Speed:           progress.Speed,
		}
	}

	if failure := item.Failure(); failure != nil {
		dto.Failure = failure.Error()
	}

	return dto
}
