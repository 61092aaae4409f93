package statuses

import (
	"context"
	"net/http"

	"grabbit/internal/status"

	"github.com/labstack/echo/v4"
)

type (
	ToolDto struct {
		Available bool   `json:"available"`
		Version   string `json:"version,omitempty"`
		Error     string `json:"error,omitempty"`
	}

	CobaltDto struct {
		Reachable     bool     `json:"reachable"`
		URL           string   `json:"url"`
		Version       string   `json:"version,omitempty"`
		Services      []string `json:"services,omitempty"`
		DurationLimit int      `json:"duration_limit,omitempty"`
		Error         string   `json:"error,omitempty"`
	}

	SettingsDto struct {
		CobaltURL       string  `json:"cobalt_url"`
		DownloadPath    string  `json:"download_path"`
		Debug           bool    `json:"debug"`
		Persistent      bool    `json:"persistent"`
		LitterboxExpiry string  `json:"litterbox_expiry"`
		LimitMB         float64 `json:"limit_mb"`
	}

	PathDto struct {
		Path     string `json:"path"`
		Exists   bool   `json:"exists"`
		Writable bool   `json:"writable"`
	}

	Dto struct {
		Cobalt       CobaltDto   `json:"cobalt"`
		Ffmpeg       ToolDto     `json:"ffmpeg"`
		Gifsicle     ToolDto     `json:"gifsicle"`
		DownloadPath PathDto     `json:"download_path"`
		Settings     SettingsDto `json:"settings"`
	}

	Service interface {
		Report(ctx context.Context) (*status.Report, error)
	}

	Controller struct {
		service Service
	}
)

func New(service Service) *Controller {
	return &Controller{service: service}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.GET("/", controller.get)
}

func (controller *Controller) get(ec echo.Context) error {
	report, err := controller.service.Report(ec.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return ec.JSON(http.StatusOK, NewDto(report))
}

func NewDto(report *status.Report) *Dto {
	return &Dto{
		Cobalt: CobaltDto{
			Reachable:     report.Cobalt.Reachable,
			URL:           report.Cobalt.URL,
			Version:       report.Cobalt.Version,
			Services:      report.Cobalt.Services,
			DurationLimit: report.Cobalt.DurationLimit,
			Error:         report.Cobalt.Error,
		},
		Ffmpeg:       ToolDto(report.Ffmpeg),
		Gifsicle:     ToolDto(report.Gifsicle),
		DownloadPath: PathDto(report.DownloadPath),
		Settings: SettingsDto{
			CobaltURL:       report.Settings.CobaltURL,
			DownloadPath:    report.Settings.DownloadPath,
			Debug:           report.Settings.Debug,
			Persistent:      report.Settings.Persistent,
			LitterboxExpiry: report.Settings.LitterboxExpiry,
			LimitMB:         report.Settings.LimitMB,
		},
	}
}
