package config

import (
	"errors"
	"net/http"

	"grabbit/internal/settings"

	"github.com/labstack/echo/v4"
)

type (
	UpdateRequest struct {
		Value string `json:"value"`
	}

	Dto struct {
		CobaltURL       string  `json:"cobalt_url"`
		DownloadPath    string  `json:"download_path"`
		Debug           bool    `json:"debug"`
		Persistent      bool    `json:"persistent"`
		LitterboxExpiry string  `json:"litterbox_expiry"`
		LimitMB         float64 `json:"limit_mb"`
	}

	Service interface {
		Settings() (*settings.Snapshot, error)
		SetSetting(key string, value string) error
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
	eg.PUT("/:key/", controller.update)
}

func (controller *Controller) get(ec echo.Context) error {
	snapshot, err := controller.service.Settings()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return ec.JSON(http.StatusOK, &Dto{
		CobaltURL:       snapshot.CobaltURL,
		DownloadPath:    snapshot.DownloadPath,
		Debug:           snapshot.Debug,
		Persistent:      snapshot.Persistent,
		LitterboxExpiry: snapshot.LitterboxExpiry,
		LimitMB:         snapshot.LimitMB,
	})
}

func (controller *Controller) update(ec echo.Context) error {
	var request UpdateRequest
	if err := ec.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "JSON body illegal")
	}

	if err := controller.service.SetSetting(ec.Param("key"), request.Value); err != nil {
		if errors.Is(err, settings.ErrUnknownKey) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}

		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	return ec.NoContent(http.StatusOK)
}
