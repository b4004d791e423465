package channel

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/opsdesk/opsdesk/internal/capability"
	"github.com/opsdesk/opsdesk/internal/ingest"
)

// Controller registers provider push channels.
type Controller struct {
	ingest *ingest.Service
}

func New(svc *ingest.Service) *Controller {
	return &Controller{ingest: svc}
}

func (ctrl *Controller) List(c echo.Context) error {
	channels, err := ctrl.ingest.Channels(c.Request().Context())
	if err != nil {
		return echo.ErrInternalServerError.WithInternal(err)
	}
	return c.JSON(http.StatusOK, channels)
}

func (ctrl *Controller) WatchMailbox(c echo.Context) error {
	ch, err := ctrl.ingest.WatchMailbox(c.Request().Context(), c.Param("email"))
	if err != nil {
		return watchError(err)
	}
	return c.JSON(http.StatusOK, ch)
}

func (ctrl *Controller) WatchDocument(c echo.Context) error {
	ch, err := ctrl.ingest.WatchDocument(c.Request().Context(), c.Param("gid"))
	if err != nil {
		return watchError(err)
	}
	return c.JSON(http.StatusOK, ch)
}

func watchError(err error) error {
	switch {
	case errors.Is(err, ingest.ErrChannelsDisabled):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ingest.ErrUnknownMailbox), capability.IsNotFound(err):
		return echo.NewHTTPError(http.StatusNotFound, capability.ErrorText(err))
	case errors.Is(err, ingest.ErrInvalid), capability.IsInvalidInput(err):
		return echo.NewHTTPError(http.StatusBadRequest, capability.ErrorText(err))
	}
	var ce *capability.Error
	if errors.As(err, &ce) {
		return echo.NewHTTPError(http.StatusBadGateway, capability.ErrorText(err)).SetInternal(err)
	}
	return echo.ErrInternalServerError.WithInternal(err)
}
