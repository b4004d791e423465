package stats

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/opsdesk/opsdesk/api/rest/service/stats"
)

type Controller struct {
	svc *stats.Service
}

func New(svc *stats.Service) *Controller {
	return &Controller{svc: svc}
}

// Get returns aggregated execution statistics. The optional window query
// parameter is a Go duration such as 24h.
func (ctrl *Controller) Get(c echo.Context) error {
	var window time.Duration
	if raw := c.QueryParam("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "window must be a positive duration")
		}
		window = d
	}

	resp, err := ctrl.svc.Get(c.Request().Context(), window)
	if err != nil {
		return echo.ErrInternalServerError.WithInternal(err)
	}
	return c.JSON(http.StatusOK, resp)
}
