package queue

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/opsdesk/opsdesk/internal/worker"
)

type Controller struct {
	source      worker.PendingSource
	runner      worker.ExecutionRunner
	concurrency int
	batch       int
}

func New(source worker.PendingSource, runner worker.ExecutionRunner, concurrency, batch int) *Controller {
	return &Controller{source: source, runner: runner, concurrency: concurrency, batch: batch}
}

// Process runs one bounded pass over the pending queue and reports the
// outcome counts once every execution of the pass finished.
func (ctrl *Controller) Process(c echo.Context) error {
	limit := ctrl.batch
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		limit = n
	}

	summary, err := worker.ProcessQueue(
		c.Request().Context(),
		ctrl.source,
		ctrl.runner,
		worker.NewPool(ctrl.concurrency),
		limit,
	)
	if err != nil {
		return echo.ErrInternalServerError.WithInternal(err)
	}

	return c.JSON(http.StatusOK, summary)
}
