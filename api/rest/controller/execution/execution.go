package execution

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/opsdesk/opsdesk/api/rest/middleware"
	"github.com/opsdesk/opsdesk/internal/callback"
	"github.com/opsdesk/opsdesk/internal/execution"
	"github.com/opsdesk/opsdesk/internal/models"
)

const maxLimit = 500

// Dispatcher runs enqueued executions in the background.
type Dispatcher interface {
	Dispatch(ids ...uuid.UUID)
}

type Controller struct {
	store      *execution.Store
	callbacks  *callback.Dispatcher
	dispatcher Dispatcher
}

func New(store *execution.Store, callbacks *callback.Dispatcher, dispatcher Dispatcher) *Controller {
	return &Controller{store: store, callbacks: callbacks, dispatcher: dispatcher}
}

func (ctrl *Controller) List(c echo.Context) error {
	req, err := parseListRequest(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	execs, err := ctrl.store.List(c.Request().Context(), req)
	if err != nil {
		return echo.ErrInternalServerError.WithInternal(err)
	}

	return c.JSON(http.StatusOK, execs)
}

func parseListRequest(c echo.Context) (*execution.ListRequest, error) {
	req := &execution.ListRequest{
		TriggerID: c.QueryParam("trigger_id"),
		Status:    c.QueryParam("status"),
		SourceID:  c.QueryParam("source_id"),
	}

	if req.TriggerID != "" {
		if _, err := uuid.Parse(req.TriggerID); err != nil {
			return nil, errors.New("invalid trigger_id")
		}
	}

	if req.Status != "" && !models.ExecutionStatus(req.Status).Valid() {
		return nil, errors.New("invalid status")
	}

	if limit := c.QueryParam("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 || n > maxLimit {
			return nil, errors.New("invalid limit")
		}
		req.Limit = n
	}

	if offset := c.QueryParam("offset"); offset != "" {
		n, err := strconv.Atoi(offset)
		if err != nil || n < 0 {
			return nil, errors.New("invalid offset")
		}
		req.Offset = n
	}

	return req, nil
}

func (ctrl *Controller) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.ErrBadRequest.WithInternal(err)
	}

	exec, err := ctrl.store.Get(c.Request().Context(), id)
	switch {
	case errors.Is(err, execution.ErrNotFound):
		return echo.ErrNotFound
	case err != nil:
		return echo.ErrInternalServerError.WithInternal(err)
	}

	return c.JSON(http.StatusOK, exec)
}

// Retry re-triggers a failed execution and runs the new attempt in the
// background.
func (ctrl *Controller) Retry(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.ErrBadRequest.WithInternal(err)
	}

	actor := models.SystemActor
	if a := middleware.Actor(c); a != nil {
		actor = a.Email
	}

	exec, err := ctrl.store.Retry(c.Request().Context(), id, actor)
	switch {
	case errors.Is(err, execution.ErrNotFound):
		return echo.ErrNotFound
	case errors.Is(err, execution.ErrNotRetryable):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case err != nil:
		return echo.ErrInternalServerError.WithInternal(err)
	}

	if ctrl.dispatcher != nil {
		ctrl.dispatcher.Dispatch(exec.ID)
	}

	return c.JSON(http.StatusAccepted, exec)
}

func (ctrl *Controller) Callbacks(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.ErrBadRequest.WithInternal(err)
	}

	history, err := ctrl.callbacks.History(c.Request().Context(), id)
	if err != nil {
		return echo.ErrInternalServerError.WithInternal(err)
	}

	return c.JSON(http.StatusOK, history)
}

// RetryCallbacks re-delivers the completion notification of an execution
// whose last delivery failed.
func (ctrl *Controller) RetryCallbacks(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.ErrBadRequest.WithInternal(err)
	}

	if _, err := ctrl.store.Get(ctx, id); err != nil {
		if errors.Is(err, execution.ErrNotFound) {
			return echo.ErrNotFound
		}
		return echo.ErrInternalServerError.WithInternal(err)
	}

	if err := ctrl.callbacks.RetryFailed(ctx, id); err != nil {
		return echo.ErrInternalServerError.WithInternal(err)
	}

	history, err := ctrl.callbacks.History(ctx, id)
	if err != nil {
		return echo.ErrInternalServerError.WithInternal(err)
	}

	return c.JSON(http.StatusAccepted, history)
}
