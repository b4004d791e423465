package sidebar

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/opsdesk/opsdesk/api/rest/middleware"
	"github.com/opsdesk/opsdesk/internal/capability"
	"github.com/opsdesk/opsdesk/internal/models"
	"github.com/opsdesk/opsdesk/internal/task"
)

type Controller struct {
	tasks *task.Service
}

func New(tasks *task.Service) *Controller {
	return &Controller{tasks: tasks}
}

// List returns the caller's tasks, pending ones unless status says otherwise.
func (ctrl *Controller) List(c echo.Context) error {
	req := &task.ListRequest{
		EmployeeEmail: middleware.Actor(c).Email,
		Status:        c.QueryParam("status"),
	}
	if req.Status == "" {
		req.Status = string(models.TaskStatusPending)
	}
	if limit := c.QueryParam("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		req.Limit = n
	}

	tasks, err := ctrl.tasks.List(c.Request().Context(), req)
	if err != nil {
		return echo.ErrInternalServerError.WithInternal(err)
	}

	return c.JSON(http.StatusOK, tasks)
}

func (ctrl *Controller) Complete(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.ErrBadRequest.WithInternal(err)
	}

	t, err := ctrl.tasks.Complete(c.Request().Context(), id, middleware.Actor(c).Email)
	if err != nil {
		return taskError(err)
	}

	return c.JSON(http.StatusOK, t)
}

func (ctrl *Controller) Dismiss(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.ErrBadRequest.WithInternal(err)
	}

	t, err := ctrl.tasks.Dismiss(c.Request().Context(), id, middleware.Actor(c).Email)
	if err != nil {
		return taskError(err)
	}

	return c.JSON(http.StatusOK, t)
}

type ActionRequest struct {
	Action string `json:"action" validate:"required"`
}

// Action performs one of the task's quick actions.
func (ctrl *Controller) Action(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.ErrBadRequest.WithInternal(err)
	}

	var req ActionRequest
	if err := middleware.BindValid(c, &req); err != nil {
		return err
	}

	result, err := ctrl.tasks.RunQuickAction(c.Request().Context(), id, middleware.Actor(c).Email, req.Action)
	if err != nil {
		return taskError(err)
	}

	return c.JSON(http.StatusOK, result)
}

func taskError(err error) error {
	switch {
	case errors.Is(err, task.ErrNotFound):
		return echo.ErrNotFound
	case errors.Is(err, task.ErrNotAssignee):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, task.ErrNotPending):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, task.ErrUnknownAction):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case capability.IsNotFound(err):
		return echo.NewHTTPError(http.StatusNotFound, capability.ErrorText(err))
	case capability.IsInvalidInput(err):
		return echo.NewHTTPError(http.StatusBadRequest, capability.ErrorText(err))
	case capability.IsUnavailable(err), capability.IsTimeout(err):
		return echo.NewHTTPError(http.StatusBadGateway, capability.ErrorText(err))
	default:
		return echo.ErrInternalServerError.WithInternal(err)
	}
}
