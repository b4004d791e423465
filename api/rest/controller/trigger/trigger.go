package trigger

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/opsdesk/opsdesk/api/rest/middleware"
	"github.com/opsdesk/opsdesk/api/rest/service/trigger"
	"github.com/opsdesk/opsdesk/internal/ruledef"
	schema "github.com/opsdesk/opsdesk/pkg/ruledef"
)

type Controller struct {
	svc      *trigger.Service
	importer *ruledef.Importer
}

func New(svc *trigger.Service, importer *ruledef.Importer) *Controller {
	return &Controller{svc: svc, importer: importer}
}

func (ctrl *Controller) List(c echo.Context) error {
	req, err := parseListRequest(c)
	if err != nil {
		return echo.ErrBadRequest.WithInternal(err)
	}

	triggers, err := ctrl.svc.List(c.Request().Context(), req)
	if err != nil {
		return echo.ErrInternalServerError.WithInternal(err)
	}

	return c.JSON(http.StatusOK, triggers)
}

func parseListRequest(c echo.Context) (req *trigger.ListRequest, err error) {
	req = &trigger.ListRequest{Type: c.QueryParam("type")}

	if limit := c.QueryParam("limit"); limit != "" {
		if req.Limit, err = strconv.ParseUint(limit, 10, 64); err != nil {
			return nil, err
		}
	}

	if offset := c.QueryParam("offset"); offset != "" {
		if req.Offset, err = strconv.ParseUint(offset, 10, 64); err != nil {
			return nil, err
		}
	}

	if orderBy := c.QueryParam("order_by"); orderBy != "" {
		req.OrderBy = strings.Split(orderBy, ",")
	}

	if active := c.QueryParam("active"); active != "" {
		v, err := strconv.ParseBool(active)
		if err != nil {
			return nil, err
		}
		req.Active = &v
	}

	return
}

func (ctrl *Controller) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.ErrBadRequest.WithInternal(err)
	}

	t, err := ctrl.svc.Get(c.Request().Context(), id)
	switch {
	case errors.Is(err, trigger.ErrNotFound):
		return echo.ErrNotFound
	case err != nil:
		return echo.ErrInternalServerError.WithInternal(err)
	}

	return c.JSON(http.StatusOK, t)
}

type ActiveRequest struct {
	Active *bool `json:"active" validate:"required"`
}

func (ctrl *Controller) SetActive(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.ErrBadRequest.WithInternal(err)
	}

	var req ActiveRequest
	if err := middleware.BindValid(c, &req); err != nil {
		return err
	}

	t, err := ctrl.svc.SetActive(c.Request().Context(), id, *req.Active)
	switch {
	case errors.Is(err, trigger.ErrNotFound):
		return echo.ErrNotFound
	case err != nil:
		return echo.ErrInternalServerError.WithInternal(err)
	}

	return c.JSON(http.StatusOK, t)
}

type ApplyRequest struct {
	Definitions []*schema.Definition `json:"definitions" validate:"required,min=1"`
	DryRun      bool                 `json:"dry_run"`
}

type ApplyResponse struct {
	DryRun bool            `json:"dry_run"`
	Plan   *ruledef.Plan   `json:"plan,omitempty"`
	Result *ruledef.Result `json:"result,omitempty"`
}

// Apply upserts trigger definitions by name, or only plans them on dry_run.
func (ctrl *Controller) Apply(c echo.Context) error {
	var req ApplyRequest
	if err := middleware.BindValid(c, &req); err != nil {
		return err
	}

	ctx := c.Request().Context()

	if req.DryRun {
		plan, err := ctrl.importer.Plan(ctx, req.Definitions)
		if err != nil {
			return applyError(err)
		}
		return c.JSON(http.StatusOK, ApplyResponse{DryRun: true, Plan: &plan})
	}

	res, err := ctrl.importer.Apply(ctx, req.Definitions)
	if err != nil {
		return applyError(err)
	}
	return c.JSON(http.StatusOK, ApplyResponse{Result: res})
}

func applyError(err error) error {
	var invalid *ruledef.InvalidError
	if errors.As(err, &invalid) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return echo.ErrInternalServerError.WithInternal(err)
}
