package customer

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/opsdesk/opsdesk/api/rest/middleware"
	"github.com/opsdesk/opsdesk/internal/ingest"
)

type Dispatcher interface {
	Dispatch(ids ...uuid.UUID)
}

type Controller struct {
	ingest     *ingest.Service
	dispatcher Dispatcher
}

func New(svc *ingest.Service, dispatcher Dispatcher) *Controller {
	return &Controller{ingest: svc, dispatcher: dispatcher}
}

// Post creates an organization with its contacts and starts any onboarding
// its customer_created trigger defines.
func (ctrl *Controller) Post(c echo.Context) error {
	var req ingest.CustomerRequest
	if err := middleware.BindValid(c, &req); err != nil {
		return err
	}

	actor := middleware.Actor(c)
	if actor == nil {
		return echo.ErrUnauthorized
	}

	res, err := ctrl.ingest.CreateCustomer(c.Request().Context(), &req, actor.Email)
	switch {
	case errors.Is(err, ingest.ErrDuplicate):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ingest.ErrInvalid):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case err != nil:
		return echo.ErrInternalServerError.WithInternal(err)
	}

	if res.Execution != nil && ctrl.dispatcher != nil {
		ctrl.dispatcher.Dispatch(res.Execution.ID)
	}

	return c.JSON(http.StatusCreated, res)
}
