package customer

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/opsdesk/opsdesk/internal/ingest"
)

func (ctrl *Controller) List(c echo.Context) error {
	req, err := parseListRequest(c)
	if err != nil {
		return echo.ErrBadRequest.WithInternal(err)
	}

	orgs, err := ctrl.ingest.ListCustomers(c.Request().Context(), req)
	if err != nil {
		return echo.ErrInternalServerError.WithInternal(err)
	}

	return c.JSON(http.StatusOK, orgs)
}

func parseListRequest(c echo.Context) (req *ingest.CustomerListRequest, err error) {
	req = &ingest.CustomerListRequest{
		CustomerType: c.QueryParam("customer_type"),
		Search:       c.QueryParam("q"),
	}

	if limit := c.QueryParam("limit"); limit != "" {
		if req.Limit, err = strconv.Atoi(limit); err != nil || req.Limit < 1 || req.Limit > 100 {
			return nil, errors.New("limit must be between 1 and 100")
		}
	}

	if offset := c.QueryParam("offset"); offset != "" {
		if req.Offset, err = strconv.Atoi(offset); err != nil || req.Offset < 0 {
			return nil, errors.New("offset must not be negative")
		}
	}

	return req, nil
}
