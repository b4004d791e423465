package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/opsdesk/opsdesk/internal/event"
	"github.com/opsdesk/opsdesk/pkg/log"
)

const defaultKeepAlive = 15 * time.Second

type Controller struct {
	bus       event.Bus
	keepAlive time.Duration
}

func New(bus event.Bus) *Controller {
	return &Controller{bus: bus, keepAlive: defaultKeepAlive}
}

func parseFilter(c echo.Context) (filter event.Filter, err error) {
	if raw := c.QueryParam("trigger_id"); raw != "" {
		if filter.TriggerID, err = uuid.Parse(raw); err != nil {
			return filter, errors.New("invalid trigger_id")
		}
	}

	if raw := c.QueryParam("execution_id"); raw != "" {
		if filter.ExecutionID, err = uuid.Parse(raw); err != nil {
			return filter, errors.New("invalid execution_id")
		}
	}

	if raw := c.QueryParam("types"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			filter.Types = append(filter.Types, event.Type(strings.TrimSpace(s)))
		}
	}

	return filter, nil
}

func (ctrl *Controller) Stream(c echo.Context) error {
	ctx := c.Request().Context()

	filter, err := parseFilter(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ch, err := ctrl.bus.Subscribe(ctx, filter)
	if err != nil {
		return echo.ErrInternalServerError.WithInternal(err)
	}

	c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
	c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
	c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")

	if _, err := fmt.Fprintf(c.Response(), ": ping\n\n"); err != nil {
		return nil
	}
	c.Response().Flush()

	ticker := time.NewTicker(ctrl.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := fmt.Fprintf(c.Response(), ": ping\n\n"); err != nil {
				return nil
			}
			c.Response().Flush()
		case e, ok := <-ch:
			if !ok {
				return nil
			}

			data, err := json.Marshal(e)
			if err != nil {
				log.Error("failed to marshal event for SSE stream", "type", e.Type, "error", err)
				continue
			}

			if _, err := fmt.Fprintf(c.Response(), "event: %s\ndata: %s\n\n", e.Type, data); err != nil {
				return nil
			}
			c.Response().Flush()
		}
	}
}
