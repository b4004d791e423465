package webhook

import (
	"crypto/subtle"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/opsdesk/opsdesk/internal/capability"
	"github.com/opsdesk/opsdesk/internal/ingest"
	"github.com/opsdesk/opsdesk/pkg/log"
)

const (
	maxBody = 1 << 20

	headerResourceID    = "X-Goog-Resource-Id"
	headerResourceState = "X-Goog-Resource-State"
	headerChannelID     = "X-Goog-Channel-Id"
	headerChannelToken  = "X-Goog-Channel-Token"

	// resourceStateSync is the handshake Drive sends when a channel opens.
	resourceStateSync = "sync"
)

type Dispatcher interface {
	Dispatch(ids ...uuid.UUID)
}

// Controller receives provider push notifications. Each one runs the same
// pipeline as the scheduled jobs: ingest, enqueue, then run in the
// background.
type Controller struct {
	ingest     *ingest.Service
	dispatcher Dispatcher
	token      string
}

// New builds the controller. A non-empty token must accompany every
// notification, as the token query parameter or the channel token header.
func New(svc *ingest.Service, dispatcher Dispatcher, token string) *Controller {
	return &Controller{ingest: svc, dispatcher: dispatcher, token: token}
}

type Response struct {
	Status     string      `json:"status"`
	Reason     string      `json:"reason,omitempty"`
	Executions []uuid.UUID `json:"executions,omitempty"`
	Result     any         `json:"result,omitempty"`
}

func (ctrl *Controller) Gmail(c echo.Context) error {
	if err := ctrl.verify(c); err != nil {
		return err
	}

	body, err := readBody(c)
	if err != nil {
		return err
	}

	n, err := ingest.DecodeGmailPush(body, c.Param("email"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	res, err := ctrl.ingest.HandleGmailPush(c.Request().Context(), n)
	switch {
	case errors.Is(err, ingest.ErrUnknownMailbox):
		log.Debug("gmail push ignored", "mailbox", n.EmailAddress)
		return c.JSON(http.StatusAccepted, Response{Status: "ignored", Reason: err.Error()})
	case err != nil:
		return providerError(err)
	}

	ctrl.dispatch(res.Executions...)
	return c.JSON(http.StatusOK, Response{Status: "synced", Executions: res.Executions, Result: res})
}

func (ctrl *Controller) Drive(c echo.Context) error {
	if err := ctrl.verify(c); err != nil {
		return err
	}

	body, err := readBody(c)
	if err != nil {
		return err
	}

	header := c.Request().Header
	if header.Get(headerResourceState) == resourceStateSync {
		return c.JSON(http.StatusOK, Response{Status: "ignored", Reason: "channel sync"})
	}

	fileID, err := ctrl.driveFile(c, body)
	if err != nil {
		return err
	}

	res, err := ctrl.ingest.HandleDriveChange(c.Request().Context(), fileID)
	switch {
	case capability.IsNotFound(err):
		log.Debug("drive change ignored", "gid", fileID)
		return c.JSON(http.StatusAccepted, Response{Status: "ignored", Reason: capability.ErrorText(err)})
	case err != nil:
		return providerError(err)
	}

	var execs []uuid.UUID
	if res.Execution != nil {
		execs = append(execs, res.Execution.ID)
	}
	ctrl.dispatch(execs...)

	status := "unchanged"
	if res.Changed {
		status = "changed"
	}
	return c.JSON(http.StatusOK, Response{Status: status, Executions: execs, Result: res})
}

// driveFile resolves the changed document. A registered channel id names it
// directly; otherwise the resource header or the body must.
func (ctrl *Controller) driveFile(c echo.Context, body []byte) (string, error) {
	header := c.Request().Header
	if channelID := header.Get(headerChannelID); channelID != "" {
		gid, ok, err := ctrl.ingest.ChannelDocument(c.Request().Context(), channelID)
		if err != nil {
			return "", echo.ErrInternalServerError.WithInternal(err)
		}
		if ok {
			return gid, nil
		}
	}

	gid, err := ingest.DecodeDriveChange(body, header.Get(headerResourceID))
	if err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return gid, nil
}

func (ctrl *Controller) verify(c echo.Context) error {
	if ctrl.token == "" {
		return nil
	}
	got := c.QueryParam("token")
	if got == "" {
		got = c.Request().Header.Get(headerChannelToken)
	}
	if subtle.ConstantTimeCompare([]byte(got), []byte(ctrl.token)) != 1 {
		return echo.ErrUnauthorized
	}
	return nil
}

func (ctrl *Controller) dispatch(ids ...uuid.UUID) {
	if len(ids) > 0 && ctrl.dispatcher != nil {
		ctrl.dispatcher.Dispatch(ids...)
	}
}

func readBody(c echo.Context) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBody))
	if err != nil {
		return nil, echo.ErrBadRequest.WithInternal(err)
	}
	return body, nil
}

// providerError keeps provider outages retryable by the push sender.
func providerError(err error) error {
	if capability.IsInvalidInput(err) {
		return echo.NewHTTPError(http.StatusBadRequest, capability.ErrorText(err))
	}
	var ce *capability.Error
	if errors.As(err, &ce) || capability.IsTimeout(err) {
		return echo.NewHTTPError(http.StatusBadGateway, capability.ErrorText(err)).SetInternal(err)
	}
	return echo.ErrInternalServerError.WithInternal(err)
}
