package auth

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/opsdesk/opsdesk/api/rest/middleware"
	"github.com/opsdesk/opsdesk/internal/auth"
)

type Controller struct {
	gateway *auth.Gateway
}

func New(gateway *auth.Gateway) *Controller {
	return &Controller{gateway: gateway}
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type SendOTPRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type VerifyOTPRequest struct {
	Email string `json:"email" validate:"required,email"`
	Code  string `json:"code" validate:"required,len=6,numeric"`
}

func (ctrl *Controller) Login(c echo.Context) error {
	var req LoginRequest
	if err := middleware.BindValid(c, &req); err != nil {
		return err
	}

	session, err := ctrl.gateway.Login(c.Request().Context(), req.Email, req.Password, clientMeta(c))
	if err != nil {
		return authError(err)
	}

	return c.JSON(http.StatusOK, session)
}

func (ctrl *Controller) SendOTP(c echo.Context) error {
	var req SendOTPRequest
	if err := middleware.BindValid(c, &req); err != nil {
		return err
	}

	if err := ctrl.gateway.SendOTP(c.Request().Context(), req.Email); err != nil {
		return authError(err)
	}

	return c.JSON(http.StatusAccepted, map[string]string{"status": "sent"})
}

func (ctrl *Controller) VerifyOTP(c echo.Context) error {
	var req VerifyOTPRequest
	if err := middleware.BindValid(c, &req); err != nil {
		return err
	}

	session, err := ctrl.gateway.VerifyOTP(c.Request().Context(), req.Email, req.Code, clientMeta(c))
	if err != nil {
		return authError(err)
	}

	return c.JSON(http.StatusOK, session)
}

func (ctrl *Controller) Logout(c echo.Context) error {
	if err := ctrl.gateway.Logout(c.Request().Context(), middleware.Actor(c)); err != nil {
		return authError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (ctrl *Controller) Me(c echo.Context) error {
	return c.JSON(http.StatusOK, middleware.Actor(c))
}

func clientMeta(c echo.Context) auth.ClientMeta {
	return auth.ClientMeta{
		IPAddress: c.RealIP(),
		UserAgent: c.Request().UserAgent(),
	}
}

func authError(err error) error {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrCodeInvalid),
		errors.Is(err, auth.ErrCodeExpired),
		errors.Is(err, auth.ErrUnauthenticated):
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	case errors.Is(err, auth.ErrNotPreapproved), errors.Is(err, auth.ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, auth.ErrTooManyAttempts):
		return echo.NewHTTPError(http.StatusTooManyRequests, err.Error())
	default:
		return echo.ErrInternalServerError.WithInternal(err)
	}
}
