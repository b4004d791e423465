package middleware

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

// Validator plugs validator/v10 into echo's Context.Validate.
type Validator struct {
	validate *validator.Validate
}

func NewValidator() *Validator {
	return &Validator{validate: validator.New(validator.WithRequiredStructEnabled())}
}

func (v *Validator) Validate(i interface{}) error {
	if err := v.validate.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error()).SetInternal(err)
	}
	return nil
}

// BindValid decodes the request body into req and validates it.
func BindValid(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return echo.ErrBadRequest.WithInternal(err)
	}
	return c.Validate(req)
}
