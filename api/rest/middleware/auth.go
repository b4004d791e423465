package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/opsdesk/opsdesk/internal/auth"
)

const actorKey = "actor"

// Resolver turns a bearer credential into an actor.
type Resolver interface {
	ResolveActor(ctx context.Context, credential string) (*auth.Actor, error)
}

// Authenticate rejects requests without a live session and stores the
// resolved actor on the context.
func Authenticate(r Resolver) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			if header == "" {
				return echo.ErrUnauthorized
			}

			actor, err := r.ResolveActor(c.Request().Context(), header)
			switch {
			case errors.Is(err, auth.ErrUnauthenticated):
				return echo.ErrUnauthorized
			case err != nil:
				return echo.ErrInternalServerError.WithInternal(err)
			}

			c.Set(actorKey, actor)
			c.SetRequest(c.Request().WithContext(auth.WithActor(c.Request().Context(), actor)))
			return next(c)
		}
	}
}

// RequireEmployee admits only internal staff. It must run after Authenticate.
func RequireEmployee(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !Actor(c).IsEmployee() {
			return echo.NewHTTPError(http.StatusForbidden, "employee access required")
		}
		return next(c)
	}
}

// Actor returns the authenticated actor, or nil.
func Actor(c echo.Context) *auth.Actor {
	actor, _ := c.Get(actorKey).(*auth.Actor)
	return actor
}
