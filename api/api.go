package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/opsdesk/opsdesk/api/rest/bind"
	"github.com/opsdesk/opsdesk/api/rest/middleware"
	"github.com/opsdesk/opsdesk/pkg/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

const shutdownTimeout = 10 * time.Second

type Config struct {
	Port  int
	Redis redis.UniversalClient
	// Registry receives the HTTP metrics. Nil uses the default registry.
	Registry *prometheus.Registry
}

// New builds opsdesk's HTTP API.
func New(cfg Config, deps *bind.Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = middleware.NewValidator()

	// health
	e.GET("/health", NewHealth(deps.DB, cfg.Redis).Get)

	// metrics
	if cfg.Registry != nil {
		e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
			Subsystem:  "opsdesk",
			Registerer: cfg.Registry,
		}))
		e.GET("/metrics", echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{Gatherer: cfg.Registry}))
	} else {
		e.Use(echoprometheus.NewMiddleware("opsdesk"))
		e.GET("/metrics", echoprometheus.NewHandler())
	}

	// REST
	bind.All(e, deps)

	return e
}

// Start serves e on the configured port until ctx ends.
func Start(ctx context.Context, cfg Config, e *echo.Echo) error {
	errs := make(chan error, 1)
	go func() {
		log.Info("api listening", "port", cfg.Port)
		errs <- e.Start(fmt.Sprintf(":%v", cfg.Port))
	}()

	select {
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	}
}
