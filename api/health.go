package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const probeTimeout = 2 * time.Second

var startedAt time.Time

func init() {
	startedAt = time.Now()
}

// HealthResponse defines the data the Health
// REST endpoint returns.
type HealthResponse struct {
	Status   Status        `json:"status"`
	Uptime   time.Duration `json:"uptime"`
	Database Status        `json:"database"`
	Redis    Status        `json:"redis"`
}

// Status enumerates the health statues of opsdesk.
type Status string

const (
	// Healthy implies opsdesk is having no major issues.
	Healthy Status = "healthy"
	// Degraded means an optional dependency is down.
	Degraded Status = "degraded"
	// Unhealthy means the database is unreachable.
	Unhealthy Status = "unhealthy"
	// Disabled marks a dependency that is not configured.
	Disabled Status = "disabled"
)

type Health struct {
	db    *gorm.DB
	redis redis.UniversalClient
}

func NewHealth(db *gorm.DB, client redis.UniversalClient) *Health {
	return &Health{db: db, redis: client}
}

// Get is used to determine if opsdesk is healthy.
// The response also includes the uptime.
func (h *Health) Get(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), probeTimeout)
	defer cancel()

	resp := HealthResponse{
		Status:   Healthy,
		Uptime:   time.Since(startedAt),
		Database: h.database(ctx),
		Redis:    h.cache(ctx),
	}

	code := http.StatusOK
	switch {
	case resp.Database != Healthy:
		resp.Status = Unhealthy
		code = http.StatusServiceUnavailable
	case resp.Redis == Unhealthy:
		resp.Status = Degraded
	}

	return c.JSON(code, resp)
}

func (h *Health) database(ctx context.Context) Status {
	if h.db == nil {
		return Unhealthy
	}
	sqlDB, err := h.db.DB()
	if err != nil || sqlDB.PingContext(ctx) != nil {
		return Unhealthy
	}
	return Healthy
}

func (h *Health) cache(ctx context.Context) Status {
	if h.redis == nil {
		return Disabled
	}
	if err := h.redis.Ping(ctx).Err(); err != nil {
		return Unhealthy
	}
	return Healthy
}
