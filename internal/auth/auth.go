// Package auth issues and resolves the bearer credentials of the two user
// classes: employees logging in with a password, and pre-approved customer
// or partner accounts logging in with an SMS one-time code.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opsdesk/opsdesk/internal/models"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

var (
	ErrUnauthenticated    = errors.New("auth: unauthenticated")
	ErrForbidden          = errors.New("auth: forbidden")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrNotPreapproved     = errors.New("auth: account is not pre-approved")
	ErrCodeExpired        = errors.New("auth: verification code expired")
	ErrCodeInvalid        = errors.New("auth: invalid verification code")
	ErrTooManyAttempts    = errors.New("auth: too many verification attempts")
)

// Actor is the resolved identity behind a credential.
type Actor struct {
	ID        uuid.UUID   `json:"actor_id"`
	Email     string      `json:"email"`
	Role      models.Role `json:"role"`
	SessionID uuid.UUID   `json:"session_id"`
}

// IsEmployee reports whether the actor is internal staff.
func (a *Actor) IsEmployee() bool {
	return a != nil && a.Role == models.RoleEmployee
}

// ClientMeta describes the client a session is issued to.
type ClientMeta struct {
	IPAddress string
	UserAgent string
}

// Session is an issued credential.
type Session struct {
	Token     string    `json:"access_token"`
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
	Actor     *Actor    `json:"actor"`
}

type Config struct {
	Secret         string
	CompanyDomain  string
	SessionTTL     time.Duration
	OTPExpiry      time.Duration
	OTPMaxAttempts int
}

type Gateway struct {
	db    *gorm.DB
	cfg   Config
	cache redis.UniversalClient
	sms   SMSSender
	now   func() time.Time
	code  func() (string, error)
}

type Option func(*Gateway)

// WithCache enables the redis session cache.
func WithCache(client redis.UniversalClient) Option {
	return func(g *Gateway) {
		g.cache = client
	}
}

func WithSMS(sender SMSSender) Option {
	return func(g *Gateway) {
		if sender != nil {
			g.sms = sender
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		if now != nil {
			g.now = now
		}
	}
}

// WithCodeGenerator overrides how one-time codes are generated.
func WithCodeGenerator(fn func() (string, error)) Option {
	return func(g *Gateway) {
		if fn != nil {
			g.code = fn
		}
	}
}

func NewGateway(db *gorm.DB, cfg Config, opts ...Option) (*Gateway, error) {
	if cfg.Secret == "" {
		return nil, errors.New("auth: signing secret is required")
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 8 * time.Hour
	}
	if cfg.OTPExpiry <= 0 {
		cfg.OTPExpiry = 10 * time.Minute
	}
	if cfg.OTPMaxAttempts <= 0 {
		cfg.OTPMaxAttempts = 3
	}
	cfg.CompanyDomain = strings.ToLower(strings.TrimPrefix(cfg.CompanyDomain, "@"))

	g := &Gateway{
		db:   db,
		cfg:  cfg,
		sms:  LogSender{},
		now:  func() time.Time { return time.Now().UTC() },
		code: generateCode,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

type actorKey struct{}

// WithActor returns a context carrying actor.
func WithActor(ctx context.Context, actor *Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the actor stored by WithActor, if any.
func ActorFrom(ctx context.Context) (*Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(*Actor)
	return actor, ok && actor != nil
}
