// Package ingest turns provider notifications and API requests into
// business events and hands them to the trigger matcher.
package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/opsdesk/opsdesk/internal/capability"
	"github.com/opsdesk/opsdesk/internal/directory"
	"github.com/opsdesk/opsdesk/internal/models"
	"gorm.io/gorm"
)

// ActorSystem attributes executions enqueued by sync jobs and webhooks.
const ActorSystem = "system"

var (
	ErrUnknownMailbox = errors.New("ingest: mailbox is not synced")
	ErrDuplicate      = errors.New("ingest: organization code already exists")
	ErrInvalid        = errors.New("ingest: invalid request")
)

// Enqueuer creates pending executions for business events.
type Enqueuer interface {
	Enqueue(ctx context.Context, event models.BusinessEvent, actor string) (*models.AutomationExecution, error)
}

type Service struct {
	db       *gorm.DB
	enqueuer Enqueuer
	suite    capability.Suite
	dir      *directory.Directory
	channels ChannelConfig
	now      func() time.Time
}

type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(db *gorm.DB, enqueuer Enqueuer, suite capability.Suite, opts ...Option) *Service {
	s := &Service{
		db:       db,
		enqueuer: enqueuer,
		suite:    suite,
		dir:      directory.New(db),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// enqueue hands event to the matcher and returns the execution, if any.
func (s *Service) enqueue(ctx context.Context, event models.BusinessEvent, actor string) (*models.AutomationExecution, error) {
	if actor == "" {
		actor = ActorSystem
	}
	return s.enqueuer.Enqueue(ctx, event, actor)
}
