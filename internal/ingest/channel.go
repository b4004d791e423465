package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opsdesk/opsdesk/internal/capability"
	"github.com/opsdesk/opsdesk/internal/models"
	"github.com/opsdesk/opsdesk/pkg/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultChannelTTL is the lifetime requested for document channels.
const DefaultChannelTTL = 24 * time.Hour

var ErrChannelsDisabled = errors.New("ingest: push channels are not configured")

// ChannelConfig configures push-channel registration. Topic is the Pub/Sub
// topic Gmail publishes to; BaseURL is the public address of this service,
// to which Drive posts /webhooks/drive notifications.
type ChannelConfig struct {
	Topic   string
	BaseURL string
	Token   string
	TTL     time.Duration
}

// WithChannels enables push-channel registration.
func WithChannels(cfg ChannelConfig) Option {
	return func(s *Service) {
		if cfg.TTL <= 0 {
			cfg.TTL = DefaultChannelTTL
		}
		cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
		s.channels = cfg
	}
}

// WatchMailbox registers, or renews, the Gmail push channel of a synced
// mailbox.
func (s *Service) WatchMailbox(ctx context.Context, mailbox string) (*models.PushChannel, error) {
	if s.channels.Topic == "" {
		return nil, fmt.Errorf("%w: no Pub/Sub topic", ErrChannelsDisabled)
	}

	emp, err := s.dir.Employee(ctx, mailbox)
	if err != nil {
		return nil, err
	}
	if emp == nil || !emp.GmailSyncEnabled || emp.EmploymentStatus != models.EmploymentStatusActive {
		return nil, ErrUnknownMailbox
	}

	ch, err := s.suite.Mail.WatchMailbox(ctx, emp.EmployeeEmail, s.channels.Topic)
	if err != nil {
		return nil, fmt.Errorf("watch mailbox %s: %w", emp.EmployeeEmail, err)
	}

	return s.saveChannel(ctx, &models.PushChannel{
		Kind:               models.ChannelKindGmail,
		ResourceID:         emp.EmployeeEmail,
		ChannelID:          ch.ID,
		ProviderResourceID: ch.ResourceID,
		Address:            s.channels.Topic,
		HistoryID:          ch.HistoryID,
		Expiration:         ch.Expiration,
	})
}

// WatchDocument registers a Drive channel for changes of one document. A
// new channel replaces the stored one; the old channel expires on its own.
func (s *Service) WatchDocument(ctx context.Context, gid string) (*models.PushChannel, error) {
	if s.channels.BaseURL == "" {
		return nil, fmt.Errorf("%w: no public base URL", ErrChannelsDisabled)
	}
	gid = strings.TrimSpace(gid)
	if gid == "" {
		return nil, fmt.Errorf("%w: no document id", ErrInvalid)
	}

	req := capability.WatchRequest{
		ChannelID:  "drive-" + uuid.NewString(),
		Address:    s.channels.BaseURL + "/webhooks/drive",
		Token:      s.channels.Token,
		Expiration: s.now().Add(s.channels.TTL),
	}
	ch, err := s.suite.Documents.WatchFile(ctx, gid, req)
	if err != nil {
		return nil, fmt.Errorf("watch document %s: %w", gid, err)
	}

	expiration := ch.Expiration
	if expiration.IsZero() {
		expiration = req.Expiration
	}
	return s.saveChannel(ctx, &models.PushChannel{
		Kind:               models.ChannelKindDrive,
		ResourceID:         gid,
		ChannelID:          ch.ID,
		ProviderResourceID: ch.ResourceID,
		Address:            req.Address,
		Expiration:         expiration,
	})
}

func (s *Service) saveChannel(ctx context.Context, ch *models.PushChannel) (*models.PushChannel, error) {
	now := s.now()
	ch.ID = uuid.New()
	ch.CreatedAt = now
	ch.UpdatedAt = now

	db := s.db.WithContext(ctx)
	err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "kind"}, {Name: "resource_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"channel_id", "provider_resource_id", "address", "history_id", "expiration", "updated_at",
		}),
	}).Create(ch).Error
	if err != nil {
		return nil, fmt.Errorf("store %s channel %s: %w", ch.Kind, ch.ResourceID, err)
	}

	stored := &models.PushChannel{}
	if err := db.Where("kind = ? AND resource_id = ?", ch.Kind, ch.ResourceID).Take(stored).Error; err != nil {
		return nil, err
	}
	log.Info("push channel registered", "kind", stored.Kind, "resource", stored.ResourceID, "channel_id", stored.ChannelID, "expiration", stored.Expiration)
	return stored, nil
}

// Channels lists the registered push channels, soonest expiry first.
func (s *Service) Channels(ctx context.Context) (models.PushChannels, error) {
	out := make(models.PushChannels, 0)
	err := s.db.WithContext(ctx).Order("expiration, kind, resource_id").Find(&out).Error
	return out, err
}

// ChannelDocument resolves the document gid of a Drive channel id.
func (s *Service) ChannelDocument(ctx context.Context, channelID string) (string, bool, error) {
	ch := &models.PushChannel{}
	err := s.db.WithContext(ctx).
		Where("kind = ? AND channel_id = ?", models.ChannelKindDrive, channelID).
		Take(ch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return ch.ResourceID, true, nil
}

// RenewResult reports one RenewChannels pass.
type RenewResult struct {
	Renewed int `json:"renewed"`
	Failed  int `json:"failed"`
}

// RenewChannels registers a Gmail channel for every synced mailbox that has
// none or whose channel expires within window, and re-watches every
// document channel expiring within window. Failures are logged and counted.
func (s *Service) RenewChannels(ctx context.Context, window time.Duration) (*RenewResult, error) {
	deadline := s.now().Add(window)
	res := &RenewResult{}

	renew := func(kind models.ChannelKind, resource string, fn func(context.Context, string) (*models.PushChannel, error)) {
		if _, err := fn(ctx, resource); err != nil {
			res.Failed++
			log.Error("push channel renewal failed", "kind", kind, "resource", resource, "error", err)
			return
		}
		res.Renewed++
	}

	if s.channels.Topic != "" {
		emps, err := s.dir.SyncableMailboxes(ctx)
		if err != nil {
			return nil, err
		}

		var current []string
		if err := s.db.WithContext(ctx).Model(&models.PushChannel{}).
			Where("kind = ? AND expiration > ?", models.ChannelKindGmail, deadline).
			Pluck("resource_id", &current).Error; err != nil {
			return nil, err
		}
		fresh := make(map[string]bool, len(current))
		for _, r := range current {
			fresh[r] = true
		}

		for _, emp := range emps {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			if !fresh[emp.EmployeeEmail] {
				renew(models.ChannelKindGmail, emp.EmployeeEmail, s.WatchMailbox)
			}
		}
	}

	if s.channels.BaseURL != "" {
		var docs []string
		if err := s.db.WithContext(ctx).Model(&models.PushChannel{}).
			Where("kind = ? AND expiration <= ?", models.ChannelKindDrive, deadline).
			Order("resource_id").
			Pluck("resource_id", &docs).Error; err != nil {
			return nil, err
		}
		for _, gid := range docs {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			renew(models.ChannelKindDrive, gid, s.WatchDocument)
		}
	}

	return res, nil
}
