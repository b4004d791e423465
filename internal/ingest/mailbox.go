package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/opsdesk/opsdesk/internal/capability"
	"github.com/opsdesk/opsdesk/internal/models"
	"github.com/opsdesk/opsdesk/pkg/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ResourceGmail is the sync_states resource type of a mailbox.
const ResourceGmail = "gmail"

// SyncResult reports one mailbox sync.
type SyncResult struct {
	Mailbox    string      `json:"mailbox"`
	HistoryID  uint64      `json:"history_id"`
	Full       bool        `json:"full"`
	Fetched    int         `json:"fetched"`
	Inserted   int         `json:"inserted"`
	Executions []uuid.UUID `json:"executions,omitempty"`
}

// SyncMailbox reads the mailbox history since the stored cursor, stores new
// messages and enqueues them. Without a cursor, or when the provider no
// longer knows it, a full listing is read instead. hint seeds the cursor of
// a mailbox that was never synced.
func (s *Service) SyncMailbox(ctx context.Context, mailbox string, hint uint64) (*SyncResult, error) {
	mailbox = strings.ToLower(strings.TrimSpace(mailbox))

	state := models.SyncState{ResourceType: ResourceGmail, ResourceID: mailbox}
	err := s.db.WithContext(ctx).
		Where("resource_type = ? AND resource_id = ?", ResourceGmail, mailbox).
		Take(&state).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("load sync state %s: %w", mailbox, err)
	}

	start := state.HistoryID
	if start == 0 {
		start = hint
	}

	delta, err := s.suite.Mail.History(ctx, mailbox, start)
	if err != nil && start > 0 && capability.IsNotFound(err) {
		log.Warn("history cursor expired, running full sync", "mailbox", mailbox, "history_id", start)
		delta, err = s.suite.Mail.History(ctx, mailbox, 0)
	}
	if err != nil {
		return nil, fmt.Errorf("read history %s: %w", mailbox, err)
	}

	res := &SyncResult{Mailbox: mailbox, HistoryID: delta.HistoryID, Full: delta.Full, Fetched: len(delta.Messages)}
	for _, msg := range delta.Messages {
		email, created, err := s.storeMessage(ctx, mailbox, msg)
		if err != nil {
			return res, err
		}
		if !created {
			continue
		}
		res.Inserted++

		exec, err := s.enqueue(ctx, email, ActorSystem)
		if err != nil {
			return res, err
		}
		if exec != nil {
			res.Executions = append(res.Executions, exec.ID)
		}
	}

	now := s.now()
	state.HistoryID = delta.HistoryID
	state.LastSyncAt = now
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "resource_type"}, {Name: "resource_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"history_id", "last_sync_at"}),
	}).Create(&state).Error; err != nil {
		return res, fmt.Errorf("save sync state %s: %w", mailbox, err)
	}

	if err := s.db.WithContext(ctx).Model(&models.Employee{}).
		Where("employee_email = ?", mailbox).
		Update("last_email_sweep", now).Error; err != nil {
		return res, err
	}

	log.Info("mailbox synced",
		"mailbox", mailbox, "history_id", delta.HistoryID, "full", delta.Full,
		"fetched", res.Fetched, "inserted", res.Inserted, "enqueued", len(res.Executions))
	return res, nil
}

// storeMessage inserts msg unless the mailbox already holds it.
func (s *Service) storeMessage(ctx context.Context, mailbox string, msg capability.Message) (*models.Email, bool, error) {
	messageID := msg.MessageID
	if messageID == "" {
		messageID = "<" + msg.ID + ">"
	}

	email := &models.Email{
		ID:             uuid.New(),
		MessageID:      messageID,
		EmployeeEmail:  mailbox,
		GmailMessageID: msg.ID,
		ThreadID:       msg.ThreadID,
		Subject:        msg.Subject,
		FromEmail:      strings.ToLower(msg.From),
		ToEmails:       datatypes.NewJSONSlice(lower(msg.To)),
		Snippet:        msg.Snippet,
		Labels:         datatypes.NewJSONSlice(msg.Labels),
		IsUnread:       msg.Unread,
		InternalDate:   msg.InternalDate,
	}

	tx := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "message_id"}, {Name: "employee_email"}},
		DoNothing: true,
	}).Create(email)
	if tx.Error != nil {
		return nil, false, fmt.Errorf("store message %s: %w", msg.ID, tx.Error)
	}
	return email, tx.RowsAffected == 1, nil
}

// SyncAll syncs every active mailbox with sync enabled. Failures are logged
// and counted; one mailbox never stops the others.
func (s *Service) SyncAll(ctx context.Context) ([]*SyncResult, int, error) {
	emps, err := s.dir.SyncableMailboxes(ctx)
	if err != nil {
		return nil, 0, err
	}

	var (
		out    []*SyncResult
		failed int
	)
	for _, emp := range emps {
		if ctx.Err() != nil {
			return out, failed, ctx.Err()
		}
		res, err := s.SyncMailbox(ctx, emp.EmployeeEmail, 0)
		if err != nil {
			failed++
			log.Error("mailbox sync failed", "mailbox", emp.EmployeeEmail, "error", err)
			continue
		}
		out = append(out, res)
	}
	return out, failed, nil
}

// HandleGmailPush syncs the mailbox named by a push notification.
func (s *Service) HandleGmailPush(ctx context.Context, n *GmailNotification) (*SyncResult, error) {
	emp, err := s.dir.Employee(ctx, n.EmailAddress)
	if err != nil {
		return nil, err
	}
	if emp == nil || !emp.GmailSyncEnabled || emp.EmploymentStatus != models.EmploymentStatusActive {
		return nil, ErrUnknownMailbox
	}
	return s.SyncMailbox(ctx, emp.EmployeeEmail, n.HistoryID)
}

func lower(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		out = append(out, strings.ToLower(strings.TrimSpace(v)))
	}
	return out
}
