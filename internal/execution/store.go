package execution

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/opsdesk/opsdesk/internal/metrics"
	"github.com/opsdesk/opsdesk/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultRetries = 3
	defaultBackoff = 100 * time.Millisecond
)

// Store is the persistence gateway for triggers, executions and the
// automation status of their source events.
type Store struct {
	db       *gorm.DB
	retries  uint64
	interval time.Duration
	now      func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithRetry bounds how often terminal and append writes are retried.
func WithRetry(retries uint64, interval time.Duration) Option {
	return func(s *Store) {
		s.retries = retries
		if interval > 0 {
			s.interval = interval
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func NewStore(db *gorm.DB, opts ...Option) *Store {
	if db == nil {
		panic("execution store requires a database connection")
	}

	s := &Store{
		db:       db,
		retries:  defaultRetries,
		interval: defaultBackoff,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) DB() *gorm.DB {
	return s.db
}

// Create inserts a pending execution.
func (s *Store) Create(ctx context.Context, exec *models.AutomationExecution) error {
	if exec.ID == uuid.Nil {
		exec.ID = uuid.New()
	}
	if exec.Status == "" {
		exec.Status = models.ExecutionStatusPending
	}
	if exec.Attempt == 0 {
		exec.Attempt = 1
	}
	if exec.TriggeredBy == "" {
		exec.TriggeredBy = models.SystemActor
	}
	if exec.ActionsTaken == nil {
		exec.ActionsTaken = datatypes.JSONSlice[models.ActionRecord]{}
	}
	return s.db.WithContext(ctx).Create(exec).Error
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*models.AutomationExecution, error) {
	exec := &models.AutomationExecution{}
	err := s.db.WithContext(ctx).First(exec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return exec, nil
}

func (s *Store) Trigger(ctx context.Context, id uuid.UUID) (*models.AutomationTrigger, error) {
	trigger := &models.AutomationTrigger{}
	if err := s.db.WithContext(ctx).First(trigger, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return trigger, nil
}

// Event loads the business event an execution of trigger type t acts on.
func (s *Store) Event(ctx context.Context, t models.TriggerType, sourceID string) (models.BusinessEvent, error) {
	var (
		event models.BusinessEvent
		q     = s.db.WithContext(ctx)
	)

	switch t {
	case models.TriggerTypeEmailReceived:
		event = &models.Email{}
	case models.TriggerTypeFileStatusChanged:
		event = &models.DriveItem{}
	case models.TriggerTypeCustomerCreated:
		event = &models.Organization{}
		q = q.Preload("Contacts")
	default:
		return nil, fmt.Errorf("unknown trigger type %q", t)
	}

	_, key, _ := models.SourceTable(t)
	if err := q.First(event, key+" = ?", sourceID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return event, nil
}

type ListRequest struct {
	TriggerID string
	Status    string
	SourceID  string
	Limit     int
	Offset    int
}

// List returns executions newest first.
func (s *Store) List(ctx context.Context, req *ListRequest) (models.AutomationExecutions, error) {
	var (
		execs = make(models.AutomationExecutions, 0)
		q     = s.db.WithContext(ctx)
	)

	if req.TriggerID != "" {
		if _, err := uuid.Parse(req.TriggerID); err != nil {
			return nil, err
		}
		q = q.Where("trigger_id = ?", req.TriggerID)
	}
	if req.Status != "" {
		q = q.Where("status = ?", strings.ToLower(req.Status))
	}
	if req.SourceID != "" {
		q = q.Where("trigger_source_id = ?", req.SourceID)
	}
	if req.Limit > 0 {
		q = q.Limit(req.Limit)
	}
	if req.Offset > 0 {
		q = q.Offset(req.Offset)
	}

	if err := q.Order("created_at DESC").Find(&execs).Error; err != nil {
		return nil, err
	}
	return execs, nil
}

// Enqueue creates a pending execution of trigger for the source and marks
// the source event pending. An open execution of the same trigger and
// source is returned instead of creating a second one.
func (s *Store) Enqueue(ctx context.Context, trigger *models.AutomationTrigger, sourceID, actor string) (*models.AutomationExecution, bool, error) {
	var (
		exec    *models.AutomationExecution
		created bool
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		open := &models.AutomationExecution{}
		err := tx.Where("trigger_id = ? AND trigger_source_id = ? AND status IN ?", trigger.ID, sourceID,
			[]models.ExecutionStatus{models.ExecutionStatusPending, models.ExecutionStatusRunning}).
			Order("created_at ASC").
			First(open).Error
		if err == nil {
			exec = open
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		if actor == "" {
			actor = models.SystemActor
		}
		exec = &models.AutomationExecution{
			ID:              uuid.New(),
			TriggerID:       trigger.ID,
			TriggerSourceID: sourceID,
			Status:          models.ExecutionStatusPending,
			ActionsTaken:    datatypes.JSONSlice[models.ActionRecord]{},
			Attempt:         1,
			TriggeredBy:     actor,
			CreatedAt:       s.now(),
		}
		if err := tx.Create(exec).Error; err != nil {
			return err
		}
		created = true

		return markEvent(tx, trigger.TriggerType, sourceID, models.AutomationStatusPending, time.Time{})
	})
	if err != nil {
		return nil, false, err
	}
	return exec, created, nil
}

// Claim atomically moves a pending execution to running. It returns
// ErrConflict when the execution is not pending or another execution of
// the same source is already running.
func (s *Store) Claim(ctx context.Context, id uuid.UUID, nodeID string) (*models.AutomationExecution, error) {
	// The claimed row is built from this read, so nothing can fail between
	// the update committing and the caller owning the execution.
	exec, err := s.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		metrics.ClaimContentionTotal.WithLabelValues(nodeID).Inc()
		return nil, ErrConflict
	}
	if err != nil {
		return nil, err
	}
	if exec.Status != models.ExecutionStatusPending {
		metrics.ClaimContentionTotal.WithLabelValues(nodeID).Inc()
		return nil, ErrConflict
	}

	now := s.now()

	result := s.db.WithContext(ctx).
		Model(&models.AutomationExecution{}).
		Where("id = ? AND status = ?", id, models.ExecutionStatusPending).
		Where(
			"NOT EXISTS (SELECT 1 FROM automation_executions r WHERE r.trigger_source_id = automation_executions.trigger_source_id AND r.status = ?)",
			models.ExecutionStatusRunning,
		).
		Updates(map[string]interface{}{
			"status":     models.ExecutionStatusRunning,
			"claimed_by": nodeID,
			"started_at": now,
		})
	if result.Error != nil {
		if isContention(result.Error) {
			metrics.ClaimContentionTotal.WithLabelValues(nodeID).Inc()
			return nil, ErrConflict
		}
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		// Another worker won the race, or the execution already moved on.
		metrics.ClaimContentionTotal.WithLabelValues(nodeID).Inc()
		return nil, ErrConflict
	}

	metrics.ClaimsTotal.WithLabelValues(nodeID).Inc()

	exec.Status = models.ExecutionStatusRunning
	exec.ClaimedBy = nodeID
	exec.StartedAt = &now
	return exec, nil
}

// AppendActions persists the full action record of a running execution.
// The record only ever grows, so rewriting it keeps it append-only.
func (s *Store) AppendActions(ctx context.Context, id uuid.UUID, actions []models.ActionRecord) error {
	return s.retry(ctx, "actions", func() error {
		result := s.db.WithContext(ctx).
			Model(&models.AutomationExecution{}).
			Where("id = ? AND status = ?", id, models.ExecutionStatusRunning).
			Update("actions_taken", datatypes.JSONSlice[models.ActionRecord](actions))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return backoff.Permanent(ErrConflict)
		}
		return nil
	})
}

// Outcome is the terminal state written by Finish.
type Outcome struct {
	Status       models.ExecutionStatus
	Actions      []models.ActionRecord
	FailedAction string
	Error        string
	SourceType   models.TriggerType
	SourceID     string
}

// Finish moves a running execution to a terminal status and flips the
// automation status of its source event in the same transaction.
func (s *Store) Finish(ctx context.Context, id uuid.UUID, out Outcome) (*time.Time, error) {
	if !CanTransition(models.ExecutionStatusRunning, out.Status) {
		return nil, errors.New("execution: finish requires a terminal status")
	}

	completedAt := s.now()
	updates := map[string]interface{}{
		"status":        out.Status,
		"actions_taken": datatypes.JSONSlice[models.ActionRecord](out.Actions),
		"completed_at":  completedAt,
		"failed_action": out.FailedAction,
	}
	if out.Error != "" {
		updates["error_message"] = out.Error
	}

	err := s.retry(ctx, "finish", func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			result := tx.Model(&models.AutomationExecution{}).
				Where("id = ? AND status = ?", id, models.ExecutionStatusRunning).
				Updates(updates)
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return backoff.Permanent(ErrConflict)
			}

			return markEvent(tx, out.SourceType, out.SourceID, EventStatusFor(out.Status), completedAt)
		})
	})
	if err != nil {
		return nil, err
	}
	return &completedAt, nil
}

// Retry creates a fresh pending execution for the source of a failed one.
// The failed execution itself is left untouched.
func (s *Store) Retry(ctx context.Context, id uuid.UUID, actor string) (*models.AutomationExecution, error) {
	var created *models.AutomationExecution

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		prev := &models.AutomationExecution{}
		if err := tx.First(prev, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if prev.Status != models.ExecutionStatusFailed {
			return fmt.Errorf("%w: only failed executions can be re-triggered", ErrNotRetryable)
		}

		var open int64
		if err := tx.Model(&models.AutomationExecution{}).
			Where("trigger_source_id = ? AND status IN ?", prev.TriggerSourceID,
				[]models.ExecutionStatus{models.ExecutionStatusPending, models.ExecutionStatusRunning}).
			Count(&open).Error; err != nil {
			return err
		}
		if open > 0 {
			return fmt.Errorf("%w: source already has an open execution", ErrNotRetryable)
		}

		trigger := &models.AutomationTrigger{}
		if err := tx.First(trigger, "id = ?", prev.TriggerID).Error; err != nil {
			return err
		}
		if !trigger.IsActive {
			return fmt.Errorf("%w: trigger is inactive", ErrNotRetryable)
		}

		retryOf := prev.ID
		created = &models.AutomationExecution{
			ID:              uuid.New(),
			TriggerID:       prev.TriggerID,
			TriggerSourceID: prev.TriggerSourceID,
			Status:          models.ExecutionStatusPending,
			ActionsTaken:    datatypes.JSONSlice[models.ActionRecord]{},
			Attempt:         prev.Attempt + 1,
			RetryOf:         &retryOf,
			TriggeredBy:     actor,
		}
		if err := tx.Create(created).Error; err != nil {
			return err
		}

		return markEvent(tx, trigger.TriggerType, prev.TriggerSourceID, models.AutomationStatusPending, time.Time{})
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func markEvent(tx *gorm.DB, t models.TriggerType, sourceID string, status models.AutomationStatus, processedAt time.Time) error {
	table, key, ok := models.SourceTable(t)
	if !ok || sourceID == "" {
		return nil
	}

	updates := map[string]interface{}{"automation_status": status}
	if processedAt.IsZero() {
		updates["automation_processed_at"] = nil
	} else {
		updates["automation_processed_at"] = processedAt
	}

	return tx.Table(table).Where(key+" = ?", sourceID).Updates(updates).Error
}

func (s *Store) retry(ctx context.Context, op string, fn func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.interval
	policy.MaxElapsedTime = 0

	err := backoff.Retry(fn, backoff.WithContext(backoff.WithMaxRetries(policy, s.retries), ctx))
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrConflict) {
		return err
	}

	metrics.PersistenceFailuresTotal.WithLabelValues(op).Inc()
	return &PersistenceError{Op: op, Err: err}
}
