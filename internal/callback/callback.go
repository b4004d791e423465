package callback

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opsdesk/opsdesk/internal/metrics"
	"github.com/opsdesk/opsdesk/internal/models"
	"github.com/opsdesk/opsdesk/pkg/log"
	"gorm.io/gorm"
)

// Metadata is the body posted to a trigger's notify URL once one of its
// executions reaches a terminal status.
type Metadata struct {
	ExecutionID     uuid.UUID             `json:"execution_id"`
	TriggerID       uuid.UUID             `json:"trigger_id"`
	TriggerName     string                `json:"trigger_name"`
	TriggerType     models.TriggerType    `json:"trigger_type"`
	ActionTemplate  string                `json:"action_template"`
	TriggerSourceID string                `json:"trigger_source_id"`
	Status          string                `json:"status"`
	Attempt         int                   `json:"attempt"`
	ActionsTaken    []models.ActionRecord `json:"actions_taken"`
	FailedAction    string                `json:"failed_action,omitempty"`
	Error           string                `json:"error,omitempty"`
	StartedAt       *time.Time            `json:"started_at,omitempty"`
	CompletedAt     *time.Time            `json:"completed_at,omitempty"`
}

// NewMetadata summarises a terminal execution.
func NewMetadata(exec *models.AutomationExecution, trigger *models.AutomationTrigger) Metadata {
	meta := Metadata{
		ExecutionID:     exec.ID,
		TriggerID:       trigger.ID,
		TriggerName:     trigger.TriggerName,
		TriggerType:     trigger.TriggerType,
		ActionTemplate:  trigger.ActionTemplate,
		TriggerSourceID: exec.TriggerSourceID,
		Status:          string(exec.Status),
		Attempt:         exec.Attempt,
		ActionsTaken:    append([]models.ActionRecord{}, exec.ActionsTaken...),
		FailedAction:    exec.FailedAction,
		StartedAt:       exec.StartedAt,
		CompletedAt:     exec.CompletedAt,
	}
	if exec.ErrorMessage != nil {
		meta.Error = *exec.ErrorMessage
	}
	return meta
}

// Dispatcher delivers execution notifications and records each delivery.
type Dispatcher struct {
	db      *gorm.DB
	handler *NotificationHandler
	timeout time.Duration
	now     func() time.Time
}

// NewDispatcher constructs a Dispatcher backed by the provided DB.
func NewDispatcher(conn *gorm.DB, timeout time.Duration) *Dispatcher {
	if conn == nil {
		panic("callback dispatcher requires a database connection")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		db:      conn,
		handler: NewNotificationHandler(nil),
		timeout: timeout,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithHTTPClient overrides the HTTP client used for deliveries (primarily for tests).
func (d *Dispatcher) WithHTTPClient(client *http.Client) {
	if client == nil {
		return
	}
	d.handler.client = client
}

// Dispatch notifies the trigger's notify URL about a terminal execution.
// Triggers without a notify URL are ignored.
func (d *Dispatcher) Dispatch(ctx context.Context, exec *models.AutomationExecution, trigger *models.AutomationTrigger) error {
	if exec == nil || trigger == nil {
		return errors.New("callback: execution and trigger are required")
	}

	target := strings.TrimSpace(trigger.NotifyURL)
	if target == "" {
		return nil
	}
	if !exec.Status.Terminal() {
		return fmt.Errorf("callback: execution %s is %s", exec.ID, exec.Status)
	}

	return d.invoke(ensureContext(ctx), target, NewMetadata(exec, trigger))
}

// RetryFailed re-delivers the notification of an execution whose most recent
// delivery failed.
func (d *Dispatcher) RetryFailed(ctx context.Context, executionID uuid.UUID) error {
	dispatchCtx := ensureContext(ctx)

	var last models.Callback
	err := d.db.WithContext(dispatchCtx).
		Where("execution_id = ?", executionID).
		Order("created_at desc").
		First(&last).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load callbacks: %w", err)
	}
	if last.Status != models.CallbackStatusFailed {
		return nil
	}

	var exec models.AutomationExecution
	if err := d.db.WithContext(dispatchCtx).First(&exec, "id = ?", executionID).Error; err != nil {
		return fmt.Errorf("load execution: %w", err)
	}
	var trigger models.AutomationTrigger
	if err := d.db.WithContext(dispatchCtx).First(&trigger, "id = ?", exec.TriggerID).Error; err != nil {
		return fmt.Errorf("load trigger: %w", err)
	}

	target := strings.TrimSpace(trigger.NotifyURL)
	if target == "" {
		target = last.URL
	}
	return d.invoke(dispatchCtx, target, NewMetadata(&exec, &trigger))
}

// History lists deliveries for an execution, oldest first.
func (d *Dispatcher) History(ctx context.Context, executionID uuid.UUID) (models.Callbacks, error) {
	var out models.Callbacks
	err := d.db.WithContext(ctx).
		Where("execution_id = ?", executionID).
		Order("created_at asc").
		Find(&out).Error
	return out, err
}

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithoutCancel(ctx)
}

func (d *Dispatcher) invoke(ctx context.Context, target string, meta Metadata) error {
	started := d.now()
	record := &models.Callback{
		ID:          uuid.New(),
		ExecutionID: meta.ExecutionID,
		TriggerID:   meta.TriggerID,
		URL:         target,
		Status:      models.CallbackStatusRunning,
		StartedAt:   started,
		CreatedAt:   started,
	}
	if err := d.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("record callback: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	err := d.handler.Handle(callCtx, target, meta)
	cancel()

	status := models.CallbackStatusSucceeded
	errMsg := ""
	if err != nil {
		status = models.CallbackStatusFailed
		errMsg = err.Error()
		log.Warn("execution callback failed", "execution_id", meta.ExecutionID, "url", target, "error", err)
	}
	metrics.CallbacksTotal.WithLabelValues(string(status)).Inc()

	if updateErr := d.complete(ctx, record.ID, status, errMsg); updateErr != nil {
		return errors.Join(err, updateErr)
	}
	if err != nil {
		return fmt.Errorf("callback %s: %w", record.ID, err)
	}
	return nil
}

func (d *Dispatcher) complete(ctx context.Context, id uuid.UUID, status models.CallbackStatus, errMsg string) error {
	now := d.now()
	updates := map[string]any{
		"status":       status,
		"completed_at": &now,
	}
	if errMsg != "" {
		updates["error"] = errMsg
	}
	return d.db.WithContext(ctx).
		Model(&models.Callback{}).
		Where("id = ?", id).
		Updates(updates).Error
}
