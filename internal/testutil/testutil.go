package testutil

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/opsdesk/opsdesk/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SampleTriggers is a baseline manifest used across definition and importer tests.
const SampleTriggers = `
apiVersion: v1
kind: Trigger
metadata:
  name: auto-reply-support
trigger:
  type: email_received
  conditions:
    - field: to_emails
      op: contains
      value: support@example.com
action:
  template: send_auto_reply
  config:
    template: default_reply
    create_task: true
---
apiVersion: v1
kind: Trigger
metadata:
  name: review-ready-documents
trigger:
  type: file_status_changed
  conditions:
    - field: status
      op: eq
      value: READY
action:
  template: assign_review_task
  config:
    assignee_role: technical
    sla_hours: 8
`

// OpenTestDB returns an in-memory sqlite DB with migrations applied.
func OpenTestDB(tb testing.TB) *gorm.DB {
	tb.Helper()

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		tb.Fatalf("open sqlite: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		tb.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := models.Migrate(db); err != nil {
		tb.Fatalf("migrate: %v", err)
	}

	return db
}

// CloseDB closes the underlying sql.DB if available.
func CloseDB(db *gorm.DB) {
	if db == nil {
		return
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
}

// AssertCount asserts a count for the provided model using the supplied DB.
func AssertCount(tb testing.TB, db *gorm.DB, model any, expected int64) {
	tb.Helper()

	var count int64
	if err := db.Model(model).Count(&count).Error; err != nil {
		tb.Fatalf("count: %v", err)
	}
	if count != expected {
		tb.Fatalf("expected %d records, got %d", expected, count)
	}
}

// MustCreate inserts records and fails the test on error.
func MustCreate(tb testing.TB, db *gorm.DB, records ...any) {
	tb.Helper()

	for _, r := range records {
		if err := db.Create(r).Error; err != nil {
			tb.Fatalf("create %T: %v", r, err)
		}
	}
}

// Employee builds an active employee with the given capabilities.
func Employee(email string, capabilities ...string) *models.Employee {
	return &models.Employee{
		EmployeeEmail:    email,
		FullName:         email,
		Capabilities:     capabilities,
		EmploymentStatus: models.EmploymentStatusActive,
	}
}

// PendingTasks builds n pending sidebar tasks assigned to email.
func PendingTasks(email string, n int) []any {
	out := make([]any, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, &models.SidebarTask{
			ID:            uuid.New(),
			TaskType:      "respond",
			Title:         "existing work",
			EmployeeEmail: email,
			Priority:      models.TaskPriorityNormal,
			Status:        models.TaskStatusPending,
			DueAt:         time.Now().Add(24 * time.Hour),
		})
	}
	return out
}

// Trigger builds an active trigger.
func Trigger(name string, t models.TriggerType, template string, cfg map[string]any, conds ...models.Condition) *models.AutomationTrigger {
	if conds == nil {
		conds = []models.Condition{}
	}
	return &models.AutomationTrigger{
		ID:             uuid.New(),
		TriggerName:    name,
		TriggerType:    t,
		Conditions:     conds,
		ActionTemplate: template,
		ActionConfig:   cfg,
		IsActive:       true,
	}
}

// PendingExecution builds a pending execution of trigger against sourceID.
func PendingExecution(trigger *models.AutomationTrigger, sourceID string, createdAt time.Time) *models.AutomationExecution {
	return &models.AutomationExecution{
		ID:              uuid.New(),
		TriggerID:       trigger.ID,
		TriggerSourceID: sourceID,
		Status:          models.ExecutionStatusPending,
		ActionsTaken:    []models.ActionRecord{},
		Attempt:         1,
		TriggeredBy:     models.SystemActor,
		CreatedAt:       createdAt,
	}
}
