package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusDismissed TaskStatus = "dismissed"
)

type TaskPriority string

const (
	TaskPriorityLow    TaskPriority = "low"
	TaskPriorityNormal TaskPriority = "normal"
	TaskPriorityHigh   TaskPriority = "high"
	TaskPriorityUrgent TaskPriority = "urgent"
)

// QuickAction is a one-click operation offered alongside a sidebar task.
type QuickAction struct {
	Label  string            `json:"label"`
	Action string            `json:"action"`
	Params map[string]string `json:"params,omitempty"`
}

type SidebarTask struct {
	ID            uuid.UUID                        `gorm:"type:uuid;primaryKey" json:"id"`
	TaskType      string                           `gorm:"type:text;not null" json:"task_type"`
	Title         string                           `gorm:"type:text;not null" json:"title"`
	Description   string                           `gorm:"type:text" json:"description,omitempty"`
	EmployeeEmail string                           `gorm:"type:text;index;not null" json:"employee_email"`
	Priority      TaskPriority                     `gorm:"type:text;not null" json:"priority"`
	Status        TaskStatus                       `gorm:"type:text;index;not null" json:"status"`
	DueAt         time.Time                        `json:"due_at"`
	RelatedType   string                           `gorm:"type:text" json:"related_type,omitempty"`
	RelatedID     string                           `gorm:"type:text;index" json:"related_id,omitempty"`
	QuickActions  datatypes.JSONSlice[QuickAction] `json:"quick_actions,omitempty"`
	CompletedAt   *time.Time                       `json:"completed_at,omitempty"`
	DismissedAt   *time.Time                       `json:"dismissed_at,omitempty"`
	CreatedAt     time.Time                        `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time                        `gorm:"not null" json:"updated_at"`
}

type SidebarTasks []*SidebarTask
