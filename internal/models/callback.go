package models

import (
	"time"

	"github.com/google/uuid"
)

type CallbackStatus string

const (
	CallbackStatusRunning   CallbackStatus = "running"
	CallbackStatusSucceeded CallbackStatus = "succeeded"
	CallbackStatusFailed    CallbackStatus = "failed"
)

// Callback records one delivery of a terminal execution to a trigger's notify URL.
type Callback struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ExecutionID uuid.UUID      `gorm:"type:uuid;index;not null" json:"execution_id"`
	TriggerID   uuid.UUID      `gorm:"type:uuid;index;not null" json:"trigger_id"`
	URL         string         `gorm:"type:text;not null" json:"url"`
	Status      CallbackStatus `gorm:"type:text;index;not null" json:"status"`
	Error       string         `gorm:"type:text" json:"error,omitempty"`
	StartedAt   time.Time      `gorm:"not null" json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	CreatedAt   time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null" json:"updated_at"`
}

type Callbacks []*Callback
