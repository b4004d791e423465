package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// Terminal reports whether no transition leaves s.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed
}

func (s ExecutionStatus) Valid() bool {
	switch s {
	case ExecutionStatusPending, ExecutionStatusRunning, ExecutionStatusCompleted, ExecutionStatusFailed:
		return true
	}
	return false
}

// SystemActor attributes executions started by the scheduler or a webhook.
const SystemActor = "system"

// ActionRecord is one performed side effect of an execution.
type ActionRecord struct {
	Action string         `json:"action"`
	Result map[string]any `json:"result,omitempty"`
	At     time.Time      `json:"at"`
}

type AutomationExecution struct {
	ID              uuid.UUID                         `gorm:"type:uuid;primaryKey" json:"id"`
	TriggerID       uuid.UUID                         `gorm:"type:uuid;index;not null" json:"trigger_id"`
	TriggerSourceID string                            `gorm:"type:text;index;not null" json:"trigger_source_id"`
	Status          ExecutionStatus                   `gorm:"type:text;index;not null" json:"status"`
	ActionsTaken    datatypes.JSONSlice[ActionRecord] `json:"actions_taken"`
	FailedAction    string                            `gorm:"type:text" json:"failed_action,omitempty"`
	ErrorMessage    *string                           `gorm:"type:text" json:"error_message,omitempty"`
	ClaimedBy       string                            `gorm:"type:text;not null;default:''" json:"claimed_by,omitempty"`
	Attempt         int                               `gorm:"not null;default:1" json:"attempt"`
	RetryOf         *uuid.UUID                        `gorm:"type:uuid" json:"retry_of,omitempty"`
	TriggeredBy     string                            `gorm:"type:text;not null" json:"triggered_by"`
	StartedAt       *time.Time                        `json:"started_at,omitempty"`
	CompletedAt     *time.Time                        `json:"completed_at,omitempty"`
	CreatedAt       time.Time                         `gorm:"not null;index" json:"created_at"`
	UpdatedAt       time.Time                         `gorm:"not null" json:"updated_at"`
}

type AutomationExecutions []*AutomationExecution
