package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type TriggerType string

const (
	TriggerTypeEmailReceived     TriggerType = "email_received"
	TriggerTypeFileStatusChanged TriggerType = "file_status_changed"
	TriggerTypeCustomerCreated   TriggerType = "customer_created"
)

// Valid reports whether t is a known trigger type.
func (t TriggerType) Valid() bool {
	switch t {
	case TriggerTypeEmailReceived, TriggerTypeFileStatusChanged, TriggerTypeCustomerCreated:
		return true
	}
	return false
}

// Condition is a single predicate over event attributes.
type Condition struct {
	Field string `json:"field" yaml:"field"`
	Op    string `json:"op" yaml:"op"`
	Value any    `json:"value,omitempty" yaml:"value,omitempty"`
}

type AutomationTrigger struct {
	ID             uuid.UUID                      `gorm:"type:uuid;primaryKey" json:"id"`
	TriggerName    string                         `gorm:"type:text;uniqueIndex;not null" json:"trigger_name"`
	TriggerType    TriggerType                    `gorm:"type:text;index;not null" json:"trigger_type"`
	Conditions     datatypes.JSONSlice[Condition] `json:"conditions"`
	ActionTemplate string                         `gorm:"type:text;not null" json:"action_template"`
	ActionConfig   datatypes.JSONMap              `gorm:"type:json" json:"action_config,omitempty"`
	IsActive       bool                           `gorm:"index;not null" json:"is_active"`
	NotifyURL      string                         `gorm:"type:text" json:"notify_url,omitempty"`
	CreatedAt      time.Time                      `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time                      `gorm:"not null" json:"updated_at"`
}

type AutomationTriggers []*AutomationTrigger
