package models

import (
	"slices"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const EmploymentStatusActive = "active"

type Employee struct {
	EmployeeEmail    string                      `gorm:"type:text;primaryKey" json:"employee_email"`
	FullName         string                      `gorm:"type:text" json:"full_name"`
	Phone            string                      `gorm:"type:text" json:"phone,omitempty"`
	Capabilities     datatypes.JSONSlice[string] `json:"capabilities"`
	EmploymentStatus string                      `gorm:"type:text;index;not null" json:"employment_status"`
	OutOfOffice      bool                        `gorm:"not null" json:"out_of_office"`
	GmailSyncEnabled bool                        `gorm:"not null" json:"gmail_sync_enabled"`
	LastEmailSweep   *time.Time                  `json:"last_email_sweep,omitempty"`
	CreatedAt        time.Time                   `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time                   `gorm:"not null" json:"updated_at"`
}

// Can reports whether the employee carries the capability.
func (e *Employee) Can(capability string) bool {
	return slices.Contains(e.Capabilities, capability)
}

const (
	ProjectStatusActive       = "active"
	ProjectTypeImplementation = "implementation"
)

type Project struct {
	ID                  uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ProjectCode         string    `gorm:"type:text;uniqueIndex;not null" json:"project_code"`
	ProjectName         string    `gorm:"type:text;not null" json:"project_name"`
	ProjectType         string    `gorm:"type:text" json:"project_type"`
	Status              string    `gorm:"type:text;index;not null" json:"status"`
	OrganizationID      uuid.UUID `gorm:"type:uuid;index;not null" json:"organization_id"`
	ProjectManagerEmail string    `gorm:"type:text" json:"project_manager_email,omitempty"`
	StartDate           time.Time `json:"start_date"`
	EndDate             time.Time `json:"end_date"`
	CreatedAt           time.Time `gorm:"not null;index" json:"created_at"`
	UpdatedAt           time.Time `gorm:"not null" json:"updated_at"`
}

type FolderTemplate struct {
	TemplateCode string                      `gorm:"type:text;primaryKey" json:"template_code"`
	TemplateName string                      `gorm:"type:text" json:"template_name"`
	Description  string                      `gorm:"type:text" json:"description,omitempty"`
	Structure    datatypes.JSONSlice[string] `json:"structure"`
	CreatedAt    time.Time                   `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time                   `gorm:"not null" json:"updated_at"`
}

type DocumentTemplate struct {
	ID               uuid.UUID                   `gorm:"type:uuid;primaryKey" json:"id"`
	TemplateName     string                      `gorm:"type:text;not null" json:"template_name"`
	FileGID          string                      `gorm:"column:file_gid;type:text;not null" json:"file_gid"`
	ForCustomerTypes datatypes.JSONSlice[string] `json:"for_customer_types"`
	CreatedAt        time.Time                   `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time                   `gorm:"not null" json:"updated_at"`
}
