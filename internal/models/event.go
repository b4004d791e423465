package models

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// AutomationStatus tracks a business event through automation. The empty
// value means no trigger matched the event.
type AutomationStatus string

const (
	AutomationStatusNone      AutomationStatus = ""
	AutomationStatusPending   AutomationStatus = "pending"
	AutomationStatusCompleted AutomationStatus = "completed"
	AutomationStatusFailed    AutomationStatus = "failed"
)

type Email struct {
	ID                    uuid.UUID                   `gorm:"type:uuid;primaryKey" json:"id"`
	MessageID             string                      `gorm:"type:text;uniqueIndex:ux_emails_message_mailbox;not null" json:"message_id"`
	EmployeeEmail         string                      `gorm:"type:text;uniqueIndex:ux_emails_message_mailbox;index;not null" json:"employee_email"`
	GmailMessageID        string                      `gorm:"type:text;index" json:"gmail_message_id"`
	ThreadID              string                      `gorm:"type:text" json:"thread_id"`
	Subject               string                      `gorm:"type:text" json:"subject"`
	FromEmail             string                      `gorm:"type:text;index" json:"from_email"`
	ToEmails              datatypes.JSONSlice[string] `json:"to_emails"`
	Snippet               string                      `gorm:"type:text" json:"snippet"`
	Labels                datatypes.JSONSlice[string] `json:"labels"`
	IsUnread              bool                        `json:"is_unread"`
	InternalDate          time.Time                   `json:"internal_date"`
	AutomationStatus      AutomationStatus            `gorm:"type:text;index;not null;default:''" json:"automation_status"`
	AutomationProcessedAt *time.Time                  `json:"automation_processed_at,omitempty"`
	CreatedAt             time.Time                   `gorm:"not null" json:"created_at"`
	UpdatedAt             time.Time                   `gorm:"not null" json:"updated_at"`
}

type DriveItem struct {
	GID                   string           `gorm:"column:gid;type:text;primaryKey" json:"gid"`
	Name                  string           `gorm:"type:text;not null" json:"name"`
	MimeType              string           `gorm:"type:text" json:"mime_type"`
	ParentGID             string           `gorm:"column:parent_gid;type:text;index" json:"parent_gid,omitempty"`
	OrganizationID        *uuid.UUID       `gorm:"type:uuid;index" json:"organization_id,omitempty"`
	WebViewLink           string           `gorm:"type:text" json:"web_view_link,omitempty"`
	Status                string           `gorm:"type:text;index" json:"status"`
	AutomationStatus      AutomationStatus `gorm:"type:text;index;not null;default:''" json:"automation_status"`
	AutomationProcessedAt *time.Time       `json:"automation_processed_at,omitempty"`
	CreatedAt             time.Time        `gorm:"not null" json:"created_at"`
	UpdatedAt             time.Time        `gorm:"not null" json:"updated_at"`
}

var statusTag = regexp.MustCompile(`^\[([A-Za-z_]+)\]`)

// FileStatus extracts the leading [TAG] of a document name, upper-cased.
func FileStatus(name string) string {
	m := statusTag.FindStringSubmatch(strings.TrimSpace(name))
	if m == nil {
		return ""
	}
	return strings.ToUpper(m[1])
}

type Organization struct {
	ID                    uuid.UUID              `gorm:"type:uuid;primaryKey" json:"id"`
	OrganizationCode      string                 `gorm:"type:text;uniqueIndex;not null" json:"organization_code"`
	DisplayName           string                 `gorm:"type:text;not null" json:"display_name"`
	CustomerType          string                 `gorm:"type:text" json:"customer_type,omitempty"`
	DriveFolderGID        string                 `gorm:"column:drive_folder_gid;type:text" json:"drive_folder_gid,omitempty"`
	CreatedBy             string                 `gorm:"type:text" json:"created_by,omitempty"`
	Contacts              []*OrganizationContact `gorm:"foreignKey:OrganizationID;constraint:OnDelete:CASCADE" json:"contacts,omitempty"`
	AutomationStatus      AutomationStatus       `gorm:"type:text;index;not null;default:''" json:"automation_status"`
	AutomationProcessedAt *time.Time             `json:"automation_processed_at,omitempty"`
	CreatedAt             time.Time              `gorm:"not null" json:"created_at"`
	UpdatedAt             time.Time              `gorm:"not null" json:"updated_at"`
}

type OrganizationContact struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	OrganizationID uuid.UUID `gorm:"type:uuid;index;not null" json:"organization_id"`
	Name           string    `gorm:"type:text;not null" json:"name"`
	Email          string    `gorm:"type:text;not null" json:"email"`
	Phone          string    `gorm:"type:text" json:"phone,omitempty"`
	Role           string    `gorm:"type:text" json:"role,omitempty"`
	IsPrimary      bool      `gorm:"not null" json:"is_primary"`
	ResourceName   string    `gorm:"type:text" json:"resource_name,omitempty"`
	CreatedAt      time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time `gorm:"not null" json:"updated_at"`
}

type SyncState struct {
	ResourceType string    `gorm:"type:text;primaryKey" json:"resource_type"`
	ResourceID   string    `gorm:"type:text;primaryKey" json:"resource_id"`
	HistoryID    uint64    `json:"history_id"`
	LastSyncAt   time.Time `json:"last_sync_at"`
}

// SourceTable returns the event table and key column fired by a trigger type.
func SourceTable(t TriggerType) (table, key string, ok bool) {
	switch t {
	case TriggerTypeEmailReceived:
		return "emails", "id", true
	case TriggerTypeFileStatusChanged:
		return "drive_items", "gid", true
	case TriggerTypeCustomerCreated:
		return "organizations", "id", true
	}
	return "", "", false
}

// BusinessEvent is a domain record that can fire a trigger.
type BusinessEvent interface {
	TriggerType() TriggerType
	SourceID() string
	// Attributes are the fields trigger conditions may test.
	Attributes() map[string]any
}

func (e *Email) TriggerType() TriggerType { return TriggerTypeEmailReceived }
func (e *Email) SourceID() string         { return e.ID.String() }

func (e *Email) Attributes() map[string]any {
	return map[string]any{
		"message_id":     e.MessageID,
		"employee_email": e.EmployeeEmail,
		"thread_id":      e.ThreadID,
		"subject":        e.Subject,
		"from_email":     e.FromEmail,
		"to_emails":      []string(e.ToEmails),
		"snippet":        e.Snippet,
		"labels":         []string(e.Labels),
		"is_unread":      e.IsUnread,
	}
}

func (d *DriveItem) TriggerType() TriggerType { return TriggerTypeFileStatusChanged }
func (d *DriveItem) SourceID() string         { return d.GID }

func (d *DriveItem) Attributes() map[string]any {
	attrs := map[string]any{
		"gid":        d.GID,
		"name":       d.Name,
		"mime_type":  d.MimeType,
		"parent_gid": d.ParentGID,
		"status":     d.Status,
	}
	if d.OrganizationID != nil {
		attrs["organization_id"] = d.OrganizationID.String()
	}
	return attrs
}

func (o *Organization) TriggerType() TriggerType { return TriggerTypeCustomerCreated }
func (o *Organization) SourceID() string         { return o.ID.String() }

func (o *Organization) Attributes() map[string]any {
	return map[string]any{
		"organization_code": o.OrganizationCode,
		"display_name":      o.DisplayName,
		"customer_type":     o.CustomerType,
		"created_by":        o.CreatedBy,
	}
}

// PrimaryContacts returns the contacts flagged primary.
func (o *Organization) PrimaryContacts() []*OrganizationContact {
	var out []*OrganizationContact
	for _, c := range o.Contacts {
		if c.IsPrimary {
			out = append(out, c)
		}
	}
	return out
}
