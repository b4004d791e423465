package models

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleEmployee Role = "employee"
	RoleCustomer Role = "customer"
	RolePartner  Role = "partner"
)

func (r Role) Valid() bool {
	return r == RoleEmployee || r == RoleCustomer || r == RolePartner
}

type WebappUser struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Email        string     `gorm:"type:text;uniqueIndex;not null" json:"email"`
	PasswordHash string     `gorm:"type:text" json:"-"`
	UserType     Role       `gorm:"type:text;not null" json:"user_type"`
	IsActive     bool       `gorm:"not null" json:"is_active"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	CreatedAt    time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"not null" json:"updated_at"`
}

type PreapprovedAccount struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Email          string     `gorm:"type:text;uniqueIndex;not null" json:"email"`
	AccountType    Role       `gorm:"type:text;not null" json:"account_type"`
	PhoneNumber    string     `gorm:"type:text;not null" json:"phone_number"`
	OrganizationID *uuid.UUID `gorm:"type:uuid" json:"organization_id,omitempty"`
	IsActive       bool       `gorm:"not null" json:"is_active"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	CreatedAt      time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"not null" json:"updated_at"`
}

type OTPCode struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Email     string     `gorm:"type:text;index;not null" json:"email"`
	CodeHash  string     `gorm:"type:text;not null" json:"-"`
	Attempts  int        `gorm:"not null" json:"attempts"`
	ExpiresAt time.Time  `gorm:"not null" json:"expires_at"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	CreatedAt time.Time  `gorm:"not null" json:"created_at"`
}

type UserSession struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    uuid.UUID  `gorm:"type:uuid;index;not null" json:"user_id"`
	Role      Role       `gorm:"type:text;not null" json:"role"`
	IPAddress string     `gorm:"type:text" json:"ip_address,omitempty"`
	UserAgent string     `gorm:"type:text" json:"user_agent,omitempty"`
	ExpiresAt time.Time  `gorm:"not null;index" json:"expires_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
	CreatedAt time.Time  `gorm:"not null" json:"created_at"`
}
