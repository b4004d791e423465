package models

import (
	"time"

	"github.com/google/uuid"
)

type ChannelKind string

const (
	ChannelKindGmail ChannelKind = "gmail"
	ChannelKindDrive ChannelKind = "drive"
)

// PushChannel is a provider push registration. ResourceID is the mailbox
// address or document gid being watched; ProviderResourceID is the id the
// provider echoes back on every notification.
type PushChannel struct {
	ID                 uuid.UUID   `gorm:"type:uuid;primaryKey" json:"id"`
	Kind               ChannelKind `gorm:"type:text;not null;uniqueIndex:ux_push_channels_resource" json:"kind"`
	ResourceID         string      `gorm:"type:text;not null;uniqueIndex:ux_push_channels_resource" json:"resource_id"`
	ChannelID          string      `gorm:"type:text;index;not null" json:"channel_id"`
	ProviderResourceID string      `gorm:"type:text" json:"provider_resource_id,omitempty"`
	Address            string      `gorm:"type:text" json:"address,omitempty"`
	HistoryID          uint64      `json:"history_id,omitempty"`
	Expiration         time.Time   `gorm:"index;not null" json:"expiration"`
	CreatedAt          time.Time   `gorm:"not null" json:"created_at"`
	UpdatedAt          time.Time   `gorm:"not null" json:"updated_at"`
}

type PushChannels []*PushChannel
