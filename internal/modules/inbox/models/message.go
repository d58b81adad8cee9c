package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

type ContentType string

const (
	ContentText        ContentType = "text"
	ContentImage       ContentType = "image"
	ContentDocument    ContentType = "document"
	ContentAudio       ContentType = "audio"
	ContentVideo       ContentType = "video"
	ContentLocation    ContentType = "location"
	ContentContact     ContentType = "contact"
	ContentUnsupported ContentType = "unsupported"
)

type ReadStatus string

const (
	ReadStatusUnread ReadStatus = "unread"
	ReadStatusRead   ReadStatus = "read"
)

type DeliveryStatus string

const (
	DeliveryNone      DeliveryStatus = ""
	DeliveryPending   DeliveryStatus = "pending"
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryRead      DeliveryStatus = "read"
	DeliveryFailed    DeliveryStatus = "failed"
)

func (s DeliveryStatus) rank() int {
	switch s {
	case DeliveryPending:
		return 1
	case DeliverySent:
		return 2
	case DeliveryDelivered:
		return 3
	case DeliveryRead, DeliveryFailed:
		return 4
	}
	return 0
}

// Supersedes returns the statuses s may replace. Platform callbacks arrive
// out of order; a late "delivered" must not undo "read".
func (s DeliveryStatus) Supersedes() []DeliveryStatus {
	out := make([]DeliveryStatus, 0, 4)
	for _, prev := range []DeliveryStatus{DeliveryNone, DeliveryPending, DeliverySent, DeliveryDelivered, DeliveryRead, DeliveryFailed} {
		if prev.rank() < s.rank() {
			out = append(out, prev)
		}
	}
	return out
}

// Message is one entry of a conversation's history. A non-nil
// (PlatformID, ExternalMessageID) pair identifies at most one row.
type Message struct {
	ID                uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ConversationID    uuid.UUID      `gorm:"type:uuid;not null;index:idx_inbox_messages_conversation,priority:1" json:"conversation_id"`
	TenantID          string         `gorm:"type:text;not null" json:"tenant_id"`
	PlatformID        string         `gorm:"type:text;not null;uniqueIndex:ux_inbox_messages_external,priority:1" json:"platform_id"`
	ExternalMessageID *string        `gorm:"type:text;uniqueIndex:ux_inbox_messages_external,priority:2" json:"external_message_id,omitempty"`
	Direction         Direction      `gorm:"type:varchar(20);not null" json:"direction"`
	SenderType        SenderType     `gorm:"type:varchar(20);not null" json:"sender_type"`
	ContentType       ContentType    `gorm:"type:varchar(20);not null" json:"content_type"`
	Body              string         `gorm:"type:text" json:"body"`
	MediaRef          string         `gorm:"type:text" json:"media_ref,omitempty"`
	SentAt            time.Time      `gorm:"not null;index:idx_inbox_messages_conversation,priority:2" json:"sent_at"`
	ReadStatus        ReadStatus     `gorm:"type:varchar(20);not null;default:'unread'" json:"read_status"`
	DeliveryStatus    DeliveryStatus `gorm:"type:varchar(20)" json:"delivery_status,omitempty"`
	AutomationID      *uuid.UUID     `gorm:"type:uuid" json:"automation_id,omitempty"`
	CreatedAt         time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name
func (Message) TableName() string {
	return "inbox_messages"
}

// BeforeCreate sets UUID before creating
func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// ExternalID returns the platform message id or "".
func (m *Message) ExternalID() string {
	if m.ExternalMessageID == nil {
		return ""
	}
	return *m.ExternalMessageID
}

// StringPtr returns nil for empty strings.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
