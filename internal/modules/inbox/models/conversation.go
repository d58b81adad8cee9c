package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ConversationStatus string

const (
	ConversationActive   ConversationStatus = "active"
	ConversationClosed   ConversationStatus = "closed"
	ConversationArchived ConversationStatus = "archived"
	ConversationSpam     ConversationStatus = "spam"
)

// Valid reports whether s is a known status
func (s ConversationStatus) Valid() bool {
	switch s {
	case ConversationActive, ConversationClosed, ConversationArchived, ConversationSpam:
		return true
	}
	return false
}

type ConversationPriority string

const (
	PriorityLow    ConversationPriority = "low"
	PriorityNormal ConversationPriority = "normal"
	PriorityHigh   ConversationPriority = "high"
	PriorityUrgent ConversationPriority = "urgent"
)

// SenderType identifies who produced a message. It doubles as the
// last-message direction of a conversation.
type SenderType string

const (
	SenderCustomer SenderType = "customer"
	SenderAgent    SenderType = "agent"
	SenderBot      SenderType = "bot"
)

// Conversation is the durable thread between one customer and one tenant on
// one platform. (TenantID, PlatformID, ExternalCustomerID) is unique.
type Conversation struct {
	ID                    uuid.UUID            `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID              string               `gorm:"type:text;not null;uniqueIndex:ux_inbox_conversations_identity,priority:1" json:"tenant_id"`
	PlatformID            string               `gorm:"type:text;not null;uniqueIndex:ux_inbox_conversations_identity,priority:2" json:"platform_id"`
	ExternalCustomerID    string               `gorm:"type:text;not null;uniqueIndex:ux_inbox_conversations_identity,priority:3" json:"external_customer_id"`
	Status                ConversationStatus   `gorm:"type:varchar(20);not null;default:'active';index" json:"status"`
	Priority              ConversationPriority `gorm:"type:varchar(20);not null;default:'normal'" json:"priority"`
	AssignedAgentID       *string              `gorm:"type:text" json:"assigned_agent_id,omitempty"`
	UnreadCount           int                  `gorm:"not null;default:0" json:"unread_count"`
	LastMessageAt         *time.Time           `json:"last_message_at,omitempty"`
	LastMessageDirection  SenderType           `gorm:"type:varchar(20)" json:"last_message_direction,omitempty"`
	CustomerDisplayName   string               `gorm:"type:text" json:"customer_display_name"`
	CustomerContactHandle string               `gorm:"type:text" json:"customer_contact_handle"`
	GreetingPending       bool                 `gorm:"not null;default:false" json:"-"`
	GreetedAt             *time.Time           `json:"greeted_at,omitempty"`
	CreatedAt             time.Time            `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time            `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name
func (Conversation) TableName() string {
	return "inbox_conversations"
}

// BeforeCreate sets UUID before creating
func (c *Conversation) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// IsReopenable reports whether a new inbound message should move the
// conversation back to active.
func (c *Conversation) IsReopenable() bool {
	return c.Status == ConversationClosed || c.Status == ConversationArchived
}
