package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PlatformConfig is a tenant's connection to one external platform account.
// (PlatformID, AccountRef) doubles as the routing key for inbound webhooks:
// the phone number id for WhatsApp, the bot id for Telegram.
type PlatformConfig struct {
	ID               uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID         string            `gorm:"type:text;not null;index" json:"tenant_id"`
	PlatformID       string            `gorm:"type:text;not null;uniqueIndex:ux_inbox_platform_route,priority:1" json:"platform_id"`
	AccountRef       string            `gorm:"type:text;not null;uniqueIndex:ux_inbox_platform_route,priority:2" json:"account_ref"`
	Credentials      datatypes.JSONMap `json:"-"`
	VerifyToken      string            `gorm:"type:text" json:"-"`
	AutoReplyEnabled bool              `gorm:"not null" json:"auto_reply_enabled"`
	GreetingMessage  string            `gorm:"type:text" json:"greeting_message"`
	IsActive         bool              `gorm:"not null" json:"is_active"`
	CreatedAt        time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name
func (PlatformConfig) TableName() string {
	return "inbox_platform_configs"
}

// BeforeCreate sets UUID before creating
func (p *PlatformConfig) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// Credential returns a credential value as a trimmed string.
func (p *PlatformConfig) Credential(key string) string {
	if p == nil || p.Credentials == nil {
		return ""
	}
	v, ok := p.Credentials[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(fmt.Sprint(v))
}
