package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type AutomationType string

const (
	AutomationWelcome       AutomationType = "welcome"
	AutomationKeyword       AutomationType = "keyword"
	AutomationIntent        AutomationType = "intent"
	AutomationSchedule      AutomationType = "schedule"
	AutomationAbandonedCart AutomationType = "abandoned_cart"
)

// AutomationRule pairs a trigger with a response template for one tenant
// platform. Rules are evaluated by ascending Priority, then ID.
type AutomationRule struct {
	ID               uuid.UUID                   `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID         string                      `gorm:"type:text;not null;index:idx_inbox_automation_scope,priority:1;uniqueIndex:ux_inbox_automation_name,priority:1" json:"tenant_id"`
	PlatformID       string                      `gorm:"type:text;not null;index:idx_inbox_automation_scope,priority:2;uniqueIndex:ux_inbox_automation_name,priority:2" json:"platform_id"`
	Name             string                      `gorm:"type:varchar(255);not null;uniqueIndex:ux_inbox_automation_name,priority:3" json:"name"`
	Type             AutomationType              `gorm:"type:varchar(50);not null" json:"type"`
	TriggerKeywords  datatypes.JSONSlice[string] `json:"trigger_keywords"`
	ResponseTemplate string                      `gorm:"type:text;not null" json:"response_template"`
	IsActive         bool                        `gorm:"not null" json:"is_active"`
	Priority         int                         `gorm:"not null;default:0" json:"priority"`
	TriggerCount     int64                       `gorm:"not null;default:0" json:"trigger_count"`
	CreatedAt        time.Time                   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time                   `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name
func (AutomationRule) TableName() string {
	return "inbox_automation_rules"
}

// BeforeCreate sets UUID before creating
func (r *AutomationRule) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.Name == "" {
		r.Name = r.ID.String()
	}
	return nil
}
