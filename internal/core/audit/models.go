package audit

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AuditLog records one action the router took on behalf of a tenant.
type AuditLog struct {
	ID uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`

	TenantID string `json:"tenant_id" gorm:"type:text;index"`

	// Action details
	Action       string `json:"action" gorm:"type:text;not null;index"`        // automation.triggered, conversation.read, ...
	ResourceType string `json:"resource_type" gorm:"type:text;not null;index"` // conversation, message, automation
	ResourceID   string `json:"resource_id" gorm:"type:text;index"`

	Metadata datatypes.JSON `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"index"`
}

// TableName specifies the table name
func (AuditLog) TableName() string {
	return "audit_logs"
}

// BeforeCreate sets UUID before creating
func (l *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}

// AuditFilter represents filters for querying audit logs
type AuditFilter struct {
	TenantID     string
	Action       string
	ResourceType string
	ResourceID   string
	StartDate    *time.Time
	EndDate      *time.Time
	Page         int
	PageSize     int
}

// AuditLogResponse represents paginated audit log response
type AuditLogResponse struct {
	Logs       []AuditLog `json:"logs"`
	TotalCount int64      `json:"total_count"`
	Page       int        `json:"page"`
	PageSize   int        `json:"page_size"`
	TotalPages int        `json:"total_pages"`
}
