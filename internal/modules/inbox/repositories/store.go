package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/MuhamadAgungGumelar/micro-system-chat-router/internal/modules/inbox/models"
)

var (
	ErrNotFound = errors.New("record not found")

	// ErrAutomationExists means a rule with the same tenant, platform and
	// name is already stored.
	ErrAutomationExists = errors.New("automation already exists")
	// ErrAutomationName means an upsert was attempted without a rule name.
	ErrAutomationName = errors.New("automation name required")
)

// ConversationKey is the natural key of a conversation.
type ConversationKey struct {
	TenantID           string
	PlatformID         string
	ExternalCustomerID string
}

// CustomerHint carries best-effort customer details from the platform.
type CustomerHint struct {
	DisplayName   string
	ContactHandle string
}

type ConversationFilter struct {
	TenantID   string
	PlatformID string
	Status     models.ConversationStatus
	Limit      int
	Offset     int
}

type ConversationRepo interface {
	// UpsertConversation returns the conversation for key, creating it if
	// needed. created is true only for the caller whose insert won.
	UpsertConversation(ctx context.Context, key ConversationKey, hint CustomerHint) (conv *models.Conversation, created bool, err error)
	GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error)
	ListConversations(ctx context.Context, filter ConversationFilter) ([]models.Conversation, error)
	UpdateConversationStatus(ctx context.Context, id uuid.UUID, status models.ConversationStatus) (*models.Conversation, error)
	// ReopenConversation moves a closed or archived conversation back to
	// active and reports whether it did.
	ReopenConversation(ctx context.Context, id uuid.UUID) (bool, error)

	// IncrementUnread adds one and returns the new count.
	IncrementUnread(ctx context.Context, id uuid.UUID) (int, error)
	ResetUnread(ctx context.Context, id uuid.UUID) error
	// TouchLastMessage advances lastMessageAt only when ts is not older
	// than the stored value.
	TouchLastMessage(ctx context.Context, id uuid.UUID, ts time.Time, sender models.SenderType) (bool, error)
	// ClaimGreeting flips the pending greeting of a new conversation at
	// most once. Only the winning caller sees true.
	ClaimGreeting(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
}

type MessageRepo interface {
	// AppendMessage stores msg. A message whose (platform, external id)
	// already exists is not stored again and inserted is false.
	AppendMessage(ctx context.Context, msg *models.Message) (inserted bool, err error)
	ListMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]models.Message, error)
	MarkConversationMessagesRead(ctx context.Context, conversationID uuid.UUID) (int64, error)
	UpdateDeliveryStatus(ctx context.Context, platformID, externalMessageID string, status models.DeliveryStatus) (bool, error)
}

type AutomationRepo interface {
	// ListActiveAutomations returns active rules ordered by priority, then id.
	ListActiveAutomations(ctx context.Context, tenantID, platformID string) ([]models.AutomationRule, error)
	IncrementTriggerCount(ctx context.Context, id uuid.UUID) error
	// CreateAutomation inserts a new rule. An unnamed rule is named after
	// its id.
	CreateAutomation(ctx context.Context, rule *models.AutomationRule) error
	// SaveAutomation upserts rule by tenant, platform and name. A rule
	// that already exists keeps its id and trigger count; rule is updated
	// to the stored row.
	SaveAutomation(ctx context.Context, rule *models.AutomationRule) error
}

type PlatformConfigRepo interface {
	FindPlatformConfig(ctx context.Context, platformID, accountRef string) (*models.PlatformConfig, error)
	SavePlatformConfig(ctx context.Context, cfg *models.PlatformConfig) error
}

// Store is the persistence contract of the router. Counter and timestamp
// updates are atomic in every implementation.
type Store interface {
	ConversationRepo
	MessageRepo
	AutomationRepo
	PlatformConfigRepo

	Ping(ctx context.Context) error
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
