package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/MuhamadAgungGumelar/micro-system-chat-router/internal/modules/inbox/models"
)

type gormStore struct {
	db *gorm.DB
}

// NewGormStore returns a Store backed by Postgres or SQLite.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

// AutoMigrate creates the inbox tables. Postgres deployments run the SQL
// migrations instead; this serves SQLite and tests.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.PlatformConfig{},
		&models.Conversation{},
		&models.Message{},
		&models.AutomationRule{},
	)
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (s *gormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// ---------- conversations ----------

func (s *gormStore) UpsertConversation(ctx context.Context, key ConversationKey, hint CustomerHint) (*models.Conversation, bool, error) {
	db := s.db.WithContext(ctx)

	conv := models.Conversation{
		TenantID:              key.TenantID,
		PlatformID:            key.PlatformID,
		ExternalCustomerID:    key.ExternalCustomerID,
		Status:                models.ConversationActive,
		Priority:              models.PriorityNormal,
		CustomerDisplayName:   hint.DisplayName,
		CustomerContactHandle: hint.ContactHandle,
		GreetingPending:       true,
	}
	res := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "tenant_id"},
			{Name: "platform_id"},
			{Name: "external_customer_id"},
		},
		DoNothing: true,
	}).Create(&conv)
	if res.Error != nil {
		return nil, false, fmt.Errorf("upsert conversation: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return &conv, true, nil
	}

	var existing models.Conversation
	err := db.Where("tenant_id = ? AND platform_id = ? AND external_customer_id = ?",
		key.TenantID, key.PlatformID, key.ExternalCustomerID).First(&existing).Error
	if err != nil {
		return nil, false, fmt.Errorf("load conversation: %w", notFound(err))
	}

	// the empty check sits in the WHERE so a concurrent fill is never overwritten
	if existing.CustomerDisplayName == "" && hint.DisplayName != "" {
		if err := db.Model(&models.Conversation{}).
			Where("id = ? AND (customer_display_name = '' OR customer_display_name IS NULL)", existing.ID).
			UpdateColumn("customer_display_name", hint.DisplayName).Error; err != nil {
			return nil, false, err
		}
		existing.CustomerDisplayName = hint.DisplayName
	}
	if existing.CustomerContactHandle == "" && hint.ContactHandle != "" {
		if err := db.Model(&models.Conversation{}).
			Where("id = ? AND (customer_contact_handle = '' OR customer_contact_handle IS NULL)", existing.ID).
			UpdateColumn("customer_contact_handle", hint.ContactHandle).Error; err != nil {
			return nil, false, err
		}
		existing.CustomerContactHandle = hint.ContactHandle
	}
	return &existing, false, nil
}

func (s *gormStore) GetConversation(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	var conv models.Conversation
	if err := s.db.WithContext(ctx).First(&conv, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &conv, nil
}

func (s *gormStore) ListConversations(ctx context.Context, filter ConversationFilter) ([]models.Conversation, error) {
	q := s.db.WithContext(ctx).Model(&models.Conversation{})
	if filter.TenantID != "" {
		q = q.Where("tenant_id = ?", filter.TenantID)
	}
	if filter.PlatformID != "" {
		q = q.Where("platform_id = ?", filter.PlatformID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}

	var out []models.Conversation
	err := q.Order("last_message_at IS NULL, last_message_at DESC, id").
		Limit(clampLimit(filter.Limit)).
		Offset(filter.Offset).
		Find(&out).Error
	return out, err
}

func (s *gormStore) UpdateConversationStatus(ctx context.Context, id uuid.UUID, status models.ConversationStatus) (*models.Conversation, error) {
	res := s.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ?", id).
		Update("status", status)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return s.GetConversation(ctx, id)
}

func (s *gormStore) ReopenConversation(ctx context.Context, id uuid.UUID) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ? AND status IN ?", id, []models.ConversationStatus{models.ConversationClosed, models.ConversationArchived}).
		Update("status", models.ConversationActive)
	return res.RowsAffected == 1, res.Error
}

func (s *gormStore) IncrementUnread(ctx context.Context, id uuid.UUID) (int, error) {
	var count int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Conversation{}).
			Where("id = ?", id).
			UpdateColumns(map[string]interface{}{
				"unread_count": gorm.Expr("unread_count + ?", 1),
				"updated_at":   time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		// the row stays locked until commit, so this reads our own increment
		return tx.Model(&models.Conversation{}).
			Select("unread_count").
			Where("id = ?", id).
			Scan(&count).Error
	})
	return count, err
}

func (s *gormStore) ResetUnread(ctx context.Context, id uuid.UUID) error {
	res := s.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ?", id).
		UpdateColumns(map[string]interface{}{
			"unread_count": 0,
			"updated_at":   time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *gormStore) TouchLastMessage(ctx context.Context, id uuid.UUID, ts time.Time, sender models.SenderType) (bool, error) {
	ts = ts.UTC()
	res := s.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ? AND (last_message_at IS NULL OR last_message_at <= ?)", id, ts).
		UpdateColumns(map[string]interface{}{
			"last_message_at":        ts,
			"last_message_direction": sender,
			"updated_at":             time.Now().UTC(),
		})
	return res.RowsAffected == 1, res.Error
}

func (s *gormStore) ClaimGreeting(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ? AND greeting_pending = ? AND greeted_at IS NULL", id, true).
		UpdateColumns(map[string]interface{}{
			"greeting_pending": false,
			"greeted_at":       at.UTC(),
		})
	return res.RowsAffected == 1, res.Error
}

// ---------- messages ----------

func (s *gormStore) AppendMessage(ctx context.Context, msg *models.Message) (bool, error) {
	db := s.db.WithContext(ctx)
	if msg.ExternalMessageID == nil {
		if err := db.Create(msg).Error; err != nil {
			return false, fmt.Errorf("append message: %w", err)
		}
		return true, nil
	}

	res := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "platform_id"}, {Name: "external_message_id"}},
		DoNothing: true,
	}).Create(msg)
	if res.Error != nil {
		return false, fmt.Errorf("append message: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *gormStore) ListMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]models.Message, error) {
	var out []models.Message
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("sent_at DESC, created_at DESC").
		Limit(clampLimit(limit)).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	// newest N, oldest first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *gormStore) MarkConversationMessagesRead(ctx context.Context, conversationID uuid.UUID) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.Message{}).
		Where("conversation_id = ? AND direction = ? AND read_status = ?",
			conversationID, models.DirectionInbound, models.ReadStatusUnread).
		Update("read_status", models.ReadStatusRead)
	return res.RowsAffected, res.Error
}

func (s *gormStore) UpdateDeliveryStatus(ctx context.Context, platformID, externalMessageID string, status models.DeliveryStatus) (bool, error) {
	prev := status.Supersedes()
	if len(prev) == 0 {
		return false, nil
	}
	res := s.db.WithContext(ctx).Model(&models.Message{}).
		Where("platform_id = ? AND external_message_id = ? AND direction = ?",
			platformID, externalMessageID, models.DirectionOutbound).
		Where("(delivery_status IN ? OR delivery_status IS NULL)", prev).
		Update("delivery_status", status)
	return res.RowsAffected == 1, res.Error
}

// ---------- automations ----------

func (s *gormStore) ListActiveAutomations(ctx context.Context, tenantID, platformID string) ([]models.AutomationRule, error) {
	var rules []models.AutomationRule
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND platform_id = ? AND is_active = ?", tenantID, platformID, true).
		Order("priority ASC, id ASC").
		Find(&rules).Error
	return rules, err
}

func (s *gormStore) IncrementTriggerCount(ctx context.Context, id uuid.UUID) error {
	res := s.db.WithContext(ctx).Model(&models.AutomationRule{}).
		Where("id = ?", id).
		UpdateColumn("trigger_count", gorm.Expr("trigger_count + ?", 1))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *gormStore) CreateAutomation(ctx context.Context, rule *models.AutomationRule) error {
	err := s.db.WithContext(ctx).Create(rule).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrAutomationExists
	}
	return err
}

func (s *gormStore) SaveAutomation(ctx context.Context, rule *models.AutomationRule) error {
	if rule.Name == "" {
		return ErrAutomationName
	}
	db := s.db.WithContext(ctx)
	err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "tenant_id"}, {Name: "platform_id"}, {Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"type", "trigger_keywords", "response_template", "is_active", "priority", "updated_at",
		}),
	}).Create(rule).Error
	if err != nil {
		return err
	}

	// on conflict the stored row keeps its own id
	var stored models.AutomationRule
	err = db.Where("tenant_id = ? AND platform_id = ? AND name = ?", rule.TenantID, rule.PlatformID, rule.Name).
		First(&stored).Error
	if err != nil {
		return err
	}
	*rule = stored
	return nil
}

// ---------- platform configs ----------

func (s *gormStore) FindPlatformConfig(ctx context.Context, platformID, accountRef string) (*models.PlatformConfig, error) {
	var cfg models.PlatformConfig
	err := s.db.WithContext(ctx).
		Where("platform_id = ? AND account_ref = ?", platformID, accountRef).
		First(&cfg).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &cfg, nil
}

// SavePlatformConfig inserts cfg or replaces the config on the same route.
func (s *gormStore) SavePlatformConfig(ctx context.Context, cfg *models.PlatformConfig) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "platform_id"}, {Name: "account_ref"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"tenant_id", "credentials", "verify_token", "auto_reply_enabled",
			"greeting_message", "is_active", "updated_at",
		}),
	}).Create(cfg).Error
}
