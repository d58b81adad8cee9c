package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MuhamadAgungGumelar/micro-system-chat-router/internal/modules/inbox/models"
)

type messageKey struct {
	platformID string
	externalID string
}

type platformKey struct {
	platformID string
	accountRef string
}

// memoryStore keeps everything in maps behind one mutex. Every method is a
// single critical section, which gives the same atomicity the SQL store
// gets from its statements. Values are copied in and out.
type memoryStore struct {
	mu sync.Mutex

	conversations map[uuid.UUID]*models.Conversation
	byKey         map[ConversationKey]uuid.UUID
	messages      map[uuid.UUID]*models.Message
	byExternal    map[messageKey]uuid.UUID
	automations   map[uuid.UUID]*models.AutomationRule
	platforms     map[platformKey]*models.PlatformConfig

	now func() time.Time
}

// NewMemoryStore returns a process-local Store for development and tests.
func NewMemoryStore() Store {
	return &memoryStore{
		conversations: make(map[uuid.UUID]*models.Conversation),
		byKey:         make(map[ConversationKey]uuid.UUID),
		messages:      make(map[uuid.UUID]*models.Message),
		byExternal:    make(map[messageKey]uuid.UUID),
		automations:   make(map[uuid.UUID]*models.AutomationRule),
		platforms:     make(map[platformKey]*models.PlatformConfig),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (s *memoryStore) Ping(context.Context) error {
	return nil
}

func copyConversation(c *models.Conversation) *models.Conversation {
	out := *c
	if c.AssignedAgentID != nil {
		v := *c.AssignedAgentID
		out.AssignedAgentID = &v
	}
	if c.LastMessageAt != nil {
		v := *c.LastMessageAt
		out.LastMessageAt = &v
	}
	if c.GreetedAt != nil {
		v := *c.GreetedAt
		out.GreetedAt = &v
	}
	return &out
}

// ---------- conversations ----------

func (s *memoryStore) UpsertConversation(_ context.Context, key ConversationKey, hint CustomerHint) (*models.Conversation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byKey[key]; ok {
		conv := s.conversations[id]
		if conv.CustomerDisplayName == "" && hint.DisplayName != "" {
			conv.CustomerDisplayName = hint.DisplayName
		}
		if conv.CustomerContactHandle == "" && hint.ContactHandle != "" {
			conv.CustomerContactHandle = hint.ContactHandle
		}
		return copyConversation(conv), false, nil
	}

	now := s.now()
	conv := &models.Conversation{
		ID:                    uuid.New(),
		TenantID:              key.TenantID,
		PlatformID:            key.PlatformID,
		ExternalCustomerID:    key.ExternalCustomerID,
		Status:                models.ConversationActive,
		Priority:              models.PriorityNormal,
		CustomerDisplayName:   hint.DisplayName,
		CustomerContactHandle: hint.ContactHandle,
		GreetingPending:       true,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	s.conversations[conv.ID] = conv
	s.byKey[key] = conv.ID
	return copyConversation(conv), true, nil
}

func (s *memoryStore) GetConversation(_ context.Context, id uuid.UUID) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyConversation(conv), nil
}

func (s *memoryStore) ListConversations(_ context.Context, filter ConversationFilter) ([]models.Conversation, error) {
	s.mu.Lock()
	out := make([]models.Conversation, 0)
	for _, c := range s.conversations {
		if filter.TenantID != "" && c.TenantID != filter.TenantID {
			continue
		}
		if filter.PlatformID != "" && c.PlatformID != filter.PlatformID {
			continue
		}
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		out = append(out, *copyConversation(c))
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].LastMessageAt, out[j].LastMessageAt
		switch {
		case a == nil && b == nil:
			return out[i].ID.String() < out[j].ID.String()
		case a == nil:
			return false
		case b == nil:
			return true
		case !a.Equal(*b):
			return a.After(*b)
		}
		return out[i].ID.String() < out[j].ID.String()
	})

	if filter.Offset >= len(out) {
		return []models.Conversation{}, nil
	}
	out = out[filter.Offset:]
	if limit := clampLimit(filter.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memoryStore) UpdateConversationStatus(_ context.Context, id uuid.UUID, status models.ConversationStatus) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	conv.Status = status
	conv.UpdatedAt = s.now()
	return copyConversation(conv), nil
}

func (s *memoryStore) ReopenConversation(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok || !conv.IsReopenable() {
		return false, nil
	}
	conv.Status = models.ConversationActive
	conv.UpdatedAt = s.now()
	return true, nil
}

func (s *memoryStore) IncrementUnread(_ context.Context, id uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return 0, ErrNotFound
	}
	conv.UnreadCount++
	conv.UpdatedAt = s.now()
	return conv.UnreadCount, nil
}

func (s *memoryStore) ResetUnread(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return ErrNotFound
	}
	conv.UnreadCount = 0
	conv.UpdatedAt = s.now()
	return nil
}

func (s *memoryStore) TouchLastMessage(_ context.Context, id uuid.UUID, ts time.Time, sender models.SenderType) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return false, nil
	}
	ts = ts.UTC()
	if conv.LastMessageAt != nil && ts.Before(*conv.LastMessageAt) {
		return false, nil
	}
	conv.LastMessageAt = &ts
	conv.LastMessageDirection = sender
	conv.UpdatedAt = s.now()
	return true, nil
}

func (s *memoryStore) ClaimGreeting(_ context.Context, id uuid.UUID, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok || !conv.GreetingPending || conv.GreetedAt != nil {
		return false, nil
	}
	at = at.UTC()
	conv.GreetingPending = false
	conv.GreetedAt = &at
	return true, nil
}

// ---------- messages ----------

func (s *memoryStore) AppendMessage(_ context.Context, msg *models.Message) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var key messageKey
	if msg.ExternalMessageID != nil {
		key = messageKey{platformID: msg.PlatformID, externalID: *msg.ExternalMessageID}
		if _, dup := s.byExternal[key]; dup {
			return false, nil
		}
	}
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	now := s.now()
	msg.CreatedAt, msg.UpdatedAt = now, now
	if msg.ReadStatus == "" {
		msg.ReadStatus = models.ReadStatusUnread
	}
	stored := *msg
	s.messages[msg.ID] = &stored
	if msg.ExternalMessageID != nil {
		s.byExternal[key] = msg.ID
	}
	return true, nil
}

func (s *memoryStore) ListMessages(_ context.Context, conversationID uuid.UUID, limit int) ([]models.Message, error) {
	s.mu.Lock()
	out := make([]models.Message, 0)
	for _, m := range s.messages {
		if m.ConversationID == conversationID {
			out = append(out, *m)
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].SentAt.Equal(out[j].SentAt) {
			return out[i].SentAt.Before(out[j].SentAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit = clampLimit(limit); len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *memoryStore) MarkConversationMessagesRead(_ context.Context, conversationID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, m := range s.messages {
		if m.ConversationID == conversationID && m.Direction == models.DirectionInbound && m.ReadStatus == models.ReadStatusUnread {
			m.ReadStatus = models.ReadStatusRead
			m.UpdatedAt = s.now()
			n++
		}
	}
	return n, nil
}

func (s *memoryStore) UpdateDeliveryStatus(_ context.Context, platformID, externalMessageID string, status models.DeliveryStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byExternal[messageKey{platformID: platformID, externalID: externalMessageID}]
	if !ok {
		return false, nil
	}
	m := s.messages[id]
	if m.Direction != models.DirectionOutbound {
		return false, nil
	}
	for _, prev := range status.Supersedes() {
		if m.DeliveryStatus == prev {
			m.DeliveryStatus = status
			m.UpdatedAt = s.now()
			return true, nil
		}
	}
	return false, nil
}

// ---------- automations ----------

func (s *memoryStore) ListActiveAutomations(_ context.Context, tenantID, platformID string) ([]models.AutomationRule, error) {
	s.mu.Lock()
	out := make([]models.AutomationRule, 0)
	for _, r := range s.automations {
		if r.TenantID == tenantID && r.PlatformID == platformID && r.IsActive {
			rule := *r
			rule.TriggerKeywords = append([]string(nil), r.TriggerKeywords...)
			out = append(out, rule)
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (s *memoryStore) IncrementTriggerCount(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.automations[id]
	if !ok {
		return ErrNotFound
	}
	r.TriggerCount++
	r.UpdatedAt = s.now()
	return nil
}

func (s *memoryStore) CreateAutomation(_ context.Context, rule *models.AutomationRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}
	if rule.Name == "" {
		rule.Name = rule.ID.String()
	}
	if s.findAutomationLocked(rule.TenantID, rule.PlatformID, rule.Name) != nil {
		return ErrAutomationExists
	}
	now := s.now()
	rule.CreatedAt, rule.UpdatedAt = now, now
	stored := *rule
	stored.TriggerKeywords = append([]string(nil), rule.TriggerKeywords...)
	s.automations[rule.ID] = &stored
	return nil
}

func (s *memoryStore) SaveAutomation(ctx context.Context, rule *models.AutomationRule) error {
	if rule.Name == "" {
		return ErrAutomationName
	}
	s.mu.Lock()
	existing := s.findAutomationLocked(rule.TenantID, rule.PlatformID, rule.Name)
	if existing == nil {
		s.mu.Unlock()
		return s.CreateAutomation(ctx, rule)
	}
	existing.Type = rule.Type
	existing.TriggerKeywords = append([]string(nil), rule.TriggerKeywords...)
	existing.ResponseTemplate = rule.ResponseTemplate
	existing.IsActive = rule.IsActive
	existing.Priority = rule.Priority
	existing.UpdatedAt = s.now()
	*rule = *existing
	rule.TriggerKeywords = append([]string(nil), existing.TriggerKeywords...)
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) findAutomationLocked(tenantID, platformID, name string) *models.AutomationRule {
	for _, r := range s.automations {
		if r.TenantID == tenantID && r.PlatformID == platformID && r.Name == name {
			return r
		}
	}
	return nil
}

// ---------- platform configs ----------

func (s *memoryStore) FindPlatformConfig(_ context.Context, platformID, accountRef string) (*models.PlatformConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.platforms[platformKey{platformID: platformID, accountRef: accountRef}]
	if !ok {
		return nil, ErrNotFound
	}
	out := *cfg
	return &out, nil
}

func (s *memoryStore) SavePlatformConfig(_ context.Context, cfg *models.PlatformConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := platformKey{platformID: cfg.PlatformID, accountRef: cfg.AccountRef}
	now := s.now()
	if existing, ok := s.platforms[key]; ok {
		cfg.ID = existing.ID
		cfg.CreatedAt = existing.CreatedAt
	} else {
		if cfg.ID == uuid.Nil {
			cfg.ID = uuid.New()
		}
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now
	stored := *cfg
	s.platforms[key] = &stored
	return nil
}
