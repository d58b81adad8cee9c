package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/MuhamadAgungGumelar/micro-system-chat-router/internal/core/audit"
	"github.com/MuhamadAgungGumelar/micro-system-chat-router/internal/modules/inbox/models"
	"github.com/MuhamadAgungGumelar/micro-system-chat-router/internal/modules/inbox/repositories"
)

// ConversationService is the agent-facing side of the inbox.
type ConversationService struct {
	store   repositories.Store
	auditor Auditor
	logger  zerolog.Logger
}

func NewConversationService(store repositories.Store, auditor Auditor, logger zerolog.Logger) *ConversationService {
	return &ConversationService{
		store:   store,
		auditor: auditor,
		logger:  logger.With().Str("component", "conversations").Logger(),
	}
}

func (s *ConversationService) List(ctx context.Context, filter repositories.ConversationFilter) ([]models.Conversation, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidStatus, filter.Status)
	}
	return s.store.ListConversations(ctx, filter)
}

func (s *ConversationService) Get(ctx context.Context, id uuid.UUID) (*models.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, id)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, ErrNotFound
	}
	return conv, err
}

// Messages returns the most recent messages of a conversation, oldest first.
func (s *ConversationService) Messages(ctx context.Context, id uuid.UUID, limit int) ([]models.Message, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, id, limit)
}

// MarkRead clears the unread counter and marks every inbound message read.
func (s *ConversationService) MarkRead(ctx context.Context, id uuid.UUID) (int64, error) {
	conv, err := s.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	// messages first: a failure leaves the unread counter untouched
	marked, err := s.store.MarkConversationMessagesRead(ctx, id)
	if err != nil {
		return 0, err
	}
	if err := s.store.ResetUnread(ctx, id); err != nil {
		return 0, err
	}

	s.auditor.LogAction(ctx, audit.ActionConversationRead, audit.ResourceConversation, id.String(), map[string]interface{}{
		"tenant_id": conv.TenantID,
		"marked":    marked,
	})
	return marked, nil
}

// UpdateStatus moves a conversation to status. Spam conversations get no
// further automated replies.
func (s *ConversationService) UpdateStatus(ctx context.Context, id uuid.UUID, status models.ConversationStatus) (*models.Conversation, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidStatus, status)
	}
	before, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	conv, err := s.store.UpdateConversationStatus(ctx, id, status)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("conversation_id", id.String()).
		Str("from", string(before.Status)).
		Str("to", string(status)).
		Msg("🔄 Conversation status changed")
	s.auditor.LogAction(ctx, audit.ActionConversationStatus, audit.ResourceConversation, id.String(), map[string]interface{}{
		"tenant_id": conv.TenantID,
		"from":      string(before.Status),
		"to":        string(status),
	})
	return conv, nil
}
