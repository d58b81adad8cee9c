package services

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/MuhamadAgungGumelar/micro-system-chat-router/internal/modules/inbox/models"
	"github.com/MuhamadAgungGumelar/micro-system-chat-router/internal/modules/inbox/repositories"
)

// ConversationResolver finds or creates the conversation of an inbound
// message. Creation is a single atomic upsert by natural key.
type ConversationResolver struct {
	store  repositories.ConversationRepo
	logger zerolog.Logger
}

func NewConversationResolver(store repositories.ConversationRepo, logger zerolog.Logger) *ConversationResolver {
	return &ConversationResolver{store: store, logger: logger}
}

// Resolve returns the conversation and whether this call created it. A
// closed or archived conversation is reopened; spam stays spam.
func (r *ConversationResolver) Resolve(ctx context.Context, key repositories.ConversationKey, hint repositories.CustomerHint) (*models.Conversation, bool, error) {
	conv, created, err := r.store.UpsertConversation(ctx, key, hint)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrConversationResolution, err)
	}
	if created {
		r.logger.Info().
			Str("tenant_id", key.TenantID).
			Str("platform", key.PlatformID).
			Str("conversation_id", conv.ID.String()).
			Msg("🆕 Conversation created")
		return conv, true, nil
	}

	if conv.IsReopenable() {
		reopened, err := r.store.ReopenConversation(ctx, conv.ID)
		if err != nil {
			return nil, false, fmt.Errorf("%w: reopen: %v", ErrConversationResolution, err)
		}
		if reopened {
			r.logger.Info().
				Str("conversation_id", conv.ID.String()).
				Str("from", string(conv.Status)).
				Msg("🔁 Conversation reopened by customer message")
		}
		conv.Status = models.ConversationActive
	}
	return conv, false, nil
}
