package services

import (
	"context"
	"strings"
	"time"

	"github.com/MuhamadAgungGumelar/micro-system-chat-router/internal/modules/inbox/models"
	"github.com/MuhamadAgungGumelar/micro-system-chat-router/internal/modules/inbox/repositories"
)

// GreetingTrigger decides whether a conversation gets its one-time
// greeting. The claim is consumed on the first inbound message even when
// nothing will be sent, so a greeting configured later never reaches old
// conversations.
type GreetingTrigger struct {
	store repositories.ConversationRepo
	now   func() time.Time
}

func NewGreetingTrigger(store repositories.ConversationRepo) *GreetingTrigger {
	return &GreetingTrigger{store: store, now: time.Now}
}

// Claim returns the greeting template to send, or "" when none is due.
// unreadAfter is the unread count right after the inbound message was
// counted; only the first message of a new conversation sees 1 while the
// greeting is still pending.
func (g *GreetingTrigger) Claim(ctx context.Context, conv *models.Conversation, cfg *models.PlatformConfig, unreadAfter int) (string, error) {
	if unreadAfter != 1 || !conv.GreetingPending {
		return "", nil
	}
	claimed, err := g.store.ClaimGreeting(ctx, conv.ID, g.now())
	if err != nil || !claimed {
		return "", err
	}
	greeting := strings.TrimSpace(cfg.GreetingMessage)
	if greeting == "" || !cfg.AutoReplyEnabled || conv.Status == models.ConversationSpam {
		return "", nil
	}
	return cfg.GreetingMessage, nil
}
