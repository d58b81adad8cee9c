package services

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MuhamadAgungGumelar/micro-system-chat-router/internal/core/audit"
	"github.com/MuhamadAgungGumelar/micro-system-chat-router/internal/modules/inbox/models"
	"github.com/MuhamadAgungGumelar/micro-system-chat-router/internal/modules/inbox/repositories"
)

func TestConversationServiceMarkRead(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.receive(t, webhook(
		inbound("905551234567", "wamid.1", "selam"),
		inbound("905551234567", "wamid.2", "bakar mısınız"),
	))
	conv := h.onlyConversation(t)
	require.Equal(t, 2, conv.UnreadCount)

	svc := NewConversationService(h.store, h.auditor, zerolog.Nop())
	marked, err := svc.MarkRead(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), marked)

	conv = h.onlyConversation(t)
	assert.Equal(t, 0, conv.UnreadCount)
	for _, m := range h.messages(t, conv) {
		assert.Equal(t, models.ReadStatusRead, m.ReadStatus)
	}
	assert.Equal(t, 1, h.auditor.count(audit.ActionConversationRead))
}

type markReadFailingStore struct {
	repositories.Store
	resets int
}

func (s *markReadFailingStore) MarkConversationMessagesRead(context.Context, uuid.UUID) (int64, error) {
	return 0, errors.New("connection reset")
}

func (s *markReadFailingStore) ResetUnread(ctx context.Context, id uuid.UUID) error {
	s.resets++
	return s.Store.ResetUnread(ctx, id)
}

func TestConversationServiceMarkReadKeepsCounterOnFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.receive(t, webhook(
		inbound("905551234567", "wamid.1", "selam"),
		inbound("905551234567", "wamid.2", "bakar mısınız"),
	))
	conv := h.onlyConversation(t)

	store := &markReadFailingStore{Store: h.store}
	svc := NewConversationService(store, h.auditor, zerolog.Nop())
	_, err := svc.MarkRead(context.Background(), conv.ID)
	require.Error(t, err)

	assert.Zero(t, store.resets)
	assert.Equal(t, 2, h.onlyConversation(t).UnreadCount)
	assert.Zero(t, h.auditor.count(audit.ActionConversationRead))
}

func TestConversationServiceErrors(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	svc := NewConversationService(h.store, h.auditor, zerolog.Nop())
	ctx := context.Background()

	_, err := svc.MarkRead(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.Messages(ctx, uuid.New(), 10)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.UpdateStatus(ctx, uuid.New(), models.ConversationStatus("deleted"))
	assert.ErrorIs(t, err, ErrInvalidStatus)

	_, err = svc.UpdateStatus(ctx, uuid.New(), models.ConversationClosed)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.List(ctx, repositories.ConversationFilter{Status: "nope"})
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestConversationServiceUpdateStatus(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.receive(t, webhook(inbound("905551234567", "wamid.1", "selam")))
	conv := h.onlyConversation(t)

	svc := NewConversationService(h.store, h.auditor, zerolog.Nop())
	updated, err := svc.UpdateStatus(context.Background(), conv.ID, models.ConversationArchived)
	require.NoError(t, err)
	assert.Equal(t, models.ConversationArchived, updated.Status)

	list, err := svc.List(context.Background(), repositories.ConversationFilter{TenantID: "T1", Status: models.ConversationArchived})
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Equal(t, 1, h.auditor.count(audit.ActionConversationStatus))
}
