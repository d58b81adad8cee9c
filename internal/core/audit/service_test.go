package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MuhamadAgungGumelar/micro-system-chat-router/internal/shared/database"
)

type recordingSink struct {
	mu      sync.Mutex
	entries []*AuditLog
	err     error
}

func (r *recordingSink) Write(ctx context.Context, entry *AuditLog) error {
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("write without deadline")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return r.err
}

func TestLogActionIsAsyncAndSurvivesCancel(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	svc := NewService(sink, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc.LogAction(ctx, ActionAutomationTriggered, ResourceAutomation, "rule-1", map[string]interface{}{
		"tenant_id": "T1",
		"keyword":   "kargo",
	})
	svc.Wait()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.entries, 1)
	e := sink.entries[0]
	assert.Equal(t, "T1", e.TenantID)
	assert.Equal(t, ActionAutomationTriggered, e.Action)
	assert.JSONEq(t, `{"tenant_id":"T1","keyword":"kargo"}`, string(e.Metadata))
}

func TestLogActionSwallowsSinkErrors(t *testing.T) {
	t.Parallel()

	svc := NewService(&recordingSink{err: errors.New("db down")}, zerolog.Nop())
	assert.NotPanics(t, func() {
		svc.LogAction(context.Background(), ActionConversationRead, ResourceConversation, "c1", nil)
		svc.Wait()
	})
}

func TestGormSinkQueryAndPurge(t *testing.T) {
	t.Parallel()

	db, err := database.NewSQLite(":memory:")
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.GORM.AutoMigrate(&AuditLog{}))

	sink := NewGormSink(db.GORM)
	svc := NewService(sink, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		svc.LogAction(ctx, ActionMessageReceived, ResourceMessage, "m", map[string]interface{}{"tenant_id": "T1"})
	}
	svc.LogAction(ctx, ActionMessageReceived, ResourceMessage, "m", map[string]interface{}{"tenant_id": "T2"})
	svc.Wait()

	old := &AuditLog{TenantID: "T1", Action: ActionGreetingSent, ResourceType: ResourceConversation, CreatedAt: time.Now().UTC().AddDate(0, 0, -120)}
	require.NoError(t, sink.Write(ctx, old))

	res, err := svc.GetLogs(ctx, AuditFilter{TenantID: "T1", PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(4), res.TotalCount)
	assert.Len(t, res.Logs, 2)
	assert.Equal(t, 2, res.TotalPages)

	deleted, err := svc.DeleteOldLogs(ctx, 90)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = svc.DeleteOldLogs(ctx, 0)
	assert.Error(t, err)
}

func TestLogSinkHasNoQueries(t *testing.T) {
	t.Parallel()

	svc := NewService(NewLogSink(zerolog.Nop()), zerolog.Nop())
	_, err := svc.GetLogs(context.Background(), AuditFilter{})
	assert.ErrorIs(t, err, ErrUnsupported)

	n, err := svc.DeleteOldLogs(context.Background(), 30)
	require.NoError(t, err)
	assert.Zero(t, n)
}
