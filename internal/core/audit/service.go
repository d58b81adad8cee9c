package audit

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"
)

// Actions recorded by the router
const (
	ActionMessageReceived       = "message.received"
	ActionGreetingSent          = "greeting.sent"
	ActionAutomationTriggered   = "automation.triggered"
	ActionAutomationFailed      = "automation.failed"
	ActionAutomationRateLimited = "automation.rate_limited"
	ActionConversationRead      = "conversation.read"
	ActionConversationStatus    = "conversation.status_changed"
	ActionWebhookRejected       = "webhook.rejected"
)

// Resource types
const (
	ResourceConversation = "conversation"
	ResourceMessage      = "message"
	ResourceAutomation   = "automation"
	ResourcePlatform     = "platform_config"
)

var ErrUnsupported = errors.New("audit sink does not support this operation")

type querier interface {
	Query(ctx context.Context, filter AuditFilter) (*AuditLogResponse, error)
}

type purger interface {
	Purge(ctx context.Context, daysToKeep int) (int64, error)
}

// Service provides audit logging functionality. LogAction never blocks the
// caller and never reports errors; failures are logged.
type Service struct {
	sink    Sink
	logger  zerolog.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewService creates a new audit service
func NewService(sink Sink, logger zerolog.Logger) *Service {
	return &Service{
		sink:    sink,
		logger:  logger.With().Str("component", "audit").Logger(),
		timeout: 5 * time.Second,
	}
}

// LogAction records an action asynchronously. A "tenant_id" string in
// metadata is lifted onto the entry.
func (s *Service) LogAction(ctx context.Context, action, resourceType, resourceID string, metadata map[string]interface{}) {
	entry := &AuditLog{
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		CreatedAt:    time.Now().UTC(),
	}
	if tenantID, ok := metadata["tenant_id"].(string); ok {
		entry.TenantID = tenantID
	}
	if len(metadata) > 0 {
		raw, err := json.Marshal(metadata)
		if err != nil {
			s.logger.Warn().Err(err).Str("action", action).Msg("⚠️ failed to serialize audit metadata")
		} else {
			entry.Metadata = datatypes.JSON(raw)
		}
	}

	// the write outlives the request that caused it
	writeCtx := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(writeCtx, s.timeout)
		defer cancel()
		if err := s.sink.Write(ctx, entry); err != nil {
			s.logger.Error().Err(err).
				Str("action", action).
				Str("resource_type", resourceType).
				Str("resource_id", resourceID).
				Msg("❌ failed to write audit log")
		}
	}()
}

// Wait blocks until every pending write finished. Used on shutdown.
func (s *Service) Wait() {
	s.wg.Wait()
}

// GetLogs retrieves audit logs when the sink supports queries.
func (s *Service) GetLogs(ctx context.Context, filter AuditFilter) (*AuditLogResponse, error) {
	q, ok := s.sink.(querier)
	if !ok {
		return nil, ErrUnsupported
	}
	return q.Query(ctx, filter)
}

// DeleteOldLogs deletes audit logs older than a certain number of days.
// Sinks without storage report zero.
func (s *Service) DeleteOldLogs(ctx context.Context, daysToKeep int) (int64, error) {
	p, ok := s.sink.(purger)
	if !ok {
		return 0, nil
	}
	n, err := p.Purge(ctx, daysToKeep)
	if err != nil {
		return 0, err
	}
	s.logger.Info().Int64("deleted", n).Int("days_to_keep", daysToKeep).Msg("🧹 deleted old audit logs")
	return n, nil
}
