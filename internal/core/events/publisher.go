package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// Event types
const (
	TypeMessageReceived     = "message.received"
	TypeAutomationTriggered = "automation.triggered"
	TypeAutomationFailed    = "automation.failed"
)

// Event is published after the router changed state. Consumers must not
// assume any ordering across conversations.
type Event struct {
	ID             string                 `json:"id"`
	Type           string                 `json:"type"`
	TenantID       string                 `json:"tenant_id"`
	Platform       string                 `json:"platform"`
	ConversationID string                 `json:"conversation_id,omitempty"`
	MessageID      string                 `json:"message_id,omitempty"`
	AutomationID   string                 `json:"automation_id,omitempty"`
	Error          string                 `json:"error,omitempty"`
	Data           map[string]interface{} `json:"data,omitempty"`
	OccurredAt     time.Time              `json:"occurred_at"`
}

// Publisher sends events to the bus. Publish failures are the caller's to
// log; they never fail message processing.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close()
}

// Noop drops every event. Used when NATS_URL is empty.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }

func (Noop) Close() {}

// Config holds NATS connection configuration.
type Config struct {
	URL           string
	Token         string
	SubjectPrefix string
	StreamName    string
}

// jsPublish is the part of jetstream.JetStream the publisher needs.
type jsPublish interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// JetStreamPublisher publishes events to a JetStream stream with the event
// id as Nats-Msg-Id, so retried publishes are deduplicated by the server.
type JetStreamPublisher struct {
	conn   *nats.Conn
	js     jsPublish
	prefix string
	logger zerolog.Logger
}

// Connect establishes a connection to NATS and makes sure the stream exists.
func Connect(ctx context.Context, cfg Config, logger zerolog.Logger) (*JetStreamPublisher, error) {
	logger = logger.With().Str("component", "events").Logger()
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "router"
	}
	if cfg.StreamName == "" {
		cfg.StreamName = strings.ToUpper(sanitize(cfg.SubjectPrefix)) + "_EVENTS"
	}

	opts := []nats.Option{
		nats.Name("chat-router"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("⚠️ NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("🔄 NATS reconnected")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	if err := ensureStream(ctx, js, cfg.StreamName, cfg.SubjectPrefix); err != nil {
		nc.Close()
		return nil, err
	}

	logger.Info().Str("stream", cfg.StreamName).Str("prefix", cfg.SubjectPrefix).Msg("✅ NATS JetStream publisher ready")
	return &JetStreamPublisher{conn: nc, js: js, prefix: cfg.SubjectPrefix, logger: logger}, nil
}

func ensureStream(ctx context.Context, js jetstream.JetStream, name, prefix string) error {
	if _, err := js.Stream(ctx, name); err == nil {
		return nil
	}
	_, err := js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        name,
		Subjects:    []string{prefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      7 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Duplicates:  2 * time.Minute,
		Description: "Chat router message and automation events",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// Subject returns "<prefix>.<tenant>.<type>"; the event type already
// contains a dot ("message.received").
func Subject(prefix, tenantID, eventType string) string {
	return fmt.Sprintf("%s.%s.%s", prefix, sanitize(tenantID), eventType)
}

// sanitize keeps tenant ids from adding subject tokens or wildcards.
func sanitize(token string) string {
	if token == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, token)
}

func (p *JetStreamPublisher) Publish(ctx context.Context, event Event) error {
	if event.ID == "" {
		event.ID = ulid.Make().String()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	subject := Subject(p.prefix, event.TenantID, event.Type)
	if _, err := p.js.Publish(ctx, subject, data, jetstream.WithMsgID(event.ID)); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Close drains the connection so in-flight publishes finish.
func (p *JetStreamPublisher) Close() {
	if p.conn != nil {
		if err := p.conn.Drain(); err != nil {
			p.logger.Warn().Err(err).Msg("⚠️ NATS drain failed")
		}
	}
}
