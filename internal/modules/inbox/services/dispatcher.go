package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/MuhamadAgungGumelar/micro-system-chat-router/internal/core/audit"
	"github.com/MuhamadAgungGumelar/micro-system-chat-router/internal/core/automation"
	"github.com/MuhamadAgungGumelar/micro-system-chat-router/internal/core/channel"
	"github.com/MuhamadAgungGumelar/micro-system-chat-router/internal/core/events"
	"github.com/MuhamadAgungGumelar/micro-system-chat-router/internal/core/metrics"
	"github.com/MuhamadAgungGumelar/micro-system-chat-router/internal/core/tenant"
	"github.com/MuhamadAgungGumelar/micro-system-chat-router/internal/modules/inbox/models"
	"github.com/MuhamadAgungGumelar/micro-system-chat-router/internal/modules/inbox/repositories"
)

// RateLimiter is consulted before every automated send.
type RateLimiter interface {
	CheckLimit(identifier, identifierType, endpoint string) bool
}

// Auditor records actions without blocking the caller.
type Auditor interface {
	LogAction(ctx context.Context, action, resourceType, resourceID string, metadata map[string]interface{})
}

// TenantResolver maps a webhook route to its tenant.
type TenantResolver interface {
	Resolve(ctx context.Context, platformID, accountRef string) (*tenant.TenantContext, error)
}

type allowAll struct{}

func (allowAll) CheckLimit(string, string, string) bool { return true }

type discardAudit struct{}

func (discardAudit) LogAction(context.Context, string, string, string, map[string]interface{}) {}

// Send kinds, used as rate limit endpoints and metric labels
const (
	KindGreeting   = "greeting"
	KindAutomation = "automation"
)

type DispatcherDeps struct {
	Store       repositories.Store
	Registry    *channel.Registry
	Breakers    *channel.BreakerSet
	Tenants     TenantResolver
	Matcher     *automation.Matcher
	Limiter     RateLimiter
	Auditor     Auditor
	Events      events.Publisher
	Logger      zerolog.Logger
	SendTimeout time.Duration
	Concurrency int
}

// Dispatcher runs every inbound webhook through the pipeline: route,
// normalize, resolve conversation, persist, greet, match, reply.
type Dispatcher struct {
	store       repositories.Store
	registry    *channel.Registry
	breakers    *channel.BreakerSet
	tenants     TenantResolver
	matcher     *automation.Matcher
	limiter     RateLimiter
	auditor     Auditor
	events      events.Publisher
	resolver    *ConversationResolver
	greeter     *GreetingTrigger
	logger      zerolog.Logger
	sendTimeout time.Duration
	concurrency int
	now         func() time.Time

	replies sync.WaitGroup
}

func NewDispatcher(deps DispatcherDeps) *Dispatcher {
	logger := deps.Logger.With().Str("component", "dispatcher").Logger()
	if deps.SendTimeout <= 0 {
		deps.SendTimeout = 20 * time.Second
	}
	if deps.Concurrency < 1 {
		deps.Concurrency = 1
	}
	if deps.Matcher == nil {
		deps.Matcher = automation.NewMatcher()
	}
	if deps.Events == nil {
		deps.Events = events.Noop{}
	}
	if deps.Limiter == nil {
		deps.Limiter = allowAll{}
	}
	if deps.Auditor == nil {
		deps.Auditor = discardAudit{}
	}
	return &Dispatcher{
		store:       deps.Store,
		registry:    deps.Registry,
		breakers:    deps.Breakers,
		tenants:     deps.Tenants,
		matcher:     deps.Matcher,
		limiter:     deps.Limiter,
		auditor:     deps.Auditor,
		events:      deps.Events,
		resolver:    NewConversationResolver(deps.Store, logger),
		greeter:     NewGreetingTrigger(deps.Store),
		logger:      logger,
		sendTimeout: deps.SendTimeout,
		concurrency: deps.Concurrency,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// WebhookRequest is one raw webhook delivery.
type WebhookRequest struct {
	Platform   string
	AccountRef string
	Body       []byte
	Header     func(string) string
}

// Ack summarizes a processed webhook. Ignored deliveries are acknowledged
// so the platform does not retry them. Ignored counts messages addressed to
// an account with no active route.
type Ack struct {
	Status     string `json:"status"`
	Accepted   int    `json:"accepted"`
	Duplicates int    `json:"duplicates"`
	Ignored    int    `json:"ignored,omitempty"`
	Statuses   int    `json:"statuses"`
	Reason     string `json:"reason,omitempty"`
}

const (
	AckOK      = "ok"
	AckIgnored = "ignored"
)

// IngestResult describes what happened to one inbound message.
type IngestResult struct {
	ConversationID uuid.UUID
	MessageID      uuid.UUID
	Created        bool
	Duplicate      bool
	Greeted        bool
	AutomationID   *uuid.UUID
	// ReplyErr is the send failure of the greeting or automated reply, if
	// any. It never fails the webhook.
	ReplyErr error
}

// Receive handles a webhook delivery and returns once its messages are
// stored. The returned error is non-nil only when the platform should
// retry.
func (d *Dispatcher) Receive(ctx context.Context, req WebhookRequest) (Ack, error) {
	platform, err := channel.ParseType(req.Platform)
	if err != nil {
		return Ack{}, fmt.Errorf("%w: %s", ErrUnknownPlatform, req.Platform)
	}
	adapter, ok := d.registry.Get(platform)
	if !ok {
		return Ack{}, fmt.Errorf("%w: %s", ErrUnknownPlatform, req.Platform)
	}

	tc, err := d.tenants.Resolve(ctx, platform.String(), req.AccountRef)
	if err != nil {
		if errors.Is(err, tenant.ErrRouteNotFound) {
			d.logger.Warn().Str("platform", platform.String()).Str("account_ref", req.AccountRef).
				Msg("⚠️ Webhook for unknown route, dropping")
			return Ack{Status: AckIgnored, Reason: "unknown route"}, nil
		}
		return Ack{}, err
	}

	if auth, ok := adapter.(channel.RequestAuthenticator); ok && req.Header != nil {
		if !auth.Authenticate(tc.Platform, req.Header, req.Body) {
			d.auditor.LogAction(ctx, audit.ActionWebhookRejected, audit.ResourcePlatform, tc.Platform.ID.String(), map[string]interface{}{
				"tenant_id":   tc.TenantID,
				"platform":    platform.String(),
				"account_ref": req.AccountRef,
			})
			return Ack{}, ErrUnauthorized
		}
	}

	env, err := adapter.Normalize(req.AccountRef, req.Body)
	if err != nil {
		if errors.Is(err, channel.ErrMalformedPayload) {
			d.logger.Warn().Err(err).Str("platform", platform.String()).Msg("⚠️ Malformed webhook payload, acknowledged and dropped")
			return Ack{Status: AckIgnored, Reason: "malformed payload"}, nil
		}
		return Ack{}, err
	}
	return d.ProcessEnvelope(ctx, tc, env)
}

// ProcessEnvelope applies status updates and accepts messages concurrently.
// Every message is persisted even if a sibling fails. Failures are joined
// and returned afterwards so the platform redelivers; the messages that did
// persist are deduplicated on the retry.
//
// Each message is routed by the account it was addressed to, which may
// differ from the route the webhook arrived on. Greetings and automated
// replies run in the background once the message is stored; Wait blocks
// until they finish.
func (d *Dispatcher) ProcessEnvelope(ctx context.Context, tc *tenant.TenantContext, env channel.Envelope) (Ack, error) {
	ack := Ack{Status: AckOK}

	for _, st := range env.Statuses {
		if d.ApplyStatus(ctx, st) {
			ack.Statuses++
		}
	}

	if len(env.Messages) == 0 {
		return ack, nil
	}

	results := make([]IngestResult, len(env.Messages))
	errs := make([]error, len(env.Messages))
	ignored := make([]bool, len(env.Messages))
	replyCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for i := range env.Messages {
		i := i
		g.Go(func() error {
			in := env.Messages[i]
			msgTenant, err := d.routeMessage(ctx, tc, in)
			if err != nil {
				if errors.Is(err, tenant.ErrRouteNotFound) {
					ignored[i] = true
					d.logger.Warn().Str("platform", in.Platform.String()).Str("account_ref", in.AccountRef).
						Str("external_message_id", in.ExternalMessageID).
						Msg("⚠️ Message for unknown account, dropping")
					return nil
				}
				errs[i] = err
				return nil
			}
			var p *pendingReply
			results[i], p, errs[i] = d.accept(ctx, msgTenant, in)
			if p != nil {
				d.replies.Add(1)
				go func() {
					defer d.replies.Done()
					var res IngestResult
					d.reply(replyCtx, msgTenant, p, &res)
				}()
			}
			return nil
		})
	}
	_ = g.Wait()

	for i, res := range results {
		if errs[i] != nil {
			continue
		}
		if ignored[i] {
			ack.Ignored++
			continue
		}
		if res.Duplicate {
			ack.Duplicates++
		} else {
			ack.Accepted++
		}
	}
	return ack, errors.Join(errs...)
}

// Wait blocks until every background reply started by ProcessEnvelope has
// finished.
func (d *Dispatcher) Wait() {
	d.replies.Wait()
}

// routeMessage returns the tenant owning the account a message was sent
// to. The webhook route's tenant is reused when the accounts match.
func (d *Dispatcher) routeMessage(ctx context.Context, tc *tenant.TenantContext, in channel.InboundMessage) (*tenant.TenantContext, error) {
	if in.AccountRef == "" || in.AccountRef == tc.Platform.AccountRef {
		return tc, nil
	}
	return d.tenants.Resolve(ctx, in.Platform.String(), in.AccountRef)
}

// ApplyStatus records a delivery callback on the outbound message it names.
func (d *Dispatcher) ApplyStatus(ctx context.Context, st channel.StatusUpdate) bool {
	updated, err := d.store.UpdateDeliveryStatus(ctx, st.Platform.String(), st.ExternalMessageID, st.Status)
	result := "ignored"
	switch {
	case err != nil:
		result = "error"
		d.logger.Error().Err(err).Str("external_message_id", st.ExternalMessageID).Msg("❌ Failed to update delivery status")
	case updated:
		result = "updated"
	}
	metrics.DeliveryUpdates.WithLabelValues(st.Platform.String(), string(st.Status), result).Inc()
	return updated
}

// pendingReply carries an accepted message into the reply phase.
type pendingReply struct {
	conv   *models.Conversation
	in     channel.InboundMessage
	unread int
}

// Ingest persists one inbound message and runs greeting and automation for
// it before returning. An error means the message was not persisted.
func (d *Dispatcher) Ingest(ctx context.Context, tc *tenant.TenantContext, in channel.InboundMessage) (IngestResult, error) {
	res, p, err := d.accept(ctx, tc, in)
	if err != nil || p == nil {
		return res, err
	}
	d.reply(ctx, tc, p, &res)
	return res, nil
}

// accept stores an inbound message and updates its conversation. A nil
// pendingReply means there is nothing to answer: the message failed or
// was a duplicate.
func (d *Dispatcher) accept(ctx context.Context, tc *tenant.TenantContext, in channel.InboundMessage) (IngestResult, *pendingReply, error) {
	platform := in.Platform.String()
	log := d.logger.With().
		Str("tenant_id", tc.TenantID).
		Str("platform", platform).
		Str("external_message_id", in.ExternalMessageID).
		Logger()

	conv, created, err := d.resolver.Resolve(ctx, repositories.ConversationKey{
		TenantID:           tc.TenantID,
		PlatformID:         platform,
		ExternalCustomerID: in.ExternalCustomerID,
	}, repositories.CustomerHint{
		DisplayName:   in.DisplayName,
		ContactHandle: in.ContactHandle,
	})
	if err != nil {
		metrics.InboundMessages.WithLabelValues(platform, "failed").Inc()
		log.Error().Err(err).Msg("❌ Conversation resolution failed")
		return IngestResult{}, nil, err
	}
	res := IngestResult{ConversationID: conv.ID, Created: created}

	sentAt := in.SentAt
	if sentAt.IsZero() {
		sentAt = d.now()
	}
	msg := &models.Message{
		ConversationID:    conv.ID,
		TenantID:          tc.TenantID,
		PlatformID:        platform,
		ExternalMessageID: models.StringPtr(in.ExternalMessageID),
		Direction:         models.DirectionInbound,
		SenderType:        models.SenderCustomer,
		ContentType:       in.ContentType,
		Body:              in.Body,
		MediaRef:          in.MediaRef,
		SentAt:            sentAt.UTC(),
		ReadStatus:        models.ReadStatusUnread,
	}
	inserted, err := d.store.AppendMessage(ctx, msg)
	if err != nil {
		metrics.InboundMessages.WithLabelValues(platform, "failed").Inc()
		log.Error().Err(err).Msg("❌ Failed to persist inbound message")
		return res, nil, fmt.Errorf("%w: %v", ErrPersistInbound, err)
	}
	if !inserted {
		metrics.InboundMessages.WithLabelValues(platform, "duplicate").Inc()
		log.Debug().Msg("duplicate delivery skipped")
		res.Duplicate = true
		return res, nil, nil
	}
	metrics.InboundMessages.WithLabelValues(platform, "persisted").Inc()
	res.MessageID = msg.ID

	// From here on the message is accepted; failures are logged only.
	unread, err := d.store.IncrementUnread(ctx, conv.ID)
	if err != nil {
		log.Error().Err(err).Msg("❌ Failed to increment unread count")
	}
	if _, err := d.store.TouchLastMessage(ctx, conv.ID, msg.SentAt, models.SenderCustomer); err != nil {
		log.Error().Err(err).Msg("❌ Failed to touch last message")
	}

	d.auditor.LogAction(ctx, audit.ActionMessageReceived, audit.ResourceMessage, msg.ID.String(), map[string]interface{}{
		"tenant_id":       tc.TenantID,
		"platform":        platform,
		"conversation_id": conv.ID.String(),
		"content_type":    string(in.ContentType),
	})
	d.publish(ctx, events.Event{
		Type:           events.TypeMessageReceived,
		TenantID:       tc.TenantID,
		Platform:       platform,
		ConversationID: conv.ID.String(),
		MessageID:      msg.ID.String(),
		Data: map[string]interface{}{
			"content_type": string(in.ContentType),
			"unread_count": unread,
		},
	})
	return res, &pendingReply{conv: conv, in: in, unread: unread}, nil
}

// reply sends the greeting and the matching automation for an accepted
// message. Failures are logged and recorded on res, never returned.
func (d *Dispatcher) reply(ctx context.Context, tc *tenant.TenantContext, p *pendingReply, res *IngestResult) {
	conv, in := p.conv, p.in
	platform := in.Platform.String()
	cfg := tc.Platform
	log := d.logger.With().
		Str("tenant_id", tc.TenantID).
		Str("platform", platform).
		Str("external_message_id", in.ExternalMessageID).
		Logger()

	vars := templateVars(tc, conv, in)

	greeting, err := d.greeter.Claim(ctx, conv, cfg, p.unread)
	if err != nil {
		log.Error().Err(err).Msg("❌ Failed to claim greeting")
	}
	if greeting != "" {
		_, sendErr := d.sendAutomated(ctx, tc, conv, automation.Render(greeting, vars), nil, KindGreeting)
		if sendErr == nil {
			res.Greeted = true
			d.auditor.LogAction(ctx, audit.ActionGreetingSent, audit.ResourceConversation, conv.ID.String(), map[string]interface{}{
				"tenant_id": tc.TenantID,
				"platform":  platform,
			})
		} else {
			res.ReplyErr = sendErr
		}
	}

	if conv.Status == models.ConversationSpam || !cfg.AutoReplyEnabled {
		return
	}

	rules, err := d.store.ListActiveAutomations(ctx, tc.TenantID, platform)
	if err != nil {
		log.Error().Err(err).Msg("❌ Failed to load automations")
		return
	}
	rule, ok := d.matcher.Match(rules, automation.Input{Body: in.Body, ContentType: in.ContentType})
	if !ok {
		return
	}
	ruleID := rule.ID
	res.AutomationID = &ruleID
	metrics.AutomationMatches.WithLabelValues(platform, string(rule.Type)).Inc()

	// counted on match, whatever the send outcome
	if err := d.store.IncrementTriggerCount(ctx, rule.ID); err != nil {
		log.Error().Err(err).Str("automation_id", rule.ID.String()).Msg("❌ Failed to increment trigger count")
	}

	var (
		out     *models.Message
		sendErr error
	)
	body := automation.Render(rule.ResponseTemplate, vars)
	if strings.TrimSpace(body) == "" {
		sendErr = fmt.Errorf("%w: automation %s rendered an empty reply", ErrAutomationRender, rule.ID)
		log.Warn().Str("automation_id", rule.ID.String()).Msg("⚠️ Automation rendered an empty reply, not sending")
	} else {
		out, sendErr = d.sendAutomated(ctx, tc, conv, body, &ruleID, KindAutomation)
	}
	if sendErr != nil {
		res.ReplyErr = sendErr
		if !errors.Is(sendErr, ErrRateLimited) {
			d.auditor.LogAction(ctx, audit.ActionAutomationFailed, audit.ResourceAutomation, rule.ID.String(), map[string]interface{}{
				"tenant_id":       tc.TenantID,
				"platform":        platform,
				"conversation_id": conv.ID.String(),
				"error_kind":      channel.Kind(sendErr),
				"error":           sendErr.Error(),
			})
			d.publish(ctx, events.Event{
				Type:           events.TypeAutomationFailed,
				TenantID:       tc.TenantID,
				Platform:       platform,
				ConversationID: conv.ID.String(),
				AutomationID:   rule.ID.String(),
				Error:          sendErr.Error(),
			})
		}
		return
	}

	d.auditor.LogAction(ctx, audit.ActionAutomationTriggered, audit.ResourceAutomation, rule.ID.String(), map[string]interface{}{
		"tenant_id":       tc.TenantID,
		"platform":        platform,
		"conversation_id": conv.ID.String(),
		"message_id":      out.ID.String(),
	})
	d.publish(ctx, events.Event{
		Type:           events.TypeAutomationTriggered,
		TenantID:       tc.TenantID,
		Platform:       platform,
		ConversationID: conv.ID.String(),
		MessageID:      out.ID.String(),
		AutomationID:   rule.ID.String(),
	})
}

func templateVars(tc *tenant.TenantContext, conv *models.Conversation, in channel.InboundMessage) map[string]string {
	name := conv.CustomerDisplayName
	if name == "" {
		name = conv.CustomerContactHandle
	}
	return map[string]string{
		automation.VarCustomerName:  name,
		automation.VarCustomerPhone: conv.CustomerContactHandle,
		automation.VarPlatform:      in.Platform.String(),
		automation.VarMessage:       in.Body,
		automation.VarTenantID:      tc.TenantID,
	}
}

// sendAutomated rate-limits, sends and records one bot message.
func (d *Dispatcher) sendAutomated(ctx context.Context, tc *tenant.TenantContext, conv *models.Conversation, body string, automationID *uuid.UUID, kind string) (*models.Message, error) {
	platform := channel.Type(conv.PlatformID)
	log := d.logger.With().
		Str("tenant_id", tc.TenantID).
		Str("conversation_id", conv.ID.String()).
		Str("kind", kind).
		Logger()

	// customers are limited per tenant, not globally
	if !d.limiter.CheckLimit(tc.TenantID+":"+conv.ExternalCustomerID, "customer", kind) {
		metrics.RateLimited.WithLabelValues(platform.String(), kind).Inc()
		log.Warn().Msg("⚠️ Automated send skipped by rate limiter")
		meta := map[string]interface{}{
			"tenant_id":       tc.TenantID,
			"platform":        platform.String(),
			"conversation_id": conv.ID.String(),
			"kind":            kind,
		}
		d.auditor.LogAction(ctx, audit.ActionAutomationRateLimited, audit.ResourceConversation, conv.ID.String(), meta)
		return nil, ErrRateLimited
	}

	adapter, ok := d.registry.Get(platform)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlatform, platform)
	}

	out := channel.OutboundMessage{ContentType: models.ContentText, Body: body}
	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	start := time.Now()
	externalID, err := d.breakers.Execute(platform, tc.Platform.AccountRef, func() (string, error) {
		return adapter.Send(sendCtx, tc.Platform, conv, out)
	})
	metrics.SendLatency.WithLabelValues(platform.String()).Observe(time.Since(start).Seconds())
	metrics.Sends.WithLabelValues(platform.String(), kind, channel.Kind(err)).Inc()
	if err != nil {
		log.Error().Err(err).Str("error_kind", channel.Kind(err)).Msg("❌ Automated send failed")
		return nil, err
	}

	sentAt := d.now()
	msg := &models.Message{
		ConversationID:    conv.ID,
		TenantID:          tc.TenantID,
		PlatformID:        platform.String(),
		ExternalMessageID: models.StringPtr(externalID),
		Direction:         models.DirectionOutbound,
		SenderType:        models.SenderBot,
		ContentType:       out.ContentType,
		Body:              out.Body,
		SentAt:            sentAt,
		ReadStatus:        models.ReadStatusRead,
		DeliveryStatus:    models.DeliverySent,
		AutomationID:      automationID,
	}
	if _, err := d.store.AppendMessage(ctx, msg); err != nil {
		// the customer already has the message; only history is missing
		log.Error().Err(err).Str("external_message_id", externalID).Msg("❌ Failed to persist outbound message")
		return msg, nil
	}
	if _, err := d.store.TouchLastMessage(ctx, conv.ID, sentAt, models.SenderBot); err != nil {
		log.Error().Err(err).Msg("❌ Failed to touch last message")
	}
	log.Info().Str("external_message_id", externalID).Msg("📤 Automated reply sent")
	return msg, nil
}

func (d *Dispatcher) publish(ctx context.Context, event events.Event) {
	if err := d.events.Publish(ctx, event); err != nil {
		d.logger.Warn().Err(err).Str("event", event.Type).Msg("⚠️ Failed to publish event")
	}
}

// VerifyWebhook answers the platform's subscription handshake. It returns
// false when the route is unknown or the token does not match.
func (d *Dispatcher) VerifyWebhook(ctx context.Context, platform, accountRef, mode, token string) (bool, error) {
	t, err := channel.ParseType(platform)
	if err != nil {
		return false, fmt.Errorf("%w: %s", ErrUnknownPlatform, platform)
	}
	if mode != "subscribe" {
		return false, nil
	}
	tc, err := d.tenants.Resolve(ctx, t.String(), accountRef)
	if err != nil {
		if errors.Is(err, tenant.ErrRouteNotFound) {
			return false, nil
		}
		return false, err
	}
	return tokensEqual(tc.Platform.VerifyToken, token), nil
}

func tokensEqual(expected, got string) bool {
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(got)) == 1
}
