package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handlers groups everything the router API serves.
type Handlers struct {
	Webhook      *WebhookHandler
	Conversation *ConversationHandler
	Health       *HealthHandler
	Audit        *AuditHandler
	// Gatherer backs /metrics; nil disables the endpoint.
	Gatherer prometheus.Gatherer
}

func RegisterRoutes(app *fiber.App, h Handlers) {
	app.Get("/health", h.Health.GetHealth)
	if h.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(h.Gatherer, promhttp.HandlerOpts{})))
	}

	// Platform webhooks, one route per connected account
	app.Get("/webhooks/:platform/:account", h.Webhook.VerifyWebhook)
	app.Post("/webhooks/:platform/:account", h.Webhook.ReceiveWebhook)

	// Inbox
	app.Get("/conversations", h.Conversation.ListConversations)
	app.Get("/conversations/:id", h.Conversation.GetConversation)
	app.Get("/conversations/:id/messages", h.Conversation.ListMessages)
	app.Post("/conversations/:id/read", h.Conversation.MarkRead)
	app.Patch("/conversations/:id/status", h.Conversation.UpdateStatus)

	if h.Audit != nil {
		app.Get("/audit-logs", h.Audit.GetLogs)
	}
}
