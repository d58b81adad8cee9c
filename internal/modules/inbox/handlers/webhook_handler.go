package handlers

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/MuhamadAgungGumelar/micro-system-chat-router/internal/core/metrics"
	"github.com/MuhamadAgungGumelar/micro-system-chat-router/internal/modules/inbox/services"
)

type WebhookHandler struct {
	dispatcher *services.Dispatcher
	logger     zerolog.Logger
}

func NewWebhookHandler(dispatcher *services.Dispatcher, logger zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{
		dispatcher: dispatcher,
		logger:     logger.With().Str("component", "webhook").Logger(),
	}
}

// ReceiveWebhook handles POST /webhooks/:platform/:account.
// 200 acknowledges the delivery once its messages are stored (or it was
// deliberately ignored); replies are sent afterwards. 5xx asks the platform
// to redeliver.
func (h *WebhookHandler) ReceiveWebhook(c *fiber.Ctx) error {
	start := time.Now()
	platform := c.Params("platform")

	// fiber reuses the request buffer after the handler returns
	body := append([]byte(nil), c.Body()...)

	ack, err := h.dispatcher.Receive(c.UserContext(), services.WebhookRequest{
		Platform:   platform,
		AccountRef: c.Params("account"),
		Body:       body,
		Header: func(key string) string {
			return c.Get(key)
		},
	})

	status := fiber.StatusOK
	var resp fiber.Map
	switch {
	case err == nil:
		resp = fiber.Map{
			"status":     ack.Status,
			"accepted":   ack.Accepted,
			"duplicates": ack.Duplicates,
			"statuses":   ack.Statuses,
		}
		if ack.Ignored > 0 {
			resp["ignored"] = ack.Ignored
		}
		if ack.Reason != "" {
			resp["reason"] = ack.Reason
		}
	case errors.Is(err, services.ErrUnknownPlatform):
		status = fiber.StatusNotFound
		resp = fiber.Map{"error": "unknown platform"}
	case errors.Is(err, services.ErrUnauthorized):
		status = fiber.StatusUnauthorized
		resp = fiber.Map{"error": "invalid signature"}
	default:
		status = fiber.StatusInternalServerError
		resp = fiber.Map{"error": "processing failed, retry later"}
		h.logger.Error().Err(err).Str("platform", platform).Msg("❌ Webhook processing failed")
	}

	metrics.WebhookRequests.WithLabelValues(platform, strconv.Itoa(status)).Inc()
	metrics.WebhookLatency.WithLabelValues(platform).Observe(time.Since(start).Seconds())
	return c.Status(status).JSON(resp)
}

// VerifyWebhook answers the hub.challenge subscription handshake.
func (h *WebhookHandler) VerifyWebhook(c *fiber.Ctx) error {
	ok, err := h.dispatcher.VerifyWebhook(c.UserContext(),
		c.Params("platform"),
		c.Params("account"),
		c.Query("hub.mode"),
		c.Query("hub.verify_token"),
	)
	if errors.Is(err, services.ErrUnknownPlatform) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown platform"})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "verification failed"})
	}
	if !ok {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "verification token mismatch"})
	}
	return c.SendString(c.Query("hub.challenge"))
}
