package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/MuhamadAgungGumelar/micro-system-chat-router/internal/core/audit"
	"github.com/MuhamadAgungGumelar/micro-system-chat-router/internal/core/channel"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	store    Pinger
	registry *channel.Registry
	breakers *channel.BreakerSet
}

func NewHealthHandler(store Pinger, registry *channel.Registry, breakers *channel.BreakerSet) *HealthHandler {
	return &HealthHandler{store: store, registry: registry, breakers: breakers}
}

// GetHealth answers 503 only when the store is unreachable. Open send
// breakers mark the service degraded but keep it in rotation, since
// inbound messages are still stored.
func (h *HealthHandler) GetHealth(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	status, code := "ok", fiber.StatusOK
	open := h.breakers.Unhealthy()
	if len(open) > 0 {
		status = "degraded"
	}
	if err := h.store.Ping(ctx); err != nil {
		status, code = "degraded", fiber.StatusServiceUnavailable
	}
	resp := fiber.Map{
		"status":    status,
		"service":   "router-api",
		"platforms": h.registry.Types(),
	}
	if len(open) > 0 {
		resp["breakers"] = open
	}
	return c.Status(code).JSON(resp)
}

type AuditHandler struct {
	auditService *audit.Service
}

func NewAuditHandler(auditService *audit.Service) *AuditHandler {
	return &AuditHandler{auditService: auditService}
}

// GetLogs handles GET /audit-logs?tenant_id=&action=&resource_type=&resource_id=&page=&page_size=
func (h *AuditHandler) GetLogs(c *fiber.Ctx) error {
	filter := audit.AuditFilter{
		TenantID:     c.Query("tenant_id"),
		Action:       c.Query("action"),
		ResourceType: c.Query("resource_type"),
		ResourceID:   c.Query("resource_id"),
		Page:         c.QueryInt("page", 1),
		PageSize:     c.QueryInt("page_size", 50),
	}
	if v := c.Query("start_date"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "start_date must be RFC3339"})
		}
		filter.StartDate = &t
	}
	if v := c.Query("end_date"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "end_date must be RFC3339"})
		}
		filter.EndDate = &t
	}

	resp, err := h.auditService.GetLogs(c.UserContext(), filter)
	if errors.Is(err, audit.ErrUnsupported) {
		return c.Status(fiber.StatusNotImplemented).JSON(fiber.Map{"error": "audit logs are not stored by this deployment"})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to fetch audit logs"})
	}
	return c.JSON(resp)
}
