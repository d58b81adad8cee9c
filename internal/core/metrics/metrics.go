package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	WebhookRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "router_webhook_requests_total", Help: "Webhook deliveries by platform and HTTP status"},
		[]string{"platform", "status"},
	)
	WebhookLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "router_webhook_latency_seconds", Help: "Webhook handling latency"},
		[]string{"platform"},
	)
	InboundMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "router_inbound_messages_total", Help: "Inbound messages by outcome (persisted, duplicate, failed)"},
		[]string{"platform", "outcome"},
	)
	AutomationMatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "router_automation_matches_total", Help: "Automation rules that matched an inbound message"},
		[]string{"platform", "type"},
	)
	Sends = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "router_send_total", Help: "Outbound send outcomes"},
		[]string{"platform", "kind", "result"},
	)
	SendLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "router_send_latency_seconds", Help: "Outbound send latency"},
		[]string{"platform"},
	)
	RateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "router_rate_limited_total", Help: "Automated sends skipped by the rate limiter"},
		[]string{"platform", "kind"},
	)
	DeliveryUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "router_delivery_updates_total", Help: "Delivery status callbacks by result"},
		[]string{"platform", "status", "result"},
	)
)

// Register adds the router collectors to reg.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		WebhookRequests, WebhookLatency, InboundMessages, AutomationMatches,
		Sends, SendLatency, RateLimited, DeliveryUpdates,
	)
}
