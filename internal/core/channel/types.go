package channel

import (
	"strings"
	"time"

	"github.com/MuhamadAgungGumelar/micro-system-chat-router/internal/modules/inbox/models"
)

// Type identifies an external messaging platform
type Type string

const (
	TypeWhatsApp Type = "whatsapp"
	TypeTelegram Type = "telegram"
)

func (t Type) String() string {
	return string(t)
}

func normalizeType(raw string) Type {
	return Type(strings.ToLower(strings.TrimSpace(raw)))
}

// InboundMessage is the canonical form of one customer message, whatever
// platform delivered it.
type InboundMessage struct {
	Platform           Type
	AccountRef         string
	ExternalMessageID  string
	ExternalCustomerID string
	DisplayName        string
	ContactHandle      string
	ContentType        models.ContentType
	Body               string
	MediaRef           string
	SentAt             time.Time
}

// StatusUpdate reports delivery progress of a message we sent earlier.
type StatusUpdate struct {
	Platform          Type
	ExternalMessageID string
	Status            models.DeliveryStatus
	Recipient         string
	OccurredAt        time.Time
}

// Envelope is everything a single webhook delivery carried. Both slices may
// be empty.
type Envelope struct {
	Platform   Type
	AccountRef string
	Messages   []InboundMessage
	Statuses   []StatusUpdate
}

func (e Envelope) IsEmpty() bool {
	return len(e.Messages) == 0 && len(e.Statuses) == 0
}

// OutboundMessage is a reply addressed to a conversation's customer.
// MediaRef is either a platform media id or an http(s) URL.
type OutboundMessage struct {
	ContentType models.ContentType
	Body        string
	MediaRef    string
	ParseMode   string
}

func (m OutboundMessage) IsMedia() bool {
	return strings.TrimSpace(m.MediaRef) != "" && m.ContentType != models.ContentText && m.ContentType != ""
}

// IsURL reports whether a media reference points at a public URL rather
// than a platform media id.
func IsURL(ref string) bool {
	ref = strings.ToLower(strings.TrimSpace(ref))
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}
