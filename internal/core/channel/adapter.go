package channel

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/MuhamadAgungGumelar/micro-system-chat-router/internal/modules/inbox/models"
)

// Adapter converts one platform's webhook payloads into canonical messages
// and delivers replies through that platform's API. Adapters carry no
// per-request state; credentials arrive with every call.
type Adapter interface {
	Type() Type

	// Normalize parses a raw webhook body received for accountRef. Bodies
	// that cannot be parsed return an error wrapping ErrMalformedPayload.
	Normalize(accountRef string, raw []byte) (Envelope, error)

	// Send delivers msg to the conversation's customer and returns the
	// platform-assigned message id.
	Send(ctx context.Context, cfg *models.PlatformConfig, conv *models.Conversation, msg OutboundMessage) (string, error)
}

// RequestAuthenticator is implemented by adapters whose platform signs or
// tags webhook requests.
type RequestAuthenticator interface {
	Authenticate(cfg *models.PlatformConfig, header func(string) string, body []byte) bool
}

// Registry holds the adapters of the process. It is created in main and
// passed to the components that need it.
type Registry struct {
	mu       sync.RWMutex
	adapters map[Type]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: map[Type]Adapter{}}
}

func (r *Registry) Register(adapter Adapter) error {
	if adapter == nil {
		return errors.New("adapter is nil")
	}
	t := normalizeType(adapter.Type().String())
	if t == "" {
		return errors.New("channel type is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[t]; exists {
		return fmt.Errorf("channel type already registered: %s", t)
	}
	r.adapters[t] = adapter
	return nil
}

// MustRegister calls Register and panics on error.
func (r *Registry) MustRegister(adapter Adapter) {
	if err := r.Register(adapter); err != nil {
		panic(err)
	}
}

func (r *Registry) Get(t Type) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[normalizeType(t.String())]
	return adapter, ok
}

// Types lists registered platform types in sorted order.
func (r *Registry) Types() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Type, 0, len(r.adapters))
	for t := range r.adapters {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseType validates a platform name from a URL or config.
func ParseType(raw string) (Type, error) {
	t := normalizeType(raw)
	switch t {
	case TypeWhatsApp, TypeTelegram:
		return t, nil
	}
	return "", fmt.Errorf("unknown platform: %q", raw)
}
