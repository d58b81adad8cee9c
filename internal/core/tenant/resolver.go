package tenant

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MuhamadAgungGumelar/micro-system-chat-router/internal/modules/inbox/models"
	"github.com/MuhamadAgungGumelar/micro-system-chat-router/internal/modules/inbox/repositories"
)

// ErrRouteNotFound means no active platform config owns the route. There
// is no fallback tenant.
var ErrRouteNotFound = errors.New("no tenant route for platform account")

// ConfigSource looks platform configs up by route.
type ConfigSource interface {
	FindPlatformConfig(ctx context.Context, platformID, accountRef string) (*models.PlatformConfig, error)
}

// TenantContext is the tenant owning an inbound webhook route.
type TenantContext struct {
	TenantID string
	Platform *models.PlatformConfig
}

type cached struct {
	cfg     *models.PlatformConfig
	expires time.Time
}

// Resolver maps (platform, accountRef) to a tenant through the platform
// config table. Hits are cached for ttl; misses are not cached so a newly
// added route works at once.
type Resolver struct {
	source ConfigSource
	ttl    time.Duration
	now    func() time.Time

	mu    sync.RWMutex
	cache map[string]cached
}

func NewResolver(source ConfigSource, ttl time.Duration) *Resolver {
	return &Resolver{
		source: source,
		ttl:    ttl,
		now:    time.Now,
		cache:  make(map[string]cached),
	}
}

func routeKey(platformID, accountRef string) string {
	return platformID + "/" + accountRef
}

// Resolve returns the tenant and platform config for a webhook route.
func (r *Resolver) Resolve(ctx context.Context, platformID, accountRef string) (*TenantContext, error) {
	key := routeKey(platformID, accountRef)

	if r.ttl > 0 {
		r.mu.RLock()
		c, ok := r.cache[key]
		r.mu.RUnlock()
		if ok && r.now().Before(c.expires) {
			return &TenantContext{TenantID: c.cfg.TenantID, Platform: c.cfg}, nil
		}
	}

	cfg, err := r.source.FindPlatformConfig(ctx, platformID, accountRef)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRouteNotFound, key)
		}
		return nil, fmt.Errorf("resolve route %s: %w", key, err)
	}
	if !cfg.IsActive || cfg.TenantID == "" {
		return nil, fmt.Errorf("%w: %s is inactive", ErrRouteNotFound, key)
	}

	if r.ttl > 0 {
		r.mu.Lock()
		r.cache[key] = cached{cfg: cfg, expires: r.now().Add(r.ttl)}
		r.mu.Unlock()
	}
	return &TenantContext{TenantID: cfg.TenantID, Platform: cfg}, nil
}

// Invalidate drops a cached route, e.g. after its config changed.
func (r *Resolver) Invalidate(platformID, accountRef string) {
	r.mu.Lock()
	delete(r.cache, routeKey(platformID, accountRef))
	r.mu.Unlock()
}
