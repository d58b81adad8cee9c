package tenant

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MuhamadAgungGumelar/micro-system-chat-router/internal/modules/inbox/models"
	"github.com/MuhamadAgungGumelar/micro-system-chat-router/internal/modules/inbox/repositories"
)

type countingSource struct {
	repositories.Store
	calls int32
}

func (c *countingSource) FindPlatformConfig(ctx context.Context, platformID, accountRef string) (*models.PlatformConfig, error) {
	atomic.AddInt32(&c.calls, 1)
	return c.Store.FindPlatformConfig(ctx, platformID, accountRef)
}

func newSource(t *testing.T) *countingSource {
	t.Helper()
	store := repositories.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.SavePlatformConfig(ctx, &models.PlatformConfig{
		TenantID: "T1", PlatformID: "whatsapp", AccountRef: "PN1", IsActive: true,
	}))
	require.NoError(t, store.SavePlatformConfig(ctx, &models.PlatformConfig{
		TenantID: "T2", PlatformID: "telegram", AccountRef: "42", IsActive: false,
	}))
	return &countingSource{Store: store}
}

func TestResolveKnownRoute(t *testing.T) {
	t.Parallel()

	src := newSource(t)
	r := NewResolver(src, time.Minute)

	tc, err := r.Resolve(context.Background(), "whatsapp", "PN1")
	require.NoError(t, err)
	assert.Equal(t, "T1", tc.TenantID)
	assert.Equal(t, "PN1", tc.Platform.AccountRef)

	_, err = r.Resolve(context.Background(), "whatsapp", "PN1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&src.calls), "second lookup served from cache")

	r.Invalidate("whatsapp", "PN1")
	_, err = r.Resolve(context.Background(), "whatsapp", "PN1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&src.calls))
}

func TestResolveUnknownOrInactive(t *testing.T) {
	t.Parallel()

	r := NewResolver(newSource(t), time.Minute)

	_, err := r.Resolve(context.Background(), "whatsapp", "nope")
	assert.ErrorIs(t, err, ErrRouteNotFound)

	_, err = r.Resolve(context.Background(), "telegram", "42")
	assert.ErrorIs(t, err, ErrRouteNotFound)
}

type failingSource struct{}

func (failingSource) FindPlatformConfig(context.Context, string, string) (*models.PlatformConfig, error) {
	return nil, errors.New("connection refused")
}

func TestResolveStoreError(t *testing.T) {
	t.Parallel()

	_, err := NewResolver(failingSource{}, 0).Resolve(context.Background(), "whatsapp", "PN1")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrRouteNotFound))
}

func TestCacheExpires(t *testing.T) {
	t.Parallel()

	src := newSource(t)
	r := NewResolver(src, time.Second)
	now := time.Now()
	r.now = func() time.Time { return now }

	_, err := r.Resolve(context.Background(), "whatsapp", "PN1")
	require.NoError(t, err)
	now = now.Add(2 * time.Second)
	_, err = r.Resolve(context.Background(), "whatsapp", "PN1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&src.calls))
}
