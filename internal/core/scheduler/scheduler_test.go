package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddJobAndRunNow(t *testing.T) {
	t.Parallel()

	s := New(zerolog.Nop(), time.Second)
	var runs int32
	require.NoError(t, s.AddJob("audit-retention", "@every 1h", func(ctx context.Context) error {
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		atomic.AddInt32(&runs, 1)
		return nil
	}))
	require.NoError(t, s.AddJob("bot-cache-sweep", "0 */5 * * * *", func(context.Context) error {
		return errors.New("sweep failed")
	}))

	assert.Equal(t, []string{"audit-retention", "bot-cache-sweep"}, s.Jobs())
	assert.True(t, s.RunNow("audit-retention"))
	assert.True(t, s.RunNow("bot-cache-sweep"))
	assert.False(t, s.RunNow("missing"))
	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))

	s.RemoveJob("bot-cache-sweep")
	assert.Equal(t, []string{"audit-retention"}, s.Jobs())
}

func TestReplaceJob(t *testing.T) {
	t.Parallel()

	s := New(zerolog.Nop(), time.Second)
	var which int32
	require.NoError(t, s.AddJob("job", "@every 1h", func(context.Context) error {
		atomic.StoreInt32(&which, 1)
		return nil
	}))
	require.NoError(t, s.AddJob("job", "@every 2h", func(context.Context) error {
		atomic.StoreInt32(&which, 2)
		return nil
	}))
	assert.Len(t, s.Jobs(), 1)
	s.RunNow("job")
	assert.Equal(t, int32(2), atomic.LoadInt32(&which))
}

func TestInvalidSchedule(t *testing.T) {
	t.Parallel()

	s := New(zerolog.Nop(), time.Second)
	assert.Error(t, s.AddJob("bad", "every day", func(context.Context) error { return nil }))
	assert.Empty(t, s.Jobs())
}

func TestRecoversPanics(t *testing.T) {
	t.Parallel()

	s := New(zerolog.Nop(), time.Second)
	require.NoError(t, s.AddJob("boom", "@every 1h", func(context.Context) error { panic("boom") }))
	assert.NotPanics(t, func() { s.RunNow("boom") })

	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}
