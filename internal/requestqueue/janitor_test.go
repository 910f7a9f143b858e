package requestqueue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewJanitor_InvalidSchedule(t *testing.T) {
	q, _ := newTestQueue(t, nil)

	_, err := NewJanitor(q, "not a schedule", zap.NewNop())
	assert.Error(t, err)
}

func TestJanitor_Sweep(t *testing.T) {
	q, _ := newTestQueue(t, nil)
	clock := newTestClock()
	q.now = clock.Now

	_, err := q.Do(context.Background(), "k", value(1), WithCacheTTL(time.Second))
	require.NoError(t, err)

	j, err := NewJanitor(q, "", nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultJanitorSchedule, j.schedule)

	j.Sweep()
	assert.Equal(t, 1, q.Stats().CacheSize)

	clock.Advance(2 * time.Second)
	j.Sweep()
	assert.Equal(t, 0, q.Stats().CacheSize)
}

func TestJanitor_RunsOnSchedule(t *testing.T) {
	q, _ := newTestQueue(t, nil)
	clock := newTestClock()
	q.now = clock.Now

	_, err := q.Do(context.Background(), "k", value(1), WithCacheTTL(time.Second))
	require.NoError(t, err)
	clock.Advance(time.Minute)

	j, err := NewJanitor(q, "@every 1s", zap.NewNop())
	require.NoError(t, err)
	j.Start()
	j.Start()

	require.Eventually(t, func() bool { return q.Stats().CacheSize == 0 }, 3*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, j.Stop(ctx))
	assert.NoError(t, j.Stop(ctx))
}
