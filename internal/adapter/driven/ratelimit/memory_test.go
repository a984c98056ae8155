package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/opscenter/internal/domain/port/driven"
)

var testTime = time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// exerciseFixedWindow runs the shared fixed-window contract against any limiter.
func exerciseFixedWindow(t *testing.T, limiter driven.RateLimiter, clock *fakeClock, principal string) {
	t.Helper()
	ctx := context.Background()

	for i := range 3 {
		d, err := limiter.CheckAndIncrement(ctx, principal, "reset", 3, 24*time.Hour)
		require.NoError(t, err)
		require.True(t, d.Allowed, "call %d", i+1)
	}

	clock.Advance(time.Hour)
	d, err := limiter.CheckAndIncrement(ctx, principal, "reset", 3, 24*time.Hour)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 23*time.Hour, d.RetryAfter)
	assert.Equal(t, 82800, d.RetryAfterSeconds())

	clock.Advance(23 * time.Hour)
	d, err = limiter.CheckAndIncrement(ctx, principal, "reset", 3, 24*time.Hour)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 2, d.Remaining)
}

func TestMemory_FixedWindow(t *testing.T) {
	clock := &fakeClock{now: testTime}
	exerciseFixedWindow(t, NewMemory(clock.Now), clock, "alice")
}

func TestMemory_DeniedDoesNotCount(t *testing.T) {
	clock := &fakeClock{now: testTime}
	limiter := NewMemory(clock.Now)
	ctx := context.Background()

	d, err := limiter.CheckAndIncrement(ctx, "alice", "test", 1, time.Minute)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	for range 5 {
		d, err = limiter.CheckAndIncrement(ctx, "alice", "test", 1, time.Minute)
		require.NoError(t, err)
		assert.False(t, d.Allowed)
	}

	clock.Advance(time.Minute)
	d, err = limiter.CheckAndIncrement(ctx, "alice", "test", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, d.Allowed, "denials must not push the window forward")
}

func TestMemory_ConcurrentCallersRespectLimit(t *testing.T) {
	limiter := NewMemory(nil)
	ctx := context.Background()

	const callers = 100
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := limiter.CheckAndIncrement(ctx, "alice", "test", 7, time.Hour)
			if err == nil && d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 7, allowed)
}

func TestMemory_InvalidArguments(t *testing.T) {
	limiter := NewMemory(nil)

	_, err := limiter.CheckAndIncrement(context.Background(), "alice", "test", 0, time.Hour)
	assert.Error(t, err)
	_, err = limiter.CheckAndIncrement(context.Background(), "alice", "test", 3, -time.Second)
	assert.Error(t, err)
}

func TestMemory_Prune(t *testing.T) {
	clock := &fakeClock{now: testTime}
	limiter := NewMemory(clock.Now)
	ctx := context.Background()

	_, err := limiter.CheckAndIncrement(ctx, "alice", "test", 3, time.Hour)
	require.NoError(t, err)
	_, err = limiter.CheckAndIncrement(ctx, "bob", "reset", 3, 24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, 2, limiter.Len())

	n, err := limiter.Prune(ctx, testTime.Add(90*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, limiter.Len())
}
