package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRateLimitRepo(t *testing.T) (*RateLimitRepo, *fakeClock) {
	t.Helper()
	clock := newFakeClock(testTime)
	repo := NewRateLimitRepo(setupTestDB(t))
	repo.now = clock.Now
	return repo, clock
}

func TestRateLimitRepo_ThreeAllowedThenDenied(t *testing.T) {
	repo, clock := newTestRateLimitRepo(t)
	ctx := context.Background()

	for i := range 3 {
		d, err := repo.CheckAndIncrement(ctx, "alice", "reset", 3, 24*time.Hour)
		require.NoError(t, err)
		assert.True(t, d.Allowed, "call %d", i+1)
		assert.Equal(t, 2-i, d.Remaining)
		clock.Advance(time.Minute)
	}

	d, err := repo.CheckAndIncrement(ctx, "alice", "reset", 3, 24*time.Hour)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 24*time.Hour-3*time.Minute, d.RetryAfter)

	// Denied calls do not extend or consume the window.
	d, err = repo.CheckAndIncrement(ctx, "alice", "reset", 3, 24*time.Hour)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 24*time.Hour-3*time.Minute, d.RetryAfter)

	clock.Advance(24 * time.Hour)
	d, err = repo.CheckAndIncrement(ctx, "alice", "reset", 3, 24*time.Hour)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 2, d.Remaining)
}

func TestRateLimitRepo_KeysAreIndependent(t *testing.T) {
	repo, _ := newTestRateLimitRepo(t)
	ctx := context.Background()

	d, err := repo.CheckAndIncrement(ctx, "alice", "test", 1, time.Hour)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = repo.CheckAndIncrement(ctx, "bob", "test", 1, time.Hour)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = repo.CheckAndIncrement(ctx, "alice", "reset", 1, time.Hour)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	d, err = repo.CheckAndIncrement(ctx, "alice", "test", 1, time.Hour)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}

func TestRateLimitRepo_ConcurrentCallersRespectLimit(t *testing.T) {
	repo, _ := newTestRateLimitRepo(t)
	ctx := context.Background()

	const callers = 12
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := repo.CheckAndIncrement(ctx, "alice", "test", 5, time.Hour)
			if !assert.NoError(t, err) {
				return
			}
			if d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, allowed)
}

// Two DB handles on one file behave like two processes sharing the database.
func TestRateLimitRepo_SharedFileAcrossHandles(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "shared.db")

	first, err := NewDB(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = first.Close() })
	_, err = RunMigrations(first.Writer)
	require.NoError(t, err)

	second, err := NewDB(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close() })

	repos := []*RateLimitRepo{NewRateLimitRepo(first), NewRateLimitRepo(second)}

	const perHandle = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for _, repo := range repos {
		for range perHandle {
			wg.Add(1)
			go func() {
				defer wg.Done()
				d, err := repo.CheckAndIncrement(ctx, "alice", "reset", 3, 24*time.Hour)
				if !assert.NoError(t, err, "concurrent writers must serialize, not fail busy") {
					return
				}
				if d.Allowed {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}()
		}
	}
	wg.Wait()

	assert.Equal(t, 3, allowed)
}

func TestRateLimitRepo_InvalidArguments(t *testing.T) {
	repo, _ := newTestRateLimitRepo(t)

	_, err := repo.CheckAndIncrement(context.Background(), "alice", "test", 0, time.Hour)
	assert.Error(t, err)
	_, err = repo.CheckAndIncrement(context.Background(), "alice", "test", 1, 0)
	assert.Error(t, err)
}

func TestRateLimitRepo_Prune(t *testing.T) {
	repo, clock := newTestRateLimitRepo(t)
	ctx := context.Background()

	_, err := repo.CheckAndIncrement(ctx, "alice", "test", 3, time.Hour)
	require.NoError(t, err)
	_, err = repo.CheckAndIncrement(ctx, "bob", "reset", 3, 24*time.Hour)
	require.NoError(t, err)

	n, err := repo.Prune(ctx, clock.Now())
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = repo.Prune(ctx, clock.Now().Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var remaining int
	require.NoError(t, repo.db.Reader.QueryRowContext(ctx, `SELECT COUNT(*) FROM rate_limit_windows`).Scan(&remaining))
	assert.Equal(t, 1, remaining)
}
