package driven

import (
	"context"
	"time"

	"github.com/ericfisherdev/opscenter/internal/domain/model"
)

// RateLimiter bounds sensitive operations per (principal, action) with a fixed
// window. The compare-and-increment must be atomic for concurrent callers of
// the same pair; a denied call must not increment the counter.
type RateLimiter interface {
	CheckAndIncrement(ctx context.Context, principal, action string, limit int, period time.Duration) (model.RateDecision, error)

	// Prune drops windows that have expired at now. Implementations backed by
	// a store with native expiry may treat this as a no-op.
	Prune(ctx context.Context, now time.Time) (int, error)
}
