package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ericfisherdev/opscenter/internal/domain/model"
	"github.com/ericfisherdev/opscenter/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.RateLimiter = (*RateLimitRepo)(nil)

// RateLimitRepo is a persistent fixed-window RateLimiter. Windows survive
// restarts and are shared by every process that opens the same database file.
type RateLimitRepo struct {
	db  *DB
	now func() time.Time
}

// NewRateLimitRepo creates a new RateLimitRepo.
func NewRateLimitRepo(db *DB) *RateLimitRepo {
	return &RateLimitRepo{db: db, now: time.Now}
}

// CheckAndIncrement evaluates and advances the window for (principal, action)
// inside one write transaction.
func (r *RateLimitRepo) CheckAndIncrement(
	ctx context.Context, principal, action string, limit int, period time.Duration,
) (model.RateDecision, error) {
	if limit <= 0 || period <= 0 {
		return model.RateDecision{}, fmt.Errorf("rate limit %s: limit and period must be positive", action)
	}

	now := r.now()
	var decision model.RateDecision

	err := r.db.withWriteTx(ctx, func(tx *sql.Tx) error {
		window := model.RateWindow{Principal: principal, Action: action, Limit: limit, Period: period}

		var startMs int64
		const selectWindow = `SELECT window_start, count FROM rate_limit_windows WHERE principal = ? AND action = ?`
		err := tx.QueryRowContext(ctx, selectWindow, principal, action).Scan(&startMs, &window.Count)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			window.WindowStart = now
			window.Count = 0
		case err != nil:
			return fmt.Errorf("read window: %w", err)
		default:
			window.WindowStart = time.UnixMilli(startMs)
		}

		if window.Expired(now) {
			window.WindowStart = now
			window.Count = 0
		}

		resetAt := window.WindowStart.Add(period)
		if window.Count >= limit {
			decision = model.RateDecision{Allowed: false, RetryAfter: resetAt.Sub(now)}
			return nil
		}

		window.Count++
		const upsert = `INSERT INTO rate_limit_windows
			(principal, action, window_start, count, limit_count, period_ms, expires_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (principal, action) DO UPDATE SET
				window_start = excluded.window_start,
				count = excluded.count,
				limit_count = excluded.limit_count,
				period_ms = excluded.period_ms,
				expires_at = excluded.expires_at`
		if _, err := tx.ExecContext(ctx, upsert,
			principal, action, window.WindowStart.UnixMilli(), window.Count,
			limit, period.Milliseconds(), resetAt.UnixMilli(),
		); err != nil {
			return fmt.Errorf("write window: %w", err)
		}

		decision = model.RateDecision{Allowed: true, Remaining: limit - window.Count}
		return nil
	})
	if err != nil {
		return model.RateDecision{}, fmt.Errorf("rate limit %s for %q: %w", action, principal, err)
	}

	return decision, nil
}

// Prune deletes windows that expired at or before now.
func (r *RateLimitRepo) Prune(ctx context.Context, now time.Time) (int, error) {
	const query = `DELETE FROM rate_limit_windows WHERE expires_at <= ?`
	res, err := r.db.Writer.ExecContext(ctx, query, now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune rate limit windows: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune rate limit windows: %w", err)
	}
	return int(n), nil
}
