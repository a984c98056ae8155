package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/ericfisherdev/opscenter/internal/domain/port/driven"
)

// RateLimitSweeper periodically prunes expired rate-limit windows. Limiters
// reset expired windows lazily, so the sweep only bounds storage growth.
type RateLimitSweeper struct {
	limiter  driven.RateLimiter
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// NewRateLimitSweeper creates a sweeper running every interval.
func NewRateLimitSweeper(limiter driven.RateLimiter, interval time.Duration, logger *slog.Logger) *RateLimitSweeper {
	return &RateLimitSweeper{
		limiter:  limiter,
		interval: interval,
		now:      time.Now,
		logger:   logger,
	}
}

// Start runs the sweep loop until ctx is canceled. It always returns nil so it
// can be run directly in an errgroup.
func (s *RateLimitSweeper) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("rate limit sweeper stopped")
			return nil
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep prunes once and returns how many windows were removed.
func (s *RateLimitSweeper) Sweep(ctx context.Context) int {
	n, err := s.limiter.Prune(ctx, s.now())
	if err != nil {
		s.logger.Error("rate limit sweep failed", "error", err)
		return 0
	}
	if n > 0 {
		s.logger.Debug("expired rate limit windows pruned", "count", n)
	}
	return n
}
