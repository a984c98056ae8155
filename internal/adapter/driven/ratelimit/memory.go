// Package ratelimit implements the RateLimiter port in process memory and on Redis.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ericfisherdev/opscenter/internal/domain/model"
	"github.com/ericfisherdev/opscenter/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.RateLimiter = (*Memory)(nil)

type windowKey struct {
	principal string
	action    string
}

// Memory is a fixed-window RateLimiter backed by a mutex-guarded map. It is
// only correct for a single process; use Redis for multi-instance deployments.
type Memory struct {
	mu      sync.Mutex
	windows map[windowKey]model.RateWindow
	now     func() time.Time
}

// NewMemory creates an in-process limiter. now may be nil to use time.Now.
func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{
		windows: make(map[windowKey]model.RateWindow),
		now:     now,
	}
}

// CheckAndIncrement evaluates and advances the window for (principal, action).
func (m *Memory) CheckAndIncrement(
	_ context.Context, principal, action string, limit int, period time.Duration,
) (model.RateDecision, error) {
	if limit <= 0 || period <= 0 {
		return model.RateDecision{}, fmt.Errorf("rate limit %s: limit and period must be positive", action)
	}

	now := m.now()
	key := windowKey{principal: principal, action: action}

	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[key]
	if !ok || w.Expired(now) {
		w = model.RateWindow{Principal: principal, Action: action, WindowStart: now}
	}
	w.Limit = limit
	w.Period = period

	if w.Count >= limit {
		return model.RateDecision{Allowed: false, RetryAfter: w.WindowStart.Add(period).Sub(now)}, nil
	}

	w.Count++
	m.windows[key] = w
	return model.RateDecision{Allowed: true, Remaining: limit - w.Count}, nil
}

// Prune drops expired windows.
func (m *Memory) Prune(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pruned := 0
	for key, w := range m.windows {
		if w.Expired(now) {
			delete(m.windows, key)
			pruned++
		}
	}
	return pruned, nil
}

// Len returns the number of tracked windows.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows)
}
