package model

import "time"

// RateWindow is the fixed counting window of one (principal, action) pair.
type RateWindow struct {
	Principal   string
	Action      string
	WindowStart time.Time
	Count       int
	Limit       int
	Period      time.Duration
}

// Expired reports whether the window has elapsed at now.
func (w RateWindow) Expired(now time.Time) bool {
	return !now.Before(w.WindowStart.Add(w.Period))
}

// RateDecision is the outcome of a rate limiter check. RetryAfter is only
// meaningful when Allowed is false.
type RateDecision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, never below one.
func (d RateDecision) RetryAfterSeconds() int {
	secs := int((d.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}
