package client

import (
	"math"
	"time"

	"mediaqueue/internal/config"
)

// Backoff is a capped exponential reconnect policy. MaxAttempts of zero
// retries forever.
type Backoff struct {
	Base        time.Duration
	Multiplier  float64
	Max         time.Duration
	MaxAttempts int
}

// BackoffFromConfig builds the policy from the reconnect section.
func BackoffFromConfig(cfg *config.Config) Backoff {
	if cfg == nil {
		return Backoff{Base: time.Second, Multiplier: 2, Max: 30 * time.Second, MaxAttempts: 10}
	}
	return Backoff{
		Base:        time.Duration(cfg.Reconnect.BaseMillis) * time.Millisecond,
		Multiplier:  cfg.Reconnect.Multiplier,
		Max:         time.Duration(cfg.Reconnect.MaxMillis) * time.Millisecond,
		MaxAttempts: cfg.Reconnect.MaxAttempts,
	}
}

// Delay returns the wait before the given 1-based attempt. ok is false once
// the attempt exceeds MaxAttempts.
func (b Backoff) Delay(attempt int) (time.Duration, bool) {
	if attempt < 1 {
		attempt = 1
	}
	if b.MaxAttempts > 0 && attempt > b.MaxAttempts {
		return 0, false
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}
	delay := float64(b.Base) * math.Pow(mult, float64(attempt-1))
	if b.Max > 0 && delay > float64(b.Max) {
		return b.Max, true
	}
	if delay > math.MaxInt64 {
		return time.Duration(math.MaxInt64), true
	}
	return time.Duration(delay), true
}
