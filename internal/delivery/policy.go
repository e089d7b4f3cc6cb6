package delivery

import "time"

// RetryPolicy bounds how many times a delivery is attempted and how long to
// wait between attempts. Backoff is indexed by the number of failures so
// far; it must hold at least MaxAttempts-1 usable tiers, which config
// validation enforces at load time.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     []time.Duration
}

// DefaultRetryPolicy returns the standard three-attempt escalating policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff:     []time.Duration{1 * time.Minute, 5 * time.Minute, 15 * time.Minute},
	}
}

// Delay returns how long to wait after the given failed attempt (1-based)
// before trying again. Attempts past the configured tiers reuse the last
// tier.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if len(p.Backoff) == 0 {
		return time.Minute
	}
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(p.Backoff) {
		idx = len(p.Backoff) - 1
	}
	return p.Backoff[idx]
}
