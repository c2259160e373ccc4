package observer

import "time"

// ReconnectPolicy governs retry timing after an unexpected disconnect.
// Deterministic: delay(n) = min(MaxDelay, BaseDelay + n*Increment) for the
// n-th failure in a row (0-based).
type ReconnectPolicy struct {
	BaseDelay   time.Duration
	Increment   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

// DefaultReconnectPolicy is a growing 1–10s backoff with 10 attempts.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		BaseDelay:   time.Second,
		Increment:   time.Second,
		MaxDelay:    10 * time.Second,
		MaxAttempts: 10,
	}
}

// Delay returns the wait before reconnect attempt n+1, where n is the
// number of consecutive failures so far.
func (p ReconnectPolicy) Delay(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	d := p.BaseDelay + time.Duration(n)*p.Increment
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}
