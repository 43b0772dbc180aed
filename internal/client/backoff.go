// ABOUTME: Reconnection backoff schedule for the connection manager
// ABOUTME: Exponential delays for a bounded number of attempts, then a flat slow retry
package client

import (
	"math"
	"time"
)

// Default backoff schedule
const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = 10 * time.Millisecond
	DefaultMultiplier  = 2
	DefaultSlowRetry   = 5 * time.Second
)

// ReconnectPolicy tracks consecutive connection failures.
//
// The zero value is not usable; start from DefaultReconnectPolicy.
type ReconnectPolicy struct {
	Attempt     int
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  int
	SlowRetry   time.Duration
}

// DefaultReconnectPolicy returns the 10ms x2, five attempt schedule
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		Multiplier:  DefaultMultiplier,
		SlowRetry:   DefaultSlowRetry,
	}
}

// Delay returns the delay for the 1-indexed attempt n, never more than
// SlowRetry
func (p ReconnectPolicy) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	limit := p.SlowRetry
	if limit <= 0 {
		limit = math.MaxInt64
	}

	d := p.BaseDelay
	for i := 1; i < n; i++ {
		if p.Multiplier > 1 && d > limit/time.Duration(p.Multiplier) {
			return limit
		}
		d *= time.Duration(p.Multiplier)
	}
	if d > limit {
		return limit
	}
	return d
}

// Next records a failure and returns how long to wait before the next
// attempt. Once MaxAttempts is reached the counter resets and the slow
// retry delay is returned, so the schedule never gives up.
func (p *ReconnectPolicy) Next() time.Duration {
	if p.Attempt < p.MaxAttempts {
		p.Attempt++
		return p.Delay(p.Attempt)
	}
	p.Attempt = 0
	return p.SlowRetry
}

// Reset clears the failure count after a successful connection
func (p *ReconnectPolicy) Reset() {
	p.Attempt = 0
}
