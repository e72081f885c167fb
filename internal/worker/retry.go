package worker

import (
	"math/rand"
	"time"
)

// exponentCap bounds the doubling so the computed delay cannot overflow
// before the Max clamp applies.
const exponentCap = 16

// RetryPolicy decides how transient delivery failures are retried: attempt n
// (1-based) sleeps min(Base·2^(n−1), Max) with ±25% jitter before attempt
// n+1; after MaxAttempts the batch is given up to the disk buffer.
type RetryPolicy struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
}

// Delay returns the backoff to sleep after failed attempt number attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	exp := attempt - 1
	if exp > exponentCap {
		exp = exponentCap
	}

	d := p.Base << uint(exp)
	if d > p.Max || d <= 0 {
		d = p.Max
	}

	// ±25% jitter so colliding clients spread out.
	jitter := time.Duration(float64(d) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	d += jitter
	if d < 0 {
		d = 0
	}
	return d
}

// Exhausted reports whether attempt (1-based) was the last one allowed.
func (p RetryPolicy) Exhausted(attempt int) bool {
	return attempt >= p.MaxAttempts
}
