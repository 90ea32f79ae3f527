package runner

import "time"

// RetryPolicy bounds in-cycle retries for transient decrypt and apply
// failures. The budget and curve are deliberately configuration, not law:
// tests and deployments tune them.
type RetryPolicy struct {
	// MaxAttempts is the number of tries per job per drain cycle.
	MaxAttempts int
	// BackoffMin is the delay after the first failed attempt.
	BackoffMin time.Duration
	// BackoffMax clamps the exponential growth.
	BackoffMax time.Duration
}

// DefaultRetryPolicy returns the built-in policy: 5 attempts, 100ms doubling
// up to 5s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BackoffMin:  100 * time.Millisecond,
		BackoffMax:  5 * time.Second,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BackoffMin <= 0 {
		p.BackoffMin = d.BackoffMin
	}
	if p.BackoffMax < p.BackoffMin {
		p.BackoffMax = p.BackoffMin
	}
	return p
}

// backoff returns the delay before the given retry attempt (attempt 1 is the
// first retry).
func (p RetryPolicy) backoff(attempt int) time.Duration {
	d := p.BackoffMin
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.BackoffMax {
			return p.BackoffMax
		}
	}
	if d > p.BackoffMax {
		return p.BackoffMax
	}
	return d
}
