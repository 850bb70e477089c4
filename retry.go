package notify

import "time"

const (
	DefaultRetryBase     = time.Minute
	DefaultRetryMaxDelay = 24 * time.Hour

	// beyond this the shift would overflow time.Duration
	maxBackoffExponent = 30
)

type Action struct {
	Retry bool
	At    time.Time
}

// RetryPolicy computes backoff as Base * 2^attempts, optionally capped at MaxDelay.
// A zero MaxDelay leaves the delay uncapped.
type RetryPolicy struct {
	Base     time.Duration
	MaxDelay time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Base:     DefaultRetryBase,
		MaxDelay: DefaultRetryMaxDelay,
	}
}

// Next returns when to retry a job that has failed its attempts-th attempt, or a
// non-retry action when attempts are exhausted or the failure is permanent.
func (p RetryPolicy) Next(now time.Time, attempts, maxAttempts int, kind FailureKind) Action {
	if attempts >= maxAttempts || kind == FailurePermanent {
		return Action{}
	}

	return Action{
		Retry: true,
		At:    now.Add(p.Delay(attempts)),
	}
}

func (p RetryPolicy) Delay(attempts int) time.Duration {
	base := p.Base
	if base <= 0 {
		base = DefaultRetryBase
	}

	if attempts < 0 {
		attempts = 0
	}

	if attempts > maxBackoffExponent {
		attempts = maxBackoffExponent
	}

	delay := base << uint(attempts)
	if delay <= 0 || delay/base != time.Duration(1)<<uint(attempts) {
		// overflowed
		delay = time.Duration(1<<63 - 1)
	}

	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}

	return delay
}
