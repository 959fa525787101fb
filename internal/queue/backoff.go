package queue

import "time"

// Policy holds the retry and dispatch parameters of the queue.
type Policy struct {
	// BaseDelay scales the retry delay. The wait after the n-th failed
	// attempt is BaseDelay*2^n, capped at MaxDelay.
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// DefaultMaxRetries applies when an enqueue request does not set one.
	DefaultMaxRetries int

	// DispatchTimeout bounds a single hardware delivery attempt.
	DispatchTimeout time.Duration

	// SentTimeout is how long a command may stay SENT without an outcome
	// before FailUnconfirmed treats the attempt as failed.
	SentTimeout time.Duration
}

// DefaultPolicy returns the built-in queue policy.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:         5 * time.Second,
		MaxDelay:          10 * time.Minute,
		DefaultMaxRetries: 3,
		DispatchTimeout:   15 * time.Second,
		SentTimeout:       time.Hour,
	}
}

// Backoff returns min(BaseDelay*2^retryCount, MaxDelay). Fail passes the
// already incremented count, so the first retry waits 2*BaseDelay.
func (p Policy) Backoff(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	delay := p.BaseDelay
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if delay >= p.MaxDelay || delay <= 0 {
			return p.MaxDelay
		}
	}
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}
