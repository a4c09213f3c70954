package remote

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy re-invokes an operation up to MaxAttempts times when it fails
// with one of RetryOn. The retryable kinds and attempt budget are plain
// data, not reflection over error types, so the policy for a given call
// site is visible at its construction.
type RetryPolicy struct {
	MaxAttempts int
	RetryOn     []ErrorKind
	Backoff     time.Duration // fixed backoff between attempts; zero means none
}

// NewRetryPolicy builds a RetryPolicy that retries maxAttempts times total
// (the first attempt plus maxAttempts-1 retries) on any of the given kinds,
// with no backoff between attempts.
func NewRetryPolicy(maxAttempts int, kinds ...ErrorKind) *RetryPolicy {
	return &RetryPolicy{MaxAttempts: maxAttempts, RetryOn: kinds}
}

// WithBackoff returns a copy of p with a fixed backoff between attempts.
func (p *RetryPolicy) WithBackoff(d time.Duration) *RetryPolicy {
	clone := *p
	clone.Backoff = d
	return &clone
}

func (p *RetryPolicy) retries(err error) bool {
	kind, ok := KindOf(err)
	if !ok {
		return false
	}
	for _, k := range p.RetryOn {
		if k == kind {
			return true
		}
	}
	return false
}

// Do runs fn, retrying per the policy. It returns the last error if every
// attempt is exhausted, or nil/result on the first success.
func Do[T any](p *RetryPolicy, fn func(attempt int) (T, error)) (T, error) {
	var zero T
	var lastErr error

	bo := backoff.NewConstantBackOff(p.Backoff)

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		result, err := fn(attempt)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if attempt == p.MaxAttempts || !p.retries(err) {
			return zero, lastErr
		}
		if p.Backoff > 0 {
			time.Sleep(bo.NextBackOff())
		}
	}
	return zero, lastErr
}

// DoVoid is Do for operations with no result value.
func DoVoid(p *RetryPolicy, fn func(attempt int) error) error {
	_, err := Do(p, func(attempt int) (struct{}, error) {
		return struct{}{}, fn(attempt)
	})
	return err
}
