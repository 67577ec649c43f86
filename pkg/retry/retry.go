package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// RetryPolicy defines how to retry an operation
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultPolicy is used for startup probes against the oracle and ledger
var DefaultPolicy = RetryPolicy{
	MaxAttempts:    5,
	InitialBackoff: 200 * time.Millisecond,
	MaxBackoff:     5 * time.Second,
}

// IsTransientFunc defines if an error is transient and should be retried
type IsTransientFunc func(error) bool

// Always treats every error as transient
func Always(error) bool { return true }

// Unless returns an IsTransientFunc that retries everything except the listed errors
func Unless(permanent ...error) IsTransientFunc {
	return func(err error) bool {
		for _, p := range permanent {
			if errors.Is(err, p) {
				return false
			}
		}
		return true
	}
}

// Do executes fn until it succeeds, returns a non-transient error, or the attempts run out.
// The last error is returned unchanged so callers can still match sentinels.
func Do(ctx context.Context, policy RetryPolicy, isTransient IsTransientFunc, fn func() error) error {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	if isTransient == nil {
		isTransient = Always
	}

	var err error
	backoff := policy.InitialBackoff

	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !isTransient(err) || attempt == policy.MaxAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jittered(backoff)):
			backoff = minDuration(backoff*2, policy.MaxBackoff)
		}
	}

	return err
}

// jittered adds up to 50% random jitter
func jittered(d time.Duration) time.Duration {
	if d <= 1 {
		return d
	}
	return d + time.Duration(rand.Int63n(int64(d/2)+1))
}

func minDuration(a, b time.Duration) time.Duration {
	if b > 0 && b < a {
		return b
	}
	return a
}
