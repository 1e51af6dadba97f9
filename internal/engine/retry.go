package engine

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"socialpulse.app/autopilot/internal/faults"
)

// RetryPolicy bounds the retry executor. Attempts are counted, not
// wall-clock: the ceiling is what keeps a cycle's duration bounded.
type RetryPolicy struct {
	// MaxRetries is the number of retry attempts (not counting the initial
	// attempt).
	MaxRetries int

	// BaseDelay is the delay before the first retry attempt.
	BaseDelay time.Duration

	// MaxDelay caps the delay between retries.
	MaxDelay time.Duration

	// BackoffMultiplier controls exponential growth (2.0 = double each retry).
	BackoffMultiplier float64

	// Jitter adds randomness to delays to reduce thundering-herd retries.
	Jitter bool
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        2,
		BaseDelay:         1 * time.Second,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
}

// SleepFunc waits for d or until the context is done. Injected in tests.
type SleepFunc func(ctx context.Context, d time.Duration) error

func defaultSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Retryer wraps a single external call with the bounded retry policy. It has
// no durable state of its own; on exhaustion the last error is returned for
// the stage to resolve.
type Retryer struct {
	policy    RetryPolicy
	sleep     SleepFunc
	randFloat func() float64
}

func NewRetryer(policy RetryPolicy) *Retryer {
	return &Retryer{
		policy:    policy,
		sleep:     defaultSleep,
		randFloat: rand.Float64,
	}
}

// Do runs fn, retrying retryable failures with exponential backoff. op names
// the call for logs only.
func (r *Retryer) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	maxRetries := r.policy.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !retryable(lastErr) || attempt == maxRetries {
			return lastErr
		}

		delay := r.delay(lastErr, attempt)
		slog.WarnContext(ctx, "retrying after failure",
			"op", op,
			"error", lastErr,
			"attempt", attempt+1,
			"max_retries", maxRetries,
			"delay", delay)
		if err := r.sleep(ctx, delay); err != nil {
			return err
		}
	}
	return lastErr
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var fe *faults.Error
	if errors.As(err, &fe) {
		return fe.Retryable()
	}
	// Unknown errors default to retryable; the attempt ceiling bounds them.
	return true
}

// delay computes the wait before retry n (0-based). A server-provided
// Retry-After overrides calculated backoff, capped at MaxDelay.
func (r *Retryer) delay(err error, n int) time.Duration {
	if ra := faults.RetryAfterOf(err); ra != nil {
		d := *ra
		if d < 0 {
			d = 0
		}
		if r.policy.MaxDelay > 0 && d > r.policy.MaxDelay {
			d = r.policy.MaxDelay
		}
		return d
	}

	base := r.policy.BaseDelay
	if base < 0 {
		base = 0
	}
	mult := r.policy.BackoffMultiplier
	if mult <= 1 {
		mult = 2
	}
	d := time.Duration(float64(base) * math.Pow(mult, float64(n)))
	if r.policy.Jitter && d > 0 {
		// +/- 25% keeps delays monotonic across consecutive attempts while
		// still spreading simultaneous retries.
		j := 0.75 + r.randFloat()/2
		d = time.Duration(float64(d) * j)
	}
	// Cap after jitter: MaxDelay is a hard ceiling, and capped delays stay
	// monotonic instead of jittering back below the previous one.
	if r.policy.MaxDelay > 0 && d > r.policy.MaxDelay {
		d = r.policy.MaxDelay
	}
	return d
}
