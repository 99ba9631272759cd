package notes

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"

	"medivoice/internal/apierror"
)

// RetryPolicy bounds retries of a single model call.
type RetryPolicy struct {
	// MaxAttempts includes the first call.
	MaxAttempts int
	BaseDelay   time.Duration
	Factor      float64
	MaxDelay    time.Duration
}

// DefaultRetryPolicy retries three times after the first call, waiting 1s, 2s, 4s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 4,
		BaseDelay:   time.Second,
		Factor:      2,
		MaxDelay:    30 * time.Second,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.Factor < 1 {
		p.Factor = def.Factor
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	return p
}

// RetryNotify observes each scheduled retry.
type RetryNotify func(attempt int, err error, wait time.Duration)

// Do runs op under the policy. Only transient provider errors are retried;
// anything else is returned after the first failure.
func Do[T any](ctx context.Context, policy RetryPolicy, op func(ctx context.Context) (T, error), notify RetryNotify) (T, error) {
	policy = policy.withDefaults()

	exp := &backoff.ExponentialBackOff{
		InitialInterval:     policy.BaseDelay,
		RandomizationFactor: 0,
		Multiplier:          policy.Factor,
		MaxInterval:         policy.MaxDelay,
	}
	exp.Reset()

	attempt := 0
	return backoff.Retry(ctx, func() (T, error) {
		attempt++
		value, err := op(ctx)
		if err != nil && !apierror.IsTransient(err) {
			return value, backoff.Permanent(err)
		}
		return value, err
	},
		backoff.WithBackOff(exp),
		backoff.WithMaxTries(uint(policy.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			if notify != nil {
				notify(attempt, err, wait)
			}
		}),
	)
}
