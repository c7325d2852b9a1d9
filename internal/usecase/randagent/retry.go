package randagent

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"rand-agent/internal/domain"
)

// Retry defaults.
const (
	DefaultInitialDelay = time.Second
	DefaultFactor       = 2.0
	DefaultMaxDelay     = 60 * time.Second
	DefaultMaxAttempts  = 3
)

// RetryPolicy configures exponential backoff between attempts.
type RetryPolicy struct {
	InitialDelay time.Duration
	Factor       float64
	Jitter       float64 // randomization factor in [0,1); 0 disables jitter
	MaxDelay     time.Duration
	MaxAttempts  int // total invocations, including the first
}

// DefaultRetryPolicy returns 1s initial delay, factor 2, no jitter, 60s
// delay cap and 3 attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialDelay: DefaultInitialDelay,
		Factor:       DefaultFactor,
		MaxDelay:     DefaultMaxDelay,
		MaxAttempts:  DefaultMaxAttempts,
	}
}

// withDefaults fills zero fields from DefaultRetryPolicy.
func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.InitialDelay <= 0 {
		p.InitialDelay = d.InitialDelay
	}
	if p.Factor < 1 {
		p.Factor = d.Factor
	}
	if p.Jitter < 0 || p.Jitter >= 1 {
		p.Jitter = 0
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	if p.MaxDelay < p.InitialDelay {
		p.MaxDelay = p.InitialDelay
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	return p
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialDelay
	b.Multiplier = p.Factor
	b.RandomizationFactor = p.Jitter
	b.MaxInterval = p.MaxDelay
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1)), ctx)
}

// NotifyFunc is called after a failed attempt, before sleeping for delay.
type NotifyFunc func(err error, delay time.Duration)

// Retry runs op until it succeeds or the attempt cap is reached. Every error
// is retried. When the cap is reached the last error is returned wrapped in a
// *domain.RetryExhaustedError; when ctx ends first, ctx.Err() is returned.
func Retry[T any](ctx context.Context, policy RetryPolicy, op func(ctx context.Context) (T, error), notify NotifyFunc) (T, error) {
	policy = policy.withDefaults()

	attempts := 0
	operation := func() (T, error) {
		attempts++
		return op(ctx)
	}

	var notifier backoff.Notify
	if notify != nil {
		notifier = backoff.Notify(notify)
	}

	res, err := backoff.RetryNotifyWithData(operation, policy.backOff(ctx), notifier)
	if err == nil {
		return res, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		var zero T
		return zero, ctxErr
	}
	var zero T
	return zero, &domain.RetryExhaustedError{Attempts: attempts, Err: err}
}
