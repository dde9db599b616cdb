package fn

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds how often and how patiently a call is retried.
// After failed attempt n the caller waits n*BaseDelay.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryPolicy is three attempts spaced one and two seconds apart.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 3,
	BaseDelay:   time.Second,
}

// linearBackOff grows the wait by BaseDelay on every call.
type linearBackOff struct {
	base    time.Duration
	attempt int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempt++
	return time.Duration(b.attempt) * b.base
}

func (b *linearBackOff) Reset() { b.attempt = 0 }

// BackOff builds the backoff.BackOff for this policy, bound to ctx.
func (p RetryPolicy) BackOff(ctx context.Context) backoff.BackOff {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	b := backoff.WithMaxRetries(&linearBackOff{base: p.BaseDelay}, uint64(attempts-1))
	return backoff.WithContext(b, ctx)
}

// RetryNotify runs f until it succeeds, the policy is exhausted, or f returns
// an error wrapped with backoff.Permanent. notify, when set, is called after
// every failed attempt that will be retried. The returned count is the number
// of times f ran.
func RetryNotify[T any](ctx context.Context, p RetryPolicy, f func(context.Context) Result[T], notify func(attempt int, err error, wait time.Duration)) (Result[T], int) {
	attempts := 0
	op := func() (T, error) {
		attempts++
		return f(ctx).Unwrap()
	}
	onRetry := func(err error, wait time.Duration) {
		if notify != nil {
			notify(attempts, err, wait)
		}
	}
	v, err := backoff.RetryNotifyWithData(op, p.BackOff(ctx), onRetry)
	if err != nil {
		return Err[T](err), attempts
	}
	return Ok(v), attempts
}
