// Package resilience provides circuit breaker and rate limiter primitives.
package resilience

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"github.com/UniGuideAI/uniguide-mvp/pkg/fn"
)

// Errors returned when the breaker refuses a call.
var (
	ErrCircuitOpen     = gobreaker.ErrOpenState
	ErrTooManyRequests = gobreaker.ErrTooManyRequests
)

// BreakerOpts configures the circuit breaker.
type BreakerOpts struct {
	Name string
	// FailThreshold is how many consecutive failures trip the breaker.
	FailThreshold uint32
	// Timeout is how long the breaker stays open before entering half-open.
	Timeout time.Duration
	// HalfOpenMax is the number of trial calls allowed in half-open state.
	HalfOpenMax uint32
	// OnStateChange is called on every transition.
	OnStateChange func(name, from, to string)
	// IsSuccessful decides whether an error counts against the breaker.
	// Defaults to err == nil.
	IsSuccessful func(err error) bool
}

// DefaultBreakerOpts provides sensible defaults.
var DefaultBreakerOpts = BreakerOpts{
	Name:          "default",
	FailThreshold: 5,
	Timeout:       30 * time.Second,
	HalfOpenMax:   1,
}

// Breaker guards calls to a flaky upstream.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// NewBreaker creates a circuit breaker with the given options.
func NewBreaker(opts BreakerOpts) *Breaker {
	if opts.FailThreshold == 0 {
		opts.FailThreshold = DefaultBreakerOpts.FailThreshold
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultBreakerOpts.Timeout
	}
	if opts.HalfOpenMax == 0 {
		opts.HalfOpenMax = DefaultBreakerOpts.HalfOpenMax
	}
	if opts.Name == "" {
		opts.Name = DefaultBreakerOpts.Name
	}
	threshold := opts.FailThreshold
	settings := gobreaker.Settings{
		Name:        opts.Name,
		MaxRequests: opts.HalfOpenMax,
		Timeout:     opts.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
		IsSuccessful: opts.IsSuccessful,
	}
	if opts.OnStateChange != nil {
		notify := opts.OnStateChange
		settings.OnStateChange = func(name string, from, to gobreaker.State) {
			notify(name, from.String(), to.String())
		}
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// State returns "closed", "half-open" or "open".
func (b *Breaker) State() string { return b.cb.State().String() }

// Call executes f through the circuit breaker.
func (b *Breaker) Call(ctx context.Context, f func(context.Context) error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, f(ctx)
	})
	return err
}

// CallResult is a generic version of Call that works with fn.Result.
func CallResult[T any](b *Breaker, ctx context.Context, f func(context.Context) fn.Result[T]) fn.Result[T] {
	var out fn.Result[T]
	err := b.Call(ctx, func(ctx context.Context) error {
		out = f(ctx)
		_, err := out.Unwrap()
		return err
	})
	if err != nil {
		return fn.Err[T](err)
	}
	return out
}

// BreakerStage wraps an fn.Stage with the circuit breaker.
func BreakerStage[In, Out any](b *Breaker, stage fn.Stage[In, Out]) fn.Stage[In, Out] {
	return func(ctx context.Context, in In) fn.Result[Out] {
		return CallResult(b, ctx, func(ctx context.Context) fn.Result[Out] {
			return stage(ctx, in)
		})
	}
}
