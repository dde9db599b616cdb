// Package embedding turns text into vectors through a pluggable provider,
// adding lazy provider setup, bounded retries and paced batch calls.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/UniGuideAI/uniguide-mvp/engine/domain"
	"github.com/UniGuideAI/uniguide-mvp/pkg/fn"
	"github.com/UniGuideAI/uniguide-mvp/pkg/logger"
	"github.com/UniGuideAI/uniguide-mvp/pkg/metrics"
)

// DefaultBatchDelay is the pause between consecutive items of EmbedBatch.
const DefaultBatchDelay = 100 * time.Millisecond

// Provider is the external embedding service.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Initializer is implemented by providers that need a one-off setup call
// (model pull, warm-up, auth) before the first request.
type Initializer interface {
	Init(ctx context.Context) error
}

// Factory builds the provider on first use.
type Factory func(ctx context.Context) (Provider, error)

// Options tune a Generator. The zero value uses DefaultRetryPolicy and
// DefaultBatchDelay.
type Options struct {
	// Name labels metrics and logs, e.g. "ollama".
	Name  string
	Retry fn.RetryPolicy
	// BatchDelay is the pause between batch items. Negative disables it.
	BatchDelay time.Duration
	Logger     *zap.Logger
	Metrics    *metrics.Registry
}

// Generator is the Embedding Generator. It is safe for concurrent use.
type Generator struct {
	factory    Factory
	name       string
	retry      fn.RetryPolicy
	batchDelay time.Duration
	log        *zap.Logger
	metrics    *metrics.Registry

	mu       sync.Mutex
	ready    bool
	provider Provider
}

// New creates a Generator whose provider is built by factory on first use.
func New(factory Factory, opts Options) *Generator {
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = fn.DefaultRetryPolicy
	}
	switch {
	case opts.BatchDelay == 0:
		opts.BatchDelay = DefaultBatchDelay
	case opts.BatchDelay < 0:
		opts.BatchDelay = 0
	}
	if opts.Name == "" {
		opts.Name = "default"
	}
	return &Generator{
		factory:    factory,
		name:       opts.Name,
		retry:      opts.Retry,
		batchDelay: opts.BatchDelay,
		log:        logger.OrNop(opts.Logger).Named("embedding"),
		metrics:    opts.Metrics,
	}
}

// NewWithProvider wraps an already constructed provider.
func NewWithProvider(p Provider, opts Options) *Generator {
	return New(func(context.Context) (Provider, error) { return p, nil }, opts)
}

// Init builds the provider now instead of on the first Embed call. It is
// safe to call more than once.
func (g *Generator) Init(ctx context.Context) error {
	_, err := g.client(ctx)
	return err
}

// client returns the provider, building it at most once. A failed build
// leaves the generator uninitialized so the next call tries again.
func (g *Generator) client(ctx context.Context) (Provider, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ready {
		return g.provider, nil
	}

	p, err := g.factory(ctx)
	if err != nil {
		return nil, &domain.ProviderError{Err: fmt.Errorf("initialize %s provider: %w", g.name, err)}
	}
	if in, ok := p.(Initializer); ok {
		if err := in.Init(ctx); err != nil {
			return nil, &domain.ProviderError{Err: fmt.Errorf("initialize %s provider: %w", g.name, err)}
		}
	}
	g.provider = p
	g.ready = true
	g.log.Debug("provider ready", zap.String("provider", g.name))
	return p, nil
}

// Embed returns the vector for text. Blank text is an InputError and never
// reaches the provider. Provider failures are retried per the policy; the
// last failure is returned as a ProviderError.
func (g *Generator) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, domain.NewInputError("text", text, domain.ErrEmptyText)
	}
	p, err := g.client(ctx)
	if err != nil {
		return nil, err
	}

	call := func(ctx context.Context) fn.Result[[]float32] {
		start := time.Now()
		vec, err := p.Embed(ctx, text)
		g.metrics.EmbeddingCall(g.name, err, time.Since(start))
		if err != nil {
			if !retryable(ctx, err) {
				return fn.Err[[]float32](backoff.Permanent(err))
			}
			return fn.Err[[]float32](err)
		}
		if len(vec) == 0 {
			return fn.Err[[]float32](errors.New("provider returned an empty vector"))
		}
		return fn.Ok(vec)
	}
	notify := func(attempt int, err error, wait time.Duration) {
		g.metrics.EmbeddingRetry(g.name)
		g.log.Warn("embedding attempt failed",
			zap.String("provider", g.name),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", g.retry.MaxAttempts),
			zap.Duration("retry_in", wait),
			zap.Error(err),
		)
	}

	res, attempts := fn.RetryNotify(ctx, g.retry, call, notify)
	vec, err := res.Unwrap()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, fmt.Errorf("embedding: %w", err)
		}
		return nil, &domain.ProviderError{Attempts: attempts, Err: err}
	}
	return vec, nil
}

// EmbedBatch embeds texts one at a time, pausing BatchDelay between items.
// Output order matches input order. The first failure aborts the batch and
// no partial result is returned.
func (g *Generator) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	// Validate up front so a bad item late in the batch costs no provider calls.
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, domain.NewInputError(fmt.Sprintf("texts[%d]", i), t, domain.ErrEmptyText)
		}
	}

	out := make([][]float32, len(texts))
	for i, t := range texts {
		if i > 0 {
			if err := pause(ctx, g.batchDelay); err != nil {
				return nil, fmt.Errorf("embedding: batch item %d of %d: %w", i+1, len(texts), err)
			}
		}
		vec, err := g.Embed(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("embedding: batch item %d of %d: %w", i+1, len(texts), err)
		}
		out[i] = vec
	}
	return out, nil
}

// pause waits d after the previous item finished. A non-positive d returns
// at once.
func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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

// retryableError is implemented by provider errors that know whether a
// repeat can succeed.
type retryableError interface {
	Retryable() bool
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var inputErr *domain.InputError
	if errors.As(err, &inputErr) {
		return false
	}
	var re retryableError
	if errors.As(err, &re) {
		return re.Retryable()
	}
	return true
}
