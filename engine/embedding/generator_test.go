package embedding

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UniGuideAI/uniguide-mvp/engine/domain"
	"github.com/UniGuideAI/uniguide-mvp/pkg/fn"
	"github.com/UniGuideAI/uniguide-mvp/pkg/metrics"
)

// fakeProvider fails the first failures calls, then returns a vector
// derived from the text length.
type fakeProvider struct {
	mu       sync.Mutex
	failures int
	err      error
	calls    int
	texts    []string
}

func (f *fakeProvider) Embed(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.texts = append(f.texts, text)
	if f.calls <= f.failures {
		if f.err != nil {
			return nil, f.err
		}
		return nil, errors.New("provider unavailable")
	}
	return []float32{float32(len(text)), 1}, nil
}

type permanentErr struct{}

func (permanentErr) Error() string   { return "bad request" }
func (permanentErr) Retryable() bool { return false }

var fastRetry = fn.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}

func TestEmbedSuccess(t *testing.T) {
	p := &fakeProvider{}
	g := NewWithProvider(p, Options{Retry: fastRetry})

	vec, err := g.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{5, 1}, vec)
	assert.Equal(t, 1, p.calls)
}

func TestEmbedRejectsBlankText(t *testing.T) {
	p := &fakeProvider{}
	g := NewWithProvider(p, Options{Retry: fastRetry})

	for _, text := range []string{"", "   ", "\n\t"} {
		_, err := g.Embed(context.Background(), text)
		assert.ErrorIs(t, err, domain.ErrInput)
		assert.ErrorIs(t, err, domain.ErrEmptyText)
	}
	assert.Zero(t, p.calls, "blank text never reaches the provider")
}

func TestEmbedSucceedsAfterTransientFailures(t *testing.T) {
	p := &fakeProvider{failures: fastRetry.MaxAttempts - 1}
	reg := metrics.New("test")
	g := NewWithProvider(p, Options{Retry: fastRetry, Metrics: reg})

	vec, err := g.Embed(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 1}, vec)
	assert.Equal(t, fastRetry.MaxAttempts, p.calls)
}

func TestEmbedFailsAfterExactlyMaxAttempts(t *testing.T) {
	p := &fakeProvider{failures: 100}
	g := NewWithProvider(p, Options{Retry: fastRetry})

	_, err := g.Embed(context.Background(), "abc")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrProvider)

	var pe *domain.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 3, pe.Attempts)
	assert.Equal(t, 3, p.calls)
	assert.EqualError(t, pe.Err, "provider unavailable")
}

func TestEmbedRetryWaitsGrowLinearly(t *testing.T) {
	p := &fakeProvider{failures: 100}
	g := NewWithProvider(p, Options{Retry: fn.RetryPolicy{MaxAttempts: 3, BaseDelay: 20 * time.Millisecond}})

	start := time.Now()
	_, err := g.Embed(context.Background(), "abc")
	require.Error(t, err)
	// 1*20ms after the first failure, 2*20ms after the second.
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestEmbedNonRetryableStopsEarly(t *testing.T) {
	p := &fakeProvider{failures: 100, err: permanentErr{}}
	g := NewWithProvider(p, Options{Retry: fastRetry})

	_, err := g.Embed(context.Background(), "abc")
	var pe *domain.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 1, pe.Attempts)
	assert.Equal(t, 1, p.calls)
}

func TestEmbedContextCancelled(t *testing.T) {
	p := &fakeProvider{failures: 100}
	g := NewWithProvider(p, Options{Retry: fn.RetryPolicy{MaxAttempts: 5, BaseDelay: time.Hour}})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := g.Embed(ctx, "abc")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, domain.ErrProvider)
}

func TestEmbedEmptyVectorIsRetried(t *testing.T) {
	calls := 0
	p := providerFunc(func(context.Context, string) ([]float32, error) {
		calls++
		return nil, nil
	})
	g := NewWithProvider(p, Options{Retry: fastRetry})

	_, err := g.Embed(context.Background(), "x")
	assert.ErrorIs(t, err, domain.ErrProvider)
	assert.Equal(t, 3, calls)
}

type providerFunc func(context.Context, string) ([]float32, error)

func (f providerFunc) Embed(ctx context.Context, text string) ([]float32, error) { return f(ctx, text) }

type initProvider struct {
	fakeProvider
	inits   atomic.Int32
	initErr error
}

func (p *initProvider) Init(context.Context) error {
	p.inits.Add(1)
	return p.initErr
}

func TestLazyInitRunsOnce(t *testing.T) {
	var built atomic.Int32
	p := &initProvider{}
	g := New(func(context.Context) (Provider, error) {
		built.Add(1)
		return p, nil
	}, Options{Retry: fastRetry})

	assert.Zero(t, built.Load(), "provider is not built until first use")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := g.Embed(context.Background(), "concurrent")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	require.NoError(t, g.Init(context.Background()))

	assert.Equal(t, int32(1), built.Load())
	assert.Equal(t, int32(1), p.inits.Load())
}

func TestLazyInitFailureIsRetriedNextCall(t *testing.T) {
	attempts := 0
	g := New(func(context.Context) (Provider, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("connection refused")
		}
		return &fakeProvider{}, nil
	}, Options{Retry: fastRetry})

	_, err := g.Embed(context.Background(), "x")
	assert.ErrorIs(t, err, domain.ErrProvider)

	_, err = g.Embed(context.Background(), "x")
	assert.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestInitializerErrorSurfaces(t *testing.T) {
	p := &initProvider{initErr: errors.New("model not pulled")}
	g := NewWithProvider(p, Options{})
	err := g.Init(context.Background())
	assert.ErrorIs(t, err, domain.ErrProvider)
	assert.ErrorContains(t, err, "model not pulled")
}

func TestEmbedBatchPreservesOrder(t *testing.T) {
	p := &fakeProvider{}
	g := NewWithProvider(p, Options{Retry: fastRetry, BatchDelay: -1})

	vecs, err := g.EmbedBatch(context.Background(), []string{"a", "bbb", "cc"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 1}, {3, 1}, {2, 1}}, vecs)
	assert.Equal(t, []string{"a", "bbb", "cc"}, p.texts)
}

func TestEmbedBatchEmpty(t *testing.T) {
	g := NewWithProvider(&fakeProvider{}, Options{})
	vecs, err := g.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vecs)
}

func TestEmbedBatchPacesItems(t *testing.T) {
	g := NewWithProvider(&fakeProvider{}, Options{Retry: fastRetry, BatchDelay: 20 * time.Millisecond})

	start := time.Now()
	_, err := g.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestEmbedBatchDelayAddsToSlowProvider(t *testing.T) {
	slow := providerFunc(func(ctx context.Context, text string) ([]float32, error) {
		time.Sleep(30 * time.Millisecond)
		return []float32{1}, nil
	})
	g := NewWithProvider(slow, Options{Retry: fastRetry, BatchDelay: 20 * time.Millisecond})

	start := time.Now()
	_, err := g.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	// 3 calls of 30ms plus 2 pauses of 20ms; a start-to-start limiter would
	// finish in about 90ms.
	assert.GreaterOrEqual(t, time.Since(start), 130*time.Millisecond)
}

func TestEmbedBatchPauseHonoursCancellation(t *testing.T) {
	p := &fakeProvider{}
	g := NewWithProvider(p, Options{Retry: fastRetry, BatchDelay: time.Hour})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := g.EmbedBatch(ctx, []string{"a", "b"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, p.calls)
}

func TestEmbedBatchAbortsOnFailure(t *testing.T) {
	calls := 0
	p := providerFunc(func(_ context.Context, text string) ([]float32, error) {
		calls++
		if text == "bad" {
			return nil, permanentErr{}
		}
		return []float32{1}, nil
	})
	g := NewWithProvider(p, Options{Retry: fastRetry, BatchDelay: -1})

	vecs, err := g.EmbedBatch(context.Background(), []string{"ok", "bad", "never"})
	assert.Nil(t, vecs, "no partial results")
	assert.ErrorIs(t, err, domain.ErrProvider)
	assert.ErrorContains(t, err, "batch item 2 of 3")
	assert.Equal(t, 2, calls)
}

func TestEmbedBatchRejectsBlankBeforeCalling(t *testing.T) {
	p := &fakeProvider{}
	g := NewWithProvider(p, Options{BatchDelay: -1})

	_, err := g.EmbedBatch(context.Background(), []string{"a", " "})
	assert.ErrorIs(t, err, domain.ErrInput)
	assert.Zero(t, p.calls)
}
