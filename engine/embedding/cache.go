package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/UniGuideAI/uniguide-mvp/pkg/logger"
	"github.com/UniGuideAI/uniguide-mvp/pkg/metrics"
)

// ErrCacheMiss is returned by a KV store for an absent key.
var ErrCacheMiss = errors.New("embedding cache miss")

// KV is the byte store behind the embedding cache.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

// CachedProvider is a content-addressed cache in front of a Provider.
// Cache failures are logged and never fail the call.
type CachedProvider struct {
	inner   Provider
	kv      KV
	prefix  string
	log     *zap.Logger
	metrics *metrics.Registry
}

// NewCachedProvider decorates inner. namespace separates models that share
// one store; vectors of different models must never be mixed.
func NewCachedProvider(inner Provider, kv KV, namespace string, reg *metrics.Registry, log *zap.Logger) *CachedProvider {
	return &CachedProvider{
		inner:   inner,
		kv:      kv,
		prefix:  namespace + ":",
		log:     logger.OrNop(log),
		metrics: reg,
	}
}

// Init forwards to the inner provider when it needs initialization.
func (c *CachedProvider) Init(ctx context.Context) error {
	if in, ok := c.inner.(Initializer); ok {
		return in.Init(ctx)
	}
	return nil
}

// Embed returns the cached vector for text or asks the inner provider.
func (c *CachedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.key(text)
	if vec, ok := c.get(ctx, key); ok {
		c.metrics.CacheLookup("hit")
		return vec, nil
	}
	c.metrics.CacheLookup("miss")

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := c.kv.Set(ctx, key, encodeVector(vec)); err != nil {
		c.log.Warn("failed to cache embedding", zap.String("key", key), zap.Error(err))
	}
	return vec, nil
}

func (c *CachedProvider) key(text string) string {
	h := sha256.Sum256([]byte(text))
	return c.prefix + hex.EncodeToString(h[:])
}

func (c *CachedProvider) get(ctx context.Context, key string) ([]float32, bool) {
	data, err := c.kv.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			c.log.Warn("failed to read cached embedding", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	vec, err := decodeVector(data)
	if err != nil {
		c.log.Warn("discarding corrupt cached embedding", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return vec, true
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(data []byte) ([]float32, error) {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil, fmt.Errorf("invalid cached vector: len=%d", len(data))
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, nil
}

// RedisKV stores cache entries in Redis with a fixed TTL.
type RedisKV struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisKV wraps a go-redis client. A zero ttl keeps entries forever.
func NewRedisKV(client redis.Cmdable, ttl time.Duration) *RedisKV {
	return &RedisKV{client: client, ttl: ttl}
}

// Get implements KV.
func (r *RedisKV) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return data, nil
}

// Set implements KV.
func (r *RedisKV) Set(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, key, value, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}
