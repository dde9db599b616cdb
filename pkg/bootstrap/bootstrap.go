// Package bootstrap builds the pipeline components from configuration. It is
// shared by the API server and the ingest CLI.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/UniGuideAI/uniguide-mvp/engine/embedding"
	"github.com/UniGuideAI/uniguide-mvp/engine/query"
	"github.com/UniGuideAI/uniguide-mvp/engine/semantic"
	"github.com/UniGuideAI/uniguide-mvp/pkg/config"
	"github.com/UniGuideAI/uniguide-mvp/pkg/fn"
	"github.com/UniGuideAI/uniguide-mvp/pkg/metrics"
	"github.com/UniGuideAI/uniguide-mvp/pkg/ollama"
	"github.com/UniGuideAI/uniguide-mvp/pkg/openai"
	"github.com/UniGuideAI/uniguide-mvp/pkg/resilience"
)

// Closer releases a component's resources.
type Closer func() error

func noop() error { return nil }

// Store opens the configured vector store.
func Store(cfg config.StoreConfig, log *zap.Logger) (semantic.Store, Closer, error) {
	switch cfg.Driver {
	case "memory":
		log.Warn("using in-process vector store, data is lost on exit")
		return semantic.NewMemory(), noop, nil
	case "qdrant":
		s, err := semantic.NewQdrant(semantic.QdrantOptions{
			Addr:       cfg.Addr,
			APIKey:     cfg.APIKey,
			UseTLS:     cfg.UseTLS,
			Dimensions: cfg.Dimensions,
			Logger:     log,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("bootstrap: qdrant: %w", err)
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("bootstrap: unknown store driver %q", cfg.Driver)
	}
}

// Provider builds the raw embedding provider for cfg.
func Provider(cfg config.EmbeddingConfig) (embedding.Provider, error) {
	switch cfg.Provider {
	case "ollama":
		return ollama.NewEmbedClient(cfg.BaseURL, cfg.Model), nil
	case "openai":
		return openai.NewEmbedder(openai.Config{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
		}), nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown embedding provider %q", cfg.Provider)
	}
}

// Embedder builds the embedding generator. The provider, and the Redis
// cache in front of it when enabled, are created lazily on first use.
func Embedder(cfg config.EmbeddingConfig, reg *metrics.Registry, log *zap.Logger) (*embedding.Generator, Closer) {
	var rdb *redis.Client
	if cfg.Cache.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.Addr,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
		})
	}

	factory := func(ctx context.Context) (embedding.Provider, error) {
		p, err := Provider(cfg)
		if err != nil {
			return nil, err
		}
		if rdb == nil {
			return p, nil
		}
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("embedding cache unreachable, lookups will miss until it recovers",
				zap.String("addr", cfg.Cache.Addr), zap.Error(err))
		}
		kv := embedding.NewRedisKV(rdb, time.Duration(cfg.Cache.TTLSec)*time.Second)
		return embedding.NewCachedProvider(p, kv, cfg.Cache.KeyPrefix+cfg.Model, reg, log), nil
	}

	gen := embedding.New(factory, embedding.Options{
		Name:       cfg.Provider,
		Retry:      fn.RetryPolicy{MaxAttempts: cfg.Retry.MaxAttempts, BaseDelay: cfg.RetryBaseDelay()},
		BatchDelay: batchDelay(cfg),
		Logger:     log,
		Metrics:    reg,
	})
	if rdb == nil {
		return gen, noop
	}
	return gen, rdb.Close
}

// batchDelay maps a configured zero to "no pacing"; the generator reads a
// zero option as "use the default".
func batchDelay(cfg config.EmbeddingConfig) time.Duration {
	d := cfg.BatchDelay()
	if d == 0 {
		return -1
	}
	return d
}

// Generator builds the text-generation client, or nil when generation is
// disabled.
func Generator(cfg config.GenerationConfig) query.Generator {
	switch cfg.Provider {
	case "openai":
		return openai.NewGenerator(openai.Config{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
		})
	case "ollama":
		return ollama.NewGenerator(cfg.BaseURL, cfg.Model, cfg.MaxTokens)
	default:
		return nil
	}
}

// Translator builds the query translator, or nil when generation is
// disabled.
func Translator(cfg config.GenerationConfig, log *zap.Logger) *query.Translator {
	gen := Generator(cfg)
	if gen == nil {
		log.Info("query translation disabled, questions are searched verbatim")
		return nil
	}
	return query.New(gen, query.Options{
		Breaker: resilience.BreakerOpts{
			Name:          "generation",
			FailThreshold: uint32(cfg.Breaker.FailThreshold),
			Timeout:       time.Duration(cfg.Breaker.OpenSec) * time.Second,
		},
		RateLimit: resilience.LimiterOpts{Rate: cfg.RateLimit, Burst: cfg.Burst},
		Logger:    log,
	})
}

// NATS connects to url, or returns nil when url is empty.
func NATS(url, name string, log *zap.Logger) (*nats.Conn, error) {
	if url == "" {
		return nil, nil
	}
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: nats %s: %w", url, err)
	}
	return nc, nil
}
