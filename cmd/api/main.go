// Package main implements the UniGuide knowledge API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/UniGuideAI/uniguide-mvp/engine/ingest"
	"github.com/UniGuideAI/uniguide-mvp/engine/rag"
	"github.com/UniGuideAI/uniguide-mvp/pkg/bootstrap"
	"github.com/UniGuideAI/uniguide-mvp/pkg/config"
	"github.com/UniGuideAI/uniguide-mvp/pkg/logger"
	"github.com/UniGuideAI/uniguide-mvp/pkg/metrics"
	"github.com/UniGuideAI/uniguide-mvp/pkg/natsutil"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.Load(config.GetEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.Env, cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Error("server exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := metrics.New("uniguide")
	if cfg.Metrics.Port > 0 {
		reg.ServeAsync(ctx, cfg.Metrics.Port, log)
	}

	// --- Vector store ---
	store, closeStore, err := bootstrap.Store(cfg.Store, log)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()

	// --- Embedding and translation ---
	embedder, closeCache := bootstrap.Embedder(cfg.Embedding, reg, log)
	defer func() { _ = closeCache() }()
	translator := bootstrap.Translator(cfg.Generation, log)

	var tr rag.Translator
	if translator != nil {
		tr = translator
	}
	orchestrator := rag.New(embedder, store, tr, rag.Options{
		DefaultCollection: cfg.Store.Collection,
		Logger:            log,
		Metrics:           reg,
	})

	ingestor := ingest.New(embedder, store, ingest.Options{
		Topics:  cfg.Ingest.Topics,
		Logger:  log,
		Metrics: reg,
	})
	runner := ingest.NewRunner(ingestor, cfg.Ingest.Dir, cfg.Store.Collection, log)

	// --- NATS (optional) ---
	nc, err := bootstrap.NATS(cfg.NATS.URL, "uniguide-api", log)
	if err != nil {
		return err
	}
	if nc != nil {
		defer nc.Close()
		subs, err := serveNATS(nc, cfg.NATS, orchestrator, runner, log)
		if err != nil {
			return err
		}
		defer func() {
			for _, s := range subs {
				_ = s.Unsubscribe()
			}
		}()
		runner.Notify = func(ctx context.Context, rep ingest.Report) {
			if err := natsutil.Publish(ctx, nc, cfg.NATS.IngestedSubject, rep); err != nil {
				log.Warn("publish ingestion report failed", zap.Error(err))
			}
		}
	}

	if cfg.Ingest.OnStartup {
		go func() {
			rep, err := runner.Run(ctx, cfg.Ingest.ForceRebuild)
			if err != nil {
				log.Error("startup ingestion failed", zap.Error(err))
				return
			}
			log.Info("startup ingestion finished",
				zap.Bool("skipped", rep.Skipped),
				zap.Int("indexed", rep.Indexed),
				zap.Int("rejected", len(rep.Rejected)),
			)
		}()
	}

	// --- HTTP server ---
	srv := &server{
		search:     orchestrator,
		store:      store,
		collection: cfg.Store.Collection,
		log:        log,
		metrics:    reg,
		cors:       cfg.HTTP.CORSOrigin,
	}
	httpSrv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.HTTP.Port),
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout:      time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// --- Graceful shutdown ---
	errCh := make(chan error, 1)
	go func() {
		log.Info("api server starting",
			zap.Int("port", cfg.HTTP.Port),
			zap.String("env", cfg.Env),
			zap.String("store", cfg.Store.Driver),
			zap.String("collection", cfg.Store.Collection),
		)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutCtx)
}

// serveNATS answers questions on the ask subject and re-ingests on rebuild
// requests.
func serveNATS(nc *nats.Conn, cfg config.NATSConfig, o *rag.Orchestrator, runner *ingest.Runner, log *zap.Logger) ([]*nats.Subscription, error) {
	ask, err := natsutil.Serve(nc, cfg.AskSubject, cfg.Queue, log, func(ctx context.Context, req rag.AskRequest) (rag.Answer, error) {
		return o.Ask(ctx, req.Question, req.Limit, req.Collection)
	})
	if err != nil {
		return nil, fmt.Errorf("nats: serve %s: %w", cfg.AskSubject, err)
	}

	rebuild, err := natsutil.Subscribe(nc, cfg.RebuildSubject, func(ctx context.Context, req ingest.RebuildRequest) {
		log.Info("rebuild requested over nats", zap.Bool("force", req.Force))
		if _, err := runner.Run(ctx, req.Force); err != nil {
			log.Error("rebuild failed", zap.Error(err))
		}
	})
	if err != nil {
		_ = ask.Unsubscribe()
		return nil, fmt.Errorf("nats: subscribe %s: %w", cfg.RebuildSubject, err)
	}
	log.Info("nats handlers ready",
		zap.String("ask", cfg.AskSubject),
		zap.String("rebuild", cfg.RebuildSubject),
	)
	return []*nats.Subscription{ask, rebuild}, nil
}
