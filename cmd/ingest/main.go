// Package main is the ingest CLI: it loads university profiles from a
// directory into the knowledge collection.
//
//	ingest -dir data/universities -rebuild
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/UniGuideAI/uniguide-mvp/engine/ingest"
	"github.com/UniGuideAI/uniguide-mvp/pkg/bootstrap"
	"github.com/UniGuideAI/uniguide-mvp/pkg/config"
	"github.com/UniGuideAI/uniguide-mvp/pkg/logger"
	"github.com/UniGuideAI/uniguide-mvp/pkg/metrics"
	"github.com/UniGuideAI/uniguide-mvp/pkg/natsutil"
)

type options struct {
	env        string
	dir        string
	collection string
	rebuild    bool
	topics     bool
	timeout    time.Duration
}

func parseFlags(args []string, cfg config.Config) (options, error) {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	o := options{}
	fs.StringVar(&o.dir, "dir", cfg.Ingest.Dir, "directory of university JSON files")
	fs.StringVar(&o.collection, "collection", cfg.Store.Collection, "target collection")
	fs.BoolVar(&o.rebuild, "rebuild", cfg.Ingest.ForceRebuild, "drop the collection and re-ingest (also "+config.EnvRebuild+")")
	fs.BoolVar(&o.topics, "topics", cfg.Ingest.Topics, "add per-topic documents for each university")
	fs.DurationVar(&o.timeout, "timeout", 30*time.Minute, "overall deadline")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if fs.NArg() > 0 {
		return o, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return o, nil
}

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
	opts, err := parseFlags(os.Args[1:], cfg)
	if err != nil {
		os.Exit(2)
	}
	log, err := logger.New(cfg.Env, cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	rep, err := run(cfg, opts, log)
	if err != nil {
		log.Error("ingestion failed", zap.Error(err))
		os.Exit(1)
	}
	fmt.Printf("collection=%s skipped=%t indexed=%d rejected=%d took=%s\n",
		rep.Collection, rep.Skipped, rep.Indexed, len(rep.Rejected), rep.Duration.Round(time.Millisecond))
}

func run(cfg config.Config, opts options, log *zap.Logger) (ingest.Report, error) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	reg := metrics.New("uniguide_ingest")

	store, closeStore, err := bootstrap.Store(cfg.Store, log)
	if err != nil {
		return ingest.Report{}, err
	}
	defer func() { _ = closeStore() }()

	embedder, closeCache := bootstrap.Embedder(cfg.Embedding, reg, log)
	defer func() { _ = closeCache() }()

	ing := ingest.New(embedder, store, ingest.Options{Topics: opts.topics, Logger: log, Metrics: reg})
	runner := ingest.NewRunner(ing, opts.dir, opts.collection, log)

	nc, err := bootstrap.NATS(cfg.NATS.URL, "uniguide-ingest", log)
	if err != nil {
		log.Warn("continuing without nats", zap.Error(err))
	}
	if nc != nil {
		defer nc.Close()
		runner.Notify = func(ctx context.Context, rep ingest.Report) {
			if err := natsutil.Publish(ctx, nc, cfg.NATS.IngestedSubject, rep); err != nil {
				log.Warn("publish ingestion report failed", zap.Error(err))
				return
			}
			_ = nc.FlushWithContext(ctx)
		}
	}

	log.Info("ingesting",
		zap.String("dir", opts.dir),
		zap.String("collection", opts.collection),
		zap.Bool("rebuild", opts.rebuild),
		zap.String("store", cfg.Store.Driver),
	)
	return runner.Run(ctx, opts.rebuild)
}
