// Package ingest loads university profiles into a vector store collection.
// A run is idempotent: a populated collection is left alone unless a rebuild
// is forced.
package ingest

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/UniGuideAI/uniguide-mvp/engine/domain"
	"github.com/UniGuideAI/uniguide-mvp/engine/semantic"
	"github.com/UniGuideAI/uniguide-mvp/pkg/fn"
	"github.com/UniGuideAI/uniguide-mvp/pkg/metrics"
)

// BatchEmbedder embeds texts in order, all or nothing.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Options configures an Ingestor.
type Options struct {
	// Topics adds short per-aspect documents next to each profile summary.
	Topics  bool
	Logger  *zap.Logger
	Metrics *metrics.Registry
	// Now stamps document ids; defaults to time.Now.
	Now func() time.Time
}

// Ingestor writes records into a collection.
type Ingestor struct {
	store    semantic.Store
	opts     Options
	log      *zap.Logger
	pipeline fn.Stage[batch, int]
}

// New creates an Ingestor.
func New(embed BatchEmbedder, store semantic.Store, opts Options) *Ingestor {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	ing := &Ingestor{store: store, opts: opts, log: opts.Logger.Named("ingest")}
	ing.pipeline = fn.Then(
		fn.MapStage(assignIDs),
		fn.Then(
			fn.TracedStage("ingest.embed", NewEmbed(embed)),
			fn.TracedStage("ingest.store", NewStore(store)),
		),
	)
	return ing
}

// assignIDs names every document "{collection}-{stamp}-{index}".
func assignIDs(b batch) batch {
	b.ids = make([]string, len(b.docs))
	for n := range b.docs {
		b.ids[n] = fmt.Sprintf("%s-%d-%d", b.collection, b.stamp, n)
	}
	return b
}

// NewEmbed creates the stage that embeds every document of a batch in one
// EmbedBatch call.
func NewEmbed(embed BatchEmbedder) fn.Stage[batch, batch] {
	return func(ctx context.Context, b batch) fn.Result[batch] {
		vecs, err := embed.EmbedBatch(ctx, b.contents())
		if err != nil {
			return fn.Err[batch](fmt.Errorf("ingest: embed: %w", err))
		}
		if len(vecs) != len(b.docs) {
			return fn.Err[batch](fmt.Errorf("ingest: embed: got %d vectors for %d documents: %w",
				len(vecs), len(b.docs), domain.ErrLengthMismatch))
		}
		b.vectors = vecs
		return fn.Ok(b)
	}
}

// NewStore creates the stage that writes a batch with a single AddDocuments
// call and returns the number of documents written.
func NewStore(store semantic.Store) fn.Stage[batch, int] {
	return func(ctx context.Context, b batch) fn.Result[int] {
		if err := store.AddDocuments(ctx, b.collection, b.ids, b.vectors, b.contents(), b.metadatas()); err != nil {
			return fn.Err[int](fmt.Errorf("ingest: store: %w", err))
		}
		return fn.Ok(len(b.ids))
	}
}

// Ingest writes records into collection. With forceRebuild the collection
// is dropped first; otherwise a collection that already holds documents is
// skipped. Records without a summary are rejected individually and do not
// abort the run.
func (i *Ingestor) Ingest(ctx context.Context, records []domain.RawRecord, collection string, forceRebuild bool) (Report, error) {
	start := time.Now()
	rep := Report{Collection: collection, Records: len(records), Rebuilt: forceRebuild}
	if collection == "" {
		return rep, domain.NewInputError("collection", collection, domain.ErrEmptyText)
	}
	log := i.log.With(zap.String("collection", collection))

	rep, err := i.ingest(ctx, log, rep, records, collection, forceRebuild)
	rep.Duration = time.Since(start)

	switch {
	case err != nil:
		i.opts.Metrics.IngestRun("failed")
		log.Error("ingestion failed", zap.Error(err))
	case rep.Skipped:
		i.opts.Metrics.IngestRun("skipped")
	default:
		i.opts.Metrics.IngestRun("indexed")
		i.opts.Metrics.IngestDocuments("indexed", rep.Indexed)
	}
	i.opts.Metrics.IngestDocuments("rejected", len(rep.Rejected))
	return rep, err
}

func (i *Ingestor) ingest(ctx context.Context, log *zap.Logger, rep Report, records []domain.RawRecord, collection string, forceRebuild bool) (Report, error) {
	if forceRebuild {
		log.Info("rebuild requested, dropping collection")
		if err := i.store.DeleteCollection(ctx, collection); err != nil {
			return rep, fmt.Errorf("ingest: drop %s: %w", collection, err)
		}
	} else {
		n, err := i.store.Count(ctx, collection)
		if err != nil {
			return rep, fmt.Errorf("ingest: count %s: %w", collection, err)
		}
		if n > 0 {
			log.Info("collection already populated, skipping ingestion", zap.Int("documents", n))
			rep.Skipped, rep.Existing = true, n
			return rep, nil
		}
	}
	if err := i.store.GetOrCreateCollection(ctx, collection); err != nil {
		return rep, fmt.Errorf("ingest: create %s: %w", collection, err)
	}

	var docs []domain.DocumentInput
	for idx, r := range records {
		if err := domain.ValidateRecord(idx, r.Name(), r); err != nil {
			log.Warn("skipping record", zap.Int("index", idx), zap.String("university", r.Name()), zap.Error(err))
			rep.Rejected = append(rep.Rejected, err)
			continue
		}
		docs = append(docs, BuildDocument(r))
		if i.opts.Topics {
			docs = append(docs, TopicDocuments(r)...)
		}
	}
	if len(docs) == 0 {
		log.Warn("no usable records", zap.Int("records", len(records)))
		return rep, nil
	}

	rep.Batch = i.opts.Now().UnixMilli()
	b := batch{collection: collection, stamp: rep.Batch, docs: docs}

	written, err := i.pipeline(ctx, b).Unwrap()
	if err != nil {
		return rep, err
	}
	rep.Indexed = written
	log.Info("ingestion complete",
		zap.Int("records", len(records)),
		zap.Int("documents", written),
		zap.Int("rejected", len(rep.Rejected)),
	)
	return rep, nil
}
