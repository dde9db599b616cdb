package ingest

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// RebuildRequest asks a running service to re-ingest its records directory.
type RebuildRequest struct {
	// Force drops the collection before ingesting. Without it a populated
	// collection is left alone.
	Force bool `json:"force"`
}

// Runner ingests one records directory into one collection. Runs are
// serialized so a startup ingestion and a rebuild request never interleave.
type Runner struct {
	ing        *Ingestor
	dir        string
	collection string
	log        *zap.Logger
	// Notify, when set, is called after every run that did not fail.
	Notify func(context.Context, Report)

	mu sync.Mutex
}

// NewRunner creates a Runner for dir and collection.
func NewRunner(ing *Ingestor, dir, collection string, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{ing: ing, dir: dir, collection: collection, log: log.Named("runner")}
}

// Run loads the directory and ingests it. Undecodable files are logged and
// reported as rejected records.
func (r *Runner) Run(ctx context.Context, force bool) (Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	records, bad, err := LoadDir(r.dir)
	if err != nil {
		return Report{Collection: r.collection}, err
	}
	for _, e := range bad {
		r.log.Warn("skipping source file", zap.String("dir", r.dir), zap.Error(e))
	}
	rep, err := r.ing.Ingest(ctx, records, r.collection, force)
	rep.Rejected = append(bad, rep.Rejected...)
	if err != nil {
		return rep, err
	}
	if r.Notify != nil {
		r.Notify(ctx, rep)
	}
	return rep, nil
}
