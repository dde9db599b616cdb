// Package rag is the retrieval entry point. It embeds a query, optionally
// lets a translator derive metadata filters from a question, and returns the
// nearest stored documents.
package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/UniGuideAI/uniguide-mvp/engine/domain"
	"github.com/UniGuideAI/uniguide-mvp/engine/query"
	"github.com/UniGuideAI/uniguide-mvp/engine/semantic"
	"github.com/UniGuideAI/uniguide-mvp/pkg/metrics"
)

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Translator derives a structured request from a question.
type Translator interface {
	Translate(ctx context.Context, question string) (query.Translation, error)
}

// Options configures the orchestrator.
type Options struct {
	DefaultLimit      int
	DefaultCollection string
	Logger            *zap.Logger
	Metrics           *metrics.Registry
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		DefaultLimit:      5,
		DefaultCollection: "university_knowledge",
	}
}

// Orchestrator is the search service.
type Orchestrator struct {
	embed      Embedder
	store      semantic.Store
	translator Translator
	opts       Options
	log        *zap.Logger
}

// New creates an Orchestrator. translator may be nil, in which case
// questions are always searched verbatim.
func New(embed Embedder, store semantic.Store, translator Translator, opts Options) *Orchestrator {
	def := DefaultOptions()
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = def.DefaultLimit
	}
	if opts.DefaultCollection == "" {
		opts.DefaultCollection = def.DefaultCollection
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Orchestrator{
		embed:      embed,
		store:      store,
		translator: translator,
		opts:       opts,
		log:        opts.Logger.Named("rag"),
	}
}

// Search embeds q and returns the nearest documents in collection that pass
// both filters. A non-positive limit or empty collection take the defaults.
func (o *Orchestrator) Search(ctx context.Context, q string, limit int, collection string, where domain.MetadataFilter, whereDoc domain.DocumentFilter) ([]domain.RetrievalResult, error) {
	start := time.Now()
	defer func() { o.opts.Metrics.Search("search", time.Since(start)) }()
	return o.search(ctx, q, limit, collection, where, whereDoc)
}

func (o *Orchestrator) search(ctx context.Context, q string, limit int, collection string, where domain.MetadataFilter, whereDoc domain.DocumentFilter) ([]domain.RetrievalResult, error) {
	if limit <= 0 {
		limit = o.opts.DefaultLimit
	}
	if collection == "" {
		collection = o.opts.DefaultCollection
	}
	vec, err := o.embed.Embed(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("rag: embed query: %w", err)
	}
	results, err := o.store.QueryCollection(ctx, collection, vec, limit, where, whereDoc)
	if err != nil {
		return nil, fmt.Errorf("rag: query %s: %w", collection, err)
	}
	o.log.Debug("search done",
		zap.String("collection", collection),
		zap.Int("limit", limit),
		zap.Int("filters", len(where)+len(whereDoc)),
		zap.Int("results", len(results)),
	)
	return results, nil
}

// Answer is the outcome of AskQuestion with the request that produced it.
type Answer struct {
	Question   string                   `json:"question"`
	Query      query.Translation        `json:"query"`
	Translated bool                     `json:"translated"`
	Results    []domain.RetrievalResult `json:"results"`
}

// Ask translates question and searches with the translated query and
// filters. Any translator failure falls back to searching the question
// verbatim without filters, so only embedding and store errors surface.
func (o *Orchestrator) Ask(ctx context.Context, question string, limit int, collection string) (Answer, error) {
	start := time.Now()
	defer func() { o.opts.Metrics.Search("ask", time.Since(start)) }()

	ans := Answer{Question: question, Query: query.Translation{SemanticQuery: question}}
	switch {
	case o.translator == nil:
		o.opts.Metrics.Translation("disabled")
	default:
		tr, err := o.translator.Translate(ctx, question)
		if err != nil {
			if ctx.Err() != nil {
				return Answer{}, fmt.Errorf("rag: translate: %w", ctx.Err())
			}
			o.opts.Metrics.Translation("fallback")
			o.log.Warn("translation failed, searching question verbatim", zap.Error(err))
			break
		}
		o.opts.Metrics.Translation("translated")
		ans.Query = tr
		ans.Translated = true
	}

	results, err := o.search(ctx, ans.Query.SemanticQuery, limit, collection, ans.Query.MetadataFilter, ans.Query.DocumentFilter)
	if err != nil {
		return Answer{}, err
	}
	ans.Results = results
	return ans, nil
}

// AskQuestion is Ask returning only the results.
func (o *Orchestrator) AskQuestion(ctx context.Context, question string, limit int, collection string) ([]domain.RetrievalResult, error) {
	ans, err := o.Ask(ctx, question, limit, collection)
	if err != nil {
		return nil, err
	}
	return ans.Results, nil
}

// BuildContext formats retrieved documents as numbered context blocks for an
// answer-writing prompt.
func BuildContext(results []domain.RetrievalResult) string {
	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%d]", i+1)
		if name, ok := r.Metadata.Get("university_name").AsString(); ok && name != "" {
			fmt.Fprintf(&b, " %s", name)
		}
		fmt.Fprintf(&b, " (id: %s, distance: %.3f)\n%s", r.ID, r.Distance, r.Content)
	}
	return b.String()
}

// AskRequest is the message body of a question sent over the bus.
type AskRequest struct {
	Question   string `json:"question"`
	Limit      int    `json:"limit,omitempty"`
	Collection string `json:"collection,omitempty"`
}
