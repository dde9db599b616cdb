// Package query turns a free-text question into a structured retrieval
// request with the help of a text-generation model.
package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/UniGuideAI/uniguide-mvp/engine/domain"
	"github.com/UniGuideAI/uniguide-mvp/pkg/fn"
	"github.com/UniGuideAI/uniguide-mvp/pkg/resilience"
)

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Translation is a structured retrieval request.
type Translation struct {
	SemanticQuery  string                `json:"semantic_query"`
	MetadataFilter domain.MetadataFilter `json:"metadata_filters,omitempty"`
	DocumentFilter domain.DocumentFilter `json:"document_filters,omitempty"`
}

// Options configures a Translator.
type Options struct {
	Fields  []Field
	Breaker resilience.BreakerOpts
	// RateLimit caps generation calls. The zero value is unlimited.
	RateLimit resilience.LimiterOpts
	Logger    *zap.Logger
}

// Translator asks a Generator for a Translation and parses its reply.
type Translator struct {
	fields   []Field
	breaker  *resilience.Breaker
	generate fn.Stage[string, string]
	log      *zap.Logger
}

// New creates a Translator. Fields default to UniversityFields.
func New(gen Generator, opts Options) *Translator {
	if opts.Fields == nil {
		opts.Fields = UniversityFields
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	log := opts.Logger.Named("translator")
	bo := opts.Breaker
	if bo.Name == "" {
		bo.Name = "generator"
	}
	if bo.IsSuccessful == nil {
		bo.IsSuccessful = func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		}
	}
	if bo.OnStateChange == nil {
		bo.OnStateChange = func(name, from, to string) {
			log.Warn("breaker state changed", zap.String("breaker", name), zap.String("from", from), zap.String("to", to))
		}
	}
	breaker := resilience.NewBreaker(bo)
	call := func(ctx context.Context, prompt string) fn.Result[string] {
		return fn.FromPair(gen.Generate(ctx, prompt))
	}
	limiter := resilience.NewLimiter(opts.RateLimit)
	generate := resilience.LimiterStageWait(limiter, resilience.BreakerStage(breaker, call))
	return &Translator{
		fields:   opts.Fields,
		breaker:  breaker,
		generate: fn.TracedStage("query.generate", generate),
		log:      log,
	}
}

// Translate validates question, prompts the generator and parses the fenced
// JSON reply. Unusable replies yield a *domain.ParseError.
func (t *Translator) Translate(ctx context.Context, question string) (Translation, error) {
	if err := domain.ValidateQuestion(question); err != nil {
		return Translation{}, err
	}
	prompt := BuildPrompt(t.fields, question)

	start := time.Now()
	reply, err := t.generate(ctx, prompt).Unwrap()
	if err != nil {
		return Translation{}, fmt.Errorf("query: generate: %w", err)
	}
	t.log.Debug("generator replied", zap.Int("reply_len", len(reply)), zap.Duration("took", time.Since(start)))

	return Parse(reply)
}

// Parse extracts and normalizes a Translation from a generator reply.
func Parse(reply string) (Translation, error) {
	payload, ok := ExtractStructuredPayload(reply)
	if !ok {
		return Translation{}, &domain.ParseError{Reason: "no fenced JSON block in reply"}
	}
	doc, err := decodePayload(payload)
	if err != nil {
		return Translation{}, err
	}
	if err := validatePayload(doc); err != nil {
		return Translation{}, err
	}

	q, _ := doc["semantic_query"].(string)
	q = strings.TrimSpace(q)
	if q == "" {
		return Translation{}, &domain.ParseError{Reason: "semantic_query is blank"}
	}
	out := Translation{SemanticQuery: q}

	if mf, ok := doc["metadata_filters"].(map[string]any); ok {
		if out.MetadataFilter, err = NormalizeFilter(mf); err != nil {
			return Translation{}, err
		}
	}
	if out.DocumentFilter, err = NormalizeDocumentFilter(doc["document_filters"]); err != nil {
		return Translation{}, err
	}
	return out, nil
}

// State reports the generator breaker state.
func (t *Translator) State() string { return t.breaker.State() }
