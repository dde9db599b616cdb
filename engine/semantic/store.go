// Package semantic is the vector store adapter: named collections of
// (id, vector, content, metadata) tuples with filtered nearest-neighbour
// search. Qdrant is the production backend; the memory backend serves tests
// and single-process demos.
package semantic

import (
	"context"
	"fmt"
	"strconv"

	"github.com/UniGuideAI/uniguide-mvp/engine/domain"
)

// Store is implemented by every backend.
type Store interface {
	// GetOrCreateCollection creates name on first reference.
	GetOrCreateCollection(ctx context.Context, name string) error
	// AddDocuments appends documents. All slices must have equal length and
	// ids must be unique within the call. Adding an id that is already
	// stored replaces that document (upsert); the ingestor never does so
	// because every run mints fresh ids.
	AddDocuments(ctx context.Context, collection string, ids []string, vectors [][]float32, contents []string, metadatas []domain.Metadata) error
	// QueryCollection returns at most limit documents ordered by ascending
	// distance. where and whereDocument are optional and AND-combined.
	QueryCollection(ctx context.Context, collection string, vector []float32, limit int, where domain.MetadataFilter, whereDocument domain.DocumentFilter) ([]domain.RetrievalResult, error)
	// Count returns the number of stored documents.
	Count(ctx context.Context, collection string) (int, error)
	// DeleteCollection drops name. An absent collection is not an error.
	DeleteCollection(ctx context.Context, name string) error
}

// checkBatch enforces the AddDocuments length contract.
func checkBatch(ids []string, vectors [][]float32, contents []string, metadatas []domain.Metadata) error {
	n := len(ids)
	if len(vectors) != n || len(contents) != n || len(metadatas) != n {
		return domain.NewInputError("documents",
			fmt.Sprintf("ids=%d vectors=%d contents=%d metadatas=%d", n, len(vectors), len(contents), len(metadatas)),
			domain.ErrLengthMismatch)
	}
	seen := make(map[string]struct{}, n)
	for i, id := range ids {
		if id == "" {
			return domain.NewInputError("ids["+strconv.Itoa(i)+"]", id, domain.ErrEmptyText)
		}
		if _, dup := seen[id]; dup {
			return domain.NewInputError("ids["+strconv.Itoa(i)+"]", id, domain.ErrDuplicateID)
		}
		seen[id] = struct{}{}
	}
	return nil
}

func checkQuery(collection string, vector []float32, limit int, where domain.MetadataFilter) error {
	if collection == "" {
		return domain.NewInputError("collection", collection, domain.ErrEmptyText)
	}
	if len(vector) == 0 {
		return domain.NewInputError("vector", "", domain.ErrDimension)
	}
	if limit <= 0 {
		return domain.NewInputError("limit", strconv.Itoa(limit), domain.ErrInput)
	}
	return checkFilter(where)
}

// checkFilter rejects ordering operators on non-numbers, which no backend
// can evaluate.
func checkFilter(where domain.MetadataFilter) error {
	for _, field := range where.Fields() {
		c := where[field]
		if !c.Op.Comparison() {
			continue
		}
		if _, ok := c.Value.AsNumber(); !ok {
			return domain.NewInputError("where."+field, c.Value.String(), domain.ErrInput)
		}
	}
	return nil
}
