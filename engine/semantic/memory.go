package semantic

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"

	"github.com/UniGuideAI/uniguide-mvp/engine/domain"
)

// MemoryStore is an in-process Store using brute-force cosine distance.
// Re-adding an id replaces the stored document, as Qdrant's upsert does.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*memCollection
}

type memCollection struct {
	dims  int
	docs  []memDoc
	index map[string]int
}

type memDoc struct {
	id      string
	vector  []float32
	norm    float64
	content string
	meta    domain.Metadata
}

var _ Store = (*MemoryStore)(nil)

// NewMemory creates an empty store.
func NewMemory() *MemoryStore {
	return &MemoryStore{collections: map[string]*memCollection{}}
}

// GetOrCreateCollection creates name on first reference.
func (s *MemoryStore) GetOrCreateCollection(_ context.Context, name string) error {
	if name == "" {
		return domain.NewInputError("collection", name, domain.ErrEmptyText)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collection(name)
	return nil
}

// collection must be called with the write lock held.
func (s *MemoryStore) collection(name string) *memCollection {
	c, ok := s.collections[name]
	if !ok {
		c = &memCollection{index: map[string]int{}}
		s.collections[name] = c
	}
	return c
}

// AddDocuments stores copies of the inputs. The first vector of a
// collection fixes its dimensionality.
func (s *MemoryStore) AddDocuments(_ context.Context, collection string, ids []string, vectors [][]float32, contents []string, metadatas []domain.Metadata) error {
	if collection == "" {
		return domain.NewInputError("collection", collection, domain.ErrEmptyText)
	}
	if err := checkBatch(ids, vectors, contents, metadatas); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.collection(collection)

	dims := c.dims
	for i, v := range vectors {
		if dims == 0 {
			dims = len(v)
		}
		if len(v) == 0 || len(v) != dims {
			return domain.NewInputError("vectors["+strconv.Itoa(i)+"]",
				fmt.Sprintf("len=%d want=%d", len(v), dims), domain.ErrDimension)
		}
	}
	c.dims = dims

	for i, id := range ids {
		doc := memDoc{
			id:      id,
			vector:  append([]float32(nil), vectors[i]...),
			norm:    norm(vectors[i]),
			content: contents[i],
			meta:    copyMetadata(metadatas[i]),
		}
		if at, ok := c.index[id]; ok {
			c.docs[at] = doc
			continue
		}
		c.index[id] = len(c.docs)
		c.docs = append(c.docs, doc)
	}
	return nil
}

// QueryCollection scans every document of the collection.
func (s *MemoryStore) QueryCollection(_ context.Context, collection string, vector []float32, limit int, where domain.MetadataFilter, whereDocument domain.DocumentFilter) ([]domain.RetrievalResult, error) {
	if err := checkQuery(collection, vector, limit, where); err != nil {
		return nil, err
	}

	s.mu.Lock()
	c := s.collection(collection)
	s.mu.Unlock()

	s.mu.RLock()
	defer s.mu.RUnlock()
	if c.dims != 0 && len(vector) != c.dims {
		return nil, domain.NewInputError("vector",
			fmt.Sprintf("len=%d want=%d", len(vector), c.dims), domain.ErrDimension)
	}

	qnorm := norm(vector)
	hits := make([]domain.RetrievalResult, 0, len(c.docs))
	for _, d := range c.docs {
		if !where.Match(d.meta) || !whereDocument.Match(d.content) {
			continue
		}
		hits = append(hits, domain.RetrievalResult{
			ID:       d.id,
			Content:  d.content,
			Metadata: copyMetadata(d.meta),
			Distance: cosineDistance(vector, qnorm, d.vector, d.norm),
		})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Count returns the number of stored documents.
func (s *MemoryStore) Count(_ context.Context, collection string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[collection]
	if !ok {
		return 0, nil
	}
	return len(c.docs), nil
}

// DeleteCollection drops name if present.
func (s *MemoryStore) DeleteCollection(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections, name)
	return nil
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// cosineDistance is 1 - cos(a, b); a zero vector is at distance 1 from
// everything.
func cosineDistance(a []float32, na float64, b []float32, nb float64) float64 {
	if na == 0 || nb == 0 {
		return 1
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return 1 - dot/(na*nb)
}

func copyMetadata(md domain.Metadata) domain.Metadata {
	out := make(domain.Metadata, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}
