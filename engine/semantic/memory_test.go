package semantic

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UniGuideAI/uniguide-mvp/engine/domain"
)

func seedMemory(t *testing.T) *MemoryStore {
	t.Helper()
	s := NewMemory()
	err := s.AddDocuments(context.Background(), "unis",
		[]string{"a", "b", "c"},
		[][]float32{{1, 0}, {0.8, 0.6}, {0, 1}},
		[]string{"Acme is in Boston.", "Beta is in Austin.", "Gamma is in Boston too."},
		[]domain.Metadata{
			{"country": domain.String("USA"), "basic_info.acceptance_rate": domain.Number(0.05)},
			{"country": domain.String("USA"), "basic_info.acceptance_rate": domain.Number(0.4)},
			{"country": domain.String("UK"), "basic_info.acceptance_rate": domain.Number(0.2)},
		})
	require.NoError(t, err)
	return s
}

func TestMemoryQueryOrdersByDistance(t *testing.T) {
	s := seedMemory(t)

	res, err := s.QueryCollection(context.Background(), "unis", []float32{1, 0}, 10, nil, nil)
	require.NoError(t, err)
	require.Len(t, res, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{res[0].ID, res[1].ID, res[2].ID})
	assert.InDelta(t, 0, res[0].Distance, 1e-9)
	assert.InDelta(t, 0.2, res[1].Distance, 1e-6)
	assert.InDelta(t, 1, res[2].Distance, 1e-9)
}

func TestMemoryQueryLimit(t *testing.T) {
	s := seedMemory(t)
	res, err := s.QueryCollection(context.Background(), "unis", []float32{0, 1}, 1, nil, nil)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "c", res[0].ID)
}

func TestMemoryMetadataFilter(t *testing.T) {
	s := seedMemory(t)
	where := domain.MetadataFilter{
		"country":                    domain.Eq(domain.String("USA")),
		"basic_info.acceptance_rate": {Op: domain.OpLt, Value: domain.Number(0.1)},
	}
	res, err := s.QueryCollection(context.Background(), "unis", []float32{0, 1}, 10, where, nil)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "a", res[0].ID)
}

func TestMemoryDocumentFilter(t *testing.T) {
	s := seedMemory(t)
	ctx := context.Background()

	res, err := s.QueryCollection(ctx, "unis", []float32{1, 0}, 10, nil, domain.DocumentFilter{domain.DocContains: "Boston"})
	require.NoError(t, err)
	assert.Len(t, res, 2)

	res, err = s.QueryCollection(ctx, "unis", []float32{1, 0}, 10,
		domain.MetadataFilter{"country": domain.Eq(domain.String("USA"))},
		domain.DocumentFilter{domain.DocNotContains: "Boston"})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "b", res[0].ID)

	res, err = s.QueryCollection(ctx, "unis", []float32{1, 0}, 10, nil, domain.DocumentFilter{domain.DocContains: "boston"})
	require.NoError(t, err)
	assert.Empty(t, res, "containment is case-sensitive")
}

func TestMemoryNullMatchesMissing(t *testing.T) {
	s := seedMemory(t)
	res, err := s.QueryCollection(context.Background(), "unis", []float32{1, 0}, 10,
		domain.MetadataFilter{"ranking": domain.Eq(domain.Null())}, nil)
	require.NoError(t, err)
	assert.Len(t, res, 3)
}

func TestMemoryCountAndDelete(t *testing.T) {
	s := seedMemory(t)
	ctx := context.Background()

	n, err := s.Count(ctx, "unis")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = s.Count(ctx, "absent")
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, s.DeleteCollection(ctx, "unis"))
	require.NoError(t, s.DeleteCollection(ctx, "unis"))
	n, _ = s.Count(ctx, "unis")
	assert.Zero(t, n)
}

func TestMemoryUpsertReplaces(t *testing.T) {
	s := seedMemory(t)
	ctx := context.Background()
	require.NoError(t, s.AddDocuments(ctx, "unis", []string{"a"}, [][]float32{{0, 1}}, []string{"moved"}, []domain.Metadata{{}}))

	n, _ := s.Count(ctx, "unis")
	assert.Equal(t, 3, n)
	res, err := s.QueryCollection(ctx, "unis", []float32{0, 1}, 1, nil, domain.DocumentFilter{domain.DocContains: "moved"})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "a", res[0].ID)
}

func TestMemoryRejectsDuplicateIDsInBatch(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	err := s.AddDocuments(ctx, "unis", []string{"a", "a"}, [][]float32{{1, 0}, {0, 1}}, []string{"x", "y"}, []domain.Metadata{{}, {}})
	assert.ErrorIs(t, err, domain.ErrInput)
	assert.ErrorIs(t, err, domain.ErrDuplicateID)
	n, _ := s.Count(ctx, "unis")
	assert.Zero(t, n)
}

func TestMemoryDimensionChecks(t *testing.T) {
	s := seedMemory(t)
	ctx := context.Background()

	err := s.AddDocuments(ctx, "unis", []string{"d"}, [][]float32{{1, 2, 3}}, []string{"x"}, []domain.Metadata{{}})
	assert.ErrorIs(t, err, domain.ErrDimension)

	_, err = s.QueryCollection(ctx, "unis", []float32{1, 2, 3}, 1, nil, nil)
	assert.ErrorIs(t, err, domain.ErrDimension)

	err = s.AddDocuments(ctx, "fresh", []string{"x", "y"}, [][]float32{{1}, {1, 2}}, []string{"x", "y"}, []domain.Metadata{{}, {}})
	assert.ErrorIs(t, err, domain.ErrDimension)
	n, _ := s.Count(ctx, "fresh")
	assert.Zero(t, n, "a rejected batch writes nothing")
}

func TestMemoryLengthMismatch(t *testing.T) {
	s := NewMemory()
	err := s.AddDocuments(context.Background(), "c", []string{"a", "b"}, [][]float32{{1}}, []string{"x", "y"}, []domain.Metadata{{}, {}})
	assert.ErrorIs(t, err, domain.ErrLengthMismatch)
	assert.ErrorIs(t, err, domain.ErrInput)
}

func TestMemoryResultsAreCopies(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	md := domain.Metadata{"k": domain.String("v")}
	vec := []float32{1, 0}
	require.NoError(t, s.AddDocuments(ctx, "c", []string{"a"}, [][]float32{vec}, []string{"x"}, []domain.Metadata{md}))

	md["k"] = domain.String("mutated")
	vec[0] = 0

	res, err := s.QueryCollection(ctx, "c", []float32{1, 0}, 1, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.String("v"), res[0].Metadata["k"])
	assert.InDelta(t, 0, res[0].Distance, 1e-9)

	res[0].Metadata["k"] = domain.String("caller-owned")
	again, _ := s.QueryCollection(ctx, "c", []float32{1, 0}, 1, nil, nil)
	assert.Equal(t, domain.String("v"), again[0].Metadata["k"])
}

func TestMemoryQueryEmptyCollection(t *testing.T) {
	s := NewMemory()
	res, err := s.QueryCollection(context.Background(), "new", []float32{1}, 3, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, res)
	require.NoError(t, s.GetOrCreateCollection(context.Background(), "new"))
	assert.Error(t, s.GetOrCreateCollection(context.Background(), ""))
}

func TestMemoryConcurrentReadWrite(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(2)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				id := fmt.Sprintf("%d-%d", w, i)
				assert.NoError(t, s.AddDocuments(ctx, "c", []string{id}, [][]float32{{1, float32(i)}}, []string{id}, []domain.Metadata{{}}))
			}
		}(w)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				_, err := s.QueryCollection(ctx, "c", []float32{1, 1}, 5, nil, nil)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()
	n, _ := s.Count(ctx, "c")
	assert.Equal(t, 100, n)
}

func TestCosineDistanceZeroVector(t *testing.T) {
	assert.Equal(t, 1.0, cosineDistance([]float32{0, 0}, 0, []float32{1, 0}, 1))
}
