package vectorindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryIndex_InsertAndSearch(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()

	require.NoError(t, idx.Insert(ctx, Record{FunctionID: "weather", Category: "weather", Embedding: []float32{1, 0, 0}}))
	require.NoError(t, idx.Insert(ctx, Record{FunctionID: "stock", Category: "finance", Embedding: []float32{0, 1, 0}}))

	results, err := idx.Search(ctx, []float32{1, 0, 0}, 5, Filter{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "weather", results[0].FunctionID)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestMemoryIndex_SearchFiltersByCategory(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()
	require.NoError(t, idx.InsertBatch(ctx, []Record{
		{FunctionID: "weather", Category: "weather", Embedding: []float32{1, 0}},
		{FunctionID: "stock", Category: "finance", Embedding: []float32{1, 0}},
	}))

	results, err := idx.Search(ctx, []float32{1, 0}, 10, Filter{Category: "finance"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "stock", results[0].FunctionID)
}

func TestMemoryIndex_SearchRespectsTopK(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()
	require.NoError(t, idx.InsertBatch(ctx, []Record{
		{FunctionID: "a", Embedding: []float32{1, 0}},
		{FunctionID: "b", Embedding: []float32{0.9, 0.1}},
		{FunctionID: "c", Embedding: []float32{0, 1}},
	}))

	results, err := idx.Search(ctx, []float32{1, 0}, 2, Filter{})
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestMemoryIndex_DeleteByID(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()
	require.NoError(t, idx.Insert(ctx, Record{FunctionID: "weather", Embedding: []float32{1}}))
	require.NoError(t, idx.DeleteByID(ctx, "weather"))

	count, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestMemoryIndex_Clear(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()
	require.NoError(t, idx.InsertBatch(ctx, []Record{
		{FunctionID: "a", Embedding: []float32{1}},
		{FunctionID: "b", Embedding: []float32{1}},
	}))
	require.NoError(t, idx.Clear(ctx))

	count, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestCosine(t *testing.T) {
	assert.Equal(t, float32(1), cosine([]float32{1, 0}, []float32{1, 0}))
	assert.Equal(t, float32(0), cosine([]float32{1, 0}, []float32{0, 1}))
}
