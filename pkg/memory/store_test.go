package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCosineSimilarity(t *testing.T) {
	require.InDelta(t, 1.0, CosineSimilarity([]float32{1, 0}, []float32{2, 0}), 1e-9)
	require.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	require.InDelta(t, -1.0, CosineSimilarity([]float32{1, 0}, []float32{-3, 0}), 1e-9)
	require.Zero(t, CosineSimilarity(nil, []float32{1}))
	require.Zero(t, CosineSimilarity([]float32{0, 0}, []float32{1, 1}))
}

func TestInMemoryStoreSearchOrdersByScore(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	require.NoError(t, store.Add(ctx, "about dogs", []float32{1, 0, 0}))
	require.NoError(t, store.Add(ctx, "about cats", []float32{0, 1, 0}))
	require.NoError(t, store.Add(ctx, "about dog food", []float32{0.9, 0.1, 0}))

	hits, err := store.Search(ctx, []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	require.Equal(t, "about dogs", hits[0].Content)
	require.Equal(t, "about dog food", hits[1].Content)
	require.Greater(t, hits[0].Score, hits[1].Score)
}

func TestInMemoryStoreSearchLimit(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	require.NoError(t, store.Add(ctx, "a", []float32{1}))

	hits, err := store.Search(ctx, []float32{1}, 0)
	require.NoError(t, err)
	require.Empty(t, hits)

	hits, err = store.Search(ctx, []float32{1}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
}

func TestInMemoryStoreClear(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	require.NoError(t, store.Add(ctx, "a", []float32{1}))
	require.Equal(t, 1, store.Size())

	store.Clear()
	require.Zero(t, store.Size())
}

func TestVectorLiteral(t *testing.T) {
	require.Equal(t, "[1,2.5,-3]", vectorLiteral([]float32{1, 2.5, -3}))
	require.Equal(t, "[]", vectorLiteral(nil))
	require.Equal(t, "[]", vectorLiteral([]float32{}))
}
