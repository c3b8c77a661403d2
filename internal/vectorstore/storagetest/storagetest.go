// Package storagetest holds behaviour tests shared by every vectorstore.Storage implementation.
package storagetest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag/internal/domain"
	"rag/internal/vectorstore"
)

// Factory returns a fresh, unopened store for each subtest.
type Factory func(t *testing.T) vectorstore.Storage

func chunk(id, source string, pos int) domain.Chunk {
	return domain.Chunk{ID: id, Source: source, Category: domain.CategoryManuals, Position: pos, Page: 1, Text: "text " + id}
}

// Run exercises the Storage contract against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	ctx := context.Background()

	t.Run("ShouldRankByCosineSimilarity", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Init(ctx, 2))
		require.NoError(t, s.Upsert(ctx,
			[]domain.Chunk{chunk("a", "a.pdf", 0), chunk("b", "b.pdf", 0), chunk("c", "c.pdf", 0)},
			[][]float32{{1, 0}, {0, 1}, {1, 1}},
		))
		res, err := s.Search(ctx, []float32{0, 1}, 2)
		require.NoError(t, err)
		require.Len(t, res, 2)
		assert.Equal(t, "b", res[0].Chunk.ID)
		assert.Equal(t, "c", res[1].Chunk.ID)
		assert.InDelta(t, 1.0, res[0].Score, 1e-6)
		assert.Equal(t, "b.pdf", res[0].Chunk.Source)
		assert.Equal(t, domain.CategoryManuals, res[0].Chunk.Category)
		assert.Equal(t, "text b", res[0].Chunk.Text)
	})

	t.Run("ShouldBreakTiesByInsertionOrder", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Init(ctx, 2))
		require.NoError(t, s.Upsert(ctx,
			[]domain.Chunk{chunk("x", "x", 0), chunk("y", "y", 1), chunk("z", "z", 2)},
			[][]float32{{1, 0}, {1, 0}, {1, 0}},
		))
		res, err := s.Search(ctx, []float32{1, 0}, 0)
		require.NoError(t, err)
		require.Len(t, res, 3)
		assert.Equal(t, []string{"x", "y", "z"}, []string{res[0].Chunk.ID, res[1].Chunk.ID, res[2].Chunk.ID})
	})

	t.Run("ShouldReplaceOnUpsertOfSameID", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Init(ctx, 2))
		require.NoError(t, s.Upsert(ctx, []domain.Chunk{chunk("a", "a", 0), chunk("b", "b", 1)}, [][]float32{{1, 0}, {1, 0}}))
		updated := chunk("a", "a", 0)
		updated.Text = "updated"
		require.NoError(t, s.Upsert(ctx, []domain.Chunk{updated}, [][]float32{{1, 0}}))
		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		res, err := s.Search(ctx, []float32{1, 0}, 5)
		require.NoError(t, err)
		require.Len(t, res, 2)
		assert.Equal(t, "a", res[0].Chunk.ID)
		assert.Equal(t, "updated", res[0].Chunk.Text)
	})

	t.Run("ShouldRejectDimensionMismatch", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Init(ctx, 3))
		err := s.Upsert(ctx, []domain.Chunk{chunk("a", "a", 0)}, [][]float32{{1, 0}})
		assert.True(t, errors.Is(err, vectorstore.ErrDimensionMismatch))
		require.NoError(t, s.Upsert(ctx, []domain.Chunk{chunk("a", "a", 0)}, [][]float32{{1, 0, 0}}))
		_, err = s.Search(ctx, []float32{1, 0}, 1)
		assert.True(t, errors.Is(err, vectorstore.ErrDimensionMismatch))
	})

	t.Run("ShouldTrackPersistedMarkAndClear", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Init(ctx, 2))
		ok, err := s.Persisted(ctx)
		require.NoError(t, err)
		assert.False(t, ok)
		require.NoError(t, s.Upsert(ctx, []domain.Chunk{chunk("a", "a", 0)}, [][]float32{{1, 0}}))
		require.NoError(t, s.MarkPersisted(ctx))
		ok, err = s.Persisted(ctx)
		require.NoError(t, err)
		assert.True(t, ok)

		require.NoError(t, s.Clear(ctx))
		ok, err = s.Persisted(ctx)
		require.NoError(t, err)
		assert.False(t, ok)
		n, err := s.Count(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("ShouldReturnNothingWhenEmpty", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Init(ctx, 2))
		res, err := s.Search(ctx, []float32{1, 0}, 5)
		require.NoError(t, err)
		assert.Empty(t, res)
	})
}
