package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag/internal/domain"
	"rag/internal/vectorstore"
	"rag/internal/vectorstore/storagetest"
)

func openTemp(t *testing.T) *Storage {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "manuals", FileName))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStorage(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) vectorstore.Storage { return openTemp(t) })
}

func TestReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "parts", FileName)

	s, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.Init(ctx, 3))
	require.NoError(t, s.SetEmbedder(ctx, "hashing"))
	chunk := domain.Chunk{ID: "c1", Source: "bolts.pdf", Category: domain.CategoryParts, Position: 4, Page: 2, Text: "M8 bolts"}
	require.NoError(t, s.Upsert(ctx, []domain.Chunk{chunk}, [][]float32{{0.5, -1.25, 3}}))
	require.NoError(t, s.MarkPersisted(ctx))
	require.NoError(t, s.Close())

	t.Run("ShouldKeepChunksAndMetadata", func(t *testing.T) {
		s, err := Open(ctx, path)
		require.NoError(t, err)
		defer s.Close()
		assert.Equal(t, 3, s.Dimension())
		ok, err := s.Persisted(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
		name, err := s.Embedder(ctx)
		require.NoError(t, err)
		assert.Equal(t, "hashing", name)
		res, err := s.Search(ctx, []float32{0.5, -1.25, 3}, 1)
		require.NoError(t, err)
		require.Len(t, res, 1)
		assert.Equal(t, chunk, res[0].Chunk)
		assert.InDelta(t, 1.0, res[0].Score, 1e-6)
	})
}

func TestVectorEncoding(t *testing.T) {
	in := []float32{0, 1.5, -2.25, 1e-7}
	out, err := decodeVector(encodeVector(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
	_, err = decodeVector([]byte{1, 2, 3})
	assert.Error(t, err)
}
