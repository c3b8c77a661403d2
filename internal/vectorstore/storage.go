// Package vectorstore defines the per-category vector index used for
// similarity search, and the ranking helpers its implementations share.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"rag/internal/domain"
)

// DefaultTopK is used when Search gets a non-positive k.
const DefaultTopK = 5

var (
	// ErrDimensionMismatch is returned when a vector does not match the index dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrNotInitialized is returned by writes before Init.
	ErrNotInitialized = errors.New("vector store is not initialized")
)

// Storage persists vectors for one category and supports similarity search.
// Implementations rank by cosine similarity and break ties by insertion order.
// Upserting an existing chunk ID replaces it and keeps its original position.
type Storage interface {
	// Init prepares an empty index with the given vector dimension.
	Init(ctx context.Context, dimension int) error
	Upsert(ctx context.Context, chunks []domain.Chunk, vectors [][]float32) error
	Search(ctx context.Context, vector []float32, k int) ([]domain.SearchResult, error)
	Count(ctx context.Context) (int, error)
	// Persisted reports whether a complete build was recorded with MarkPersisted.
	Persisted(ctx context.Context) (bool, error)
	MarkPersisted(ctx context.Context) error
	Clear(ctx context.Context) error
	Close() error
}

// CheckBatch validates an upsert batch against the index dimension.
func CheckBatch(chunks []domain.Chunk, vectors [][]float32, dimension int) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunks and vectors length mismatch: %d != %d", len(chunks), len(vectors))
	}
	for i, v := range vectors {
		if len(v) != dimension {
			return fmt.Errorf("%w: chunk %s has %d, index has %d", ErrDimensionMismatch, chunks[i].ID, len(v), dimension)
		}
	}
	return nil
}

// Cosine returns the cosine similarity of a and b, or 0 when either is a zero vector.
func Cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// TopK keeps the k best results. results must be in insertion order; the sort
// is stable so equal scores keep that order.
func TopK(results []domain.SearchResult, k int) []domain.SearchResult {
	if k <= 0 {
		k = DefaultTopK
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > k {
		results = results[:k]
	}
	return results
}

// Dimensioned is implemented by stores that know their vector size without a search.
type Dimensioned interface {
	Dimension() int
}

// EmbedderRecorder is implemented by durable stores that remember which
// embedder built them, so a change of embedder can trigger a rebuild.
type EmbedderRecorder interface {
	SetEmbedder(ctx context.Context, name string) error
	Embedder(ctx context.Context) (string, error)
}
