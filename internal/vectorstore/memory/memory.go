package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"rag/internal/domain"
	"rag/internal/vectorstore"
)

// Storage is an in-process vector store using brute-force cosine similarity.
// Nothing survives the process; Persisted only reflects MarkPersisted calls.
type Storage struct {
	mu        sync.RWMutex
	dimension int
	vectors   [][]float32
	chunks    []domain.Chunk
	byID      map[string]int
	persisted bool
}

func NewStorage() *Storage { return &Storage{byID: map[string]int{}} }

// Dimension returns the vector size, or 0 before Init.
func (s *Storage) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dimension
}

func (s *Storage) Init(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dimension = dimension
	s.reset()
	return nil
}

func (s *Storage) Upsert(ctx context.Context, chunks []domain.Chunk, vectors [][]float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dimension == 0 {
		return vectorstore.ErrNotInitialized
	}
	if err := vectorstore.CheckBatch(chunks, vectors, s.dimension); err != nil {
		return err
	}
	for i, c := range chunks {
		v := append([]float32(nil), vectors[i]...)
		if idx, ok := s.byID[c.ID]; ok {
			s.chunks[idx] = c
			s.vectors[idx] = v
			continue
		}
		s.byID[c.ID] = len(s.chunks)
		s.chunks = append(s.chunks, c)
		s.vectors = append(s.vectors, v)
	}
	return nil
}

func (s *Storage) Search(ctx context.Context, vector []float32, k int) ([]domain.SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.chunks) == 0 {
		return nil, nil
	}
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d, index has %d", vectorstore.ErrDimensionMismatch, len(vector), s.dimension)
	}
	results := make([]domain.SearchResult, len(s.chunks))
	for i := range s.chunks {
		results[i] = domain.SearchResult{Chunk: s.chunks[i], Score: vectorstore.Cosine(s.vectors[i], vector)}
	}
	return vectorstore.TopK(results, k), nil
}

func (s *Storage) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks), nil
}

func (s *Storage) Persisted(ctx context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.persisted, nil
}

func (s *Storage) MarkPersisted(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persisted = true
	return nil
}

func (s *Storage) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
	return nil
}

func (s *Storage) Close() error { return nil }

func (s *Storage) reset() {
	s.vectors = nil
	s.chunks = nil
	s.byID = map[string]int{}
	s.persisted = false
}
