package index

import (
	"context"
	"path/filepath"

	"rag/internal/domain"
	"rag/internal/vectorstore"
	"rag/internal/vectorstore/memory"
	"rag/internal/vectorstore/qdrant"
	"rag/internal/vectorstore/sqlite"
)

// StoreFactory opens the partition of one category. It is called with the
// partition lock held.
type StoreFactory func(ctx context.Context, c domain.Category) (vectorstore.Storage, error)

// SQLiteStores keeps each partition in <indexDir>/<key>/index.db.
func SQLiteStores(indexDir string) StoreFactory {
	return func(ctx context.Context, c domain.Category) (vectorstore.Storage, error) {
		return sqlite.Open(ctx, filepath.Join(indexDir, c.Key(), sqlite.FileName))
	}
}

// MemoryStores keeps partitions in process memory, so every run rebuilds them.
func MemoryStores() StoreFactory {
	return func(context.Context, domain.Category) (vectorstore.Storage, error) {
		return memory.NewStorage(), nil
	}
}

// QdrantStores keeps each partition in its own Qdrant collection.
func QdrantStores(cfg qdrant.Config) StoreFactory {
	return func(ctx context.Context, c domain.Category) (vectorstore.Storage, error) {
		s := qdrant.NewStorage(cfg, c)
		if err := s.Open(ctx); err != nil {
			return nil, err
		}
		return s, nil
	}
}
