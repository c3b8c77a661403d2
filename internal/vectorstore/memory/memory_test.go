package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"rag/internal/domain"
	"rag/internal/vectorstore"
	"rag/internal/vectorstore/storagetest"
)

func TestStorage(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) vectorstore.Storage { return NewStorage() })
}

func TestUpsertBeforeInit(t *testing.T) {
	err := NewStorage().Upsert(context.Background(), []domain.Chunk{{ID: "a"}}, [][]float32{{1}})
	assert.True(t, errors.Is(err, vectorstore.ErrNotInitialized))
}
