package embedding

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag/internal/domain"
	"rag/internal/embedding/hashing"
	"rag/internal/resilience"
)

type countingEmbedder struct {
	failures int
	calls    int
	batches  [][]string
}

func (c *countingEmbedder) Name() string { return "counting" }

func (c *countingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	c.calls++
	if c.calls <= c.failures {
		return nil, errors.New("backend busy")
	}
	return []float32{float32(len(text)), 1}, nil
}

func (c *countingEmbedder) EmbedMany(_ context.Context, texts []string) ([][]float32, error) {
	c.calls++
	if c.calls <= c.failures {
		return nil, errors.New("backend busy")
	}
	c.batches = append(c.batches, texts)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

var fastPolicy = resilience.Policy{Attempts: 2, Base: time.Millisecond, Max: time.Millisecond}

func TestRetrying(t *testing.T) {
	ctx := context.Background()

	t.Run("ShouldRecoverFromTransientFailures", func(t *testing.T) {
		inner := &countingEmbedder{failures: 2}
		v, err := WithRetry(inner, fastPolicy).Embed(ctx, "abc")
		require.NoError(t, err)
		assert.Equal(t, []float32{3, 1}, v)
		assert.Equal(t, 3, inner.calls)
	})

	t.Run("ShouldWrapExhaustedRetriesAsProviderError", func(t *testing.T) {
		inner := &countingEmbedder{failures: 10}
		r := WithRetry(inner, fastPolicy)
		_, err := r.EmbedMany(ctx, []string{"a"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrProvider))
		assert.Equal(t, 3, inner.calls)
		assert.Equal(t, "counting", r.Name())
	})
}

func TestCached(t *testing.T) {
	ctx := context.Background()

	t.Run("ShouldServeRepeatedQuestionsFromCache", func(t *testing.T) {
		inner := &countingEmbedder{}
		c, err := WithCache(inner, 4)
		require.NoError(t, err)
		first, err := c.Embed(ctx, "gloves")
		require.NoError(t, err)
		first[0] = 99
		second, err := c.Embed(ctx, "gloves")
		require.NoError(t, err)
		assert.Equal(t, []float32{6, 1}, second)
		assert.Equal(t, 1, inner.calls)
	})

	t.Run("ShouldRejectInvalidSize", func(t *testing.T) {
		_, err := WithCache(&countingEmbedder{}, 0)
		assert.Error(t, err)
	})
}

func TestEmbedBatched(t *testing.T) {
	ctx := context.Background()

	t.Run("ShouldSplitInOrder", func(t *testing.T) {
		inner := &countingEmbedder{}
		vecs, err := EmbedBatched(ctx, inner, []string{"a", "bb", "ccc", "dddd", "eeeee"}, 2)
		require.NoError(t, err)
		require.Len(t, vecs, 5)
		for i, v := range vecs {
			assert.Equal(t, float32(i+1), v[0])
		}
		assert.Equal(t, [][]string{{"a", "bb"}, {"ccc", "dddd"}, {"eeeee"}}, inner.batches)
	})

	t.Run("ShouldUseOneBatchWhenSizeIsZero", func(t *testing.T) {
		inner := &countingEmbedder{}
		_, err := EmbedBatched(ctx, inner, []string{"a", "b", "c"}, 0)
		require.NoError(t, err)
		assert.Len(t, inner.batches, 1)
	})
}

func TestIdentity(t *testing.T) {
	t.Run("ShouldForwardIdentityAndDimensionThroughDecorators", func(t *testing.T) {
		cached, err := WithCache(WithRetry(hashing.NewEmbedder(32), fastPolicy), 4)
		require.NoError(t, err)
		assert.Equal(t, "hashing:32", Identity(cached))
		assert.Equal(t, 32, Dimension(cached))
		assert.Equal(t, "hashing", cached.Name())
	})

	t.Run("ShouldFallBackToName", func(t *testing.T) {
		e := &countingEmbedder{}
		assert.Equal(t, "counting", Identity(WithRetry(e, fastPolicy)))
		assert.Zero(t, Dimension(e))
	})
}
