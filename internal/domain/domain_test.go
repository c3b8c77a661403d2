package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategories(t *testing.T) {
	t.Run("ShouldMapEveryCategoryToLabelAndKey", func(t *testing.T) {
		keys := make(map[string]struct{})
		for _, c := range Categories() {
			assert.True(t, c.Valid())
			assert.NotEmpty(t, c.Label())
			require.NotEmpty(t, c.Key())
			keys[c.Key()] = struct{}{}
			back, err := CategoryFromKey(c.Key())
			require.NoError(t, err)
			assert.Equal(t, c, back)
		}
		assert.Len(t, keys, len(Categories()))
	})

	t.Run("ShouldRejectUnknownKey", func(t *testing.T) {
		_, err := CategoryFromKey("finance")
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrUnknownCategory))
		assert.True(t, errors.Is(err, ErrConfiguration))
	})

	t.Run("ShouldParseLabelOrKey", func(t *testing.T) {
		c, err := ParseCategory("Manuals")
		require.NoError(t, err)
		assert.Equal(t, CategoryManuals, c)
		c, err = ParseCategory("parts")
		require.NoError(t, err)
		assert.Equal(t, CategoryParts, c)
	})
}

func TestLabels(t *testing.T) {
	t.Run("ShouldApplyOverrides", func(t *testing.T) {
		labels, err := NewLabels(map[string]string{"manuals": "Manuais"})
		require.NoError(t, err)
		assert.Equal(t, "Manuais", labels.Label(CategoryManuals))
		c, err := labels.Parse("Manuais")
		require.NoError(t, err)
		assert.Equal(t, CategoryManuals, c)
		assert.Equal(t, []string{"Internal Information", "Parts / Materials", "Manuais", "Other"}, labels.List())
	})

	t.Run("ShouldRejectDuplicateLabels", func(t *testing.T) {
		_, err := NewLabels(map[string]string{"other": "Manuals"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrConfiguration))
	})

	t.Run("ShouldRejectUnknownOverrideKey", func(t *testing.T) {
		_, err := NewLabels(map[string]string{"hr": "HR"})
		assert.True(t, errors.Is(err, ErrUnknownCategory))
	})
}

func TestAnswerFormat(t *testing.T) {
	t.Run("ShouldAppendSourcesSection", func(t *testing.T) {
		a := Answer{Text: "Wear gloves.", Sources: []string{"safety.pdf"}}
		assert.Equal(t, "Wear gloves.\n\nSources consulted:\n- safety.pdf", a.Format())
	})

	t.Run("ShouldOmitSectionWithoutSources", func(t *testing.T) {
		a := Answer{Text: "nothing"}
		assert.Equal(t, "nothing", a.Format())
	})

	t.Run("ShouldDeduplicateSources", func(t *testing.T) {
		results := []SearchResult{
			{Chunk: Chunk{Source: "a.pdf"}},
			{Chunk: Chunk{Source: "b.pdf"}},
			{Chunk: Chunk{Source: "a.pdf"}},
		}
		assert.Equal(t, []string{"a.pdf", "b.pdf"}, DistinctSources(results))
	})
}

func TestErrors(t *testing.T) {
	t.Run("ShouldClassifyProviderErrors", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := NewProviderError("ollama", "generate", cause)
		assert.True(t, errors.Is(err, ErrProvider))
		assert.True(t, errors.Is(err, cause))
		assert.Same(t, err, NewProviderError("other", "embed", err))
		assert.NoError(t, NewProviderError("x", "y", nil))
	})

	t.Run("ShouldClassifyDocumentErrors", func(t *testing.T) {
		err := error(&DocumentError{Source: "bad.pdf", Err: errors.New("malformed")})
		assert.True(t, errors.Is(err, ErrDocumentRead))
		assert.Contains(t, err.Error(), "bad.pdf")
	})
}
