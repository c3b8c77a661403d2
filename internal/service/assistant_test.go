package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag/internal/domain"
	"rag/internal/embedding/hashing"
)

func TestAssistant(t *testing.T) {
	ctx := context.Background()
	emb := hashing.NewEmbedder(128)
	gen := &stubGenerator{reply: "Report every spill to the supervisor."}
	labels, err := domain.NewLabels(map[string]string{"manuals": "Manuais"})
	require.NoError(t, err)
	a, err := NewAnswerer(Options{Indexes: newManager(t, emb), Embedder: emb, Generator: gen, Labels: labels})
	require.NoError(t, err)
	s := NewAssistant(a, nil)

	t.Run("ShouldListLabelsInDeclarationOrder", func(t *testing.T) {
		assert.Equal(t, []string{"Internal Information", "Parts / Materials", "Manuais", "Other"}, s.ListCategories())
	})

	t.Run("ShouldAnswerByLabelOrKey", func(t *testing.T) {
		want := "Report every spill to the supervisor.\n\nSources consulted:\n- safety.txt"
		assert.Equal(t, want, s.Ask(ctx, "Manuais", "What about spills?"))
		assert.Equal(t, want, s.Ask(ctx, "manuals", "What about spills?"))
	})

	t.Run("ShouldRejectUnknownLabel", func(t *testing.T) {
		out := s.Ask(ctx, "Recipes", "What about spills?")
		assert.Contains(t, out, `Unknown category "Recipes"`)
		assert.Contains(t, out, "Manuais")
	})

	t.Run("ShouldUseCustomLabelInIndexErrors", func(t *testing.T) {
		ans := s.AskCategory(ctx, domain.CategoryOther, "Anything?")
		assert.Equal(t, domain.StatusIndexUnavailable, ans.Status)
	})
}
