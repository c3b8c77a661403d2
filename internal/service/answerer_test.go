package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag/internal/chunker"
	"rag/internal/domain"
	"rag/internal/embedding/hashing"
	"rag/internal/generation"
	"rag/internal/generation/extractive"
	"rag/internal/index"
	"rag/internal/ingest"
	"rag/internal/vectorstore/memory"
)

type stubGenerator struct {
	reply   string
	err     error
	calls   atomic.Int32
	prompts []string
}

func (g *stubGenerator) Name() string { return "stub" }

func (g *stubGenerator) Generate(_ context.Context, prompt string, _ float64) (string, error) {
	g.calls.Add(1)
	g.prompts = append(g.prompts, prompt)
	return g.reply, g.err
}

type countingEmbedder struct {
	*hashing.Embedder
	calls atomic.Int32
}

func (e *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	return e.Embedder.Embed(ctx, text)
}

type stubIndexes struct {
	handle *index.Handle
	err    error
	calls  atomic.Int32
}

func (s *stubIndexes) Ensure(context.Context, domain.Category) (*index.Handle, error) {
	s.calls.Add(1)
	return s.handle, s.err
}

// blockingIndexes waits for the request context, like a build that never finishes.
type blockingIndexes struct{}

func (blockingIndexes) Ensure(ctx context.Context, _ domain.Category) (*index.Handle, error) {
	<-ctx.Done()
	return nil, fmt.Errorf("%w: %w", domain.ErrIndexUnavailable, ctx.Err())
}

const safetyText = "Safety rules for the workshop.\n\n" +
	"Wear nitrile gloves when handling chemicals. Safety goggles are mandatory near the lathe.\n\n" +
	"Report every spill to the supervisor."

// newManager indexes a data folder holding safety.pdf's extracted text under Manuals.
func newManager(t *testing.T, emb domain.Embedder) *index.Manager {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "data", domain.CategoryManuals.Key())
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "safety.txt"), []byte(safetyText), 0o600))
	loader, err := ingest.NewLoader(filepath.Join(root, "data"), nil)
	require.NoError(t, err)
	ch, err := chunker.NewRecursiveChunker(chunker.DefaultSize, chunker.DefaultOverlap, nil)
	require.NoError(t, err)
	m, err := index.NewManager(index.Options{
		IndexDir: filepath.Join(root, "db"),
		Source:   loader,
		Chunker:  ch,
		Embedder: emb,
		Stores:   index.MemoryStores(),
	})
	require.NoError(t, err)
	return m
}

func newAnswerer(t *testing.T, idx Indexes, emb domain.Embedder, gen domain.Generator) *Answerer {
	t.Helper()
	a, err := NewAnswerer(Options{Indexes: idx, Embedder: emb, Generator: gen, Temperature: generation.DefaultTemperature})
	require.NoError(t, err)
	return a
}

func TestAnswerer(t *testing.T) {
	ctx := context.Background()

	t.Run("ShouldAskForInputWithoutCallingProviders", func(t *testing.T) {
		emb := &countingEmbedder{Embedder: hashing.NewEmbedder(64)}
		gen := &stubGenerator{reply: "unused"}
		idx := &stubIndexes{err: errors.New("unused")}
		a := newAnswerer(t, idx, emb, gen)
		for _, q := range []string{"", "   ", "\n\t"} {
			ans := a.Answer(ctx, domain.CategoryManuals, q)
			assert.Equal(t, EmptyQuestionMessage, ans.Format())
			assert.Equal(t, domain.StatusNeedsInput, ans.Status)
		}
		assert.Zero(t, emb.calls.Load())
		assert.Zero(t, gen.calls.Load())
		assert.Zero(t, idx.calls.Load())
	})

	t.Run("ShouldGroundAnswerAndCiteSource", func(t *testing.T) {
		emb := hashing.NewEmbedder(128)
		gen := &stubGenerator{reply: "  Wear nitrile gloves when handling chemicals.\n"}
		a := newAnswerer(t, newManager(t, emb), emb, gen)

		ans := a.Answer(ctx, domain.CategoryManuals, "Which gloves should I wear?")
		assert.Equal(t, domain.StatusOK, ans.Status)
		assert.Equal(t, "Wear nitrile gloves when handling chemicals.\n\nSources consulted:\n- safety.txt", ans.Format())

		require.Len(t, gen.prompts, 1)
		assert.Contains(t, gen.prompts[0], "Wear nitrile gloves when handling chemicals.")
		assert.Contains(t, gen.prompts[0], "Question: Which gloves should I wear?")
		assert.Contains(t, gen.prompts[0], RejectionPhrase)
		assert.Contains(t, gen.prompts[0], `"Manuals"`)
	})

	t.Run("ShouldRefuseWithExactPhraseAndNoSources", func(t *testing.T) {
		emb := hashing.NewEmbedder(128)
		gen := &stubGenerator{reply: RejectionPhrase}
		a := newAnswerer(t, newManager(t, emb), emb, gen)

		ans := a.Answer(ctx, domain.CategoryManuals, "What is the vacation policy?")
		assert.True(t, ans.Refused())
		assert.Equal(t, RejectionPhrase, ans.Format())
		assert.Empty(t, ans.Sources)
		assert.NotContains(t, ans.Format(), "Sources consulted")
	})

	t.Run("ShouldTreatQuotedRejectionAsRefusal", func(t *testing.T) {
		emb := hashing.NewEmbedder(128)
		gen := &stubGenerator{reply: fmt.Sprintf("%q", RejectionPhrase)}
		a := newAnswerer(t, newManager(t, emb), emb, gen)
		ans := a.Answer(ctx, domain.CategoryManuals, "What is the vacation policy?")
		assert.Equal(t, RejectionPhrase, ans.Format())
	})

	t.Run("ShouldAnswerEndToEndWithExtractiveGenerator", func(t *testing.T) {
		emb := hashing.NewEmbedder(128)
		a := newAnswerer(t, newManager(t, emb), emb, extractive.New(RejectionPhrase, 2))

		ok := a.Answer(ctx, domain.CategoryManuals, "Which gloves for chemicals?")
		assert.Equal(t, domain.StatusOK, ok.Status)
		assert.Contains(t, ok.Text, "Wear nitrile gloves when handling chemicals.")
		assert.Equal(t, []string{"safety.txt"}, ok.Sources)

		refused := a.Answer(ctx, domain.CategoryManuals, "What is the vacation policy?")
		assert.Equal(t, RejectionPhrase, refused.Format())
	})

	t.Run("ShouldReportMissingDocumentsWithoutGenerating", func(t *testing.T) {
		emb := hashing.NewEmbedder(64)
		gen := &stubGenerator{reply: "unused"}
		a := newAnswerer(t, newManager(t, emb), emb, gen)

		ans := a.Answer(ctx, domain.CategoryOther, "Anything?")
		assert.Equal(t, domain.StatusIndexUnavailable, ans.Status)
		assert.True(t, strings.HasPrefix(ans.Text, `Could not prepare the search engine for category "Other": `), ans.Text)
		assert.Zero(t, gen.calls.Load())
	})

	t.Run("ShouldRefuseOnEmptyRetrievalWithoutGenerating", func(t *testing.T) {
		store := memory.NewStorage()
		require.NoError(t, store.Init(ctx, 64))
		idx := &stubIndexes{handle: &index.Handle{Category: domain.CategoryParts, Store: store}}
		gen := &stubGenerator{reply: "made up"}
		a := newAnswerer(t, idx, hashing.NewEmbedder(64), gen)

		ans := a.Answer(ctx, domain.CategoryParts, "Where are the bolts?")
		assert.True(t, ans.Refused())
		assert.Equal(t, RejectionPhrase, ans.Text)
		assert.Zero(t, gen.calls.Load())
	})

	t.Run("ShouldReportGenerationFailures", func(t *testing.T) {
		emb := hashing.NewEmbedder(64)
		gen := &stubGenerator{err: domain.NewProviderError("stub", "generate", errors.New("connection refused"))}
		a := newAnswerer(t, newManager(t, emb), emb, gen)

		ans := a.Answer(ctx, domain.CategoryManuals, "Which gloves?")
		assert.Equal(t, domain.StatusError, ans.Status)
		assert.Equal(t, "An error occurred while querying the model: stub generate: connection refused", ans.Text)
		assert.Empty(t, ans.Sources)
	})
}

func TestNewAnswererValidation(t *testing.T) {
	_, err := NewAnswerer(Options{})
	assert.True(t, errors.Is(err, domain.ErrConfiguration))

	a, err := NewAnswerer(Options{Indexes: &stubIndexes{}, Embedder: hashing.NewEmbedder(8), Generator: &stubGenerator{}, Temperature: -1})
	require.NoError(t, err)
	assert.Equal(t, RejectionPhrase, a.RejectionPhrase())
	assert.Equal(t, generation.DefaultTemperature, a.opts.Temperature)
	assert.Equal(t, 5, a.opts.TopK)
}

func TestAnswererTimeout(t *testing.T) {
	ctx := context.Background()

	t.Run("ShouldBoundLazyBuildByRequestTimeout", func(t *testing.T) {
		gen := &stubGenerator{reply: "unused"}
		a, err := NewAnswerer(Options{
			Indexes:   blockingIndexes{},
			Embedder:  hashing.NewEmbedder(64),
			Generator: gen,
			Timeout:   50 * time.Millisecond,
		})
		require.NoError(t, err)

		start := time.Now()
		ans := a.Answer(ctx, domain.CategoryManuals, "Which gloves?")
		assert.Less(t, time.Since(start), 5*time.Second)
		assert.Equal(t, domain.StatusIndexUnavailable, ans.Status)
		assert.Contains(t, ans.Text, context.DeadlineExceeded.Error())
		assert.Zero(t, gen.calls.Load())
	})
}
