package embedding

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"rag/internal/domain"
	"rag/internal/resilience"
)

// Embedder converts free text into a numeric vector representation.
type Embedder = domain.Embedder

// Identifier is implemented by embedders whose vectors depend on more than
// their provider name, such as the model or the dimension.
type Identifier interface {
	Identity() string
}

// Dimensioner is implemented by embedders that know their vector size up front.
type Dimensioner interface {
	Dimension() int
}

// Identity returns the identity recorded with an index built by e.
func Identity(e Embedder) string {
	if id, ok := e.(Identifier); ok {
		return id.Identity()
	}
	return e.Name()
}

// Dimension returns the vector size of e, or 0 when it is only known after embedding.
func Dimension(e Embedder) int {
	if d, ok := e.(Dimensioner); ok {
		return d.Dimension()
	}
	return 0
}

// Retrying wraps an embedder and retries transient backend failures.
type Retrying struct {
	next   Embedder
	policy resilience.Policy
}

// WithRetry decorates next with the given retry policy.
func WithRetry(next Embedder, policy resilience.Policy) *Retrying {
	return &Retrying{next: next, policy: policy}
}

// Name returns the wrapped embedder name.
func (r *Retrying) Name() string { return r.next.Name() }

func (r *Retrying) Identity() string { return Identity(r.next) }

func (r *Retrying) Dimension() int { return Dimension(r.next) }

// Embed embeds one text, retrying on failure.
func (r *Retrying) Embed(ctx context.Context, text string) ([]float32, error) {
	var out []float32
	err := resilience.Do(ctx, r.policy, func(ctx context.Context) error {
		v, err := r.next.Embed(ctx, text)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		return nil, domain.NewProviderError(r.next.Name(), "embed", err)
	}
	return out, nil
}

// EmbedMany embeds a batch, retrying the whole batch on failure.
func (r *Retrying) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := resilience.Do(ctx, r.policy, func(ctx context.Context) error {
		v, err := r.next.EmbedMany(ctx, texts)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		return nil, domain.NewProviderError(r.next.Name(), "embed", err)
	}
	return out, nil
}

// Cached keeps recent single-text embeddings in an LRU cache. Questions are
// often repeated across categories, so only Embed is cached.
type Cached struct {
	next  Embedder
	cache *lru.Cache[string, []float32]
}

// WithCache decorates next with an LRU cache of the given size.
func WithCache(next Embedder, size int) (*Cached, error) {
	if size <= 0 {
		return nil, fmt.Errorf("embedding cache size must be greater than zero")
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("init embedding cache: %w", err)
	}
	return &Cached{next: next, cache: cache}, nil
}

// Name returns the wrapped embedder name.
func (c *Cached) Name() string { return c.next.Name() }

func (c *Cached) Identity() string { return Identity(c.next) }

func (c *Cached) Dimension() int { return Dimension(c.next) }

// Embed returns a cached vector when present.
func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		return clone(v), nil
	}
	v, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(text, clone(v))
	return v, nil
}

// EmbedMany passes through to the wrapped embedder.
func (c *Cached) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	return c.next.EmbedMany(ctx, texts)
}

// EmbedBatched splits texts into batches of at most size and embeds them in order.
func EmbedBatched(ctx context.Context, e Embedder, texts []string, size int) ([][]float32, error) {
	if size <= 0 {
		size = len(texts)
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += size {
		end := min(start+size, len(texts))
		vecs, err := e.EmbedMany(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		if len(vecs) != end-start {
			return nil, domain.NewProviderError(e.Name(), "embed",
				fmt.Errorf("expected %d vectors, got %d", end-start, len(vecs)))
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func clone(v []float32) []float32 {
	return append([]float32(nil), v...)
}
