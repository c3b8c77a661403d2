// Package qdrant stores a category index in a Qdrant collection over the REST API.
package qdrant

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"rag/internal/domain"
	"rag/internal/vectorstore"
)

// markerID is the point written by MarkPersisted. It is excluded from search and count.
var markerID = uuid.NewSHA1(uuid.NameSpaceURL, []byte("rag:persisted")).String()

var excludeMarker = map[string]any{
	"must_not": []any{map[string]any{"key": "marker", "match": map[string]any{"value": true}}},
}

// Config configures the Qdrant client.
type Config struct {
	URL              string
	APIKey           string
	CollectionPrefix string
	Timeout          time.Duration
}

// Storage is a vectorstore.Storage backed by one Qdrant collection per category.
// The collection uses cosine distance.
type Storage struct {
	client     *resty.Client
	collection string

	mu        sync.Mutex
	dimension int
	nextSeq   int64
	loaded    bool
	// embedder is written into the completion marker.
	embedder string
}

type apiError struct {
	Status struct {
		Error string `json:"error"`
	} `json:"status"`
}

type point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

type scoredPoint struct {
	ID      any            `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

// NewStorage creates a store for category. It does not contact the server.
func NewStorage(cfg Config, category domain.Category) *Storage {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	prefix := cfg.CollectionPrefix
	if prefix == "" {
		prefix = "rag"
	}
	c := resty.New().
		SetBaseURL(cfg.URL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetError(&apiError{})
	if cfg.APIKey != "" {
		c.SetHeader("api-key", cfg.APIKey)
	}
	return &Storage{client: c, collection: prefix + "_" + category.Key()}
}

// Collection returns the collection name.
func (s *Storage) Collection() string { return s.collection }

// Open loads the dimension of an existing collection, if any.
func (s *Storage) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

func (s *Storage) load(ctx context.Context) error {
	if s.loaded {
		return nil
	}
	var info struct {
		Result struct {
			Config struct {
				Params struct {
					Vectors struct {
						Size int `json:"size"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	resp, err := s.client.R().SetContext(ctx).SetResult(&info).Get("/collections/" + s.collection)
	if err != nil {
		return fmt.Errorf("qdrant: get collection: %w", err)
	}
	switch {
	case resp.StatusCode() == http.StatusNotFound:
		s.dimension = 0
		s.nextSeq = 0
	case resp.IsError():
		return s.fail("get collection", resp)
	default:
		s.dimension = info.Result.Config.Params.Vectors.Size
		n, err := s.count(ctx)
		if err != nil {
			return err
		}
		s.nextSeq = int64(n)
	}
	s.loaded = true
	return nil
}

func (s *Storage) Init(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.drop(ctx); err != nil {
		return err
	}
	body := map[string]any{"vectors": map[string]any{"size": dimension, "distance": "Cosine"}}
	resp, err := s.client.R().SetContext(ctx).SetBody(body).Put("/collections/" + s.collection)
	if err != nil {
		return fmt.Errorf("qdrant: create collection: %w", err)
	}
	if resp.IsError() {
		return s.fail("create collection", resp)
	}
	s.dimension = dimension
	s.nextSeq = 0
	s.loaded = true
	return nil
}

func (s *Storage) Upsert(ctx context.Context, chunks []domain.Chunk, vectors [][]float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(ctx); err != nil {
		return err
	}
	if s.dimension == 0 {
		return vectorstore.ErrNotInitialized
	}
	if err := vectorstore.CheckBatch(chunks, vectors, s.dimension); err != nil {
		return err
	}
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = pointID(c.ID)
	}
	existing, err := s.existingSeqs(ctx, ids)
	if err != nil {
		return err
	}
	points := make([]point, len(chunks))
	for i, c := range chunks {
		seq, ok := existing[ids[i]]
		if !ok {
			seq = s.nextSeq
			s.nextSeq++
			existing[ids[i]] = seq
		}
		points[i] = point{ID: ids[i], Vector: vectors[i], Payload: map[string]any{
			"chunk_id": c.ID,
			"source":   c.Source,
			"category": c.Category.Key(),
			"position": c.Position,
			"page":     c.Page,
			"text":     c.Text,
			"seq":      seq,
		}}
	}
	resp, err := s.client.R().SetContext(ctx).
		SetQueryParam("wait", "true").
		SetBody(map[string]any{"points": points}).
		Put("/collections/" + s.collection + "/points")
	if err != nil {
		return fmt.Errorf("qdrant: upsert: %w", err)
	}
	if resp.IsError() {
		return s.fail("upsert", resp)
	}
	return nil
}

func (s *Storage) existingSeqs(ctx context.Context, ids []string) (map[string]int64, error) {
	var out struct {
		Result []scoredPoint `json:"result"`
	}
	resp, err := s.client.R().SetContext(ctx).
		SetBody(map[string]any{"ids": ids, "with_payload": []string{"seq"}}).
		SetResult(&out).
		Post("/collections/" + s.collection + "/points")
	if err != nil {
		return nil, fmt.Errorf("qdrant: retrieve points: %w", err)
	}
	if resp.IsError() {
		return nil, s.fail("retrieve points", resp)
	}
	seqs := make(map[string]int64, len(out.Result))
	for _, p := range out.Result {
		if id, ok := p.ID.(string); ok {
			seqs[id] = int64(number(p.Payload["seq"]))
		}
	}
	return seqs, nil
}

func (s *Storage) Search(ctx context.Context, vector []float32, k int) ([]domain.SearchResult, error) {
	if k <= 0 {
		k = vectorstore.DefaultTopK
	}
	s.mu.Lock()
	if err := s.load(ctx); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	dim := s.dimension
	s.mu.Unlock()
	if dim == 0 {
		return nil, nil
	}
	if len(vector) != dim {
		return nil, fmt.Errorf("%w: query has %d, index has %d", vectorstore.ErrDimensionMismatch, len(vector), dim)
	}
	var out struct {
		Result []scoredPoint `json:"result"`
	}
	resp, err := s.client.R().SetContext(ctx).
		SetBody(map[string]any{"vector": vector, "limit": k, "with_payload": true, "filter": excludeMarker}).
		SetResult(&out).
		Post("/collections/" + s.collection + "/points/search")
	if err != nil {
		return nil, fmt.Errorf("qdrant: search: %w", err)
	}
	if resp.IsError() {
		return nil, s.fail("search", resp)
	}
	type ranked struct {
		domain.SearchResult
		seq float64
	}
	hits := make([]ranked, 0, len(out.Result))
	for _, r := range out.Result {
		c, err := chunkFromPayload(r.Payload)
		if err != nil {
			return nil, err
		}
		hits = append(hits, ranked{SearchResult: domain.SearchResult{Chunk: c, Score: r.Score}, seq: number(r.Payload["seq"])})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].seq < hits[j].seq
	})
	results := make([]domain.SearchResult, len(hits))
	for i := range hits {
		results[i] = hits[i].SearchResult
	}
	return results, nil
}

func (s *Storage) Count(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(ctx); err != nil {
		return 0, err
	}
	if s.dimension == 0 {
		return 0, nil
	}
	return s.count(ctx)
}

func (s *Storage) count(ctx context.Context) (int, error) {
	var out struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	resp, err := s.client.R().SetContext(ctx).
		SetBody(map[string]any{"exact": true, "filter": excludeMarker}).
		SetResult(&out).
		Post("/collections/" + s.collection + "/points/count")
	if err != nil {
		return 0, fmt.Errorf("qdrant: count: %w", err)
	}
	if resp.IsError() {
		return 0, s.fail("count", resp)
	}
	return out.Result.Count, nil
}

// Persisted reports whether the completion marker point exists.
func (s *Storage) Persisted(ctx context.Context) (bool, error) {
	resp, err := s.client.R().SetContext(ctx).Get("/collections/" + s.collection + "/points/" + markerID)
	if err != nil {
		return false, fmt.Errorf("qdrant: get marker: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return false, nil
	}
	if resp.IsError() {
		return false, s.fail("get marker", resp)
	}
	return true, nil
}

// MarkPersisted writes the completion marker point.
func (s *Storage) MarkPersisted(ctx context.Context) error {
	s.mu.Lock()
	dim := s.dimension
	s.mu.Unlock()
	if dim == 0 {
		return vectorstore.ErrNotInitialized
	}
	v := make([]float32, dim)
	for i := range v {
		v[i] = float32(1 / math.Sqrt(float64(dim)))
	}
	s.mu.Lock()
	embedder := s.embedder
	s.mu.Unlock()
	m := point{ID: markerID, Vector: v, Payload: map[string]any{
		"marker":       true,
		"embedder":     embedder,
		"persisted_at": time.Now().UTC().Format(time.RFC3339),
	}}
	resp, err := s.client.R().SetContext(ctx).
		SetQueryParam("wait", "true").
		SetBody(map[string]any{"points": []point{m}}).
		Put("/collections/" + s.collection + "/points")
	if err != nil {
		return fmt.Errorf("qdrant: mark persisted: %w", err)
	}
	if resp.IsError() {
		return s.fail("mark persisted", resp)
	}
	return nil
}

// Dimension returns the vector size of the collection, or 0 when it does not exist.
func (s *Storage) Dimension() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dimension
}

// SetEmbedder records the embedder identity; it is stored with the completion marker.
func (s *Storage) SetEmbedder(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.embedder = name
	return nil
}

// Embedder returns the identity stored with the completion marker, or "" when there is none.
func (s *Storage) Embedder(ctx context.Context) (string, error) {
	var out struct {
		Result struct {
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	resp, err := s.client.R().SetContext(ctx).SetResult(&out).
		Get("/collections/" + s.collection + "/points/" + markerID)
	if err != nil {
		return "", fmt.Errorf("qdrant: get marker: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return "", nil
	}
	if resp.IsError() {
		return "", s.fail("get marker", resp)
	}
	name, _ := out.Result.Payload["embedder"].(string)
	return name, nil
}

// Clear drops the collection.
func (s *Storage) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.drop(ctx); err != nil {
		return err
	}
	s.dimension = 0
	s.nextSeq = 0
	s.loaded = true
	return nil
}

func (s *Storage) Close() error { return nil }

func (s *Storage) drop(ctx context.Context) error {
	resp, err := s.client.R().SetContext(ctx).Delete("/collections/" + s.collection)
	if err != nil {
		return fmt.Errorf("qdrant: delete collection: %w", err)
	}
	if resp.IsError() && resp.StatusCode() != http.StatusNotFound {
		return s.fail("delete collection", resp)
	}
	return nil
}

func (s *Storage) fail(op string, resp *resty.Response) error {
	msg := resp.Status()
	if e, ok := resp.Error().(*apiError); ok && e.Status.Error != "" {
		msg = e.Status.Error
	}
	return fmt.Errorf("qdrant %s on %s failed: %s", op, s.collection, msg)
}

func pointID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(chunkID)).String()
}

func chunkFromPayload(p map[string]any) (domain.Chunk, error) {
	c := domain.Chunk{}
	c.ID, _ = p["chunk_id"].(string)
	c.Source, _ = p["source"].(string)
	c.Text, _ = p["text"].(string)
	c.Position = int(number(p["position"]))
	c.Page = int(number(p["page"]))
	key, _ := p["category"].(string)
	cat, err := domain.CategoryFromKey(key)
	if err != nil {
		return domain.Chunk{}, fmt.Errorf("qdrant: point %s: %w", c.ID, err)
	}
	c.Category = cat
	return c, nil
}

func number(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}
