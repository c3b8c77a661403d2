package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag/internal/domain"
	"rag/internal/index"
	"rag/internal/metrics"
)

func init() { gin.SetMode(gin.TestMode) }

type stubAsker struct {
	labels domain.Labels
	asked  []domain.Category
	answer domain.Answer
}

func (s *stubAsker) Labels() domain.Labels { return s.labels }

func (s *stubAsker) AskCategory(_ context.Context, c domain.Category, _ string) domain.Answer {
	s.asked = append(s.asked, c)
	return s.answer
}

type stubRebuilder struct {
	err   error
	calls []domain.Category
}

func (s *stubRebuilder) Rebuild(_ context.Context, c domain.Category) (*index.Handle, error) {
	s.calls = append(s.calls, c)
	if s.err != nil {
		return nil, s.err
	}
	return &index.Handle{Category: c, Stats: index.Stats{Documents: 2, Chunks: 7, Built: true, Duration: 1500 * time.Millisecond}}, nil
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestServer(t *testing.T) {
	t.Run("ShouldListCategoriesWithKeys", func(t *testing.T) {
		s := NewServer(&stubAsker{}, nil, nil)
		w := do(t, s.Handler(), http.MethodGet, "/v1/categories", "")
		require.Equal(t, http.StatusOK, w.Code)
		var body struct {
			Categories []categoryView `json:"categories"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		require.Len(t, body.Categories, 4)
		assert.Equal(t, categoryView{Key: "parts", Label: "Parts / Materials"}, body.Categories[1])
	})

	t.Run("ShouldAnswerByLabel", func(t *testing.T) {
		asker := &stubAsker{answer: domain.Answer{
			Text:    "Nitrile gloves.",
			Sources: []string{"safety.txt"},
			Status:  domain.StatusOK,
		}}
		s := NewServer(asker, nil, nil)
		w := do(t, s.Handler(), http.MethodPost, "/v1/ask", `{"category":"Manuals","question":"Which gloves?"}`)
		require.Equal(t, http.StatusOK, w.Code)
		var resp AskResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "ok", resp.Status)
		assert.Equal(t, "Manuals", resp.Category)
		assert.Equal(t, []string{"safety.txt"}, resp.Sources)
		assert.Contains(t, resp.Text, domain.SourcesHeading)
		assert.Equal(t, []domain.Category{domain.CategoryManuals}, asker.asked)
	})

	t.Run("ShouldAcceptKeysAndReturnEmptySources", func(t *testing.T) {
		asker := &stubAsker{answer: domain.Answer{Text: "no", Status: domain.StatusRefused}}
		s := NewServer(asker, nil, nil)
		w := do(t, s.Handler(), http.MethodPost, "/v1/ask", `{"category":"internal","question":"Vacation?"}`)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"sources":[]`)
		assert.Equal(t, []domain.Category{domain.CategoryInternal}, asker.asked)
	})

	t.Run("ShouldRejectUnknownCategory", func(t *testing.T) {
		asker := &stubAsker{}
		s := NewServer(asker, nil, nil)
		w := do(t, s.Handler(), http.MethodPost, "/v1/ask", `{"category":"Recipes","question":"x"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "Parts / Materials")
		assert.Empty(t, asker.asked)
	})

	t.Run("ShouldRejectMalformedBody", func(t *testing.T) {
		s := NewServer(&stubAsker{}, nil, nil)
		w := do(t, s.Handler(), http.MethodPost, "/v1/ask", `{`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("ShouldRebuildPartition", func(t *testing.T) {
		rb := &stubRebuilder{}
		s := NewServer(&stubAsker{}, rb, nil)
		w := do(t, s.Handler(), http.MethodPost, "/v1/index/manuals/rebuild", "")
		require.Equal(t, http.StatusOK, w.Code)
		var resp rebuildResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, rebuildResponse{Category: "manuals", Documents: 2, Chunks: 7, DurationMS: 1500}, resp)
	})

	t.Run("ShouldMapRebuildErrors", func(t *testing.T) {
		rb := &stubRebuilder{err: fmt.Errorf("load: %w", domain.ErrNoDocuments)}
		s := NewServer(&stubAsker{}, rb, nil)
		w := do(t, s.Handler(), http.MethodPost, "/v1/index/parts/rebuild", "")
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

		w = do(t, s.Handler(), http.MethodPost, "/v1/index/recipes/rebuild", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, []domain.Category{domain.CategoryParts}, rb.calls)
	})

	t.Run("ShouldServeHealthAndMetrics", func(t *testing.T) {
		m := metrics.New()
		m.ObserveAnswer("manuals", "ok", time.Second)
		s := NewServer(&stubAsker{}, nil, m)
		assert.Equal(t, http.StatusOK, do(t, s.Handler(), http.MethodGet, "/healthz", "").Code)
		w := do(t, s.Handler(), http.MethodGet, "/metrics", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "manuals")
	})

	t.Run("ShouldNotRegisterOptionalRoutes", func(t *testing.T) {
		s := NewServer(&stubAsker{}, nil, nil)
		assert.Equal(t, http.StatusNotFound, do(t, s.Handler(), http.MethodGet, "/metrics", "").Code)
		assert.Equal(t, http.StatusNotFound, do(t, s.Handler(), http.MethodPost, "/v1/index/parts/rebuild", "").Code)
	})
}
