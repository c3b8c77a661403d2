package ollama

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag/internal/domain"
)

func newTagsServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestProviderPing(t *testing.T) {
	ctx := context.Background()

	t.Run("ShouldSucceedWhenModelIsInstalled", func(t *testing.T) {
		srv := newTagsServer(t, http.StatusOK, `{"models":[{"name":"llama3:8b"}]}`)
		p, err := New(Config{BaseURL: srv.URL, ChatModel: "llama3:8b"})
		require.NoError(t, err)
		assert.NoError(t, p.Ping(ctx))
	})

	t.Run("ShouldMatchLatestTag", func(t *testing.T) {
		srv := newTagsServer(t, http.StatusOK, `{"models":[{"name":"mistral:latest"}]}`)
		p, err := New(Config{BaseURL: srv.URL, ChatModel: "mistral"})
		require.NoError(t, err)
		assert.NoError(t, p.Ping(ctx))
	})

	t.Run("ShouldFailWhenModelIsMissing", func(t *testing.T) {
		srv := newTagsServer(t, http.StatusOK, `{"models":[{"name":"other"}]}`)
		p, err := New(Config{BaseURL: srv.URL, ChatModel: "llama3:8b"})
		require.NoError(t, err)
		err = p.Ping(ctx)
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrProvider))
	})

	t.Run("ShouldFailWhenEmbedModelIsMissing", func(t *testing.T) {
		srv := newTagsServer(t, http.StatusOK, `{"models":[{"name":"llama3:8b"}]}`)
		p, err := New(Config{BaseURL: srv.URL, ChatModel: "llama3:8b", EmbedModel: "nomic-embed-text"})
		require.NoError(t, err)
		err = p.Ping(ctx)
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrProvider))
		assert.Contains(t, err.Error(), "nomic-embed-text")
	})

	t.Run("ShouldSucceedWhenBothModelsAreInstalled", func(t *testing.T) {
		srv := newTagsServer(t, http.StatusOK, `{"models":[{"name":"llama3:8b"},{"name":"nomic-embed-text:latest"}]}`)
		p, err := New(Config{BaseURL: srv.URL, ChatModel: "llama3:8b", EmbedModel: "nomic-embed-text"})
		require.NoError(t, err)
		assert.NoError(t, p.Ping(ctx))
	})

	t.Run("ShouldFailOnServerError", func(t *testing.T) {
		srv := newTagsServer(t, http.StatusInternalServerError, `{}`)
		p, err := New(Config{BaseURL: srv.URL})
		require.NoError(t, err)
		assert.True(t, errors.Is(p.Ping(ctx), domain.ErrProvider))
	})
}

func TestNewDefaults(t *testing.T) {
	p, err := New(Config{})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:11434", p.cfg.BaseURL)
	assert.Equal(t, p.cfg.ChatModel, p.cfg.EmbedModel)
	assert.Equal(t, ProviderName, p.Name())
	assert.Equal(t, "ollama:llama3:8b", p.Identity())
}
