package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag/internal/domain"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Run("ShouldReturnDefaultsWhenFileIsMissing", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		require.NoError(t, err)
		assert.Equal(t, "data", cfg.Paths.DataDir)
		assert.Equal(t, "db", cfg.Paths.IndexDir)
		assert.Equal(t, 1000, cfg.Chunker.Size)
		assert.Equal(t, 200, cfg.Chunker.Overlap)
		assert.Equal(t, []string{"\n\n", "\n", ".", "!", "?", ","}, cfg.Chunker.Separators)
		assert.Equal(t, "llama3:8b", cfg.Providers.Ollama.Model)
		assert.Equal(t, 5, cfg.Retrieval.TopK)
		assert.InDelta(t, 0.2, cfg.Temperature(), 1e-9)
		assert.Equal(t, "sqlite", cfg.VectorStore.Type)
		assert.NoError(t, cfg.Validate())
	})

	t.Run("ShouldOverlayFileOnDefaults", func(t *testing.T) {
		path := writeConfig(t, `
paths:
  data_dir: /srv/docs
categories:
  manuals: Manuais
embedder:
  type: hashing
generator:
  type: extractive
retrieval:
  temperature: 0
`)
		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "/srv/docs", cfg.Paths.DataDir)
		assert.Equal(t, "db", cfg.Paths.IndexDir)
		assert.Equal(t, "hashing", cfg.Embedder.Type)
		assert.Equal(t, 32, cfg.Embedder.BatchSize)
		assert.Zero(t, cfg.Temperature())
		assert.Equal(t, "llama3:8b", cfg.Providers.Ollama.EmbedModel)
		labels, err := cfg.Labels()
		require.NoError(t, err)
		assert.Equal(t, "Manuais", labels.Label(domain.CategoryManuals))
	})

	t.Run("ShouldRejectInvalidSettings", func(t *testing.T) {
		for name, content := range map[string]string{
			"unknown embedder":  "embedder:\n  type: word2vec\n",
			"overlap too large": "chunker:\n  size: 100\n  overlap: 100\n",
			"unknown category":  "categories:\n  recipes: Recipes\n",
			"duplicate label":   "categories:\n  manuals: Other\n",
			"bad temperature":   "retrieval:\n  temperature: 3\n",
			"malformed yaml":    "embedder: [",
		} {
			t.Run(name, func(t *testing.T) {
				_, err := Load(writeConfig(t, content))
				require.Error(t, err)
				assert.True(t, errors.Is(err, domain.ErrConfiguration), err.Error())
			})
		}
	})
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Default()
	cfg.Generator.Type = "extractive"
	require.NoError(t, Save(path, cfg))
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
