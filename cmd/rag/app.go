package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"rag/internal/chunker"
	"rag/internal/config"
	"rag/internal/domain"
	"rag/internal/embedding"
	"rag/internal/embedding/hashing"
	"rag/internal/generation"
	"rag/internal/generation/extractive"
	"rag/internal/index"
	"rag/internal/ingest"
	"rag/internal/llm/ollama"
	"rag/internal/llm/openai"
	"rag/internal/logger"
	"rag/internal/metrics"
	"rag/internal/resilience"
	"rag/internal/service"
	"rag/internal/vectorstore/qdrant"
)

// app holds the components built once per process and shared by every command.
type app struct {
	cfg       *config.AppConfig
	labels    domain.Labels
	metrics   *metrics.Metrics
	manager   *index.Manager
	assistant *service.Assistant

	// pingers are the raw providers, keyed by name, checked before serving.
	pingers     map[string]domain.Pinger
	embedPinger string
	genPinger   string
}

func newApp(cfg *config.AppConfig) (*app, error) {
	labels, err := cfg.Labels()
	if err != nil {
		return nil, err
	}
	if err := prepareDirs(cfg); err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, labels: labels, metrics: metrics.New(), pingers: make(map[string]domain.Pinger)}
	policy := resilience.Policy{
		Attempts: cfg.Retry.Attempts,
		Base:     config.Millis(cfg.Retry.BaseMS),
		Max:      config.Millis(cfg.Retry.MaxMS),
		Jitter:   true,
	}

	var ollamaProvider *ollama.Provider
	var openaiClient *openai.Client
	getOllama := func() (*ollama.Provider, error) {
		if ollamaProvider != nil {
			return ollamaProvider, nil
		}
		oc := cfg.Providers.Ollama
		p, err := ollama.New(ollama.Config{
			BaseURL:    oc.BaseURL,
			EmbedModel: oc.EmbedModel,
			ChatModel:  oc.Model,
			Timeout:    config.Seconds(oc.TimeoutSecs),
			BatchSize:  cfg.Embedder.BatchSize,
		})
		if err != nil {
			return nil, err
		}
		ollamaProvider = p
		a.pingers[ollama.ProviderName] = p
		return p, nil
	}
	getOpenAI := func() (*openai.Client, error) {
		if openaiClient != nil {
			return openaiClient, nil
		}
		oc := cfg.Providers.OpenAI
		c, err := openai.NewClient(openai.Config{
			BaseURL:    oc.BaseURL,
			APIKeyEnv:  oc.APIKeyEnv,
			EmbedModel: oc.EmbedModel,
			ChatModel:  oc.Model,
			Timeout:    config.Seconds(oc.TimeoutSecs),
		})
		if err != nil {
			return nil, err
		}
		openaiClient = c
		a.pingers[openai.ProviderName] = c
		return c, nil
	}

	var emb domain.Embedder
	switch cfg.Embedder.Type {
	case "hashing":
		emb = hashing.NewEmbedder(cfg.Embedder.HashingDimension)
	case "ollama":
		p, err := getOllama()
		if err != nil {
			return nil, err
		}
		emb, a.embedPinger = embedding.WithRetry(p, policy), ollama.ProviderName
	case "openai":
		c, err := getOpenAI()
		if err != nil {
			return nil, err
		}
		emb, a.embedPinger = embedding.WithRetry(c, policy), openai.ProviderName
	default:
		return nil, fmt.Errorf("%w: unknown embedder %q", domain.ErrConfiguration, cfg.Embedder.Type)
	}
	if cfg.Embedder.CacheSize > 0 {
		cached, err := embedding.WithCache(emb, cfg.Embedder.CacheSize)
		if err != nil {
			return nil, err
		}
		emb = cached
	}

	var gen domain.Generator
	switch cfg.Generator.Type {
	case "extractive":
		gen = extractive.New(cfg.Retrieval.RejectionPhrase, cfg.Generator.MaxSentences)
	case "ollama":
		p, err := getOllama()
		if err != nil {
			return nil, err
		}
		gen, a.genPinger = generation.WithRetry(p, policy), ollama.ProviderName
	case "openai":
		c, err := getOpenAI()
		if err != nil {
			return nil, err
		}
		gen, a.genPinger = generation.WithRetry(c, policy), openai.ProviderName
	default:
		return nil, fmt.Errorf("%w: unknown generator %q", domain.ErrConfiguration, cfg.Generator.Type)
	}

	ch, err := chunker.NewRecursiveChunker(cfg.Chunker.Size, cfg.Chunker.Overlap, cfg.Chunker.Separators)
	if err != nil {
		return nil, err
	}
	loader, err := ingest.NewLoader(cfg.Paths.DataDir, cfg.Ingest.Include)
	if err != nil {
		return nil, err
	}
	var stores index.StoreFactory
	switch cfg.VectorStore.Type {
	case "sqlite":
		stores = index.SQLiteStores(cfg.Paths.IndexDir)
	case "memory":
		stores = index.MemoryStores()
	case "qdrant":
		q := cfg.VectorStore.Qdrant
		stores = index.QdrantStores(qdrant.Config{
			URL:              q.URL,
			APIKey:           q.APIKey,
			CollectionPrefix: q.CollectionPrefix,
			Timeout:          config.Seconds(q.TimeoutSecs),
		})
	default:
		return nil, fmt.Errorf("%w: unknown vector store %q", domain.ErrConfiguration, cfg.VectorStore.Type)
	}

	a.manager, err = index.NewManager(index.Options{
		IndexDir:  cfg.Paths.IndexDir,
		Source:    loader,
		Chunker:   ch,
		Embedder:  emb,
		Stores:    stores,
		BatchSize: cfg.Embedder.BatchSize,
		Metrics:   a.metrics,
	})
	if err != nil {
		return nil, err
	}
	answerer, err := service.NewAnswerer(service.Options{
		Indexes:         a.manager,
		Embedder:        emb,
		Generator:       gen,
		Labels:          labels,
		TopK:            cfg.Retrieval.TopK,
		Temperature:     cfg.Temperature(),
		Timeout:         config.Seconds(cfg.Retrieval.TimeoutSecs),
		RejectionPhrase: cfg.Retrieval.RejectionPhrase,
		Metrics:         a.metrics,
	})
	if err != nil {
		return nil, err
	}
	a.assistant = service.NewAssistant(answerer, labels)
	logger.Debug("Components ready",
		"embedder", emb.Name(),
		"generator", gen.Name(),
		"vector_store", cfg.VectorStore.Type,
	)
	return a, nil
}

// prepareDirs creates the index directory and one document folder per category.
func prepareDirs(cfg *config.AppConfig) error {
	if err := os.MkdirAll(cfg.Paths.IndexDir, 0o755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	for _, c := range domain.Categories() {
		if err := os.MkdirAll(filepath.Join(cfg.Paths.DataDir, c.Key()), 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
	}
	return nil
}

// ping checks the providers a command depends on. Failures are configuration errors.
func (a *app) ping(ctx context.Context, generator bool) error {
	names := []string{a.embedPinger}
	if generator && a.genPinger != a.embedPinger {
		names = append(names, a.genPinger)
	}
	var errs []error
	for _, name := range names {
		p, ok := a.pingers[name]
		if name == "" || !ok {
			continue
		}
		if err := p.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%w: %w", domain.ErrConfiguration, err))
		}
	}
	return errors.Join(errs...)
}

// ensureAll builds or reopens every partition and logs the outcome per category.
func (a *app) ensureAll(ctx context.Context) []index.Report {
	reports := a.manager.EnsureAll(ctx)
	for _, r := range reports {
		label := a.labels.Label(r.Category)
		switch {
		case r.Err != nil:
			logger.Warn("Category not indexed", "category", label, "error", r.Err)
		case r.Stats.Built:
			logger.Info("Category indexed",
				"category", label,
				"documents", r.Stats.Documents,
				"skipped", r.Stats.Skipped,
				"chunks", r.Stats.Chunks,
				"duration", r.Stats.Duration,
			)
		default:
			logger.Info("Category index loaded", "category", label, "chunks", r.Stats.Chunks)
		}
	}
	return reports
}

func (a *app) Close() error { return a.manager.Close() }
