// Package ollama talks to a local Ollama server for both embeddings and
// text generation.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"

	"rag/internal/domain"
)

const ProviderName = "ollama"

// Config configures the Ollama provider.
type Config struct {
	BaseURL    string
	EmbedModel string
	ChatModel  string
	Timeout    time.Duration
	BatchSize  int
}

// DefaultConfig returns the local defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:    "http://localhost:11434",
		EmbedModel: "llama3:8b",
		ChatModel:  "llama3:8b",
		Timeout:    120 * time.Second,
		BatchSize:  32,
	}
}

// Provider implements domain.Embedder, domain.Generator and domain.Pinger.
type Provider struct {
	cfg      Config
	chat     llms.Model
	embedder embeddings.Embedder
	http     *resty.Client
}

// New builds a provider. It does not contact the server; use Ping for that.
func New(cfg Config) (*Provider, error) {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = def.ChatModel
	}
	if cfg.EmbedModel == "" {
		cfg.EmbedModel = cfg.ChatModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	httpClient := &http.Client{Timeout: cfg.Timeout}
	chat, err := ollama.New(
		ollama.WithModel(cfg.ChatModel),
		ollama.WithServerURL(cfg.BaseURL),
		ollama.WithHTTPClient(httpClient),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: ollama chat client: %v", domain.ErrConfiguration, err)
	}
	embedClient, err := ollama.New(
		ollama.WithModel(cfg.EmbedModel),
		ollama.WithServerURL(cfg.BaseURL),
		ollama.WithHTTPClient(httpClient),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: ollama embed client: %v", domain.ErrConfiguration, err)
	}
	emb, err := embeddings.NewEmbedder(embedClient,
		embeddings.WithBatchSize(cfg.BatchSize),
		embeddings.WithStripNewLines(false),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: ollama embedder: %v", domain.ErrConfiguration, err)
	}
	return &Provider{
		cfg:      cfg,
		chat:     chat,
		embedder: emb,
		http:     resty.New().SetBaseURL(cfg.BaseURL).SetTimeout(10 * time.Second),
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string { return ProviderName }

// Identity names the embedding model, so indexes built by another model are rebuilt.
func (p *Provider) Identity() string { return ProviderName + ":" + p.cfg.EmbedModel }

// Embed embeds a single text.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := p.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, domain.NewProviderError(ProviderName, "embed", err)
	}
	if len(v) == 0 {
		return nil, domain.NewProviderError(ProviderName, "embed", errors.New("empty embedding"))
	}
	return v, nil
}

// EmbedMany embeds texts in batches of the configured size.
func (p *Provider) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := p.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, domain.NewProviderError(ProviderName, "embed", err)
	}
	return vecs, nil
}

// Generate runs a single-prompt completion.
func (p *Provider) Generate(ctx context.Context, prompt string, temperature float64) (string, error) {
	out, err := llms.GenerateFromSinglePrompt(ctx, p.chat, prompt, llms.WithTemperature(temperature))
	if err != nil {
		return "", domain.NewProviderError(ProviderName, "generate", err)
	}
	return out, nil
}

// Ping checks that the server answers and that the chat and embedding models are installed.
func (p *Provider) Ping(ctx context.Context) error {
	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	resp, err := p.http.R().SetContext(ctx).SetResult(&tags).Get("/api/tags")
	if err != nil {
		return domain.NewProviderError(ProviderName, "ping", err)
	}
	if resp.IsError() {
		return domain.NewProviderError(ProviderName, "ping", fmt.Errorf("unexpected status %s", resp.Status()))
	}
	installed := make(map[string]struct{}, len(tags.Models))
	for _, m := range tags.Models {
		installed[m.Name] = struct{}{}
	}
	var missing []string
	for _, model := range slices.Compact([]string{p.cfg.ChatModel, p.cfg.EmbedModel}) {
		_, exact := installed[model]
		_, latest := installed[model+":latest"]
		if !exact && !latest {
			missing = append(missing, model)
		}
	}
	if len(missing) > 0 {
		return domain.NewProviderError(ProviderName, "ping",
			fmt.Errorf("models %s not available on %s", strings.Join(missing, ", "), p.cfg.BaseURL))
	}
	return nil
}
