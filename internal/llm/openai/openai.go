// Package openai talks to OpenAI-compatible endpoints (OpenAI, vLLM, LM Studio,
// Ollama's /v1 API) for embeddings and chat completions.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"rag/internal/domain"
)

const ProviderName = "openai"

// Config configures the OpenAI-compatible client.
type Config struct {
	BaseURL    string
	APIKeyEnv  string
	EmbedModel string
	ChatModel  string
	Timeout    time.Duration
}

// Client implements domain.Embedder, domain.Generator and domain.Pinger.
type Client struct {
	client     *openai.Client
	embedModel string
	chatModel  string
}

// NewClient creates a client using the API key found in cfg.APIKeyEnv.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKeyEnv == "" {
		cfg.APIKeyEnv = "OPENAI_API_KEY"
	}
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("%w: missing API key in env %s", domain.ErrConfiguration, cfg.APIKeyEnv)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.EmbedModel == "" {
		cfg.EmbedModel = string(openai.SmallEmbedding3)
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = openai.GPT4oMini
	}
	t := cfg.Timeout
	if t == 0 {
		t = 60 * time.Second
	}
	oc := openai.DefaultConfig(key)
	oc.BaseURL = cfg.BaseURL
	oc.HTTPClient = &http.Client{Timeout: t}
	return &Client{
		client:     openai.NewClientWithConfig(oc),
		embedModel: cfg.EmbedModel,
		chatModel:  cfg.ChatModel,
	}, nil
}

// Name returns the identifier of this provider.
func (c *Client) Name() string { return ProviderName }

// Identity names the embedding model, so indexes built by another model are rebuilt.
func (c *Client) Identity() string { return ProviderName + ":" + c.embedModel }

// Embed returns an embedding vector for the given text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedMany(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedMany returns one embedding per input, in input order.
func (c *Client) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(c.embedModel),
	})
	if err != nil {
		return nil, domain.NewProviderError(ProviderName, "embed", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, domain.NewProviderError(ProviderName, "embed",
			fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data)))
	}
	data := resp.Data
	sort.SliceStable(data, func(i, j int) bool { return data[i].Index < data[j].Index })
	out := make([][]float32, len(data))
	for i := range data {
		if len(data[i].Embedding) == 0 {
			return nil, domain.NewProviderError(ProviderName, "embed", errors.New("empty embedding"))
		}
		out[i] = data[i].Embedding
	}
	return out, nil
}

// Generate sends the prompt as a single user message.
func (c *Client) Generate(ctx context.Context, prompt string, temperature float64) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.chatModel,
		Temperature: float32(temperature),
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", domain.NewProviderError(ProviderName, "generate", err)
	}
	if len(resp.Choices) == 0 {
		return "", domain.NewProviderError(ProviderName, "generate", errors.New("no choices returned"))
	}
	return resp.Choices[0].Message.Content, nil
}

// Ping lists models to verify the endpoint and credentials.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.client.ListModels(ctx); err != nil {
		return domain.NewProviderError(ProviderName, "ping", err)
	}
	return nil
}
