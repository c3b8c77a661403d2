package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"rag/internal/domain"
)

// PathsConfig locates the document folders and the index partitions.
type PathsConfig struct {
	DataDir  string `yaml:"data_dir"`
	IndexDir string `yaml:"index_dir"`
}

// IngestConfig selects the files loaded from each category folder.
type IngestConfig struct {
	Include []string `yaml:"include"`
}

// ChunkerConfig configures how documents are split into chunks.
type ChunkerConfig struct {
	Size       int      `yaml:"size"`
	Overlap    int      `yaml:"overlap"`
	Separators []string `yaml:"separators"`
}

// OllamaConfig holds connection details for a local Ollama server.
type OllamaConfig struct {
	BaseURL     string `yaml:"base_url"`
	Model       string `yaml:"model"`
	EmbedModel  string `yaml:"embed_model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// OpenAIConfig holds configuration for an OpenAI-compatible endpoint.
type OpenAIConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	EmbedModel  string `yaml:"embed_model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// ProvidersConfig configures the model backends shared by the embedder and the generator.
type ProvidersConfig struct {
	Ollama OllamaConfig `yaml:"ollama"`
	OpenAI OpenAIConfig `yaml:"openai"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type             string `yaml:"type"`
	BatchSize        int    `yaml:"batch_size"`
	CacheSize        int    `yaml:"cache_size"`
	HashingDimension int    `yaml:"hashing_dimension"`
}

// GeneratorConfig selects and configures the answer generator.
type GeneratorConfig struct {
	Type         string `yaml:"type"`
	MaxSentences int    `yaml:"max_sentences"`
}

// VectorStoreConfig selects and configures the vector store implementation.
type VectorStoreConfig struct {
	Type   string       `yaml:"type"`
	Qdrant QdrantConfig `yaml:"qdrant"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	URL              string `yaml:"url"`
	APIKey           string `yaml:"api_key"`
	CollectionPrefix string `yaml:"collection_prefix"`
	TimeoutSecs      int    `yaml:"timeout_secs"`
}

// RetrievalConfig tunes the answer flow.
type RetrievalConfig struct {
	TopK            int      `yaml:"top_k"`
	Temperature     *float64 `yaml:"temperature"`
	TimeoutSecs     int      `yaml:"timeout_secs"`
	RejectionPhrase string   `yaml:"rejection_phrase"`
}

// RetryConfig controls retries of provider calls.
type RetryConfig struct {
	Attempts int `yaml:"attempts"`
	BaseMS   int `yaml:"base_ms"`
	MaxMS    int `yaml:"max_ms"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Paths PathsConfig `yaml:"paths"`
	// Categories overrides display labels by category key.
	Categories  map[string]string `yaml:"categories,omitempty"`
	Ingest      IngestConfig      `yaml:"ingest"`
	Chunker     ChunkerConfig     `yaml:"chunker"`
	Providers   ProvidersConfig   `yaml:"providers"`
	Embedder    EmbedderConfig    `yaml:"embedder"`
	Generator   GeneratorConfig   `yaml:"generator"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Retry       RetryConfig       `yaml:"retry"`
	Logging     LoggingConfig     `yaml:"logging"`
	Server      ServerConfig      `yaml:"server"`
}

const (
	defaultTemperature     = 0.2
	defaultRejectionPhrase = "I cannot find this information in the available documents."
)

var (
	embedderTypes    = []string{"ollama", "openai", "hashing"}
	generatorTypes   = []string{"ollama", "openai", "extractive"}
	vectorStoreTypes = []string{"sqlite", "memory", "qdrant"}
)

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultConfig(), nil
		}
		return nil, err
	}
	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", domain.ErrConfiguration, path, err)
	}
	applyConfigDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/rag/config.yaml.
// If neither exists, it writes defaults to ~/.config/rag/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Default returns the built-in configuration.
func Default() *AppConfig { return defaultConfig() }

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "rag", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	temp := defaultTemperature
	cfg := &AppConfig{
		Paths:   PathsConfig{DataDir: "data", IndexDir: "db"},
		Ingest:  IngestConfig{Include: []string{"*.pdf", "*.txt", "*.md"}},
		Chunker: ChunkerConfig{Size: 1000, Overlap: 200, Separators: []string{"\n\n", "\n", ".", "!", "?", ","}},
		Providers: ProvidersConfig{
			Ollama: OllamaConfig{BaseURL: "http://localhost:11434", Model: "llama3:8b", EmbedModel: "llama3:8b", TimeoutSecs: 120},
			OpenAI: OpenAIConfig{
				BaseURL:     "https://api.openai.com/v1",
				APIKeyEnv:   "OPENAI_API_KEY",
				Model:       "gpt-4o-mini",
				EmbedModel:  "text-embedding-3-small",
				TimeoutSecs: 60,
			},
		},
		Embedder:    EmbedderConfig{Type: "ollama", BatchSize: 32, CacheSize: 256, HashingDimension: 512},
		Generator:   GeneratorConfig{Type: "ollama", MaxSentences: 3},
		VectorStore: VectorStoreConfig{Type: "sqlite", Qdrant: QdrantConfig{URL: "http://localhost:6333", CollectionPrefix: "rag", TimeoutSecs: 15}},
		Retrieval:   RetrievalConfig{TopK: 5, Temperature: &temp, TimeoutSecs: 120, RejectionPhrase: defaultRejectionPhrase},
		Retry:       RetryConfig{Attempts: 3, BaseMS: 200, MaxMS: 5000},
		Logging:     LoggingConfig{Level: "info"},
		Server:      ServerConfig{Addr: ":8080"},
	}
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	def := defaultConfig()
	if cfg.Paths.DataDir == "" {
		cfg.Paths.DataDir = def.Paths.DataDir
	}
	if cfg.Paths.IndexDir == "" {
		cfg.Paths.IndexDir = def.Paths.IndexDir
	}
	if len(cfg.Ingest.Include) == 0 {
		cfg.Ingest.Include = def.Ingest.Include
	}
	if cfg.Chunker.Size == 0 {
		cfg.Chunker.Size = def.Chunker.Size
	}
	if len(cfg.Chunker.Separators) == 0 {
		cfg.Chunker.Separators = def.Chunker.Separators
	}
	if cfg.Providers.Ollama.EmbedModel == "" {
		cfg.Providers.Ollama.EmbedModel = cfg.Providers.Ollama.Model
	}
	if cfg.Embedder.BatchSize == 0 {
		cfg.Embedder.BatchSize = def.Embedder.BatchSize
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = def.Retrieval.TopK
	}
	if cfg.Retrieval.Temperature == nil {
		cfg.Retrieval.Temperature = def.Retrieval.Temperature
	}
	if cfg.Retrieval.TimeoutSecs == 0 {
		cfg.Retrieval.TimeoutSecs = def.Retrieval.TimeoutSecs
	}
	if cfg.Retrieval.RejectionPhrase == "" {
		cfg.Retrieval.RejectionPhrase = def.Retrieval.RejectionPhrase
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
}

// Validate checks the configuration and returns errors wrapping domain.ErrConfiguration.
func (c *AppConfig) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{domain.ErrConfiguration}, args...)...))
	}
	if !slices.Contains(embedderTypes, c.Embedder.Type) {
		add("embedder.type %q must be one of %v", c.Embedder.Type, embedderTypes)
	}
	if !slices.Contains(generatorTypes, c.Generator.Type) {
		add("generator.type %q must be one of %v", c.Generator.Type, generatorTypes)
	}
	if !slices.Contains(vectorStoreTypes, c.VectorStore.Type) {
		add("vector_store.type %q must be one of %v", c.VectorStore.Type, vectorStoreTypes)
	}
	if c.Chunker.Size <= 0 || c.Chunker.Overlap < 0 || c.Chunker.Overlap >= c.Chunker.Size {
		add("chunker needs size > 0 and 0 <= overlap < size, got size %d overlap %d", c.Chunker.Size, c.Chunker.Overlap)
	}
	if c.Retrieval.TopK < 0 {
		add("retrieval.top_k must be positive")
	}
	if t := c.Retrieval.Temperature; t != nil && (*t < 0 || *t > 2) {
		add("retrieval.temperature must be within [0, 2]")
	}
	if c.Embedder.CacheSize < 0 || c.Embedder.BatchSize < 0 {
		add("embedder.cache_size and embedder.batch_size cannot be negative")
	}
	if c.VectorStore.Type == "qdrant" && c.VectorStore.Qdrant.URL == "" {
		add("vector_store.qdrant.url is required")
	}
	if _, err := domain.NewLabels(c.Categories); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Labels returns the category labels with the configured overrides.
func (c *AppConfig) Labels() (domain.Labels, error) {
	return domain.NewLabels(c.Categories)
}

// Temperature returns the generation temperature.
func (c *AppConfig) Temperature() float64 {
	if c.Retrieval.Temperature == nil {
		return defaultTemperature
	}
	return *c.Retrieval.Temperature
}

// Seconds converts a *_secs field to a duration.
func Seconds(n int) time.Duration { return time.Duration(n) * time.Second }

// Millis converts a *_ms field to a duration.
func Millis(n int) time.Duration { return time.Duration(n) * time.Millisecond }
