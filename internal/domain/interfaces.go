package domain

import "context"

// Page is one unit of extracted text inside a document.
// PDFs produce one page per PDF page; plain text files produce a single page.
type Page struct {
	Number int
	Text   string
}

// Document represents a single source file loaded for a category.
type Document struct {
	ID       string // file name, used as the citation source
	Path     string
	Category Category
	Pages    []Page
}

// Chunk is a bounded, overlapping segment of a document used for indexing.
type Chunk struct {
	ID       string
	Source   string
	Category Category
	Position int
	Page     int
	Text     string
}

// SearchResult represents a matching chunk with a relevance score.
type SearchResult struct {
	Chunk Chunk
	Score float64
}

// Chunker splits documents into chunks suitable for retrieval indexing.
type Chunker interface {
	Chunk(document Document) []Chunk
}

// Embedder converts free text into a numeric vector representation.
type Embedder interface {
	Name() string
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)
}

// Generator synthesizes text for a prompt.
type Generator interface {
	Name() string
	Generate(ctx context.Context, prompt string, temperature float64) (string, error)
}

// Pinger is implemented by providers that can check their backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}
