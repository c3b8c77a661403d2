// Package service answers questions against the document index of one
// category and exposes the query interface used by the TUI, the CLI and the
// HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"rag/internal/domain"
	"rag/internal/generation"
	"rag/internal/index"
	"rag/internal/logger"
	"rag/internal/metrics"
	"rag/internal/vectorstore"
)

// RejectionPhrase is returned verbatim when the documents do not contain the answer.
const RejectionPhrase = "I cannot find this information in the available documents."

// EmptyQuestionMessage is returned for blank questions.
const EmptyQuestionMessage = "Please enter a question."

const defaultTimeout = 2 * time.Minute

// Indexes opens the partition of a category.
type Indexes interface {
	Ensure(ctx context.Context, c domain.Category) (*index.Handle, error)
}

// Options configures an Answerer.
type Options struct {
	Indexes   Indexes
	Embedder  domain.Embedder
	Generator domain.Generator
	Labels    domain.Labels
	// TopK is the number of passages retrieved per question.
	TopK        int
	Temperature float64
	// Timeout bounds retrieval and generation of one question.
	Timeout         time.Duration
	RejectionPhrase string
	Metrics         *metrics.Metrics
}

// Answerer implements the retrieval-augmented answer flow. It only reads indexes.
type Answerer struct {
	opts Options
}

// NewAnswerer validates opts and fills defaults.
func NewAnswerer(opts Options) (*Answerer, error) {
	switch {
	case opts.Indexes == nil:
		return nil, fmt.Errorf("%w: index manager is required", domain.ErrConfiguration)
	case opts.Embedder == nil:
		return nil, fmt.Errorf("%w: embedder is required", domain.ErrConfiguration)
	case opts.Generator == nil:
		return nil, fmt.Errorf("%w: generator is required", domain.ErrConfiguration)
	}
	if opts.TopK <= 0 {
		opts.TopK = vectorstore.DefaultTopK
	}
	if opts.Temperature < 0 {
		opts.Temperature = generation.DefaultTemperature
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if strings.TrimSpace(opts.RejectionPhrase) == "" {
		opts.RejectionPhrase = RejectionPhrase
	}
	if opts.Labels == nil {
		labels, err := domain.NewLabels(nil)
		if err != nil {
			return nil, err
		}
		opts.Labels = labels
	}
	return &Answerer{opts: opts}, nil
}

// RejectionPhrase returns the configured rejection phrase.
func (a *Answerer) RejectionPhrase() string { return a.opts.RejectionPhrase }

// Answer never fails: every error is turned into answer text with a status.
func (a *Answerer) Answer(ctx context.Context, c domain.Category, question string) domain.Answer {
	start := time.Now()
	ans := a.answer(ctx, c, question)
	d := time.Since(start)
	a.opts.Metrics.ObserveAnswer(c.Key(), string(ans.Status), d)
	logger.FromContext(ctx).Info("Question answered",
		"category", c.Key(), "status", ans.Status, "sources", len(ans.Sources), "duration", d.Round(time.Millisecond))
	return ans
}

func (a *Answerer) answer(ctx context.Context, c domain.Category, question string) domain.Answer {
	log := logger.FromContext(ctx).With("category", c.Key())
	if strings.TrimSpace(question) == "" {
		return domain.Answer{Text: EmptyQuestionMessage, Status: domain.StatusNeedsInput}
	}
	label := a.opts.Labels.Label(c)

	// The timeout also bounds a lazy build on the first question of a category.
	ctx, cancel := context.WithTimeout(ctx, a.opts.Timeout)
	defer cancel()

	h, err := a.opts.Indexes.Ensure(ctx, c)
	if err != nil {
		log.Warn("Index unavailable", "error", err)
		return indexUnavailable(label, err)
	}

	vec, err := a.opts.Embedder.Embed(ctx, question)
	if err != nil {
		log.Error("Embedding the question failed", "error", err)
		return providerFailure(err)
	}
	results, err := h.Search(ctx, vec, a.opts.TopK)
	if err != nil {
		log.Error("Index search failed", "error", err)
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return providerFailure(err)
		}
		return indexUnavailable(label, err)
	}
	if len(results) == 0 {
		return a.refusal()
	}

	passages := make([]string, len(results))
	for i, r := range results {
		passages[i] = r.Chunk.Text
	}
	prompt, err := generation.BuildPrompt(generation.PromptData{
		Category:        label,
		Passages:        passages,
		Question:        question,
		RejectionPhrase: a.opts.RejectionPhrase,
	})
	if err != nil {
		return providerFailure(err)
	}
	out, err := a.opts.Generator.Generate(ctx, prompt, a.opts.Temperature)
	if err != nil {
		log.Error("Generation failed", "error", err)
		return providerFailure(err)
	}
	text := strings.TrimSpace(out)
	if a.isRejection(text) {
		return a.refusal()
	}
	return domain.Answer{Text: text, Sources: domain.DistinctSources(results), Status: domain.StatusOK}
}

// isRejection accepts the phrase with surrounding quotes, which models sometimes add.
func (a *Answerer) isRejection(text string) bool {
	if text == "" {
		return true
	}
	return strings.Trim(text, "\"'` ") == a.opts.RejectionPhrase
}

func (a *Answerer) refusal() domain.Answer {
	return domain.Answer{Text: a.opts.RejectionPhrase, Status: domain.StatusRefused}
}

func indexUnavailable(label string, err error) domain.Answer {
	return domain.Answer{
		Text:   fmt.Sprintf("Could not prepare the search engine for category %q: %v", label, err),
		Status: domain.StatusIndexUnavailable,
	}
}

func providerFailure(err error) domain.Answer {
	return domain.Answer{
		Text:   fmt.Sprintf("An error occurred while querying the model: %v", err),
		Status: domain.StatusError,
	}
}
