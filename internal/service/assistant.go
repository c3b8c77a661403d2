package service

import (
	"context"
	"fmt"
	"strings"

	"rag/internal/domain"
)

// Assistant is the query interface shared by the TUI, the CLI and the HTTP API.
type Assistant struct {
	answerer *Answerer
	labels   domain.Labels
}

// NewAssistant wraps an Answerer. Labels must be the same set the Answerer uses.
func NewAssistant(answerer *Answerer, labels domain.Labels) *Assistant {
	if labels == nil {
		labels = answerer.opts.Labels
	}
	return &Assistant{answerer: answerer, labels: labels}
}

// ListCategories returns the category labels in declaration order.
func (s *Assistant) ListCategories() []string { return s.labels.List() }

// Labels returns the label set.
func (s *Assistant) Labels() domain.Labels { return s.labels }

// Ask answers question for the category with the given label (or key) and
// returns the formatted text, sources included.
func (s *Assistant) Ask(ctx context.Context, label, question string) string {
	c, err := s.labels.Parse(label)
	if err != nil {
		return fmt.Sprintf("Unknown category %q. Choose one of: %s.", label, strings.Join(s.ListCategories(), ", "))
	}
	return s.AskCategory(ctx, c, question).Format()
}

// AskCategory answers question for c and returns the structured answer.
func (s *Assistant) AskCategory(ctx context.Context, c domain.Category, question string) domain.Answer {
	return s.answerer.Answer(ctx, c, question)
}
