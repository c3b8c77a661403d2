package domain

import "strings"

// AnswerStatus classifies how an answer was produced.
type AnswerStatus string

const (
	StatusOK               AnswerStatus = "ok"
	StatusRefused          AnswerStatus = "refused"
	StatusNeedsInput       AnswerStatus = "needs_input"
	StatusIndexUnavailable AnswerStatus = "index_unavailable"
	StatusError            AnswerStatus = "error"
)

// SourcesHeading introduces the citation list appended to grounded answers.
const SourcesHeading = "Sources consulted:"

// Answer is the final response for one question.
type Answer struct {
	Text    string
	Sources []string
	Status  AnswerStatus
}

// Refused reports whether the answer is the rejection phrase.
func (a Answer) Refused() bool { return a.Status == StatusRefused }

// Format renders the answer text followed by the distinct sources, if any.
func (a Answer) Format() string {
	if len(a.Sources) == 0 {
		return a.Text
	}
	var b strings.Builder
	b.WriteString(a.Text)
	b.WriteString("\n\n")
	b.WriteString(SourcesHeading)
	for _, src := range a.Sources {
		b.WriteString("\n- ")
		b.WriteString(src)
	}
	return b.String()
}

// DistinctSources returns the source ids of results without duplicates, in first-seen order.
func DistinctSources(results []SearchResult) []string {
	seen := make(map[string]struct{}, len(results))
	var out []string
	for _, r := range results {
		src := r.Chunk.Source
		if src == "" {
			src = "unknown"
		}
		if _, ok := seen[src]; ok {
			continue
		}
		seen[src] = struct{}{}
		out = append(out, src)
	}
	return out
}
