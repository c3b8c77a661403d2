// Package extractive answers from the prompt context without a language model.
// Context sentences are ranked by how many question terms they contain,
// weighted by term frequency across the context, and the best ones are
// returned in their original order.
package extractive

import (
	"context"
	"errors"
	"math"
	"regexp"
	"sort"
	"strings"

	"rag/internal/generation"
)

// DefaultMaxSentences caps the number of sentences in an answer.
const DefaultMaxSentences = 3

// Generator is an offline generator. It is deterministic and ignores the
// temperature.
type Generator struct {
	rejection       string
	maxSentences    int
	tokenPattern    *regexp.Regexp
	sentencePattern *regexp.Regexp
	stopwords       map[string]struct{}
}

// New creates an extractive generator that answers with rejection when no
// context sentence shares a term with the question.
func New(rejection string, maxSentences int) *Generator {
	if maxSentences <= 0 {
		maxSentences = DefaultMaxSentences
	}
	return &Generator{
		rejection:       rejection,
		maxSentences:    maxSentences,
		tokenPattern:    regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`),
		sentencePattern: regexp.MustCompile(`[^.!?\n]+(?:[.!?]+|\n|$)`),
		stopwords:       defaultStopwords(),
	}
}

// Name returns "extractive".
func (g *Generator) Name() string { return "extractive" }

// Generate parses the context and question out of prompt and returns the
// best matching sentences as a bullet list.
func (g *Generator) Generate(ctx context.Context, prompt string, _ float64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	contextText, question, ok := generation.ParsePrompt(prompt)
	if !ok {
		return "", errors.New("extractive: prompt has no context section")
	}
	qTerms := map[string]struct{}{}
	for _, tok := range g.tokens(question) {
		qTerms[tok] = struct{}{}
	}
	if len(qTerms) == 0 {
		return g.rejection, nil
	}

	sentences := g.sentences(contextText)
	freq := map[string]float64{}
	for _, sent := range sentences {
		for _, tok := range g.tokens(sent) {
			freq[tok]++
		}
	}
	maxF := 0.0
	for _, v := range freq {
		maxF = math.Max(maxF, v)
	}

	type pair struct {
		idx   int
		score float64
	}
	var scored []pair
	seen := map[string]struct{}{}
	for i, sent := range sentences {
		key := strings.ToLower(sent)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		toks := g.tokens(sent)
		score := 0.0
		for _, tok := range toks {
			if _, ok := qTerms[tok]; ok {
				// rarer context terms are more specific to the question
				score += 1 + (1 - freq[tok]/maxF)
			}
		}
		if score == 0 {
			continue
		}
		score /= math.Sqrt(float64(len(toks)))
		scored = append(scored, pair{i, score})
	}
	if len(scored) == 0 {
		return g.rejection, nil
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
	n := min(g.maxSentences, len(scored))
	selected := make([]int, n)
	for i := range n {
		selected[i] = scored[i].idx
	}
	sort.Ints(selected)

	var b strings.Builder
	for i, idx := range selected {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("- ")
		b.WriteString(sentences[idx])
	}
	return b.String(), nil
}

func (g *Generator) sentences(text string) []string {
	raw := g.sentencePattern.FindAllString(text, -1)
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		s = strings.Join(strings.Fields(s), " ")
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (g *Generator) tokens(text string) []string {
	raw := g.tokenPattern.FindAllString(strings.ToLower(text), -1)
	out := raw[:0]
	for _, t := range raw {
		if _, stop := g.stopwords[t]; stop {
			continue
		}
		out = append(out, t)
	}
	return out
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
		"what", "which", "who", "how", "when", "where", "why", "do", "does", "i", "we", "you", "my", "our", "must", "required", "need",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
