package generation

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// PromptData is the input of the answer prompt.
type PromptData struct {
	Category        string
	Passages        []string
	Question        string
	RejectionPhrase string
}

const (
	contextOpen   = "Context:\n<<<\n"
	contextClose  = "\n>>>\n"
	questionLabel = "\nQuestion: "
	answerLabel   = "\n\nAnswer:"
)

var promptTemplate = template.Must(template.New("answer").Parse(
	`You are a technical assistant answering questions about the "{{.Category}}" document collection.

Rules:
1. Answer ONLY with information found in the context below. Never use outside knowledge.
2. If the answer is not clearly present in the context, reply exactly with: "{{.RejectionPhrase}}"
3. Keep a professional and objective tone.
4. Structure the answer with short paragraphs, and use bullet points for steps or lists.

` + contextOpen + `{{range $i, $p := .Passages}}{{if $i}}

{{end}}{{$p}}{{end}}` + contextClose + questionLabel + `{{.Question}}` + answerLabel + "\n"))

// BuildPrompt renders the answer prompt. Passages are separated by blank lines
// and the question is inserted verbatim.
func BuildPrompt(d PromptData) (string, error) {
	var buf bytes.Buffer
	if err := promptTemplate.Execute(&buf, d); err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return buf.String(), nil
}

// ParsePrompt extracts the context block and the question from a prompt
// produced by BuildPrompt. ok is false for any other text.
func ParsePrompt(prompt string) (context, question string, ok bool) {
	start := strings.Index(prompt, contextOpen)
	if start < 0 {
		return "", "", false
	}
	rest := prompt[start+len(contextOpen):]
	end := strings.LastIndex(rest, contextClose+questionLabel)
	if end < 0 {
		return "", "", false
	}
	context = rest[:end]
	tail := rest[end+len(contextClose)+len(questionLabel):]
	qEnd := strings.LastIndex(tail, answerLabel)
	if qEnd < 0 {
		return "", "", false
	}
	return context, tail[:qEnd], true
}
