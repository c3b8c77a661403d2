// Package generation turns retrieved passages and a question into an answer
// using a text generation backend.
package generation

import (
	"context"

	"rag/internal/domain"
	"rag/internal/resilience"
)

// Generator synthesizes text for a prompt.
type Generator = domain.Generator

// DefaultTemperature keeps answers close to the retrieved context.
const DefaultTemperature = 0.2

// Retrying wraps a generator and retries transient backend failures.
type Retrying struct {
	next   Generator
	policy resilience.Policy
}

// WithRetry decorates next with the given retry policy.
func WithRetry(next Generator, policy resilience.Policy) *Retrying {
	return &Retrying{next: next, policy: policy}
}

// Name returns the wrapped generator name.
func (r *Retrying) Name() string { return r.next.Name() }

// Generate calls the wrapped generator until it succeeds or retries run out.
func (r *Retrying) Generate(ctx context.Context, prompt string, temperature float64) (string, error) {
	var out string
	err := resilience.Do(ctx, r.policy, func(ctx context.Context) error {
		s, err := r.next.Generate(ctx, prompt, temperature)
		if err != nil {
			return err
		}
		out = s
		return nil
	})
	if err != nil {
		return "", domain.NewProviderError(r.next.Name(), "generate", err)
	}
	return out, nil
}

// Func adapts a function to the Generator interface.
type Func func(ctx context.Context, prompt string, temperature float64) (string, error)

// Name returns "func".
func (f Func) Name() string { return "func" }

// Generate calls f.
func (f Func) Generate(ctx context.Context, prompt string, temperature float64) (string, error) {
	return f(ctx, prompt, temperature)
}
