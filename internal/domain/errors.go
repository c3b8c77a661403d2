package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks startup-level misconfiguration.
	ErrConfiguration = errors.New("configuration error")
	// ErrUnknownCategory is returned for labels or keys outside the closed set.
	ErrUnknownCategory = fmt.Errorf("%w: unknown category", ErrConfiguration)

	// ErrIndexUnavailable means a category has no usable index right now.
	ErrIndexUnavailable = errors.New("index unavailable")
	// ErrNoDocuments is returned when a category folder is missing or empty.
	ErrNoDocuments = fmt.Errorf("%w: no documents found", ErrIndexUnavailable)

	// ErrDocumentRead marks a single unreadable source document.
	ErrDocumentRead = errors.New("document read error")

	// ErrProvider marks a failing embedding or generation backend.
	ErrProvider = errors.New("provider error")
)

// DocumentError reports a document skipped during ingestion.
type DocumentError struct {
	Source string
	Err    error
}

func (e *DocumentError) Error() string {
	return fmt.Sprintf("document %s: %v", e.Source, e.Err)
}

func (e *DocumentError) Unwrap() []error { return []error{ErrDocumentRead, e.Err} }

// ProviderError wraps a failure of an external model backend.
type ProviderError struct {
	Provider string
	Op       string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() []error { return []error{ErrProvider, e.Err} }

// NewProviderError wraps err unless it is already a ProviderError.
func NewProviderError(provider, op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return &ProviderError{Provider: provider, Op: op, Err: err}
}
