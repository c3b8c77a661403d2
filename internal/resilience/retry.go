// Package resilience retries calls to model backends with exponential backoff.
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
)

const (
	defaultAttempts = 3
	defaultBase     = 200 * time.Millisecond
	defaultMax      = 5 * time.Second
)

// Policy configures retries. Zero values select defaults.
type Policy struct {
	Attempts int
	Base     time.Duration
	Max      time.Duration
	Jitter   bool
}

func (p Policy) backoff() retry.Backoff {
	base := p.Base
	if base <= 0 {
		base = defaultBase
	}
	maxDur := p.Max
	if maxDur <= 0 {
		maxDur = defaultMax
	}
	attempts := p.Attempts
	if attempts < 0 || attempts > 100 {
		attempts = defaultAttempts
	}
	b := retry.WithCappedDuration(maxDur, retry.NewExponential(base))
	if p.Jitter {
		b = retry.WithJitter(50*time.Millisecond, b)
	}
	return retry.WithMaxRetries(uint64(attempts), b) // #nosec G115 -- attempts bounded above
}

// Do runs fn until it succeeds, returns a permanent error, the retries are
// exhausted or ctx is done. Context errors are never retried.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return err
		}
		var perm *PermanentError
		if errors.As(err, &perm) {
			return perm.Err
		}
		return retry.RetryableError(err)
	})
}

// PermanentError stops retrying and surfaces Err.
type PermanentError struct{ Err error }

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}
