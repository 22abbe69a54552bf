// Package llm defines the completion provider abstraction and its
// OpenAI-compatible HTTP implementation. Callers depend on the interface;
// agents never know which backend serves them.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Request is one completion call.
type Request struct {
	Model       string
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Result is a completed call with token accounting.
type Result struct {
	Text      string
	Model     string
	TokensIn  int64
	TokensOut int64
}

// CompletionProvider is the single seam between the orchestrator and the
// model backend. Complete blocks until the call finishes or ctx is done;
// cancellation propagates to the backend through ctx.
type CompletionProvider interface {
	Complete(ctx context.Context, req Request) (*Result, error)
}

// ErrorKind classifies provider failures for the retry policy.
type ErrorKind string

const (
	ErrKindRateLimited ErrorKind = "rate_limited"
	ErrKindTimeout     ErrorKind = "timeout"
	ErrKindAuth        ErrorKind = "auth"
	ErrKindProvider    ErrorKind = "provider"
	ErrKindNetwork     ErrorKind = "network"
)

// Error is a classified provider failure. RetryAfter is nonzero only when
// the backend sent an explicit backoff hint.
type Error struct {
	Kind       ErrorKind
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("llm %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure is transient. Auth failures are
// permanent; retrying them only burns the rate budget.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case ErrKindRateLimited, ErrKindTimeout, ErrKindNetwork, ErrKindProvider:
		return true
	}
	return false
}

// KindOf extracts the error kind, defaulting to provider for unclassified
// errors.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ErrKindProvider
}

// IsRetryable reports whether err is a transient provider failure.
func IsRetryable(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	return false
}
