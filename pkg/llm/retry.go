package llm

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// RetryConfig controls backoff for transient provider failures.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// DefaultRetryConfig backs off 2s, 4s, 8s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2,
	}
}

// RetryingProvider wraps a CompletionProvider with classified-error backoff.
// Rate-limit hints from the backend take precedence over the computed delay.
type RetryingProvider struct {
	inner CompletionProvider
	cfg   RetryConfig
}

// WithRetry wraps provider with the given retry policy.
func WithRetry(provider CompletionProvider, cfg RetryConfig) *RetryingProvider {
	if cfg.MaxRetries <= 0 {
		cfg = DefaultRetryConfig()
	}
	return &RetryingProvider{inner: provider, cfg: cfg}
}

// Complete implements CompletionProvider.
func (r *RetryingProvider) Complete(ctx context.Context, req Request) (*Result, error) {
	backoff := r.cfg.InitialBackoff
	var lastErr error

	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := backoff
			var pe *Error
			if errors.As(lastErr, &pe) && pe.RetryAfter > 0 {
				delay = pe.RetryAfter
			}
			slog.Info("Retrying completion",
				"attempt", attempt, "delay", delay, "model", req.Model, "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, &Error{Kind: ErrKindTimeout, Err: ctx.Err()}
			case <-time.After(delay):
			}
			backoff = time.Duration(float64(backoff) * r.cfg.Multiplier)
			if backoff > r.cfg.MaxBackoff {
				backoff = r.cfg.MaxBackoff
			}
		}

		result, err := r.inner.Complete(ctx, req)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !IsRetryable(err) {
			return nil, err
		}
	}
	return nil, lastErr
}
