package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompleteParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"model": "gpt-main",
			"choices": [{"message": {"role": "assistant", "content": "done"}}],
			"usage": {"prompt_tokens": 120, "completion_tokens": 30}
		}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk-test")
	res, err := c.Complete(context.Background(), Request{Model: "gpt-main", Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "done", res.Text)
	assert.Equal(t, int64(120), res.TokensIn)
	assert.Equal(t, int64(30), res.TokensOut)
}

func TestCompleteClassifiesStatus(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		headers    map[string]string
		wantKind   ErrorKind
		retryable  bool
		retryAfter time.Duration
	}{
		{"rate limited", http.StatusTooManyRequests, map[string]string{"Retry-After": "7"}, ErrKindRateLimited, true, 7 * time.Second},
		{"auth", http.StatusUnauthorized, nil, ErrKindAuth, false, 0},
		{"gateway timeout", http.StatusGatewayTimeout, nil, ErrKindTimeout, true, 0},
		{"server error", http.StatusInternalServerError, nil, ErrKindProvider, true, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tc.headers {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, "").Complete(context.Background(), Request{Model: "m", Prompt: "p"})
			require.Error(t, err)
			var pe *Error
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tc.wantKind, pe.Kind)
			assert.Equal(t, tc.retryable, pe.Retryable())
			assert.Equal(t, tc.retryAfter, pe.RetryAfter)
		})
	}
}

type scriptedProvider struct {
	results []error
	calls   int
}

func (p *scriptedProvider) Complete(ctx context.Context, req Request) (*Result, error) {
	err := p.results[p.calls]
	p.calls++
	if err != nil {
		return nil, err
	}
	return &Result{Text: "ok", Model: req.Model}, nil
}

func TestRetryRecoversFromTransientFailure(t *testing.T) {
	p := &scriptedProvider{results: []error{
		&Error{Kind: ErrKindNetwork, Err: assert.AnError},
		nil,
	}}
	r := WithRetry(p, RetryConfig{MaxRetries: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Multiplier: 1})

	res, err := r.Complete(context.Background(), Request{Model: "m", Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Text)
	assert.Equal(t, 2, p.calls)
}

func TestRetryStopsOnAuthFailure(t *testing.T) {
	p := &scriptedProvider{results: []error{
		&Error{Kind: ErrKindAuth, Err: assert.AnError},
		nil,
	}}
	r := WithRetry(p, RetryConfig{MaxRetries: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Multiplier: 1})

	_, err := r.Complete(context.Background(), Request{Model: "m", Prompt: "p"})
	require.Error(t, err)
	assert.Equal(t, ErrKindAuth, KindOf(err))
	assert.Equal(t, 1, p.calls)
}

func TestPricingTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pricing.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
models:
  gpt-main:
    in_cents_per_million: 250
    out_cents_per_million: 1000
`), 0o644))

	table, err := LoadPricing(path)
	require.NoError(t, err)

	// 1M in at 250 + 0.5M out at 1000 = 250 + 500.
	assert.Equal(t, int64(750), table.Cost("gpt-main", 1_000_000, 500_000))
	// Rounds up instead of billing tiny calls at zero.
	assert.Equal(t, int64(2), table.Cost("gpt-main", 100, 100))
	// Unknown models bill at zero.
	assert.Zero(t, table.Cost("mystery", 1_000_000, 1_000_000))

	empty, err := LoadPricing("")
	require.NoError(t, err)
	assert.Zero(t, empty.Cost("gpt-main", 1_000_000, 0))
}
