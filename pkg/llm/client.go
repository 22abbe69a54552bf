package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

const defaultTimeout = 120 * time.Second

// Client is an OpenAI-compatible chat-completions client. Any backend that
// speaks the /v1/chat/completions shape works (including local runtimes).
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client (tests).
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) { c.http = h }
}

// NewClient creates a provider against an OpenAI-compatible endpoint.
func NewClient(baseURL, apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Complete implements CompletionProvider.
func (c *Client) Complete(ctx context.Context, req Request) (*Result, error) {
	messages := make([]chatMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	body, err := json.Marshal(chatRequest{
		Model:       req.Model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal completion request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build completion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, &Error{Kind: ErrKindNetwork, Err: fmt.Errorf("failed to read response: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp, raw)
	}

	var chat chatResponse
	if err := json.Unmarshal(raw, &chat); err != nil {
		return nil, &Error{Kind: ErrKindProvider, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	if chat.Error != nil {
		return nil, &Error{Kind: ErrKindProvider, Err: errors.New(chat.Error.Message)}
	}
	if len(chat.Choices) == 0 {
		return nil, &Error{Kind: ErrKindProvider, Err: errors.New("response has no choices")}
	}

	model := chat.Model
	if model == "" {
		model = req.Model
	}
	return &Result{
		Text:      chat.Choices[0].Message.Content,
		Model:     model,
		TokensIn:  chat.Usage.PromptTokens,
		TokensOut: chat.Usage.CompletionTokens,
	}, nil
}

func classifyTransport(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: ErrKindTimeout, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &Error{Kind: ErrKindTimeout, Err: err}
	}
	return &Error{Kind: ErrKindNetwork, Err: err}
}

func classifyStatus(resp *http.Response, body []byte) *Error {
	err := fmt.Errorf("status %d: %s", resp.StatusCode, truncate(body, 200))
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &Error{Kind: ErrKindRateLimited, RetryAfter: retryAfter(resp), Err: err}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &Error{Kind: ErrKindAuth, Err: err}
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout:
		return &Error{Kind: ErrKindTimeout, Err: err}
	default:
		return &Error{Kind: ErrKindProvider, Err: err}
	}
}

func retryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
