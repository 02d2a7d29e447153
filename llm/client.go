// Package llm provides a minimal chat-completion client for
// OpenAI-compatible providers. The runtime calls it from worker
// goroutines; the client is safe for concurrent use.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/murphys7017/mk2/core"
)

// Config configures a provider endpoint. APIKey may be a literal or an
// `<ENV_VAR>` placeholder resolved at construction.
type Config struct {
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	TimeoutSec  int     `yaml:"timeout_sec"`
	MaxRetries  int     `yaml:"max_retries"`
}

// DefaultConfig returns the standard endpoint settings.
func DefaultConfig() Config {
	return Config{
		BaseURL:     "https://api.openai.com/v1",
		Model:       "gpt-4o-mini",
		Temperature: 0.7,
		MaxTokens:   512,
		TimeoutSec:  30,
		MaxRetries:  2,
	}
}

// Request is one generation call.
type Request struct {
	SystemPrompt string
	Prompt       string
	MaxTokens    int
	Temperature  float64
}

// Response is the provider's answer.
type Response struct {
	Content      string
	Model        string
	InputTokens  int
	OutputTokens int
}

// Client talks to one OpenAI-compatible endpoint.
type Client struct {
	cfg    Config
	apiKey string
	http   *http.Client
	logger core.Logger
}

// NewClient resolves secrets and builds the client. An `<ENV_VAR>`
// placeholder naming an unset variable is a hard error: failing fast at
// startup beats failing on the first user message.
func NewClient(cfg Config, logger core.Logger) (*Client, error) {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.TimeoutSec <= 0 {
		cfg.TimeoutSec = def.TimeoutSec
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = def.MaxRetries
	}

	apiKey, err := resolveSecret(cfg.APIKey)
	if err != nil {
		return nil, err
	}

	return &Client{
		cfg:    cfg,
		apiKey: apiKey,
		http:   &http.Client{Timeout: time.Duration(cfg.TimeoutSec) * time.Second},
		logger: logger,
	}, nil
}

// resolveSecret expands an `<ENV_VAR>` placeholder. Literals pass
// through untouched.
func resolveSecret(value string) (string, error) {
	if !strings.HasPrefix(value, "<") || !strings.HasSuffix(value, ">") {
		return value, nil
	}
	name := strings.TrimSuffix(strings.TrimPrefix(value, "<"), ">")
	resolved, ok := os.LookupEnv(name)
	if !ok || resolved == "" {
		return "", fmt.Errorf("llm: secret env %s is not set", name)
	}
	return resolved, nil
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.cfg.Model }

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// retryableError marks responses worth retrying (rate limits, upstream
// hiccups).
type retryableError struct{ error }

// Generate performs one chat completion with bounded retries.
func (c *Client) Generate(ctx context.Context, req Request) (*Response, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.cfg.MaxTokens
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.cfg.Temperature
	}

	body := chatRequest{
		Model:       c.cfg.Model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}
	if req.SystemPrompt != "" {
		body.Messages = append(body.Messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	body.Messages = append(body.Messages, chatMessage{Role: "user", Content: req.Prompt})

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("llm: encode request: %w", err)
	}

	var resp *Response
	operation := func() error {
		var opErr error
		resp, opErr = c.doRequest(ctx, payload)
		if opErr == nil {
			return nil
		}
		if _, retryable := opErr.(retryableError); retryable {
			return opErr
		}
		return backoff.Permanent(opErr)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.cfg.MaxRetries)),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) doRequest(ctx context.Context, payload []byte) (*Response, error) {
	url := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, retryableError{fmt.Errorf("llm: request failed: %w", err)}
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return nil, retryableError{fmt.Errorf("llm: read response: %w", err)}
	}

	if httpResp.StatusCode == http.StatusTooManyRequests || httpResp.StatusCode >= 500 {
		return nil, retryableError{fmt.Errorf("llm: status %d: %s", httpResp.StatusCode, truncate(string(raw), 200))}
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("llm: status %d: %s", httpResp.StatusCode, truncate(string(raw), 200))
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("llm: decode response: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("llm: provider error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("llm: empty choices")
	}

	c.logger.Debug("LLM completion finished", map[string]interface{}{
		"model":       c.cfg.Model,
		"duration_ms": time.Since(start).Milliseconds(),
		"out_tokens":  parsed.Usage.CompletionTokens,
	})

	return &Response{
		Content:      parsed.Choices[0].Message.Content,
		Model:        parsed.Model,
		InputTokens:  parsed.Usage.PromptTokens,
		OutputTokens: parsed.Usage.CompletionTokens,
	}, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
