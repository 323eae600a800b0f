// Package anthropic implements the model capability over the Anthropic
// Messages API. The orchestration core only sees core.ModelClient; nothing
// outside this package knows the wire format.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/opspilot/opspilot/internal/core"
)

const (
	defaultBaseURL   = "https://api.anthropic.com"
	apiVersion       = "2023-06-01"
	defaultMaxTokens = 4096
	maxRetries       = 2
)

// Client calls the Anthropic Messages API with streaming enabled.
type Client struct {
	APIKey  string
	Model   string
	BaseURL string
	HTTP    *http.Client
}

// NewClient creates a client with the given API key and model id.
func NewClient(apiKey, model string) *Client {
	return &Client{
		APIKey:  apiKey,
		Model:   model,
		BaseURL: defaultBaseURL,
		HTTP:    &http.Client{}, // per-call deadlines come from ctx
	}
}

type request struct {
	Model     string    `json:"model"`
	Messages  []message `json:"messages"`
	MaxTokens int       `json:"max_tokens"`
	Stream    bool      `json:"stream"`
	System    string    `json:"system,omitempty"`
	Tools     []tool    `json:"tools,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []contentBlock
}

type contentBlock struct {
	Type      string         `json:"type"` // "text", "tool_use", "tool_result"
	Text      string         `json:"text,omitempty"`
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Content   string         `json:"content,omitempty"`
	IsError   bool           `json:"is_error,omitempty"`
}

type tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// buildRequest converts conversation turns to the Anthropic shape: system
// turns move to the top-level system field, tool results become user messages
// with tool_result blocks, and assistant tool-call turns become tool_use
// blocks.
func (c *Client) buildRequest(msgs []core.Message, descriptors []core.ToolDescriptor) request {
	var system string
	out := make([]message, 0, len(msgs))

	for _, m := range msgs {
		switch {
		case m.Role == "system":
			if system != "" {
				system += "\n\n"
			}
			system += m.Content

		case m.Role == "tool":
			out = append(out, message{
				Role: "user",
				Content: []contentBlock{{
					Type:      "tool_result",
					ToolUseID: m.ToolCallID,
					Content:   m.Content,
					IsError:   !m.OK,
				}},
			})

		case m.Role == "assistant" && len(m.ToolCalls) > 0:
			blocks := []contentBlock{}
			if m.Content != "" {
				blocks = append(blocks, contentBlock{Type: "text", Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				input := map[string]any{}
				if len(tc.Arguments) > 0 {
					_ = json.Unmarshal(tc.Arguments, &input)
				}
				blocks = append(blocks, contentBlock{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: input})
			}
			out = append(out, message{Role: "assistant", Content: blocks})

		default:
			out = append(out, message{Role: m.Role, Content: m.Content})
		}
	}

	req := request{
		Model:     c.Model,
		Messages:  out,
		MaxTokens: defaultMaxTokens,
		Stream:    true,
		System:    system,
	}
	for _, d := range descriptors {
		req.Tools = append(req.Tools, tool{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: d.Parameters,
		})
	}
	return req
}

// Stream implements core.ModelClient. The returned channel is closed after a
// "done" or "error" chunk.
func (c *Client) Stream(ctx context.Context, msgs []core.Message, descriptors []core.ToolDescriptor) (<-chan core.ModelChunk, error) {
	if c.APIKey == "" {
		return nil, fmt.Errorf("anthropic: API key not set")
	}

	body, err := json.Marshal(c.buildRequest(msgs, descriptors))
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	resp, err := c.post(ctx, body)
	if err != nil {
		return nil, err
	}

	out := make(chan core.ModelChunk, 64)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		if err := parseSSE(resp.Body, out); err != nil {
			out <- core.ModelChunk{Type: "error", Err: err}
		}
	}()
	return out, nil
}

// post sends the request, retrying rate limits and server errors with a short
// backoff before the stream starts.
func (c *Client) post(ctx context.Context, body []byte) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt*2) * time.Second):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/messages", bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("anthropic: create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-api-key", c.APIKey)
		req.Header.Set("anthropic-version", apiVersion)

		resp, err := c.HTTP.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("anthropic: request: %w", err)
			continue
		}
		if resp.StatusCode == http.StatusOK {
			return resp, nil
		}

		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
		lastErr = apiErrorFrom(resp.StatusCode, raw)
		if !retryable(resp.StatusCode) {
			return nil, lastErr
		}
	}
	return nil, lastErr
}

func retryable(status int) bool {
	switch status {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func apiErrorFrom(status int, body []byte) error {
	var e apiError
	if err := json.Unmarshal(body, &e); err == nil && e.Error.Message != "" {
		return fmt.Errorf("anthropic: HTTP %d: %s", status, e.Error.Message)
	}
	return fmt.Errorf("anthropic: HTTP %d: %s", status, string(body))
}
