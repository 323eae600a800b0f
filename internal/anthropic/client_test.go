package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/opspilot/opspilot/internal/core"
)

func TestBuildRequestMapping(t *testing.T) {
	c := NewClient("key", "claude-test")
	msgs := []core.Message{
		{Role: "system", Content: "be an SRE"},
		core.UserTurn("is prod ok?"),
		core.ToolCallTurn("checking", []core.ToolCall{
			{ID: "c1", Name: "lookup", Arguments: json.RawMessage(`{"key":"x"}`)},
		}),
		core.ResultTurn(core.ToolResult{ID: "c1", Name: "lookup", OK: false, Content: "lookup failed: boom"}),
	}
	descriptors := []core.ToolDescriptor{
		{Name: "lookup", Description: "Look things up.", Parameters: map[string]any{"type": "object"}},
	}

	req := c.buildRequest(msgs, descriptors)

	if req.System != "be an SRE" {
		t.Fatalf("system = %q", req.System)
	}
	if !req.Stream || req.Model != "claude-test" {
		t.Fatalf("req = %+v", req)
	}
	if len(req.Messages) != 3 {
		t.Fatalf("messages = %d", len(req.Messages))
	}

	// Assistant tool-call turn carries text and tool_use blocks.
	blocks, ok := req.Messages[1].Content.([]contentBlock)
	if !ok || len(blocks) != 2 {
		t.Fatalf("assistant content: %+v", req.Messages[1].Content)
	}
	if blocks[0].Type != "text" || blocks[1].Type != "tool_use" || blocks[1].ID != "c1" {
		t.Fatalf("blocks: %+v", blocks)
	}
	if blocks[1].Input["key"] != "x" {
		t.Fatalf("tool input: %+v", blocks[1].Input)
	}

	// Tool result becomes a user message with is_error set for failures.
	rblocks, ok := req.Messages[2].Content.([]contentBlock)
	if !ok || len(rblocks) != 1 {
		t.Fatalf("result content: %+v", req.Messages[2].Content)
	}
	if rblocks[0].Type != "tool_result" || rblocks[0].ToolUseID != "c1" || !rblocks[0].IsError {
		t.Fatalf("result block: %+v", rblocks[0])
	}

	if len(req.Tools) != 1 || req.Tools[0].Name != "lookup" {
		t.Fatalf("tools: %+v", req.Tools)
	}
}

func TestStreamEndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "key" || r.Header.Get("anthropic-version") == "" {
			t.Errorf("missing auth headers: %v", r.Header)
		}
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), `"stream":true`) {
			t.Errorf("request not streaming: %s", body)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, `data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"hi"}}`+"\n")
		io.WriteString(w, `data: {"type":"message_stop"}`+"\n")
	}))
	defer srv.Close()

	c := NewClient("key", "claude-test")
	c.BaseURL = srv.URL

	ch, err := c.Stream(context.Background(), []core.Message{core.UserTurn("hello")}, nil)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	var text string
	var done bool
	for chunk := range ch {
		switch chunk.Type {
		case "text":
			text += chunk.Text
		case "done":
			done = true
		case "error":
			t.Fatalf("stream error: %v", chunk.Err)
		}
	}
	if text != "hi" || !done {
		t.Fatalf("text=%q done=%v", text, done)
	}
}

func TestStreamRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			io.WriteString(w, `{"error":{"type":"overloaded_error","message":"try later"}}`)
			return
		}
		io.WriteString(w, `data: {"type":"message_stop"}`+"\n")
	}))
	defer srv.Close()

	c := NewClient("key", "claude-test")
	c.BaseURL = srv.URL

	ch, err := c.Stream(context.Background(), []core.Message{core.UserTurn("x")}, nil)
	if err != nil {
		t.Fatalf("Stream after retry: %v", err)
	}
	for range ch {
	}
	if calls.Load() != 2 {
		t.Fatalf("server called %d times", calls.Load())
	}
}

func TestStreamDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":{"type":"invalid_request_error","message":"bad tool schema"}}`)
	}))
	defer srv.Close()

	c := NewClient("key", "claude-test")
	c.BaseURL = srv.URL

	_, err := c.Stream(context.Background(), []core.Message{core.UserTurn("x")}, nil)
	if err == nil || !strings.Contains(err.Error(), "bad tool schema") {
		t.Fatalf("err = %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("client error retried: %d calls", calls.Load())
	}
}

func TestStreamRequiresAPIKey(t *testing.T) {
	c := NewClient("", "claude-test")
	if _, err := c.Stream(context.Background(), nil, nil); err == nil {
		t.Fatal("expected error without API key")
	}
}
