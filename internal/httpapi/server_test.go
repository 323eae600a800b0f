package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/opspilot/opspilot/internal/agent"
	"github.com/opspilot/opspilot/internal/capability"
	"github.com/opspilot/opspilot/internal/core"
	"github.com/opspilot/opspilot/internal/store"
	"github.com/opspilot/opspilot/internal/tools"
)

// cannedModel replies with fixed text and never requests tools.
type cannedModel struct {
	reply string
}

func (m *cannedModel) Stream(ctx context.Context, msgs []core.Message, descs []core.ToolDescriptor) (<-chan core.ModelChunk, error) {
	ch := make(chan core.ModelChunk, 2)
	ch <- core.ModelChunk{Type: "text", Text: m.reply}
	ch <- core.ModelChunk{Type: "done"}
	close(ch)
	return ch, nil
}

// blockedModel holds every inference open until release is closed.
type blockedModel struct {
	release chan struct{}
}

func (m *blockedModel) Stream(ctx context.Context, msgs []core.Message, descs []core.ToolDescriptor) (<-chan core.ModelChunk, error) {
	ch := make(chan core.ModelChunk, 1)
	go func() {
		defer close(ch)
		select {
		case <-m.release:
			ch <- core.ModelChunk{Type: "text", Text: "released"}
		case <-ctx.Done():
			ch <- core.ModelChunk{Type: "error", Err: ctx.Err()}
		}
	}()
	return ch, nil
}

func serverWith(t *testing.T, model core.ModelClient) (*Server, *store.DB) {
	t.Helper()

	db, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	reg, err := tools.NewRegistry()
	if err != nil {
		t.Fatal(err)
	}
	caps := capability.Set{}
	exec := tools.NewExecutor(reg, caps, 2, time.Second, 0)

	loop := agent.NewLoop(model, exec, "test prompt", 4, time.Second, db)
	mgr, err := agent.NewManager(loop, db, 0)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(mgr.Close)

	return &Server{Manager: mgr, Caps: caps, Model: "claude-test"}, db
}

func testServer(t *testing.T) *Server {
	t.Helper()
	s, _ := serverWith(t, &cannedModel{reply: "All systems nominal."})
	return s
}

func TestHealth(t *testing.T) {
	s := testServer(t)
	rec := httptest.NewRecorder()
	s.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("health: %d %s", rec.Code, rec.Body.String())
	}
}

func TestStatus(t *testing.T) {
	s := testServer(t)
	rec := httptest.NewRecorder()
	s.handleStatus(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	var got struct {
		Model    string          `json:"model"`
		Families map[string]bool `json:"families"`
		Tools    []any           `json:"tools"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Model != "claude-test" {
		t.Errorf("model = %q", got.Model)
	}
	if len(got.Families) != len(core.Families()) {
		t.Errorf("families = %v", got.Families)
	}
	for f, enabled := range got.Families {
		if enabled {
			t.Errorf("family %s should be disabled", f)
		}
	}
	if len(got.Tools) != 0 {
		t.Errorf("tools = %v", got.Tools)
	}
}

func TestChatStreamsEvents(t *testing.T) {
	s := testServer(t)

	body, _ := json.Marshal(map[string]string{"message": "how is prod?"})
	req := httptest.NewRequest(http.MethodPost, "/chat", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.handleChat(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Content-Type") != "text/event-stream" {
		t.Errorf("Content-Type = %q", rec.Header().Get("Content-Type"))
	}
	if rec.Header().Get("X-Session-ID") == "" {
		t.Error("missing X-Session-ID header")
	}

	var sawToken, sawFinal, sawDone bool
	sc := bufio.NewScanner(rec.Body)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			sawDone = true
			continue
		}
		var ev struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			t.Fatalf("bad event line %q: %v", line, err)
		}
		switch ev.Type {
		case "token":
			sawToken = true
		case "final":
			sawFinal = true
			if ev.Text != "All systems nominal." {
				t.Errorf("final text = %q", ev.Text)
			}
		}
	}
	if !sawToken || !sawFinal || !sawDone {
		t.Errorf("stream incomplete: token=%v final=%v done=%v", sawToken, sawFinal, sawDone)
	}
}

func TestChatRejectsBadRequests(t *testing.T) {
	s := testServer(t)

	for name, body := range map[string]string{
		"empty message": `{"session_id": "s1"}`,
		"invalid json":  `{`,
	} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body))
		s.handleChat(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status %d", name, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	s.handleChat(rec, httptest.NewRequest(http.MethodGet, "/chat", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /chat: status %d", rec.Code)
	}
}

func TestChatBusySessionGets429(t *testing.T) {
	model := &blockedModel{release: make(chan struct{})}
	s, _ := serverWith(t, model)
	ctx := context.Background()

	// One round in flight plus a full inbox behind it.
	id, _, err := s.Manager.Submit(ctx, "", "running")
	if err != nil {
		t.Fatal(err)
	}
	for {
		if _, _, err := s.Manager.Submit(ctx, id, "queued"); err != nil {
			break
		}
	}

	body, _ := json.Marshal(map[string]string{"session_id": id, "message": "one more"})
	rec := httptest.NewRecorder()
	s.handleChat(rec, httptest.NewRequest(http.MethodPost, "/chat", bytes.NewReader(body)))
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("busy session: status %d, want 429", rec.Code)
	}

	close(model.release)
}

func TestChatStoreFailureGets500(t *testing.T) {
	s, db := serverWith(t, &cannedModel{reply: "ok"})
	db.Close() // transcript loads now fail

	body, _ := json.Marshal(map[string]string{"session_id": "stored-session", "message": "hi"})
	rec := httptest.NewRecorder()
	s.handleChat(rec, httptest.NewRequest(http.MethodPost, "/chat", bytes.NewReader(body)))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("store failure: status %d, want 500", rec.Code)
	}
}

func TestReset(t *testing.T) {
	s := testServer(t)

	// Run one message so the session exists.
	body, _ := json.Marshal(map[string]string{"session_id": "sess-1", "message": "hi"})
	rec := httptest.NewRecorder()
	s.handleChat(rec, httptest.NewRequest(http.MethodPost, "/chat", bytes.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("chat: %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	s.handleReset(rec, httptest.NewRequest(http.MethodPost, "/reset", strings.NewReader(`{"session_id": "sess-1"}`)))
	if rec.Code != http.StatusNoContent {
		t.Errorf("reset: %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	s.handleReset(rec, httptest.NewRequest(http.MethodPost, "/reset", strings.NewReader(`{}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("reset without session_id: %d", rec.Code)
	}
}
