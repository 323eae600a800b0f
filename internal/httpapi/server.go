// Package httpapi serves the streaming chat endpoint and status/health
// endpoints.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/opspilot/opspilot/internal/agent"
	"github.com/opspilot/opspilot/internal/capability"
	"github.com/opspilot/opspilot/internal/core"
)

const maxChatBodySize = 64 * 1024

// Server serves chat and status endpoints.
type Server struct {
	Addr    string
	Manager *agent.Manager
	Caps    capability.Set
	Model   string
}

// Run starts the HTTP server and blocks.
func (s *Server) Run() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/chat", s.handleChat)
	mux.HandleFunc("/reset", s.handleReset)

	log.Printf("[HTTP] listening on %s", s.Addr)
	return http.ListenAndServe(s.Addr, mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	type toolInfo struct {
		Name        string `json:"name"`
		Family      string `json:"family"`
		Description string `json:"description"`
		ReadOnly    bool   `json:"read_only"`
	}
	descriptors := s.Manager.Descriptors()
	toolList := make([]toolInfo, 0, len(descriptors))
	for _, d := range descriptors {
		toolList = append(toolList, toolInfo{
			Name:        d.Name,
			Family:      string(d.Family),
			Description: d.Description,
			ReadOnly:    d.ReadOnly,
		})
	}

	families := map[string]bool{}
	for _, f := range core.Families() {
		families[string(f)] = s.Caps.Has(f)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"model":    s.Model,
		"families": families,
		"tools":    toolList,
	})
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// handleChat runs one user message and streams agent events back as
// server-sent events, one event per data line.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxChatBodySize))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	var req chatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Message == "" {
		http.Error(w, "message is required", http.StatusBadRequest)
		return
	}

	sessionID, events, err := s.Manager.Submit(r.Context(), req.SessionID, req.Message)
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, agent.ErrBusy) {
			code = http.StatusTooManyRequests
		}
		http.Error(w, err.Error(), code)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Session-ID", sessionID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	enc := json.NewEncoder(w)
	for ev := range events {
		if _, err := io.WriteString(w, "data: "); err != nil {
			return
		}
		if err := enc.Encode(ev); err != nil {
			return
		}
		if _, err := io.WriteString(w, "\n"); err != nil {
			return
		}
		flusher.Flush()
	}
	io.WriteString(w, "data: [DONE]\n\n")
	flusher.Flush()
}

type resetRequest struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxChatBodySize))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	var req resetRequest
	if err := json.Unmarshal(body, &req); err != nil || req.SessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}
	if err := s.Manager.Reset(r.Context(), req.SessionID); err != nil {
		log.Printf("[HTTP] reset %s: %v", req.SessionID, err)
		http.Error(w, "reset failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
