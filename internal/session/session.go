// Package session owns per-conversation state: the ordered, append-only turn
// sequence and the single-round-at-a-time discipline. A Session is never
// shared across concurrent rounds; a second message arriving mid-round waits
// in the manager's queue until the session is idle again.
package session

import (
	"sync"

	"github.com/google/uuid"

	"github.com/opspilot/opspilot/internal/core"
)

// Conversation is the ordered turn history for one session. Turns are only
// ever appended; mutation of past turns is represented by new turns.
type Conversation struct {
	mu    sync.Mutex
	turns []core.Message
}

// Append adds turns to the end of the history.
func (c *Conversation) Append(turns ...core.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = append(c.turns, turns...)
}

// Snapshot returns a copy of the history in order.
func (c *Conversation) Snapshot() []core.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]core.Message, len(c.turns))
	copy(out, c.turns)
	return out
}

// Len returns the number of turns.
func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.turns)
}

// Reset clears the history. Only valid between sessions, never mid-round.
func (c *Conversation) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = nil
}

// Session binds one conversation to an id.
type Session struct {
	ID   string
	conv Conversation

	mu   sync.Mutex
	busy bool
}

// New creates a session. An empty id gets a fresh UUID.
func New(id string) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	return &Session{ID: id}
}

// Conversation returns the session's turn history.
func (s *Session) Conversation() *Conversation { return &s.conv }

// TryBegin marks a round in flight. Returns false if one already is.
func (s *Session) TryBegin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return false
	}
	s.busy = true
	return true
}

// End marks the session idle again.
func (s *Session) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
}
