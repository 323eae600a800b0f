package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/opspilot/opspilot/internal/core"
	"github.com/opspilot/opspilot/internal/session"
	"github.com/opspilot/opspilot/internal/store"
)

const (
	defaultMaxSessions = 128
	inboxDepth         = 16
	eventBuffer        = 64
)

// ErrBusy reports that a session's inbox is full; the caller should retry
// once in-flight work drains.
var ErrBusy = errors.New("too many queued messages")

// errClosed is returned by managed.submit when the session was reset or
// evicted between lookup and send. Submit retries against the replacement.
var errClosed = errors.New("session closed")

type submission struct {
	ctx    context.Context
	text   string
	events chan Event
}

type managed struct {
	sess  *session.Session
	inbox chan submission
	// done is closed when the worker has exited.
	done chan struct{}

	mu     sync.Mutex
	closed bool
}

// submit sends under the same mutex shutdown closes under, so a send can
// never race the close.
func (ms *managed) submit(sub submission) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.closed {
		return errClosed
	}
	select {
	case ms.inbox <- sub:
		return nil
	default:
		return fmt.Errorf("session %s: %w", ms.sess.ID, ErrBusy)
	}
}

func (ms *managed) shutdown() {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.closed {
		return
	}
	ms.closed = true
	close(ms.inbox)
}

func (ms *managed) isClosed() bool {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.closed
}

// Manager owns session lifetime and serializes rounds per session: each
// session gets one worker goroutine, so a message submitted while a round is
// in flight waits in the inbox and is only appended once the session is idle
// again. Sessions are cached with LRU eviction; an evicted session's
// transcript survives in the store and is rehydrated on next use. A
// replacement for an evicted or reset id is only created once the old
// worker has exited, so two rounds never run for the same id.
type Manager struct {
	loop *Loop
	db   *store.DB

	mu       sync.Mutex
	sessions *lru.Cache[string, *managed]
	// draining maps an evicted session's id to its worker's done channel
	// until that worker exits.
	draining map[string]chan struct{}
}

// NewManager builds a manager around loop. maxSessions <= 0 uses the default.
func NewManager(loop *Loop, db *store.DB, maxSessions int) (*Manager, error) {
	if maxSessions <= 0 {
		maxSessions = defaultMaxSessions
	}
	m := &Manager{loop: loop, db: db, draining: map[string]chan struct{}{}}
	// The evict callback runs under m.mu (eviction happens inside Add,
	// Remove, and Purge, which this manager only calls with the lock held).
	cache, err := lru.NewWithEvict[string, *managed](maxSessions, func(id string, ms *managed) {
		m.draining[id] = ms.done
		ms.shutdown()
	})
	if err != nil {
		return nil, err
	}
	m.sessions = cache
	return m, nil
}

// Submit queues one user message for sessionID (empty = new session) and
// returns the session id plus the submission's ordered event stream. The
// stream is closed when the submission completes.
func (m *Manager) Submit(ctx context.Context, sessionID, text string) (string, <-chan Event, error) {
	for {
		ms, err := m.get(ctx, sessionID)
		if err != nil {
			return "", nil, err
		}
		sub := submission{ctx: ctx, text: text, events: make(chan Event, eventBuffer)}
		switch err := ms.submit(sub); {
		case err == nil:
			return ms.sess.ID, sub.events, nil
		case errors.Is(err, errClosed):
			// Evicted between lookup and send; look up the replacement.
		default:
			return "", nil, err
		}
	}
}

// Reset destroys a session: its cached state and its stored transcript. An
// in-flight round finishes first; submissions still queued behind it are
// rejected rather than run against the discarded conversation.
func (m *Manager) Reset(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	m.sessions.Remove(sessionID)
	done := m.draining[sessionID]
	m.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if m.db != nil {
		return m.db.DeleteSession(ctx, sessionID)
	}
	return nil
}

// Close evicts all sessions and waits for their workers to exit.
func (m *Manager) Close() {
	m.mu.Lock()
	m.sessions.Purge()
	waits := make([]chan struct{}, 0, len(m.draining))
	for _, done := range m.draining {
		waits = append(waits, done)
	}
	m.mu.Unlock()

	for _, done := range waits {
		<-done
	}
}

func (m *Manager) get(ctx context.Context, sessionID string) (*managed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sessionID != "" {
		for {
			if ms, ok := m.sessions.Get(sessionID); ok {
				return ms, nil
			}
			done, ok := m.draining[sessionID]
			if !ok {
				break
			}
			// The previous worker for this id is still winding down.
			m.mu.Unlock()
			select {
			case <-done:
			case <-ctx.Done():
				m.mu.Lock()
				return nil, ctx.Err()
			}
			m.mu.Lock()
		}
	}

	sess := session.New(sessionID)
	if m.db != nil && sessionID != "" {
		turns, err := m.db.LoadTurns(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("loading session %s: %w", sessionID, err)
		}
		if len(turns) > 0 {
			sess.Conversation().Append(turns...)
			log.Printf("[SESSION] resumed %s with %d turns", sessionID, len(turns))
		}
	}

	ms := &managed{
		sess:  sess,
		inbox: make(chan submission, inboxDepth),
		done:  make(chan struct{}),
	}
	go m.worker(ms)
	m.sessions.Add(sess.ID, ms)
	return ms, nil
}

func (m *Manager) worker(ms *managed) {
	for sub := range ms.inbox {
		if sub.ctx.Err() != nil {
			// Canceled while queued: nothing was appended, skip it whole.
			close(sub.events)
			continue
		}
		if ms.isClosed() {
			// Reset or evicted while queued: the conversation this message
			// was addressed to is gone.
			select {
			case sub.events <- Event{Type: EventError, Text: "session was reset before this message ran"}:
			default:
			}
			close(sub.events)
			continue
		}
		if ms.sess.TryBegin() {
			m.loop.Run(sub.ctx, ms.sess, sub.text, sub.events)
			ms.sess.End()
		}
		close(sub.events)
	}

	m.mu.Lock()
	if m.draining[ms.sess.ID] == ms.done {
		delete(m.draining, ms.sess.ID)
	}
	m.mu.Unlock()
	close(ms.done)
}

// Descriptors exposes the enabled tool catalog (for status surfaces).
func (m *Manager) Descriptors() []core.ToolDescriptor {
	return m.loop.Executor().Descriptors()
}
