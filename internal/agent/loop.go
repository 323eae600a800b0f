package agent

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opspilot/opspilot/internal/core"
	"github.com/opspilot/opspilot/internal/session"
	"github.com/opspilot/opspilot/internal/store"
)

// Loop runs the agent for one session at a time: snapshot + system prompt ->
// model -> either a final answer or a batch of tool calls -> execute batch ->
// append results -> repeat, bounded by Budget.
//
// A round's turns (the tool-call request plus all its results) are staged and
// appended atomically once every request has a matching result; cancellation
// mid-batch discards the staged round so the conversation never holds a
// request without its result.
type Loop struct {
	Model        core.ModelClient
	SystemPrompt string
	Budget       int
	ModelTimeout time.Duration
	Store        *store.DB // optional transcript persistence

	mu       sync.Mutex
	executor core.ToolExecutor
}

// NewLoop builds a loop. budget <= 0 falls back to 1.
func NewLoop(model core.ModelClient, executor core.ToolExecutor, systemPrompt string, budget int, modelTimeout time.Duration, db *store.DB) *Loop {
	if budget <= 0 {
		budget = 1
	}
	return &Loop{
		Model:        model,
		SystemPrompt: systemPrompt,
		Budget:       budget,
		ModelTimeout: modelTimeout,
		Store:        db,
		executor:     executor,
	}
}

// Executor returns the current tool executor.
func (l *Loop) Executor() core.ToolExecutor {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.executor
}

// ReplaceExecutor swaps the executor after a capability recheck. A round that
// is already in flight keeps the executor it started with.
func (l *Loop) ReplaceExecutor(e core.ToolExecutor) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.executor = e
}

// Run processes one user message to completion, emitting events in generation
// order. It always returns the session to an idle, resumable state: model
// failures and budget exhaustion end the submission without crashing it, and
// tool failures are folded into the conversation as text.
func (l *Loop) Run(ctx context.Context, sess *session.Session, userText string, events chan<- Event) {
	conv := sess.Conversation()
	executor := l.Executor()
	descriptors := executor.Descriptors()

	user := core.UserTurn(userText)
	conv.Append(user)
	l.persist(sess.ID, user)

	for round := 0; ; round++ {
		if ctx.Err() != nil {
			l.emit(ctx, events, Event{Type: EventError, Text: "canceled"})
			return
		}
		if round >= l.Budget {
			text := fmt.Sprintf("I hit the limit of %d tool rounds for this question, so the investigation was cut short. Here is what I have; ask a narrower question to dig further.", l.Budget)
			turn := core.AssistantTurn(text)
			conv.Append(turn)
			l.persist(sess.ID, turn)
			l.emit(ctx, events, Event{Type: EventFinal, Text: text})
			return
		}

		content, calls, err := l.infer(ctx, conv, descriptors, events)
		if err != nil {
			log.Printf("[AGENT] model call failed (session %s): %v", sess.ID, err)
			l.emit(ctx, events, Event{Type: EventError, Text: fmt.Sprintf("model call failed: %v", err)})
			return
		}

		if len(calls) == 0 {
			if strings.TrimSpace(content) == "" {
				content = "(the model returned no text; try rephrasing)"
			}
			turn := core.AssistantTurn(content)
			conv.Append(turn)
			l.persist(sess.ID, turn)
			l.emit(ctx, events, Event{Type: EventFinal, Text: content})
			return
		}

		log.Printf("[AGENT] round %d: executing %d tool call(s): %s", round, len(calls), callNames(calls))
		results := executor.InvokeBatch(ctx, calls,
			func(c core.ToolCall) {
				l.emit(ctx, events, Event{Type: EventToolStarted, ToolID: c.ID, ToolName: c.Name})
			},
			func(r core.ToolResult) {
				l.emit(ctx, events, Event{Type: EventToolFinished, ToolID: r.ID, ToolName: r.Name, OK: r.OK})
			})

		if ctx.Err() != nil {
			// The whole round is discarded: no request turn, no results.
			l.emit(ctx, events, Event{Type: EventError, Text: "canceled"})
			return
		}

		turns := make([]core.Message, 0, len(results)+1)
		turns = append(turns, core.ToolCallTurn(content, calls))
		for _, r := range results {
			turns = append(turns, core.ResultTurn(r))
		}
		conv.Append(turns...)
		l.persist(sess.ID, turns...)
	}
}

// infer makes one model call, forwarding text chunks as they arrive and
// collecting any tool-call requests. Requests without an id get one minted so
// results can always be matched back.
func (l *Loop) infer(ctx context.Context, conv *session.Conversation, descriptors []core.ToolDescriptor, events chan<- Event) (string, []core.ToolCall, error) {
	snapshot := conv.Snapshot()
	msgs := make([]core.Message, 0, len(snapshot)+1)
	if l.SystemPrompt != "" {
		msgs = append(msgs, core.Message{Role: "system", Content: l.SystemPrompt})
	}
	msgs = append(msgs, snapshot...)

	modelCtx := ctx
	if l.ModelTimeout > 0 {
		var cancel context.CancelFunc
		modelCtx, cancel = context.WithTimeout(ctx, l.ModelTimeout)
		defer cancel()
	}

	ch, err := l.Model.Stream(modelCtx, msgs, descriptors)
	if err != nil {
		return "", nil, err
	}

	var text strings.Builder
	var calls []core.ToolCall
	for chunk := range ch {
		switch chunk.Type {
		case "text":
			text.WriteString(chunk.Text)
			l.emit(ctx, events, Event{Type: EventToken, Text: chunk.Text})
		case "tool_call":
			if chunk.ToolCall == nil {
				continue
			}
			tc := *chunk.ToolCall
			if tc.ID == "" {
				tc.ID = uuid.NewString()
			}
			calls = append(calls, tc)
		case "error":
			err := chunk.Err
			if err == nil {
				err = fmt.Errorf("model stream error")
			}
			return "", nil, err
		}
	}
	return text.String(), calls, nil
}

// emit delivers ev unless the submission is already canceled and nobody is
// reading anymore.
func (l *Loop) emit(ctx context.Context, events chan<- Event, ev Event) {
	select {
	case events <- ev:
	case <-ctx.Done():
	}
}

func (l *Loop) persist(sessionID string, turns ...core.Message) {
	if l.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := l.Store.EnsureSession(ctx, sessionID); err != nil {
		log.Printf("[AGENT] persist session %s: %v", sessionID, err)
		return
	}
	if err := l.Store.AppendTurns(ctx, sessionID, turns); err != nil {
		log.Printf("[AGENT] persist turns for %s: %v", sessionID, err)
	}
}

func callNames(calls []core.ToolCall) string {
	names := make([]string, len(calls))
	for i, c := range calls {
		names[i] = c.Name
	}
	return strings.Join(names, ", ")
}
