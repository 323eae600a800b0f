package core

import "context"

// ModelChunk is one increment of a streamed model response.
type ModelChunk struct {
	Type     string // "text", "tool_call", "done", "error"
	Text     string
	ToolCall *ToolCall
	Err      error
}

// ModelClient abstracts the inference capability: one call over a conversation
// snapshot plus the available tool descriptors, streamed back as chunks. The
// channel is closed after "done" or "error".
type ModelClient interface {
	Stream(ctx context.Context, messages []Message, tools []ToolDescriptor) (<-chan ModelChunk, error)
}

// ToolExecutor dispatches tool calls. Invocations never raise: every failure
// (validation, backend error, timeout, panic) comes back as an OK=false result.
type ToolExecutor interface {
	// Descriptors returns the enabled tool catalog, ordered by family then name.
	Descriptors() []ToolDescriptor

	// Invoke runs a single call.
	Invoke(ctx context.Context, call ToolCall) ToolResult

	// InvokeBatch runs the calls of one round, possibly in parallel, and
	// returns exactly one result per call in request order. onStart and onDone
	// (either may be nil) fire as individual calls begin and finish.
	InvokeBatch(ctx context.Context, calls []ToolCall, onStart func(ToolCall), onDone func(ToolResult)) []ToolResult
}
