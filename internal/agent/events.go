package agent

// EventType identifies one kind of streamed output event.
type EventType string

const (
	// EventToken is a partial chunk of assistant text.
	EventToken EventType = "token"
	// EventToolStarted fires when a tool call begins executing.
	EventToolStarted EventType = "tool_started"
	// EventToolFinished fires when a tool call completes (ok or not).
	EventToolFinished EventType = "tool_finished"
	// EventFinal carries the complete final answer for the submission.
	EventFinal EventType = "final"
	// EventError reports a round-level failure; the session stays usable.
	EventError EventType = "error"
)

// Event is one entry in the ordered output stream a consumer renders from.
// Delivery order matches generation order.
type Event struct {
	Type     EventType `json:"type"`
	Text     string    `json:"text,omitempty"`
	ToolID   string    `json:"tool_id,omitempty"`
	ToolName string    `json:"tool_name,omitempty"`
	OK       bool      `json:"ok,omitempty"`
}
