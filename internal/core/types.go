package core

import "encoding/json"

// Family groups tools by the integration whose configuration gates them.
type Family string

const (
	FamilyMetrics   Family = "metrics"   // Datadog monitors, metrics, APM, traces
	FamilyIncidents Family = "incidents" // PagerDuty incidents, on-call, services
	FamilyCluster   Family = "cluster"   // Kubernetes introspection via kubeconfig
	FamilyQueue     Family = "queue"     // AWS SQS inspection
)

// Families lists all known families in registry order.
func Families() []Family {
	return []Family{FamilyCluster, FamilyIncidents, FamilyMetrics, FamilyQueue}
}

// Message is one turn in a conversation: user text, assistant text, an
// assistant turn carrying tool-call requests, or a tool result.
type Message struct {
	Role       string     `json:"role"` // "system", "user", "assistant", "tool"
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`   // role=assistant
	ToolCallID string     `json:"tool_call_id,omitempty"` // role=tool
	ToolName   string     `json:"tool_name,omitempty"`    // role=tool
	OK         bool       `json:"ok,omitempty"`           // role=tool: call succeeded
}

// UserTurn builds a user message.
func UserTurn(text string) Message { return Message{Role: "user", Content: text} }

// AssistantTurn builds a plain assistant message.
func AssistantTurn(text string) Message { return Message{Role: "assistant", Content: text} }

// ToolCallTurn builds an assistant message requesting tool calls. Content may
// carry interim text the model produced alongside the requests.
func ToolCallTurn(content string, calls []ToolCall) Message {
	return Message{Role: "assistant", Content: content, ToolCalls: calls}
}

// ResultTurn builds the tool message answering a request.
func ResultTurn(res ToolResult) Message {
	return Message{Role: "tool", Content: res.Content, ToolCallID: res.ID, ToolName: res.Name, OK: res.OK}
}

// ToolCall is a single tool invocation requested by the model.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolResult is the outcome of one tool call. A failed call carries a short
// error summary in Content with OK=false; failures never propagate as errors.
type ToolResult struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Content string `json:"content"`
}

// ToolDescriptor describes one tool capability. Immutable once registered.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Family      Family         `json:"family"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"` // JSON Schema
	ReadOnly    bool           `json:"read_only"`
}
