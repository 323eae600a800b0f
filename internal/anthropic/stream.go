package anthropic

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/opspilot/opspilot/internal/core"
)

type streamEvent struct {
	Type         string        `json:"type"`
	Index        int           `json:"index,omitempty"`
	Delta        *streamDelta  `json:"delta,omitempty"`
	ContentBlock *contentBlock `json:"content_block,omitempty"`
	Error        *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type streamDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
}

// parseSSE reads the Messages API event stream and forwards chunks: text
// deltas as they arrive, each tool_use block once its input JSON is complete,
// and a final done chunk at message_stop. Tool-call emission order follows
// block completion order, which matches the model's request order.
func parseSSE(r io.Reader, out chan<- core.ModelChunk) error {
	// tool_use inputs stream as partial JSON keyed by block index
	pending := make(map[int]*pendingTool)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, ":") || strings.HasPrefix(line, "event:") {
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		var ev streamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return fmt.Errorf("decode stream event: %w (data: %s)", err, data)
		}

		switch ev.Type {
		case "content_block_start":
			if ev.ContentBlock != nil && ev.ContentBlock.Type == "tool_use" {
				pending[ev.Index] = &pendingTool{id: ev.ContentBlock.ID, name: ev.ContentBlock.Name}
			}

		case "content_block_delta":
			if ev.Delta == nil {
				continue
			}
			if ev.Delta.Text != "" {
				out <- core.ModelChunk{Type: "text", Text: ev.Delta.Text}
			}
			if ev.Delta.PartialJSON != "" {
				if pt, ok := pending[ev.Index]; ok {
					pt.args.WriteString(ev.Delta.PartialJSON)
				}
			}

		case "content_block_stop":
			if pt, ok := pending[ev.Index]; ok {
				delete(pending, ev.Index)
				out <- core.ModelChunk{Type: "tool_call", ToolCall: pt.toolCall()}
			}

		case "message_stop":
			out <- core.ModelChunk{Type: "done"}
			return nil

		case "error":
			if ev.Error != nil {
				return fmt.Errorf("stream error: %s", ev.Error.Message)
			}
			return fmt.Errorf("stream error")
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return fmt.Errorf("stream ended without message_stop")
}

type pendingTool struct {
	id   string
	name string
	args strings.Builder
}

func (p *pendingTool) toolCall() *core.ToolCall {
	raw := p.args.String()
	if raw == "" {
		raw = "{}"
	}
	if !json.Valid([]byte(raw)) {
		// partial streaming can leave broken JSON; pass it through so the
		// dispatcher rejects it with a readable validation summary
		b, _ := json.Marshal(map[string]string{"_raw": raw})
		raw = string(b)
	}
	return &core.ToolCall{ID: p.id, Name: p.name, Arguments: json.RawMessage(raw)}
}
