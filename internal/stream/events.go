package stream

import (
	"encoding/json"
	"fmt"
)

// Event names recognized by the decoder. Frames carrying any other name are
// dropped at the decode boundary.
const (
	EventToken      = "token"
	EventToolCall   = "tool_call"
	EventToolResult = "tool_result"
	EventEnd        = "end"
)

// Event is one decoded frame from the agent's event stream. Data is kept raw
// so each consumer can parse the payload shape for the tag it handles.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data"`
}

// TokenPayload carries one run of streamed text.
type TokenPayload struct {
	Content TokenContent `json:"content"`
}

// TokenContent is either a flat string or a structured content array whose
// first entry carries the text. Both shapes appear on the wire depending on
// the upstream model provider.
type TokenContent struct {
	Text string
}

// UnmarshalJSON accepts a plain string, or an array of {"text": ...} objects
// or bare strings, taking the first entry.
func (c *TokenContent) UnmarshalJSON(data []byte) error {
	var flat string
	if err := json.Unmarshal(data, &flat); err == nil {
		c.Text = flat
		return nil
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("token content is neither string nor array: %w", err)
	}
	if len(entries) == 0 {
		c.Text = ""
		return nil
	}

	var structured struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(entries[0], &structured); err == nil {
		c.Text = structured.Text
		return nil
	}
	var bare string
	if err := json.Unmarshal(entries[0], &bare); err != nil {
		return fmt.Errorf("unsupported token content entry: %w", err)
	}
	c.Text = bare
	return nil
}

// ToolCallChunk is one element of a tool_call payload. A chunk with a name
// opens a new call; a nameless chunk continues the previous call's argument
// fragments.
type ToolCallChunk struct {
	Name string `json:"name,omitempty"`
	Args string `json:"args,omitempty"`
}

// ToolResultPayload carries the result of a completed tool invocation.
type ToolResultPayload struct {
	Result json.RawMessage `json:"result"`
}

// EndPayload terminates a stream and may carry the server-assigned thread id.
type EndPayload struct {
	ThreadID string `json:"thread_id"`
}

// Token parses the event's payload as a token event.
func (e Event) Token() (TokenPayload, error) {
	var p TokenPayload
	if err := json.Unmarshal(e.Data, &p); err != nil {
		return TokenPayload{}, fmt.Errorf("parsing token payload: %w", err)
	}
	return p, nil
}

// ToolCall parses the event's payload as a tool_call event. The payload is an
// array; only the first chunk is meaningful.
func (e Event) ToolCall() ([]ToolCallChunk, error) {
	var chunks []ToolCallChunk
	if err := json.Unmarshal(e.Data, &chunks); err != nil {
		return nil, fmt.Errorf("parsing tool_call payload: %w", err)
	}
	return chunks, nil
}

// ToolResult parses the event's payload as a tool_result event.
func (e Event) ToolResult() (ToolResultPayload, error) {
	var p ToolResultPayload
	if err := json.Unmarshal(e.Data, &p); err != nil {
		return ToolResultPayload{}, fmt.Errorf("parsing tool_result payload: %w", err)
	}
	return p, nil
}

// End parses the event's payload as an end event. A missing or empty payload
// is valid: the thread id is optional.
func (e Event) End() (EndPayload, error) {
	var p EndPayload
	if len(e.Data) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(e.Data, &p); err != nil {
		return EndPayload{}, fmt.Errorf("parsing end payload: %w", err)
	}
	return p, nil
}

func knownEvent(name string) bool {
	switch name {
	case EventToken, EventToolCall, EventToolResult, EventEnd:
		return true
	}
	return false
}
