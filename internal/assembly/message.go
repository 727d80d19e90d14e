// Package assembly reconstructs ordered conversational message state from a
// live stream of agent events.
package assembly

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Role identifies who produced a message. The set is closed.
type Role string

const (
	RoleHuman Role = "human"
	RoleAI    Role = "ai"
	RoleTool  Role = "tool"
)

// Block types for ContentBlock.Type.
const (
	BlockText       = "text"
	BlockToolCall   = "tool_call"
	BlockToolResult = "tool_result"
)

// ToolCall is a request emitted by the AI message to invoke a named
// capability. Args fills in incrementally as fragments arrive and is
// finalized once the call's argument stream closes.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// ToolResult is the outcome of a completed tool invocation.
type ToolResult struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result"`
}

// ContentBlock is one ordered unit of an AI message: a run of text, a tool
// call, or a tool result. Exactly one of the payload fields is set,
// according to Type.
type ContentBlock struct {
	Type       string      `json:"type"`
	Text       string      `json:"text,omitempty"`
	ToolCall   *ToolCall   `json:"tool_call,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`
}

// Message is one turn in a conversation. For an AI message under active
// assembly, ContentBlocks is the source of truth for render order; Content,
// ToolCalls and ToolResults are views kept in sync for consumers that only
// want flat text. ToolCalls/ToolResults share pointers with the blocks that
// introduced them, so finalizing a call updates both views at once.
type Message struct {
	ID            string         `json:"id"`
	Role          Role           `json:"role"`
	Content       string         `json:"content"`
	ContentBlocks []ContentBlock `json:"content_blocks,omitempty"`
	ToolCalls     []*ToolCall    `json:"tool_calls,omitempty"`
	ToolResults   []*ToolResult  `json:"tool_results,omitempty"`
}

// NewHumanMessage builds a completed human turn with a client-minted id.
func NewHumanMessage(text string) *Message {
	return &Message{
		ID:      uuid.NewString(),
		Role:    RoleHuman,
		Content: text,
	}
}

// NewAIPlaceholder builds the empty AI message an Assembler fills in as
// stream events arrive.
func NewAIPlaceholder() *Message {
	return &Message{
		ID:   uuid.NewString(),
		Role: RoleAI,
	}
}
