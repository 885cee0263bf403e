package message

import "time"

// Role values used throughout the runtime. Kept as plain strings so the
// history layer stays independent from concrete model providers.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// Block types for multi-modal content.
const (
	BlockText     = "text"
	BlockImage    = "image"
	BlockDocument = "document"
)

// ContentBlock carries one piece of multi-modal content. Image and document
// blocks hold base64 payloads plus their media type.
type ContentBlock struct {
	Type      string
	Text      string
	MediaType string
	Data      string
}

// ToolCall is a structured tool invocation emitted by the assistant. IDs are
// unique within a turn and come from the provider response.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// ToolResult pairs a ToolCall ID with its outcome. ErrKind is set only when
// IsError is true and names the failure class fed back to the model.
type ToolResult struct {
	ToolCallID string
	Content    string
	IsError    bool
	ErrKind    string
}

// Message represents a single conversational turn. Messages are treated as
// immutable once appended to a history; use Clone before mutating.
type Message struct {
	Role       string
	Content    string
	Blocks     []ContentBlock
	ToolCalls  []ToolCall
	ToolCallID string
	IsError    bool // meaningful only for tool-result messages
	Timestamp  time.Time
}

// Text builds a plain text message.
func Text(role, content string) Message {
	return Message{Role: role, Content: content, Timestamp: time.Now().UTC()}
}

// ToolResultMessage wraps a ToolResult into a history entry.
func ToolResultMessage(res ToolResult) Message {
	return Message{
		Role:       RoleTool,
		Content:    res.Content,
		ToolCallID: res.ToolCallID,
		IsError:    res.IsError,
		Timestamp:  time.Now().UTC(),
	}
}

// Clone performs a deep clone, duplicating nested maps and slices to avoid
// mutation leaks between callers.
func Clone(msg Message) Message {
	clone := msg
	clone.Blocks = append([]ContentBlock(nil), msg.Blocks...)
	clone.ToolCalls = cloneToolCalls(msg.ToolCalls)
	return clone
}

// CloneAll clones an entire slice of messages.
func CloneAll(msgs []Message) []Message {
	if len(msgs) == 0 {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, msg := range msgs {
		out[i] = Clone(msg)
	}
	return out
}

// Size returns a rough byte count of the message content, used by the
// compaction heuristic.
func (m Message) Size() int {
	total := len(m.Content)
	for _, block := range m.Blocks {
		total += len(block.Text) + len(block.Data)
	}
	for _, call := range m.ToolCalls {
		total += len(call.Name)
		for k, v := range call.Arguments {
			total += len(k)
			if s, ok := v.(string); ok {
				total += len(s)
			} else {
				total += 8
			}
		}
	}
	return total
}

func cloneToolCalls(calls []ToolCall) []ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]ToolCall, len(calls))
	for i, call := range calls {
		out[i] = ToolCall{ID: call.ID, Name: call.Name, Arguments: cloneMap(call.Arguments)}
	}
	return out
}

func cloneMap(input map[string]any) map[string]any {
	if input == nil {
		return nil
	}
	dup := make(map[string]any, len(input))
	for k, v := range input {
		dup[k] = v
	}
	return dup
}
