// Package wire defines the JSON-shaped tagged unions exchanged between UI
// windows and the bridge daemon, and the agent message schema consumed
// opaquely by the presentation layer.
package wire

import "encoding/json"

// Message type tags emitted by the agent runtime.
const (
	// MessageInit is the first message of a run; it carries the conversation
	// id assigned by the agent runtime.
	MessageInit = "init"
	// MessageAssistant carries assistant-authored text.
	MessageAssistant = "assistant"
	// MessageReasoning carries intermediate reasoning text.
	MessageReasoning = "reasoning"
	// MessageToolCall announces a tool invocation.
	MessageToolCall = "tool_call"
	// MessageToolResult carries the outcome of a tool invocation.
	MessageToolResult = "tool_result"
	// MessageResult terminates a run with summary data.
	MessageResult = "result"
)

// Message is a discriminated agent message. Exactly one variant is populated
// depending on Type; unknown fields from newer runtimes are ignored.
type Message struct {
	// Type discriminates the variant (init, assistant, reasoning, tool_call,
	// tool_result, result).
	Type string `json:"type"`
	// ID is the record identifier assigned by the producer.
	ID string `json:"id,omitempty"`
	// ConversationID is set on init messages (and echoed on the rest when the
	// runtime provides it).
	ConversationID string `json:"conversationId,omitempty"`

	// Model is the model identifier (init, assistant).
	Model string `json:"model,omitempty"`
	// Tools lists the tool names available to the run (init).
	Tools []string `json:"tools,omitempty"`

	// Text is the message body (assistant, reasoning).
	Text string `json:"text,omitempty"`

	// ToolUseID correlates tool_call and tool_result messages.
	ToolUseID string `json:"toolUseId,omitempty"`
	// ToolName is the invoked tool (tool_call).
	ToolName string `json:"toolName,omitempty"`
	// Input is the JSON-encoded tool input (tool_call).
	Input json.RawMessage `json:"input,omitempty"`
	// Output is the JSON-encoded tool output (tool_result).
	Output json.RawMessage `json:"output,omitempty"`
	// IsError marks a failed tool invocation (tool_result).
	IsError bool `json:"isError,omitempty"`

	// DurationMs is the wall-clock duration of the run (result).
	DurationMs int64 `json:"durationMs,omitempty"`
	// NumTurns is the number of agent turns in the run (result).
	NumTurns int `json:"numTurns,omitempty"`
	// Usage is the JSON-encoded token usage report (result).
	Usage json.RawMessage `json:"usage,omitempty"`

	// AtMs is the wall-clock timestamp (unix millis) when the message was
	// produced.
	AtMs int64 `json:"atMs,omitempty"`
}

// ParseMessage decodes a single agent message.
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// PermissionRequest is a tool-use approval prompt surfaced to windows.
type PermissionRequest struct {
	// ToolUseID identifies the pending tool invocation.
	ToolUseID string `json:"toolUseId"`
	// ToolName is the tool awaiting approval.
	ToolName string `json:"toolName"`
	// Input is the JSON-encoded tool input under review.
	Input json.RawMessage `json:"input"`
}

// PermissionDecision is a user's answer to a permission request.
type PermissionDecision struct {
	// Allow reports whether the tool is approved to run.
	Allow bool `json:"allow"`
	// Message is an optional user-visible explanation (typically for denials).
	Message string `json:"message,omitempty"`
	// UpdatedInput optionally overrides the tool input for approvals.
	UpdatedInput json.RawMessage `json:"updatedInput,omitempty"`
}
