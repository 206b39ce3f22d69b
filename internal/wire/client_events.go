package wire

import (
	"encoding/json"
	"fmt"
)

// Client event type tags (window → daemon).
const (
	ClientStart              = "start"
	ClientContinue           = "continue"
	ClientStop               = "stop"
	ClientDelete             = "delete"
	ClientList               = "list"
	ClientHistory            = "history"
	ClientPermissionResponse = "permission-response"
	ClientTerminalAttach     = "terminal-attach"
	ClientTerminalInput      = "terminal-input"
)

// ClientEvent is a tagged request from an attached window. Field relevance
// depends on Type; ParseClientEvent validates the required fields per tag.
type ClientEvent struct {
	// Type discriminates the request.
	Type string `json:"type"`

	// RequestID correlates list/history/start replies with the caller.
	RequestID string `json:"requestId,omitempty"`
	// ConversationID addresses an existing session (continue, stop, delete,
	// history, permission-response, terminal-*).
	ConversationID string `json:"conversationId,omitempty"`

	// Prompt is the user message text (start, continue).
	Prompt string `json:"prompt,omitempty"`
	// WorkDir is the working directory for the run (start).
	WorkDir string `json:"workDir,omitempty"`
	// Model overrides the configured model (start).
	Model string `json:"model,omitempty"`
	// PermissionMode overrides the configured permission preset (start).
	PermissionMode string `json:"permissionMode,omitempty"`

	// ToolUseID identifies the pending permission being resolved
	// (permission-response).
	ToolUseID string `json:"toolUseId,omitempty"`
	// Allow is the permission decision (permission-response).
	Allow bool `json:"allow,omitempty"`
	// Message is an optional note attached to the decision.
	Message string `json:"message,omitempty"`
	// UpdatedInput optionally overrides the tool input for approvals.
	UpdatedInput json.RawMessage `json:"updatedInput,omitempty"`

	// Data is the raw input chunk for terminal-input.
	Data string `json:"data,omitempty"`
}

// ParseClientEvent decodes and validates a tagged client request.
func ParseClientEvent(data []byte) (*ClientEvent, error) {
	var ev ClientEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("malformed client event: %w", err)
	}

	switch ev.Type {
	case ClientStart:
		if ev.Prompt == "" {
			return nil, fmt.Errorf("start: prompt is required")
		}
	case ClientContinue:
		if ev.ConversationID == "" {
			return nil, fmt.Errorf("continue: conversationId is required")
		}
		if ev.Prompt == "" {
			return nil, fmt.Errorf("continue: prompt is required")
		}
	case ClientStop, ClientDelete, ClientHistory, ClientTerminalAttach:
		if ev.ConversationID == "" {
			return nil, fmt.Errorf("%s: conversationId is required", ev.Type)
		}
	case ClientList:
	case ClientPermissionResponse:
		if ev.ConversationID == "" || ev.ToolUseID == "" {
			return nil, fmt.Errorf("permission-response: conversationId and toolUseId are required")
		}
	case ClientTerminalInput:
		if ev.ConversationID == "" {
			return nil, fmt.Errorf("terminal-input: conversationId is required")
		}
	case "":
		return nil, fmt.Errorf("client event missing type")
	default:
		return nil, fmt.Errorf("unknown client event type %q", ev.Type)
	}
	return &ev, nil
}
