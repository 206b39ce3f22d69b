package wire

import "encoding/json"

// Server event type tags (daemon → windows).
const (
	EventSessionUpdate     = "session-update"
	EventSessionDeleted    = "session-deleted"
	EventMessage           = "message"
	EventPermissionRequest = "permission-request"
	EventActivity          = "activity"
	EventTerminalOutput    = "terminal-output"
	EventSessionList       = "session-list"
	EventSessionHistory    = "session-history"
	EventError             = "error"
)

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	StatusIdle      SessionStatus = "idle"
	StatusRunning   SessionStatus = "running"
	StatusCompleted SessionStatus = "completed"
	StatusError     SessionStatus = "error"
)

// SessionSummary is the per-session view returned by list.
type SessionSummary struct {
	ConversationID string        `json:"conversationId"`
	Status         SessionStatus `json:"status"`
	CreatedAt      int64         `json:"createdAt,omitempty"`
	UpdatedAt      int64         `json:"updatedAt,omitempty"`
	MessageCount   int64         `json:"messageCount,omitempty"`
}

// ServerEvent is a tagged event broadcast to all attached windows.
//
// Field relevance depends on Type, mirroring ClientEvent.
type ServerEvent struct {
	// Type discriminates the event.
	Type string `json:"type"`

	// RequestID echoes the originating request for list/history replies.
	RequestID string `json:"requestId,omitempty"`
	// ConversationID scopes the event to a session where applicable.
	ConversationID string `json:"conversationId,omitempty"`

	// Status is the session state (session-update).
	Status SessionStatus `json:"status,omitempty"`

	// Message is the agent message payload (message).
	Message *Message `json:"message,omitempty"`

	// Permission is the pending approval prompt (permission-request).
	Permission *PermissionRequest `json:"permission,omitempty"`

	// Thinking reports run activity (activity).
	Thinking bool `json:"thinking,omitempty"`

	// Chunk is a raw terminal output fragment (terminal-output).
	Chunk string `json:"chunk,omitempty"`

	// Sessions is the list reply payload (session-list).
	Sessions []SessionSummary `json:"sessions,omitempty"`
	// Messages is the history reply payload (session-history).
	Messages []Message `json:"messages,omitempty"`

	// Error is a stringified failure description (error).
	Error string `json:"error,omitempty"`
}

// Encode marshals the event for the window channel.
func (e *ServerEvent) Encode() ([]byte, error) {
	return json.Marshal(e)
}
