// Package render maps agent messages to presentation cards and tracks
// per-tool-call status for display. It is presentation-only: nothing in here
// touches sessions, engines, or transport.
package render

import (
	"bytes"
	"encoding/json"

	"github.com/banterhq/banter/internal/wire"
)

// CardKind classifies a display card.
type CardKind string

const (
	// CardText is assistant-authored prose.
	CardText CardKind = "text"
	// CardReasoning is intermediate reasoning, rendered de-emphasized.
	CardReasoning CardKind = "reasoning"
	// CardTool is a tool invocation with its input.
	CardTool CardKind = "tool"
	// CardToolResult is the outcome of a tool invocation.
	CardToolResult CardKind = "tool-result"
)

// Card is the display representation of one agent message.
type Card struct {
	Kind CardKind `json:"kind"`
	// ID is the source message id, when the producer assigned one.
	ID string `json:"id,omitempty"`
	// Body is the main text content.
	Body string `json:"body,omitempty"`

	// ToolUseID and ToolName are set for tool and tool-result cards.
	ToolUseID string `json:"toolUseId,omitempty"`
	ToolName  string `json:"toolName,omitempty"`
	// IsError marks a failed tool-result card.
	IsError bool `json:"isError,omitempty"`

	// AtMs is the source message timestamp.
	AtMs int64 `json:"atMs,omitempty"`
}

// RenderMessage maps one agent message to a card. Lifecycle messages (init,
// result) carry no display content and yield ok == false.
func RenderMessage(msg *wire.Message) (Card, bool) {
	switch msg.Type {
	case wire.MessageAssistant:
		return Card{
			Kind: CardText,
			ID:   msg.ID,
			Body: msg.Text,
			AtMs: msg.AtMs,
		}, true

	case wire.MessageReasoning:
		return Card{
			Kind: CardReasoning,
			ID:   msg.ID,
			Body: msg.Text,
			AtMs: msg.AtMs,
		}, true

	case wire.MessageToolCall:
		return Card{
			Kind:      CardTool,
			ID:        msg.ID,
			Body:      compactJSON(msg.Input),
			ToolUseID: msg.ToolUseID,
			ToolName:  msg.ToolName,
			AtMs:      msg.AtMs,
		}, true

	case wire.MessageToolResult:
		return Card{
			Kind:      CardToolResult,
			ID:        msg.ID,
			Body:      compactJSON(msg.Output),
			ToolUseID: msg.ToolUseID,
			IsError:   msg.IsError,
			AtMs:      msg.AtMs,
		}, true
	}
	return Card{}, false
}

// compactJSON renders a raw JSON payload on one line. Plain JSON strings are
// unquoted for readability; invalid payloads pass through verbatim.
func compactJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
