// Package agent defines the engine abstraction between the event router and
// the conversational-agent runtime.
//
// Implementations own process/protocol lifecycle and report progress through
// Events(); they never touch router or session state directly.
package agent

import (
	"context"

	"github.com/banterhq/banter/internal/wire"
)

// StartSpec configures an engine start.
type StartSpec struct {
	// WorkDir is the effective working directory for the run.
	WorkDir string
	// ResumeToken is the conversation id to resume, when continuing an
	// existing conversation after its engine handle was released.
	ResumeToken string
	// Model selects the upstream model identifier (engine-specific,
	// empty means default).
	Model string
	// PermissionMode selects the approval preset for the run.
	PermissionMode string
}

// UserMessage is a single user-authored message to send to an engine.
type UserMessage struct {
	// Text is the prompt text.
	Text string
	// LocalID is the client-generated identifier used for correlation.
	LocalID string
	// AtMs is the wall-clock timestamp (unix millis) of the message.
	AtMs int64
}

// PermissionRequester blocks until a user resolves a tool permission prompt.
//
// Engines use this to route approval prompts to attached windows and wait for
// a decision without embedding any routing logic.
type PermissionRequester interface {
	AwaitPermission(ctx context.Context, req wire.PermissionRequest) (wire.PermissionDecision, error)
}

// Event is a marker interface for engine-emitted events.
type Event interface {
	isEngineEvent()
}

// EvReady indicates the engine is ready to accept input.
type EvReady struct{}

func (EvReady) isEngineEvent() {}

// EvConversation carries the conversation id assigned by the agent runtime.
type EvConversation struct {
	// ConversationID is the runtime-assigned identifier.
	ConversationID string
}

func (EvConversation) isEngineEvent() {}

// EvMessage carries a single agent message.
type EvMessage struct {
	// Message is the decoded agent message.
	Message *wire.Message
}

func (EvMessage) isEngineEvent() {}

// EvThinking reports whether the engine is currently working on a turn.
//
// This is an ephemeral UI signal, not durable session state.
type EvThinking struct {
	// Thinking is true while the engine processes a turn.
	Thinking bool
	// AtMs is the wall-clock timestamp (unix millis) of the observation.
	AtMs int64
}

func (EvThinking) isEngineEvent() {}

// EvExited indicates the engine stopped.
type EvExited struct {
	// Err is the exit error, if any.
	Err error
}

func (EvExited) isEngineEvent() {}

// Engine is the agent-specific runtime driven by the event router.
type Engine interface {
	// Start launches the engine for one conversation.
	Start(ctx context.Context, spec StartSpec) error
	// Send delivers a user-authored message to the engine.
	Send(ctx context.Context, msg UserMessage) error
	// Abort aborts an in-flight turn (best-effort, idempotent).
	Abort(ctx context.Context) error
	// Close fully shuts down the engine and releases underlying resources.
	Close(ctx context.Context) error
	// Events returns the engine event channel. Implementations must not block
	// indefinitely on sends to this channel.
	Events() <-chan Event
	// Wait blocks until the engine exits and returns its exit error.
	Wait() error
}

// Factory constructs a fresh engine per conversation. The requester is used
// for tool permission prompts in engines that support them.
type Factory func(requester PermissionRequester) Engine
