// Package fakeengine is a deterministic in-memory agent.Engine used in tests
// and as the "fake" engine mode for UI development without an upstream agent.
package fakeengine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/banterhq/banter/internal/agent"
	"github.com/banterhq/banter/internal/wire"
	"github.com/banterhq/banter/pkg/types"
)

// Engine implements agent.Engine without any external process.
//
// On Start it announces a conversation id; every Send is answered with a
// canned assistant message followed by a result. Tests can also inject
// arbitrary events with Emit.
type Engine struct {
	// ConversationID is announced on Start. Defaults to a fresh id.
	ConversationID string
	// Reply produces the assistant text for a user message. Defaults to an
	// echo response.
	Reply func(text string) string
	// RequirePermission, when set, routes every Send through the requester
	// with this tool name before answering.
	RequirePermission string

	requester agent.PermissionRequester

	mu      sync.Mutex
	started bool
	closed  bool
	spec    agent.StartSpec

	events chan agent.Event
	done   chan struct{}
}

// New returns a fake engine wired to the given permission requester.
func New(requester agent.PermissionRequester) *Engine {
	return &Engine{
		requester: requester,
		events:    make(chan agent.Event, 128),
		done:      make(chan struct{}),
	}
}

// Events implements agent.Engine.
func (e *Engine) Events() <-chan agent.Event {
	return e.events
}

// Start implements agent.Engine.
func (e *Engine) Start(ctx context.Context, spec agent.StartSpec) error {
	_ = ctx

	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return fmt.Errorf("engine already started")
	}
	e.started = true
	e.spec = spec
	if e.ConversationID == "" {
		if spec.ResumeToken != "" {
			e.ConversationID = spec.ResumeToken
		} else {
			e.ConversationID = types.NewConversationID()
		}
	}
	id := e.ConversationID
	e.mu.Unlock()

	e.Emit(agent.EvReady{})
	e.Emit(agent.EvConversation{ConversationID: id})
	e.Emit(agent.EvMessage{Message: &wire.Message{
		Type:           wire.MessageInit,
		ConversationID: id,
		Model:          "fake",
		AtMs:           time.Now().UnixMilli(),
	}})
	return nil
}

// StartSpec returns the spec the engine was started with.
func (e *Engine) StartSpec() agent.StartSpec {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.spec
}

// Send implements agent.Engine.
func (e *Engine) Send(ctx context.Context, msg agent.UserMessage) error {
	e.mu.Lock()
	if !e.started || e.closed {
		e.mu.Unlock()
		return fmt.Errorf("engine not running")
	}
	id := e.ConversationID
	reply := e.Reply
	toolName := e.RequirePermission
	requester := e.requester
	e.mu.Unlock()

	e.Emit(agent.EvThinking{Thinking: true, AtMs: time.Now().UnixMilli()})

	if toolName != "" && requester != nil {
		decision, err := requester.AwaitPermission(ctx, wire.PermissionRequest{
			ToolUseID: types.NewCUID(),
			ToolName:  toolName,
		})
		if err != nil {
			return err
		}
		if !decision.Allow {
			e.Emit(agent.EvMessage{Message: &wire.Message{
				Type:           wire.MessageAssistant,
				ConversationID: id,
				Text:           "tool use was denied",
				AtMs:           time.Now().UnixMilli(),
			}})
			e.Emit(agent.EvThinking{Thinking: false, AtMs: time.Now().UnixMilli()})
			return nil
		}
	}

	text := "echo: " + msg.Text
	if reply != nil {
		text = reply(msg.Text)
	}

	e.Emit(agent.EvMessage{Message: &wire.Message{
		Type:           wire.MessageAssistant,
		ID:             types.NewCUID(),
		ConversationID: id,
		Text:           text,
		AtMs:           time.Now().UnixMilli(),
	}})
	e.Emit(agent.EvMessage{Message: &wire.Message{
		Type:           wire.MessageResult,
		ConversationID: id,
		NumTurns:       1,
		AtMs:           time.Now().UnixMilli(),
	}})
	e.Emit(agent.EvThinking{Thinking: false, AtMs: time.Now().UnixMilli()})
	return nil
}

// Abort implements agent.Engine.
func (e *Engine) Abort(ctx context.Context) error {
	_ = ctx
	e.Emit(agent.EvThinking{Thinking: false, AtMs: time.Now().UnixMilli()})
	return nil
}

// Close implements agent.Engine.
func (e *Engine) Close(ctx context.Context) error {
	_ = ctx

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	close(e.done)
	return nil
}

// Wait implements agent.Engine.
func (e *Engine) Wait() error {
	<-e.done
	return nil
}

// Emit injects an event, dropping it if the channel is full or the engine is
// closed.
func (e *Engine) Emit(ev agent.Event) {
	select {
	case <-e.done:
		return
	default:
	}

	select {
	case e.events <- ev:
	default:
	}
}
