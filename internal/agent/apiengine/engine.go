// Package apiengine implements agent.Engine directly against the Anthropic
// Messages API, for text-only conversations without a local SDK runner.
//
// The engine keeps the transcript in memory and replays it on every turn.
// Tool execution is not supported in this mode, so no permission prompts are
// ever raised.
package apiengine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/banterhq/banter/internal/agent"
	"github.com/banterhq/banter/internal/wire"
	"github.com/banterhq/banter/pkg/logger"
	"github.com/banterhq/banter/pkg/types"
)

const defaultMaxTokens = 4096

// Engine implements agent.Engine over the Anthropic Messages API.
type Engine struct {
	client *anthropic.Client
	model  anthropic.Model

	mu             sync.Mutex
	conversationID string
	transcript     []anthropic.MessageParam
	cancelTurn     context.CancelFunc
	started        bool
	closed         bool

	events chan agent.Event
	done   chan struct{}
}

// New returns an API engine. An empty apiKey falls back to the client's
// environment-based configuration.
func New(apiKey, model string) *Engine {
	var clientOpts []option.RequestOption
	if apiKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(clientOpts...)

	m := anthropic.Model(model)
	if model == "" {
		m = anthropic.ModelClaudeSonnet4_0
	}

	return &Engine{
		client: &client,
		model:  m,
		events: make(chan agent.Event, 128),
		done:   make(chan struct{}),
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
	if spec.Model != "" {
		e.model = anthropic.Model(spec.Model)
	}
	e.conversationID = spec.ResumeToken
	if e.conversationID == "" {
		e.conversationID = types.NewConversationID()
	}
	id := e.conversationID
	e.mu.Unlock()

	e.tryEmit(agent.EvReady{})
	e.tryEmit(agent.EvConversation{ConversationID: id})
	e.tryEmit(agent.EvMessage{Message: &wire.Message{
		Type:           wire.MessageInit,
		ConversationID: id,
		Model:          string(e.model),
		AtMs:           time.Now().UnixMilli(),
	}})
	return nil
}

// Send implements agent.Engine. It runs one blocking API turn; the caller's
// event loop observes progress through Events().
func (e *Engine) Send(ctx context.Context, msg agent.UserMessage) error {
	e.mu.Lock()
	if !e.started || e.closed {
		e.mu.Unlock()
		return fmt.Errorf("engine not running")
	}
	e.transcript = append(e.transcript,
		anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Text)))
	messages := append([]anthropic.MessageParam(nil), e.transcript...)
	id := e.conversationID

	turnCtx, cancel := context.WithCancel(ctx)
	e.cancelTurn = cancel
	e.mu.Unlock()

	defer func() {
		cancel()
		e.mu.Lock()
		e.cancelTurn = nil
		e.mu.Unlock()
	}()

	e.tryEmit(agent.EvThinking{Thinking: true, AtMs: time.Now().UnixMilli()})
	started := time.Now()

	resp, err := e.client.Messages.New(turnCtx, anthropic.MessageNewParams{
		Model:     e.model,
		Messages:  messages,
		MaxTokens: defaultMaxTokens,
	})
	if err != nil {
		e.tryEmit(agent.EvThinking{Thinking: false, AtMs: time.Now().UnixMilli()})
		return fmt.Errorf("anthropic api error: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.AsText().Text
		}
	}

	e.mu.Lock()
	e.transcript = append(e.transcript,
		anthropic.NewAssistantMessage(anthropic.NewTextBlock(text)))
	e.mu.Unlock()

	e.tryEmit(agent.EvMessage{Message: &wire.Message{
		Type:           wire.MessageAssistant,
		ID:             string(resp.ID),
		ConversationID: id,
		Model:          string(resp.Model),
		Text:           text,
		AtMs:           time.Now().UnixMilli(),
	}})

	usage, err := json.Marshal(resp.Usage)
	if err != nil {
		logger.Warnf("failed to marshal usage: %v", err)
		usage = nil
	}
	e.tryEmit(agent.EvMessage{Message: &wire.Message{
		Type:           wire.MessageResult,
		ConversationID: id,
		DurationMs:     time.Since(started).Milliseconds(),
		NumTurns:       1,
		Usage:          usage,
		AtMs:           time.Now().UnixMilli(),
	}})
	e.tryEmit(agent.EvThinking{Thinking: false, AtMs: time.Now().UnixMilli()})
	return nil
}

// Abort implements agent.Engine by cancelling the in-flight API call, if any.
func (e *Engine) Abort(ctx context.Context) error {
	_ = ctx

	e.mu.Lock()
	cancel := e.cancelTurn
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	return nil
}

// Close implements agent.Engine.
func (e *Engine) Close(ctx context.Context) error {
	if err := e.Abort(ctx); err != nil {
		return err
	}

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

func (e *Engine) tryEmit(ev agent.Event) {
	select {
	case <-e.done:
		return
	default:
	}

	select {
	case e.events <- ev:
	default:
		logger.Debugf("[api] event channel full, dropping %T", ev)
	}
}
