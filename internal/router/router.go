// Package router dispatches tagged client requests from attached windows to
// agent engines and broadcasts the resulting tagged events back out.
//
// The router owns no transport: windows feed it decoded wire.ClientEvents and
// it answers through the injected Emitter. All per-conversation runtime state
// lives in the injected session.Table.
package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/banterhq/banter/internal/agent"
	"github.com/banterhq/banter/internal/history"
	"github.com/banterhq/banter/internal/session"
	"github.com/banterhq/banter/internal/terminal"
	"github.com/banterhq/banter/internal/wire"
	"github.com/banterhq/banter/pkg/logger"
	"github.com/banterhq/banter/pkg/types"
)

// Emitter broadcasts a server event to every attached window.
type Emitter interface {
	Broadcast(ev *wire.ServerEvent)
}

// Defaults are daemon-level engine settings applied when a client request
// leaves the field empty.
type Defaults struct {
	Model          string
	PermissionMode string
}

// Router is the daemon's event dispatcher.
type Router struct {
	table     *session.Table
	store     history.Store
	factory   agent.Factory
	emitter   Emitter
	defaults  Defaults
	terminals *terminal.Manager
}

// New wires a router against its collaborators.
func New(table *session.Table, store history.Store, factory agent.Factory, emitter Emitter, defaults Defaults) *Router {
	return &Router{
		table:    table,
		store:    store,
		factory:  factory,
		emitter:  emitter,
		defaults: defaults,
	}
}

// Dispatch routes one client request. Failures surface as error events to the
// windows, never as panics; requests addressing unknown conversations are
// silently ignored where the operation allows it.
func (r *Router) Dispatch(ctx context.Context, ev *wire.ClientEvent) {
	switch ev.Type {
	case wire.ClientStart:
		r.handleStart(ctx, ev)
	case wire.ClientContinue:
		r.handleContinue(ctx, ev)
	case wire.ClientStop:
		r.handleStop(ctx, ev)
	case wire.ClientDelete:
		r.handleDelete(ctx, ev)
	case wire.ClientList:
		r.handleList(ctx, ev)
	case wire.ClientHistory:
		r.handleHistory(ctx, ev)
	case wire.ClientPermissionResponse:
		r.handlePermissionResponse(ev)
	case wire.ClientTerminalAttach:
		r.handleTerminalAttach(ev)
	case wire.ClientTerminalInput:
		r.handleTerminalInput(ev)
	default:
		logger.Debugf("router: ignoring client event type %q", ev.Type)
	}
}

// engineRun tracks one live engine's mutable conversation key and serves as
// its permission requester.
type engineRun struct {
	r *Router

	mu        sync.Mutex
	id        string
	announced bool

	// adopted is closed once the runtime conversation id is known, gating the
	// initial prompt so permission prompts never register under a provisional
	// key.
	adopted chan struct{}
}

func (run *engineRun) currentID() string {
	run.mu.Lock()
	defer run.mu.Unlock()
	return run.id
}

func (run *engineRun) setID(id string) {
	run.mu.Lock()
	run.id = id
	run.mu.Unlock()
}

// announceOnce reports true the first time it is called for this run.
func (run *engineRun) announceOnce() bool {
	run.mu.Lock()
	defer run.mu.Unlock()
	if run.announced {
		return false
	}
	run.announced = true
	close(run.adopted)
	return true
}

// AwaitPermission implements agent.PermissionRequester. It parks the engine
// on a resolver channel registered in the session table and broadcasts the
// prompt to the windows.
func (run *engineRun) AwaitPermission(ctx context.Context, req wire.PermissionRequest) (wire.PermissionDecision, error) {
	id := run.currentID()

	ch, ok := run.r.table.RegisterPermission(id, req.ToolUseID)
	if !ok {
		return wire.PermissionDecision{}, fmt.Errorf("cannot register permission for conversation %q", id)
	}

	run.r.emitter.Broadcast(&wire.ServerEvent{
		Type:           wire.EventPermissionRequest,
		ConversationID: id,
		Permission:     &req,
	})

	select {
	case decision := <-ch:
		return decision, nil
	case <-ctx.Done():
		run.r.table.DropPermission(id, req.ToolUseID)
		return wire.PermissionDecision{}, ctx.Err()
	}
}

func (r *Router) handleStart(ctx context.Context, ev *wire.ClientEvent) {
	_ = ctx

	key := ev.RequestID
	if key == "" {
		key = types.NewCUID()
	}

	r.startEngine(key, agent.StartSpec{
		WorkDir:        ev.WorkDir,
		Model:          ev.Model,
		PermissionMode: ev.PermissionMode,
	}, ev.Prompt, ev.RequestID)
}

func (r *Router) handleContinue(ctx context.Context, ev *wire.ClientEvent) {
	_ = ctx

	if sess := r.table.Get(ev.ConversationID); sess != nil && sess.Engine() != nil {
		eng := sess.Engine()
		r.table.SetStatus(ev.ConversationID, wire.StatusRunning)
		r.emitter.Broadcast(&wire.ServerEvent{
			Type:           wire.EventSessionUpdate,
			ConversationID: ev.ConversationID,
			Status:         wire.StatusRunning,
		})
		go func() {
			if err := eng.Send(context.Background(), agent.UserMessage{
				Text:    ev.Prompt,
				LocalID: ev.RequestID,
				AtMs:    time.Now().UnixMilli(),
			}); err != nil {
				r.broadcastError(ev.RequestID, ev.ConversationID, err)
			}
		}()
		return
	}

	// No live handle: spin up a fresh engine resuming the conversation.
	r.startEngine(ev.ConversationID, agent.StartSpec{
		ResumeToken: ev.ConversationID,
	}, ev.Prompt, ev.RequestID)
}

// startEngine creates a session entry keyed by key, launches an engine for
// it, and sends the initial prompt once the engine is ready.
func (r *Router) startEngine(key string, spec agent.StartSpec, prompt, requestID string) {
	if spec.Model == "" {
		spec.Model = r.defaults.Model
	}
	if spec.PermissionMode == "" {
		spec.PermissionMode = r.defaults.PermissionMode
	}

	runCtx, cancel := context.WithCancel(context.Background())

	run := &engineRun{r: r, id: key, adopted: make(chan struct{})}
	eng := r.factory(run)

	_, superseded := r.table.Create(key, eng, cancel)
	if superseded != nil {
		r.closeEngine(superseded)
	}

	go r.consumeEvents(runCtx, run, eng)

	go func() {
		if err := eng.Start(runCtx, spec); err != nil {
			logger.Errorf("router: engine start failed for %s: %v", key, err)
			if released := r.table.Remove(key); released != nil {
				r.closeEngine(released)
			}
			cancel()
			r.broadcastError(requestID, key, err)
			return
		}

		go func() { _ = eng.Wait() }()

		select {
		case <-run.adopted:
		case <-runCtx.Done():
			return
		case <-time.After(30 * time.Second):
			logger.Warnf("router: no conversation id from engine for %s", key)
		}

		if err := eng.Send(runCtx, agent.UserMessage{
			Text:    prompt,
			LocalID: requestID,
			AtMs:    time.Now().UnixMilli(),
		}); err != nil {
			r.broadcastError(requestID, run.currentID(), err)
		}
	}()
}

// consumeEvents is the per-engine event loop. It serializes all broadcasts
// for one conversation, so windows observe the running status update before
// any message of that run.
func (r *Router) consumeEvents(ctx context.Context, run *engineRun, eng agent.Engine) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-eng.Events():
			switch ev := ev.(type) {
			case agent.EvReady:

			case agent.EvConversation:
				r.adoptConversation(run, ev.ConversationID)

			case agent.EvMessage:
				r.forwardMessage(run, ev.Message)

			case agent.EvThinking:
				r.emitter.Broadcast(&wire.ServerEvent{
					Type:           wire.EventActivity,
					ConversationID: run.currentID(),
					Thinking:       ev.Thinking,
				})

			case agent.EvExited:
				id := run.currentID()
				if ev.Err != nil {
					logger.Warnf("router: engine for %s exited: %v", id, ev.Err)
					r.table.SetStatus(id, wire.StatusError)
					r.emitter.Broadcast(&wire.ServerEvent{
						Type:           wire.EventSessionUpdate,
						ConversationID: id,
						Status:         wire.StatusError,
					})
				}
				if released := r.table.Release(id); released != nil {
					r.closeEngine(released)
				}
				return
			}
		}
	}
}

func (r *Router) adoptConversation(run *engineRun, conversationID string) {
	provisional := run.currentID()

	superseded, adopted := r.table.Adopt(provisional, conversationID)
	if adopted {
		run.setID(conversationID)
	}
	if superseded != nil {
		r.closeEngine(superseded)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.store.CreateConversation(ctx, conversationID); err != nil {
		logger.Errorf("router: failed to persist conversation %s: %v", conversationID, err)
	}

	if run.announceOnce() {
		r.table.SetStatus(conversationID, wire.StatusRunning)
		r.emitter.Broadcast(&wire.ServerEvent{
			Type:           wire.EventSessionUpdate,
			ConversationID: conversationID,
			Status:         wire.StatusRunning,
		})
	}
}

func (r *Router) forwardMessage(run *engineRun, msg *wire.Message) {
	id := run.currentID()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := r.store.AppendMessage(ctx, id, msg); err != nil {
		logger.Warnf("router: failed to persist message for %s: %v", id, err)
	}
	cancel()

	r.emitter.Broadcast(&wire.ServerEvent{
		Type:           wire.EventMessage,
		ConversationID: id,
		Message:        msg,
	})

	if msg.Type == wire.MessageResult {
		r.table.SetStatus(id, wire.StatusCompleted)
		r.emitter.Broadcast(&wire.ServerEvent{
			Type:           wire.EventSessionUpdate,
			ConversationID: id,
			Status:         wire.StatusCompleted,
		})
	}
}

func (r *Router) handleStop(ctx context.Context, ev *wire.ClientEvent) {
	_ = ctx

	eng := r.table.Release(ev.ConversationID)
	if eng == nil {
		logger.Debugf("router: stop for unknown conversation %s", ev.ConversationID)
		return
	}

	r.emitter.Broadcast(&wire.ServerEvent{
		Type:           wire.EventSessionUpdate,
		ConversationID: ev.ConversationID,
		Status:         wire.StatusIdle,
	})

	go func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = eng.Abort(shutdownCtx)
		_ = eng.Close(shutdownCtx)
	}()
}

func (r *Router) handleDelete(ctx context.Context, ev *wire.ClientEvent) {
	removedRuntime := false
	if eng := r.table.Remove(ev.ConversationID); eng != nil {
		removedRuntime = true
		r.closeEngine(eng)
	}

	removedStored, err := r.store.DeleteConversation(ctx, ev.ConversationID)
	if err != nil {
		logger.Errorf("router: failed to delete conversation %s: %v", ev.ConversationID, err)
		r.broadcastError(ev.RequestID, ev.ConversationID, err)
		return
	}

	if !removedRuntime && !removedStored {
		logger.Debugf("router: delete for unknown conversation %s", ev.ConversationID)
		return
	}

	r.emitter.Broadcast(&wire.ServerEvent{
		Type:           wire.EventSessionDeleted,
		ConversationID: ev.ConversationID,
	})
}

func (r *Router) handleList(ctx context.Context, ev *wire.ClientEvent) {
	stored, err := r.store.ListConversations(ctx)
	if err != nil {
		r.broadcastError(ev.RequestID, "", err)
		return
	}

	// Runtime state wins over what the store remembers.
	live := make(map[string]wire.SessionSummary)
	for _, s := range r.table.List() {
		live[s.ConversationID] = s
	}

	out := make([]wire.SessionSummary, 0, len(stored)+len(live))
	for _, s := range stored {
		if runtime, ok := live[s.ConversationID]; ok {
			s.Status = runtime.Status
			delete(live, s.ConversationID)
		}
		out = append(out, s)
	}
	for _, s := range live {
		out = append(out, s)
	}

	r.emitter.Broadcast(&wire.ServerEvent{
		Type:      wire.EventSessionList,
		RequestID: ev.RequestID,
		Sessions:  out,
	})
}

func (r *Router) handleHistory(ctx context.Context, ev *wire.ClientEvent) {
	msgs, err := r.store.ListMessages(ctx, ev.ConversationID)
	if err != nil {
		r.broadcastError(ev.RequestID, ev.ConversationID, err)
		return
	}

	r.emitter.Broadcast(&wire.ServerEvent{
		Type:           wire.EventSessionHistory,
		RequestID:      ev.RequestID,
		ConversationID: ev.ConversationID,
		Messages:       msgs,
	})
}

func (r *Router) handlePermissionResponse(ev *wire.ClientEvent) {
	resolved := r.table.ResolvePermission(ev.ConversationID, ev.ToolUseID, wire.PermissionDecision{
		Allow:        ev.Allow,
		Message:      ev.Message,
		UpdatedInput: ev.UpdatedInput,
	})
	if !resolved {
		logger.Debugf("router: permission response for unknown prompt %s/%s",
			ev.ConversationID, ev.ToolUseID)
	}
}

// AttachTerminals enables the terminal-attach and terminal-input operations.
func (r *Router) AttachTerminals(m *terminal.Manager) {
	r.terminals = m
}

func (r *Router) handleTerminalAttach(ev *wire.ClientEvent) {
	if r.terminals == nil {
		r.broadcastError(ev.RequestID, ev.ConversationID,
			fmt.Errorf("terminal attach is disabled"))
		return
	}

	conversationID := ev.ConversationID
	_, err := r.terminals.Attach(conversationID, ev.WorkDir, func(chunk []byte) {
		r.emitter.Broadcast(&wire.ServerEvent{
			Type:           wire.EventTerminalOutput,
			ConversationID: conversationID,
			Chunk:          string(chunk),
		})
	})
	if err != nil {
		r.broadcastError(ev.RequestID, conversationID, err)
	}
}

func (r *Router) handleTerminalInput(ev *wire.ClientEvent) {
	if r.terminals == nil {
		return
	}
	if err := r.terminals.Write(ev.ConversationID, []byte(ev.Data)); err != nil {
		logger.Debugf("router: terminal input: %v", err)
	}
}

func (r *Router) closeEngine(eng agent.Engine) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := eng.Close(ctx); err != nil {
			logger.Debugf("router: engine close: %v", err)
		}
	}()
}

func (r *Router) broadcastError(requestID, conversationID string, err error) {
	r.emitter.Broadcast(&wire.ServerEvent{
		Type:           wire.EventError,
		RequestID:      requestID,
		ConversationID: conversationID,
		Error:          err.Error(),
	})
}
