package router

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/banterhq/banter/internal/agent"
	"github.com/banterhq/banter/internal/agent/fakeengine"
	"github.com/banterhq/banter/internal/session"
	"github.com/banterhq/banter/internal/wire"
)

// chanEmitter records broadcasts in order and exposes them on a channel.
type chanEmitter struct {
	ch chan *wire.ServerEvent
}

func newChanEmitter() *chanEmitter {
	return &chanEmitter{ch: make(chan *wire.ServerEvent, 256)}
}

func (e *chanEmitter) Broadcast(ev *wire.ServerEvent) {
	e.ch <- ev
}

// next waits for the next broadcast of the given type, failing the test after
// a timeout. Events of other types are collected and returned alongside.
func (e *chanEmitter) next(t *testing.T, eventType string) (*wire.ServerEvent, []*wire.ServerEvent) {
	t.Helper()

	var skipped []*wire.ServerEvent
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-e.ch:
			if ev.Type == eventType {
				return ev, skipped
			}
			skipped = append(skipped, ev)
		case <-deadline:
			t.Fatalf("timed out waiting for %s event (skipped %d others)", eventType, len(skipped))
			return nil, nil
		}
	}
}

func (e *chanEmitter) expectSilence(t *testing.T) {
	t.Helper()
	select {
	case ev := <-e.ch:
		t.Fatalf("unexpected broadcast %s", ev.Type)
	case <-time.After(100 * time.Millisecond):
	}
}

// fakeStore is an in-memory history.Store.
type fakeStore struct {
	mu            sync.Mutex
	conversations map[string][]wire.Message
}

func newFakeStore() *fakeStore {
	return &fakeStore{conversations: make(map[string][]wire.Message)}
}

func (s *fakeStore) CreateConversation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[id]; !ok {
		s.conversations[id] = nil
	}
	return nil
}

func (s *fakeStore) AppendMessage(ctx context.Context, id string, msg *wire.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[id] = append(s.conversations[id], *msg)
	return nil
}

func (s *fakeStore) ListMessages(ctx context.Context, id string) ([]wire.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]wire.Message(nil), s.conversations[id]...), nil
}

func (s *fakeStore) ListConversations(ctx context.Context) ([]wire.SessionSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]wire.SessionSummary, 0, len(s.conversations))
	for id, msgs := range s.conversations {
		out = append(out, wire.SessionSummary{
			ConversationID: id,
			MessageCount:   int64(len(msgs)),
		})
	}
	return out, nil
}

func (s *fakeStore) DeleteConversation(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[id]; !ok {
		return false, nil
	}
	delete(s.conversations, id)
	return true, nil
}

type fixture struct {
	router  *Router
	table   *session.Table
	store   *fakeStore
	emitter *chanEmitter
}

func newFixture(configure func(*fakeengine.Engine)) *fixture {
	return newFixtureWithDefaults(Defaults{}, configure)
}

func newFixtureWithDefaults(defaults Defaults, configure func(*fakeengine.Engine)) *fixture {
	table := session.NewTable()
	store := newFakeStore()
	emitter := newChanEmitter()

	factory := func(requester agent.PermissionRequester) agent.Engine {
		eng := fakeengine.New(requester)
		if configure != nil {
			configure(eng)
		}
		return eng
	}

	return &fixture{
		router:  New(table, store, factory, emitter, defaults),
		table:   table,
		store:   store,
		emitter: emitter,
	}
}

func TestStopUnknownConversationIsNoop(t *testing.T) {
	f := newFixture(nil)
	f.router.Dispatch(context.Background(), &wire.ClientEvent{
		Type: wire.ClientStop, ConversationID: "missing",
	})
	f.emitter.expectSilence(t)
}

func TestDeleteUnknownConversationIsNoop(t *testing.T) {
	f := newFixture(nil)
	f.router.Dispatch(context.Background(), &wire.ClientEvent{
		Type: wire.ClientDelete, ConversationID: "missing",
	})
	f.emitter.expectSilence(t)
}

func TestStartBroadcastsRunningBeforeMessages(t *testing.T) {
	f := newFixture(func(eng *fakeengine.Engine) {
		eng.ConversationID = "conv-1"
	})

	f.router.Dispatch(context.Background(), &wire.ClientEvent{
		Type: wire.ClientStart, RequestID: "req-1", Prompt: "hello",
	})

	// The first message event must be preceded by exactly one running update.
	msg, before := f.emitter.next(t, wire.EventMessage)
	require.Equal(t, "conv-1", msg.ConversationID)

	running := 0
	for _, ev := range before {
		if ev.Type == wire.EventSessionUpdate && ev.Status == wire.StatusRunning {
			running++
		}
	}
	require.Equal(t, 1, running, "expected exactly one running update before messages")

	// The provisional request id is re-keyed to the runtime id.
	require.Nil(t, f.table.Get("req-1"))
	require.NotNil(t, f.table.Get("conv-1"))
}

func TestStartFallsBackToConfiguredDefaults(t *testing.T) {
	var mu sync.Mutex
	var engines []*fakeengine.Engine

	f := newFixtureWithDefaults(Defaults{Model: "sonnet", PermissionMode: "plan"},
		func(eng *fakeengine.Engine) {
			eng.ConversationID = "conv-1"
			mu.Lock()
			engines = append(engines, eng)
			mu.Unlock()
		})

	f.router.Dispatch(context.Background(), &wire.ClientEvent{
		Type: wire.ClientStart, RequestID: "req-1", Prompt: "hello",
	})
	f.emitter.next(t, wire.EventMessage)

	mu.Lock()
	eng := engines[0]
	mu.Unlock()

	spec := eng.StartSpec()
	require.Equal(t, "sonnet", spec.Model)
	require.Equal(t, "plan", spec.PermissionMode)
}

func TestStartRequestOverridesDefaults(t *testing.T) {
	var mu sync.Mutex
	var engines []*fakeengine.Engine

	f := newFixtureWithDefaults(Defaults{Model: "sonnet", PermissionMode: "plan"},
		func(eng *fakeengine.Engine) {
			eng.ConversationID = "conv-1"
			mu.Lock()
			engines = append(engines, eng)
			mu.Unlock()
		})

	f.router.Dispatch(context.Background(), &wire.ClientEvent{
		Type: wire.ClientStart, RequestID: "req-1", Prompt: "hello", Model: "opus",
	})
	f.emitter.next(t, wire.EventMessage)

	mu.Lock()
	eng := engines[0]
	mu.Unlock()

	spec := eng.StartSpec()
	require.Equal(t, "opus", spec.Model)
	require.Equal(t, "plan", spec.PermissionMode)
}

func TestStartCompletesAfterResult(t *testing.T) {
	f := newFixture(func(eng *fakeengine.Engine) {
		eng.ConversationID = "conv-1"
	})

	f.router.Dispatch(context.Background(), &wire.ClientEvent{
		Type: wire.ClientStart, RequestID: "req-1", Prompt: "hello",
	})

	for {
		ev, _ := f.emitter.next(t, wire.EventSessionUpdate)
		if ev.Status == wire.StatusCompleted {
			require.Equal(t, "conv-1", ev.ConversationID)
			break
		}
	}
	require.Equal(t, wire.StatusCompleted, f.table.Status("conv-1"))
}

func TestPermissionResponseWithoutPendingIsNoop(t *testing.T) {
	f := newFixture(func(eng *fakeengine.Engine) {
		eng.ConversationID = "conv-1"
	})

	f.router.Dispatch(context.Background(), &wire.ClientEvent{
		Type: wire.ClientStart, RequestID: "req-1", Prompt: "hello",
	})
	f.emitter.next(t, wire.EventMessage)

	// No prompt is pending: the response must be swallowed.
	f.router.Dispatch(context.Background(), &wire.ClientEvent{
		Type:           wire.ClientPermissionResponse,
		ConversationID: "conv-1",
		ToolUseID:      "tool-1",
		Allow:          true,
	})
	require.Empty(t, f.table.PendingPermissions("conv-1"))
}

func TestPermissionPromptRoundTrip(t *testing.T) {
	f := newFixture(func(eng *fakeengine.Engine) {
		eng.ConversationID = "conv-1"
		eng.RequirePermission = "Bash"
	})

	f.router.Dispatch(context.Background(), &wire.ClientEvent{
		Type: wire.ClientStart, RequestID: "req-1", Prompt: "run it",
	})

	prompt, _ := f.emitter.next(t, wire.EventPermissionRequest)
	require.Equal(t, "conv-1", prompt.ConversationID)
	require.Equal(t, "Bash", prompt.Permission.ToolName)

	f.router.Dispatch(context.Background(), &wire.ClientEvent{
		Type:           wire.ClientPermissionResponse,
		ConversationID: "conv-1",
		ToolUseID:      prompt.Permission.ToolUseID,
		Allow:          true,
	})

	msg, _ := f.emitter.next(t, wire.EventMessage)
	for msg.Message.Type != wire.MessageAssistant {
		msg, _ = f.emitter.next(t, wire.EventMessage)
	}
	require.Contains(t, msg.Message.Text, "run it")
}

func TestContinueOnLiveEngineSendsToSameHandle(t *testing.T) {
	f := newFixture(func(eng *fakeengine.Engine) {
		eng.ConversationID = "conv-1"
	})

	f.router.Dispatch(context.Background(), &wire.ClientEvent{
		Type: wire.ClientStart, RequestID: "req-1", Prompt: "first",
	})
	f.emitter.next(t, wire.EventMessage)

	f.router.Dispatch(context.Background(), &wire.ClientEvent{
		Type: wire.ClientContinue, ConversationID: "conv-1", Prompt: "second",
	})

	for {
		ev, _ := f.emitter.next(t, wire.EventMessage)
		if ev.Message.Type == wire.MessageAssistant && ev.Message.Text == "echo: second" {
			break
		}
	}
}

func TestStopReleasesHandleAndBroadcastsIdle(t *testing.T) {
	f := newFixture(func(eng *fakeengine.Engine) {
		eng.ConversationID = "conv-1"
	})

	f.router.Dispatch(context.Background(), &wire.ClientEvent{
		Type: wire.ClientStart, RequestID: "req-1", Prompt: "hello",
	})
	f.emitter.next(t, wire.EventMessage)

	f.router.Dispatch(context.Background(), &wire.ClientEvent{
		Type: wire.ClientStop, ConversationID: "conv-1",
	})

	for {
		ev, _ := f.emitter.next(t, wire.EventSessionUpdate)
		if ev.Status == wire.StatusIdle {
			break
		}
	}
	require.Nil(t, f.table.Get("conv-1").Engine())
}

func TestDeleteRemovesSessionAndHistory(t *testing.T) {
	f := newFixture(func(eng *fakeengine.Engine) {
		eng.ConversationID = "conv-1"
	})

	f.router.Dispatch(context.Background(), &wire.ClientEvent{
		Type: wire.ClientStart, RequestID: "req-1", Prompt: "hello",
	})
	f.emitter.next(t, wire.EventMessage)

	f.router.Dispatch(context.Background(), &wire.ClientEvent{
		Type: wire.ClientDelete, ConversationID: "conv-1",
	})

	ev, _ := f.emitter.next(t, wire.EventSessionDeleted)
	require.Equal(t, "conv-1", ev.ConversationID)
	require.Nil(t, f.table.Get("conv-1"))

	msgs, err := f.store.ListMessages(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func TestListMergesRuntimeStatus(t *testing.T) {
	f := newFixture(func(eng *fakeengine.Engine) {
		eng.ConversationID = "conv-1"
	})

	f.router.Dispatch(context.Background(), &wire.ClientEvent{
		Type: wire.ClientStart, RequestID: "req-1", Prompt: "hello",
	})
	f.emitter.next(t, wire.EventMessage)

	f.router.Dispatch(context.Background(), &wire.ClientEvent{
		Type: wire.ClientList, RequestID: "list-1",
	})

	ev, _ := f.emitter.next(t, wire.EventSessionList)
	require.Equal(t, "list-1", ev.RequestID)
	require.Len(t, ev.Sessions, 1)
	require.Equal(t, "conv-1", ev.Sessions[0].ConversationID)
}

func TestHistoryRepliesWithTranscript(t *testing.T) {
	f := newFixture(func(eng *fakeengine.Engine) {
		eng.ConversationID = "conv-1"
	})

	f.router.Dispatch(context.Background(), &wire.ClientEvent{
		Type: wire.ClientStart, RequestID: "req-1", Prompt: "hello",
	})

	// Wait for the run to finish so the transcript is persisted.
	for {
		ev, _ := f.emitter.next(t, wire.EventSessionUpdate)
		if ev.Status == wire.StatusCompleted {
			break
		}
	}

	f.router.Dispatch(context.Background(), &wire.ClientEvent{
		Type: wire.ClientHistory, RequestID: "hist-1", ConversationID: "conv-1",
	})

	ev, _ := f.emitter.next(t, wire.EventSessionHistory)
	require.Equal(t, "hist-1", ev.RequestID)
	require.NotEmpty(t, ev.Messages)
}
