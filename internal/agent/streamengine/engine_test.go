package streamengine

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/banterhq/banter/internal/agent"
	"github.com/banterhq/banter/internal/wire"
)

type allowAll struct{}

func (allowAll) AwaitPermission(ctx context.Context, req wire.PermissionRequest) (wire.PermissionDecision, error) {
	return wire.PermissionDecision{Allow: true}, nil
}

type denyAll struct{ message string }

func (d denyAll) AwaitPermission(ctx context.Context, req wire.PermissionRequest) (wire.PermissionDecision, error) {
	return wire.PermissionDecision{Allow: false, Message: d.message}, nil
}

func drainEvent(t *testing.T, e *Engine) agent.Event {
	t.Helper()
	select {
	case ev := <-e.Events():
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for engine event")
		return nil
	}
}

func TestHandleLineInitEmitsConversationThenMessage(t *testing.T) {
	e := New(nil, nil, false)

	e.handleLine([]byte(`{"type":"init","conversationId":"c-42","model":"m","tools":["Bash"]}`))

	ev := drainEvent(t, e)
	conv, ok := ev.(agent.EvConversation)
	require.True(t, ok, "expected EvConversation, got %T", ev)
	require.Equal(t, "c-42", conv.ConversationID)

	ev = drainEvent(t, e)
	msg, ok := ev.(agent.EvMessage)
	require.True(t, ok, "expected EvMessage, got %T", ev)
	require.Equal(t, wire.MessageInit, msg.Message.Type)
	require.Equal(t, "c-42", msg.Message.ConversationID)
}

func TestHandleLineResultSignalsThinkingDone(t *testing.T) {
	e := New(nil, nil, false)

	e.handleLine([]byte(`{"type":"result","durationMs":10,"numTurns":1}`))

	_, ok := drainEvent(t, e).(agent.EvMessage)
	require.True(t, ok)
	thinking, ok := drainEvent(t, e).(agent.EvThinking)
	require.True(t, ok)
	require.False(t, thinking.Thinking)
}

func TestHandleLineReadySignalsOnce(t *testing.T) {
	e := New(nil, nil, false)

	e.handleLine([]byte(`{"type":"ready"}`))
	e.handleLine([]byte(`{"type":"ready"}`))

	select {
	case <-e.ready:
	default:
		t.Fatal("ready channel not closed")
	}
}

func TestHandleLineIgnoresGarbage(t *testing.T) {
	e := New(nil, nil, false)

	e.handleLine([]byte(`not json`))
	e.handleLine([]byte(`{"type":"surprise"}`))

	select {
	case ev := <-e.Events():
		t.Fatalf("unexpected event %T", ev)
	default:
	}
}

// captureStdin points the engine's stdin encoder at a buffer so control
// responses can be inspected without a live subprocess.
func captureStdin(e *Engine) *bytes.Buffer {
	var buf bytes.Buffer
	e.mu.Lock()
	e.stdinWriter = json.NewEncoder(&buf)
	e.running = true
	e.mu.Unlock()
	return &buf
}

func TestControlRequestAllowEchoesInput(t *testing.T) {
	e := New(nil, allowAll{}, false)
	buf := captureStdin(e)

	e.handleControlRequest(&controlLine{
		Type:      "control_request",
		RequestID: "req-1",
		Request:   json.RawMessage(`{"toolUseId":"t1","toolName":"Bash","input":{"command":"ls"}}`),
	})

	var out controlLine
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	require.Equal(t, "control_response", out.Type)
	require.Equal(t, "req-1", out.RequestID)

	var resp controlResponse
	require.NoError(t, json.Unmarshal(out.Response, &resp))
	require.Equal(t, "allow", resp.Behavior)
	require.JSONEq(t, `{"command":"ls"}`, string(resp.UpdatedInput))
}

func TestControlRequestDenyCarriesMessage(t *testing.T) {
	e := New(nil, denyAll{message: "not today"}, false)
	buf := captureStdin(e)

	e.handleControlRequest(&controlLine{
		RequestID: "req-2",
		Request:   json.RawMessage(`{"toolUseId":"t2","toolName":"Write","input":{}}`),
	})

	var out controlLine
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	var resp controlResponse
	require.NoError(t, json.Unmarshal(out.Response, &resp))
	require.Equal(t, "deny", resp.Behavior)
	require.Equal(t, "not today", resp.Message)
}

func TestControlRequestWithoutRequesterDenies(t *testing.T) {
	e := New(nil, nil, false)
	buf := captureStdin(e)

	e.handleControlRequest(&controlLine{
		RequestID: "req-3",
		Request:   json.RawMessage(`{"toolUseId":"t3","toolName":"Bash","input":{}}`),
	})

	var out controlLine
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	var resp controlResponse
	require.NoError(t, json.Unmarshal(out.Response, &resp))
	require.Equal(t, "deny", resp.Behavior)
}

func TestAbortBeforeStartIsNoop(t *testing.T) {
	e := New(nil, nil, false)
	require.NoError(t, e.Abort(context.Background()))
}
