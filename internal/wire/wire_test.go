package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseClientEventStart(t *testing.T) {
	ev, err := ParseClientEvent([]byte(`{"type":"start","requestId":"r1","prompt":"hello","workDir":"/tmp"}`))
	require.NoError(t, err)
	require.Equal(t, ClientStart, ev.Type)
	require.Equal(t, "r1", ev.RequestID)
	require.Equal(t, "hello", ev.Prompt)
}

func TestParseClientEventValidation(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"missing type", `{"prompt":"x"}`},
		{"unknown type", `{"type":"dance"}`},
		{"start without prompt", `{"type":"start"}`},
		{"continue without conversation", `{"type":"continue","prompt":"x"}`},
		{"stop without conversation", `{"type":"stop"}`},
		{"permission without toolUseId", `{"type":"permission-response","conversationId":"c1"}`},
		{"malformed json", `{`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseClientEvent([]byte(tc.raw))
			require.Error(t, err)
		})
	}
}

func TestParseClientEventPermissionResponse(t *testing.T) {
	ev, err := ParseClientEvent([]byte(`{"type":"permission-response","conversationId":"c1","toolUseId":"t1","allow":true,"updatedInput":{"cmd":"ls"}}`))
	require.NoError(t, err)
	require.True(t, ev.Allow)
	require.JSONEq(t, `{"cmd":"ls"}`, string(ev.UpdatedInput))
}

func TestParseMessageToolCall(t *testing.T) {
	msg, err := ParseMessage([]byte(`{"type":"tool_call","toolUseId":"t1","toolName":"Bash","input":{"command":"ls"}}`))
	require.NoError(t, err)
	require.Equal(t, MessageToolCall, msg.Type)
	require.Equal(t, "t1", msg.ToolUseID)
	require.Equal(t, "Bash", msg.ToolName)
	require.JSONEq(t, `{"command":"ls"}`, string(msg.Input))
}

func TestParseMessageIgnoresUnknownFields(t *testing.T) {
	msg, err := ParseMessage([]byte(`{"type":"result","durationMs":12,"numTurns":2,"futureField":true}`))
	require.NoError(t, err)
	require.Equal(t, MessageResult, msg.Type)
	require.Equal(t, int64(12), msg.DurationMs)
}

func TestServerEventEncode(t *testing.T) {
	ev := ServerEvent{
		Type:           EventSessionUpdate,
		ConversationID: "c1",
		Status:         StatusRunning,
	}
	data, err := ev.Encode()
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"session-update","conversationId":"c1","status":"running"}`, string(data))
}
