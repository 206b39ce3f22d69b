package history

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/banterhq/banter/internal/wire"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()

	var key [32]byte
	copy(key[:], []byte("0123456789abcdef0123456789abcdef"))

	store, err := Open(filepath.Join(t.TempDir(), "history.db"), &key)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestAppendAndListMessages(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateConversation(ctx, "conv-1"))
	require.NoError(t, store.AppendMessage(ctx, "conv-1", &wire.Message{
		Type: wire.MessageAssistant, Text: "hello",
	}))
	require.NoError(t, store.AppendMessage(ctx, "conv-1", &wire.Message{
		Type: wire.MessageResult, NumTurns: 1,
	}))

	msgs, err := store.ListMessages(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, wire.MessageAssistant, msgs[0].Type)
	require.Equal(t, "hello", msgs[0].Text)
	require.Equal(t, wire.MessageResult, msgs[1].Type)
}

func TestAppendToUnknownConversationFails(t *testing.T) {
	store := newTestStore(t)

	err := store.AppendMessage(context.Background(), "missing", &wire.Message{
		Type: wire.MessageAssistant, Text: "x",
	})
	require.Error(t, err)
}

func TestCreateConversationIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateConversation(ctx, "conv-1"))
	require.NoError(t, store.AppendMessage(ctx, "conv-1", &wire.Message{
		Type: wire.MessageAssistant, Text: "kept",
	}))
	require.NoError(t, store.CreateConversation(ctx, "conv-1"))

	msgs, err := store.ListMessages(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
}

func TestListConversationsCountsMessages(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateConversation(ctx, "conv-1"))
	require.NoError(t, store.CreateConversation(ctx, "conv-2"))
	require.NoError(t, store.AppendMessage(ctx, "conv-1", &wire.Message{
		Type: wire.MessageAssistant, Text: "a",
	}))

	list, err := store.ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)

	byID := make(map[string]int64, len(list))
	for _, s := range list {
		byID[s.ConversationID] = s.MessageCount
	}
	require.Equal(t, int64(1), byID["conv-1"])
	require.Equal(t, int64(0), byID["conv-2"])
}

func TestDeleteConversationCascadesAndIgnoresUnknown(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateConversation(ctx, "conv-1"))
	require.NoError(t, store.AppendMessage(ctx, "conv-1", &wire.Message{
		Type: wire.MessageAssistant, Text: "a",
	}))

	deleted, err := store.DeleteConversation(ctx, "conv-1")
	require.NoError(t, err)
	require.True(t, deleted)

	msgs, err := store.ListMessages(ctx, "conv-1")
	require.NoError(t, err)
	require.Empty(t, msgs)

	deleted, err = store.DeleteConversation(ctx, "missing")
	require.NoError(t, err)
	require.False(t, deleted)
}

func TestMessagesAreSealedAtRest(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateConversation(ctx, "conv-1"))
	require.NoError(t, store.AppendMessage(ctx, "conv-1", &wire.Message{
		Type: wire.MessageAssistant, Text: "super secret",
	}))

	var content string
	require.NoError(t, store.db.QueryRow(
		`SELECT content FROM messages LIMIT 1`).Scan(&content))
	require.NotContains(t, content, "super secret")
}
