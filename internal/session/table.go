// Package session holds the daemon's in-memory runtime state: one entry per
// conversation, tracking lifecycle status, the live engine handle, and
// unresolved tool permission prompts.
//
// The table is an owned object handed to its consumers, not package-level
// state. All methods are safe for concurrent use.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/banterhq/banter/internal/agent"
	"github.com/banterhq/banter/internal/wire"
	"github.com/banterhq/banter/pkg/logger"
)

// Session is the runtime entry for one conversation.
type Session struct {
	// ConversationID is the current key of this entry. It starts as the
	// client's provisional request id and is re-keyed once the agent runtime
	// assigns the real conversation id.
	ConversationID string
	// Status is the lifecycle state.
	Status wire.SessionStatus
	// CreatedAt and UpdatedAt are unix-milli timestamps.
	CreatedAt int64
	UpdatedAt int64

	engine agent.Engine
	cancel context.CancelFunc

	// pendingPermissions maps toolUseId to the resolver channel an engine is
	// blocked on. Entries are removed before resolution so a decision is
	// delivered at most once.
	pendingPermissions map[string]chan wire.PermissionDecision
}

// Engine returns the live engine handle, or nil when the session is idle.
func (s *Session) Engine() agent.Engine {
	return s.engine
}

// Table is the conversation-id keyed session registry.
type Table struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewTable returns an empty session table.
func NewTable() *Table {
	return &Table{sessions: make(map[string]*Session)}
}

// Create registers a new session under the given (possibly provisional) id
// with the engine handle attached. An existing entry under the same id is
// superseded: its previous engine is returned so the caller can close it.
func (t *Table) Create(id string, engine agent.Engine, cancel context.CancelFunc) (sess *Session, superseded agent.Engine) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now().UnixMilli()
	if prev, ok := t.sessions[id]; ok {
		superseded = prev.engine
		// Orphaned resolvers would block their engines forever.
		prev.failPendingLocked()
		if prev.cancel != nil {
			prev.cancel()
		}
	}

	sess = &Session{
		ConversationID:     id,
		Status:             wire.StatusIdle,
		CreatedAt:          now,
		UpdatedAt:          now,
		engine:             engine,
		cancel:             cancel,
		pendingPermissions: make(map[string]chan wire.PermissionDecision),
	}
	t.sessions[id] = sess
	return sess, superseded
}

// Adopt re-keys the entry at provisionalID to the runtime-assigned
// conversation id. An existing entry under the target id is superseded and
// its engine returned for shutdown. When the two ids are equal, or the
// provisional entry is missing, the table is left unchanged.
func (t *Table) Adopt(provisionalID, conversationID string) (superseded agent.Engine, adopted bool) {
	if provisionalID == conversationID {
		return nil, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	sess, ok := t.sessions[provisionalID]
	if !ok {
		return nil, false
	}
	if prev, ok := t.sessions[conversationID]; ok {
		superseded = prev.engine
		prev.failPendingLocked()
		if prev.cancel != nil {
			prev.cancel()
		}
	}
	delete(t.sessions, provisionalID)
	sess.ConversationID = conversationID
	sess.UpdatedAt = time.Now().UnixMilli()
	t.sessions[conversationID] = sess
	return superseded, true
}

// Get returns the session for id, or nil.
func (t *Table) Get(id string) *Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessions[id]
}

// SetStatus updates a session's lifecycle state. Unknown ids are ignored.
func (t *Table) SetStatus(id string, status wire.SessionStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()

	sess, ok := t.sessions[id]
	if !ok {
		return
	}
	sess.Status = status
	sess.UpdatedAt = time.Now().UnixMilli()
}

// Status returns the session status, or StatusIdle when the id is unknown.
func (t *Table) Status(id string) wire.SessionStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	if sess, ok := t.sessions[id]; ok {
		return sess.Status
	}
	return wire.StatusIdle
}

// Release detaches and returns the engine handle for id, marking the session
// idle. Unknown ids return nil. Pending permissions are failed so blocked
// engines unwind.
func (t *Table) Release(id string) agent.Engine {
	t.mu.Lock()
	defer t.mu.Unlock()

	sess, ok := t.sessions[id]
	if !ok {
		return nil
	}
	engine := sess.engine
	sess.engine = nil
	if sess.cancel != nil {
		sess.cancel()
		sess.cancel = nil
	}
	sess.failPendingLocked()
	sess.Status = wire.StatusIdle
	sess.UpdatedAt = time.Now().UnixMilli()
	return engine
}

// Remove deletes the entry for id entirely, returning its engine handle for
// shutdown. Unknown ids return nil.
func (t *Table) Remove(id string) agent.Engine {
	t.mu.Lock()
	defer t.mu.Unlock()

	sess, ok := t.sessions[id]
	if !ok {
		return nil
	}
	delete(t.sessions, id)
	engine := sess.engine
	sess.engine = nil
	if sess.cancel != nil {
		sess.cancel()
	}
	sess.failPendingLocked()
	return engine
}

// List returns a snapshot of all sessions.
func (t *Table) List() []wire.SessionSummary {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]wire.SessionSummary, 0, len(t.sessions))
	for _, sess := range t.sessions {
		out = append(out, wire.SessionSummary{
			ConversationID: sess.ConversationID,
			Status:         sess.Status,
			CreatedAt:      sess.CreatedAt,
			UpdatedAt:      sess.UpdatedAt,
		})
	}
	return out
}

// RegisterPermission records a pending prompt and returns the channel the
// engine should block on. Unknown session ids return false.
func (t *Table) RegisterPermission(id, toolUseID string) (chan wire.PermissionDecision, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	sess, ok := t.sessions[id]
	if !ok {
		return nil, false
	}
	if _, dup := sess.pendingPermissions[toolUseID]; dup {
		logger.Warnf("duplicate permission prompt for tool use %s", toolUseID)
		return nil, false
	}
	ch := make(chan wire.PermissionDecision, 1)
	sess.pendingPermissions[toolUseID] = ch
	return ch, true
}

// ResolvePermission delivers a decision to the pending prompt for toolUseID.
// The entry is removed under the lock before the send, so a second response
// for the same prompt finds nothing and reports false. Unknown session or
// tool-use ids are a no-op.
func (t *Table) ResolvePermission(id, toolUseID string, decision wire.PermissionDecision) bool {
	t.mu.Lock()
	sess, ok := t.sessions[id]
	if !ok {
		t.mu.Unlock()
		return false
	}
	ch, ok := sess.pendingPermissions[toolUseID]
	if !ok {
		t.mu.Unlock()
		return false
	}
	delete(sess.pendingPermissions, toolUseID)
	t.mu.Unlock()

	// Buffered channel, single producer after removal: never blocks.
	ch <- decision
	return true
}

// DropPermission discards a pending prompt without resolving it, e.g. after
// the awaiting engine gave up.
func (t *Table) DropPermission(id, toolUseID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if sess, ok := t.sessions[id]; ok {
		delete(sess.pendingPermissions, toolUseID)
	}
}

// PendingPermissions returns the tool-use ids currently awaiting a decision.
func (t *Table) PendingPermissions(id string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	sess, ok := t.sessions[id]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(sess.pendingPermissions))
	for toolUseID := range sess.pendingPermissions {
		out = append(out, toolUseID)
	}
	return out
}

// failPendingLocked denies all outstanding prompts. Caller holds t.mu.
func (s *Session) failPendingLocked() {
	for toolUseID, ch := range s.pendingPermissions {
		delete(s.pendingPermissions, toolUseID)
		ch <- wire.PermissionDecision{Allow: false, Message: "session closed"}
	}
}
