package render

import (
	"sync"

	"github.com/banterhq/banter/internal/wire"
)

// ToolStatus is the lifecycle state of one tool invocation.
type ToolStatus string

const (
	ToolPending ToolStatus = "pending"
	ToolSuccess ToolStatus = "success"
	ToolError   ToolStatus = "error"
)

// ToolUpdate is delivered to subscribers when an invocation changes state.
type ToolUpdate struct {
	ToolUseID string
	ToolName  string
	Status    ToolStatus
}

// Tracker is the side table of per-tool-call status, keyed by toolUseId.
// tool_call messages open a pending entry; tool_result messages settle it.
type Tracker struct {
	mu       sync.Mutex
	statuses map[string]ToolUpdate
	nextSub  int
	subs     map[int]chan ToolUpdate
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		statuses: make(map[string]ToolUpdate),
		subs:     make(map[int]chan ToolUpdate),
	}
}

// Observe feeds one agent message through the tracker. Messages without tool
// correlation are ignored, as are results for invocations never observed.
func (t *Tracker) Observe(msg *wire.Message) {
	switch msg.Type {
	case wire.MessageToolCall:
		if msg.ToolUseID == "" {
			return
		}
		t.update(ToolUpdate{
			ToolUseID: msg.ToolUseID,
			ToolName:  msg.ToolName,
			Status:    ToolPending,
		})

	case wire.MessageToolResult:
		if msg.ToolUseID == "" {
			return
		}
		t.mu.Lock()
		entry, known := t.statuses[msg.ToolUseID]
		t.mu.Unlock()
		if !known {
			return
		}
		entry.Status = ToolSuccess
		if msg.IsError {
			entry.Status = ToolError
		}
		t.update(entry)
	}
}

// Status returns the state for a tool invocation.
func (t *Tracker) Status(toolUseID string) (ToolStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.statuses[toolUseID]
	return entry.Status, ok
}

// Subscribe registers for status updates. The returned channel is buffered;
// updates are dropped rather than blocking the tracker when a subscriber
// stops draining.
func (t *Tracker) Subscribe() (int, <-chan ToolUpdate) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextSub
	t.nextSub++
	ch := make(chan ToolUpdate, 64)
	t.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a subscription and closes its channel.
func (t *Tracker) Unsubscribe(id int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ch, ok := t.subs[id]; ok {
		delete(t.subs, id)
		close(ch)
	}
}

func (t *Tracker) update(entry ToolUpdate) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.statuses[entry.ToolUseID] = entry
	for _, ch := range t.subs {
		select {
		case ch <- entry:
		default:
		}
	}
}
