package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewCUID generates a collision-resistant identifier for records created by
// this process (messages, cards, requests).
func NewCUID() string {
	return fmt.Sprintf("c%d-%s", time.Now().UnixNano(), uuid.NewString()[:8])
}

// NewConversationID generates an identifier for locally-initiated
// conversations that have not yet been acknowledged by the agent runtime.
//
// Once the runtime acknowledges a start it assigns its own conversation id and
// the provisional id is discarded.
func NewConversationID() string {
	return uuid.NewString()
}
