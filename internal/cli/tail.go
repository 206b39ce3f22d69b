package cli

import (
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"

	"github.com/banterhq/banter/internal/config"
	"github.com/banterhq/banter/internal/crypto"
	"github.com/banterhq/banter/internal/render"
	"github.com/banterhq/banter/internal/windows"
	"github.com/banterhq/banter/internal/wire"
	"github.com/banterhq/banter/pkg/logger"
	"github.com/banterhq/banter/pkg/types"
)

// TailCommand attaches to the local daemon and prints a live rendering of all
// broadcast events, styled per card kind.
func TailCommand(cfg *config.Config) error {
	secret, err := crypto.GetOrCreateSecretKey(cfg.SecretKeyPath())
	if err != nil {
		return fmt.Errorf("failed to load secret key: %w", err)
	}

	token, err := windows.NewJWTManager(secret).CreateToken("tail-"+types.NewCUID(), 0)
	if err != nil {
		return fmt.Errorf("failed to create attach token: %w", err)
	}

	url := fmt.Sprintf("ws://%s/ws?token=%s", cfg.ListenAddr, token)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("failed to attach to daemon at %s: %w", cfg.ListenAddr, err)
	}
	defer conn.Close()

	logger.Infof("attached to %s", cfg.ListenAddr)
	tracker := render.NewTracker()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("connection closed: %w", err)
		}

		var ev wire.ServerEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			logger.Debugf("tail: bad event: %v", err)
			continue
		}
		printEvent(&ev, tracker)
	}
}

func printEvent(ev *wire.ServerEvent, tracker *render.Tracker) {
	switch ev.Type {
	case wire.EventMessage:
		if ev.Message == nil {
			return
		}
		tracker.Observe(ev.Message)
		if card, ok := render.RenderMessage(ev.Message); ok {
			fmt.Printf("[%s] %s\n", shortID(ev.ConversationID), render.FormatCard(card))
		}

	case wire.EventSessionUpdate:
		fmt.Printf("[%s] status: %s\n", shortID(ev.ConversationID), ev.Status)

	case wire.EventPermissionRequest:
		if ev.Permission != nil {
			fmt.Printf("[%s] permission requested: %s (%s)\n",
				shortID(ev.ConversationID), ev.Permission.ToolName, ev.Permission.ToolUseID)
		}

	case wire.EventSessionDeleted:
		fmt.Printf("[%s] deleted\n", shortID(ev.ConversationID))

	case wire.EventError:
		fmt.Printf("[%s] error: %s\n", shortID(ev.ConversationID), ev.Error)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	if id == "" {
		return "-"
	}
	return id
}
