package windows

import (
	"context"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/banterhq/banter/internal/wire"
	"github.com/banterhq/banter/pkg/logger"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The daemon binds to loopback only; windows connect from file:// or
		// app-scheme origins.
		return true
	},
}

// Dispatcher consumes decoded client events. Implemented by the router.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev *wire.ClientEvent)
}

// windowConn is one attached window.
type windowConn struct {
	windowID string
	conn     *websocket.Conn
	mu       sync.Mutex // serializes writes
}

func (w *windowConn) write(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub fans server events out to every attached window and feeds inbound
// client events to the dispatcher. It implements router.Emitter.
type Hub struct {
	dispatcher Dispatcher

	mu      sync.RWMutex
	clients map[*websocket.Conn]*windowConn
}

// NewHub returns an empty hub. SetDispatcher must be called before windows
// attach.
func NewHub() *Hub {
	return &Hub{clients: make(map[*websocket.Conn]*windowConn)}
}

// SetDispatcher wires the hub to its event consumer. Split from NewHub
// because the router needs the hub as its emitter first.
func (h *Hub) SetDispatcher(d Dispatcher) {
	h.dispatcher = d
}

// ClientCount returns the number of attached windows.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast implements router.Emitter.
func (h *Hub) Broadcast(ev *wire.ServerEvent) {
	data, err := ev.Encode()
	if err != nil {
		logger.Errorf("hub: failed to encode %s event: %v", ev.Type, err)
		return
	}

	h.mu.RLock()
	conns := make([]*windowConn, 0, len(h.clients))
	for _, c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if err := c.write(data); err != nil {
			logger.Debugf("hub: write to window %s failed: %v", c.windowID, err)
		}
	}
}

// HandleWebSocket upgrades an attach request and pumps its events. The auth
// middleware has already placed the window id in the context.
func (h *Hub) HandleWebSocket(c *gin.Context) {
	windowID, ok := GetWindowID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warnf("hub: upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	client := &windowConn{windowID: windowID, conn: conn}

	h.mu.Lock()
	h.clients[conn] = client
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
	}()

	logger.Infof("window attached: %s", windowID)
	defer logger.Infof("window detached: %s", windowID)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Warnf("hub: read from window %s failed: %v", windowID, err)
			}
			return
		}

		ev, err := wire.ParseClientEvent(data)
		if err != nil {
			logger.Debugf("hub: bad event from window %s: %v", windowID, err)
			_ = client.write(mustEncode(&wire.ServerEvent{
				Type:  wire.EventError,
				Error: err.Error(),
			}))
			continue
		}

		h.dispatcher.Dispatch(c.Request.Context(), ev)
	}
}

func mustEncode(ev *wire.ServerEvent) []byte {
	data, err := ev.Encode()
	if err != nil {
		logger.Errorf("hub: encode: %v", err)
		return []byte(`{"type":"error","error":"internal encode failure"}`)
	}
	return data
}
