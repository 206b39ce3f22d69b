package windows

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/banterhq/banter/internal/history"
	"github.com/banterhq/banter/internal/session"
	"github.com/banterhq/banter/internal/wire"
	"github.com/banterhq/banter/pkg/logger"
)

// Server is the local HTTP endpoint windows attach to.
type Server struct {
	addr  string
	hub   *Hub
	jwt   *JWTManager
	store history.Store
	table *session.Table

	engine *gin.Engine
	srv    *http.Server
}

// NewServer assembles the gin router with the websocket and REST surfaces.
func NewServer(addr string, hub *Hub, jwt *JWTManager, store history.Store, table *session.Table, debug bool) *Server {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "DELETE"},
		AllowHeaders:    []string{"Authorization", "Content-Type"},
		MaxAge:          12 * time.Hour,
	}))

	s := &Server{
		addr:   addr,
		hub:    hub,
		jwt:    jwt,
		store:  store,
		table:  table,
		engine: engine,
	}

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "windows": hub.ClientCount()})
	})

	authed := engine.Group("/", AuthMiddleware(jwt))
	authed.GET("/ws", hub.HandleWebSocket)
	authed.GET("/v1/conversations", s.listConversations)
	authed.GET("/v1/conversations/:id/messages", s.listMessages)

	return s
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.srv = &http.Server{Addr: s.addr, Handler: s.engine}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("listening on %s", s.addr)
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}

// Handler exposes the underlying handler for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) listConversations(c *gin.Context) {
	stored, err := s.store.ListConversations(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	live := make(map[string]wire.SessionSummary)
	for _, sess := range s.table.List() {
		live[sess.ConversationID] = sess
	}
	out := make([]wire.SessionSummary, 0, len(stored)+len(live))
	for _, sess := range stored {
		if runtime, ok := live[sess.ConversationID]; ok {
			sess.Status = runtime.Status
			delete(live, sess.ConversationID)
		}
		out = append(out, sess)
	}
	for _, sess := range live {
		out = append(out, sess)
	}

	c.JSON(http.StatusOK, gin.H{"conversations": out})
}

func (s *Server) listMessages(c *gin.Context) {
	id := c.Param("id")
	msgs, err := s.store.ListMessages(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversationId": id, "messages": msgs})
}

// AuthMiddleware validates the window attach token from the Authorization
// header, or from the token query parameter for WebSocket upgrades where
// custom headers are unavailable.
func AuthMiddleware(jwtManager *JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ""
		if authHeader := c.GetHeader("Authorization"); authHeader != "" {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
				c.Abort()
				return
			}
			token = parts[1]
		} else {
			token = c.Query("token")
		}
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing attach token"})
			c.Abort()
			return
		}

		windowID, err := jwtManager.VerifyToken(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}

		c.Set("windowID", windowID)
		c.Next()
	}
}

// GetWindowID extracts the authenticated window id from the gin context.
func GetWindowID(c *gin.Context) (string, bool) {
	windowID, exists := c.Get("windowID")
	if !exists {
		return "", false
	}
	return windowID.(string), true
}
