package websocket

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ConnectFunc runs once per session after both pumps have started
type ConnectFunc func(ctx context.Context, s *Session)

// Handler upgrades HTTP requests into hub sessions
type Handler struct {
	hub       *Hub
	upgrader  websocket.Upgrader
	onConnect ConnectFunc
}

// NewHandler creates a new WebSocket handler
func NewHandler(hub *Hub, onConnect ConnectFunc) *Handler {
	return &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(hub.opts.AllowedOrigins),
		},
		onConnect: onConnect,
	}
}

// originChecker allows every origin when the list is empty or holds "*"
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.ToLower(origin)]
		return ok
	}
}

// ServeWS handles GET /ws
func (h *Handler) ServeWS(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.hub.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	session := newSession(uuid.NewString(), conn, h.hub)
	if !h.hub.register(session) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(h.hub.opts.WriteWait))
		_ = conn.Close()
		session.cancel()
		return
	}

	go session.writePump()
	go session.readPump()

	if h.onConnect != nil {
		go h.onConnect(session.Context(), session)
	}
}
