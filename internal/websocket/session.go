package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"meme-coin-aggregator/internal/models"
	"meme-coin-aggregator/pkg/logger"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	// ErrSessionClosed is returned when sending to a disconnected session
	ErrSessionClosed = errors.New("websocket: session closed")
	// ErrSendBufferFull is returned when a session is not draining its queue
	ErrSendBufferFull = errors.New("websocket: send buffer full")
)

// Session is one subscriber connection. It owns the connection's filter
// preference and is removed from the hub synchronously on disconnect.
type Session struct {
	id          string
	conn        *websocket.Conn
	hub         *Hub
	send        chan []byte
	done        chan struct{}
	closeOnce   sync.Once
	ctx         context.Context
	cancel      context.CancelFunc
	connectedAt time.Time
	logger      *logger.Logger

	mu      sync.RWMutex
	filters *models.FilterOptions
}

func newSession(id string, conn *websocket.Conn, hub *Hub) *Session {
	ctx, cancel := context.WithCancel(logger.ContextWithSessionID(context.Background(), id))
	return &Session{
		id:          id,
		conn:        conn,
		hub:         hub,
		send:        make(chan []byte, hub.opts.SendBuffer),
		done:        make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
		connectedAt: time.Now(),
		logger:      hub.logger.WithContext(ctx),
	}
}

// ID returns the session identifier
func (s *Session) ID() string {
	return s.id
}

// Context is cancelled when the session closes
func (s *Session) Context() context.Context {
	return s.ctx
}

// Filters returns the stored filter preference, nil when none is set
func (s *Session) Filters() *models.FilterOptions {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filters
}

func (s *Session) setFilters(f *models.FilterOptions) {
	s.mu.Lock()
	s.filters = f
	s.mu.Unlock()
}

// Send queues one event for this session without blocking
func (s *Session) Send(event string, payload interface{}) error {
	frame, err := json.Marshal(models.Envelope{Event: event, Payload: payload})
	if err != nil {
		return err
	}
	return s.enqueue(frame)
}

func (s *Session) enqueue(frame []byte) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}

	select {
	case s.send <- frame:
		return nil
	case <-s.done:
		return ErrSessionClosed
	default:
		return ErrSendBufferFull
	}
}

// Close disconnects the session. It is safe to call more than once.
func (s *Session) Close() {
	s.closeWith(websocket.CloseNormalClosure, "")
}

func (s *Session) closeWith(code int, reason string) {
	s.closeOnce.Do(func() {
		close(s.done)
		s.cancel()

		// WriteControl may run concurrently with the write pump
		_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
		_ = s.conn.Close()

		s.hub.unregister(s)
		s.logger.Info("Client disconnected", zap.Duration("connected_for", time.Since(s.connectedAt)))
	})
}

// readPump handles subscribe and unsubscribe messages until the peer goes
// away
func (s *Session) readPump() {
	defer s.Close()

	opts := s.hub.opts
	s.conn.SetReadLimit(opts.MaxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(opts.PongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(opts.PongWait))
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("WebSocket read error", zap.Error(err))
			}
			return
		}
		s.handleMessage(message)
	}
}

func (s *Session) handleMessage(message []byte) {
	var msg models.ClientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		s.logger.Debug("Invalid client message", zap.Error(err))
		s.sendError("Invalid message format")
		return
	}

	switch msg.Type {
	case "subscribe":
		s.setFilters(msg.Filters)
		s.logger.Debug("Client subscribed with filters", zap.Any("filters", msg.Filters))
	case "unsubscribe":
		s.setFilters(nil)
		s.logger.Debug("Client unsubscribed")
	default:
		s.sendError("Unknown message type")
	}
}

func (s *Session) sendError(message string) {
	msg := models.NewWebSocketMessage(models.MessageTypeError, map[string]string{"message": message})
	_ = s.Send(models.EventError, msg)
}

// writePump is the only writer on the connection. It also emits the
// application heartbeat and protocol pings.
func (s *Session) writePump() {
	opts := s.hub.opts
	ping := time.NewTicker(opts.PingPeriod)
	heartbeat := time.NewTicker(opts.HeartbeatInterval)
	defer func() {
		ping.Stop()
		heartbeat.Stop()
		s.Close()
	}()

	for {
		select {
		case <-s.done:
			return

		case frame := <-s.send:
			if err := s.write(websocket.TextMessage, frame); err != nil {
				s.logger.Debug("WebSocket write failed", zap.Error(err))
				return
			}

		case <-heartbeat.C:
			if err := s.Send(models.EventHeartbeat, models.NewWebSocketMessage(models.MessageTypeHeartbeat, nil)); err != nil {
				return
			}

		case <-ping.C:
			if err := s.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Session) write(messageType int, data []byte) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.hub.opts.WriteWait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(messageType, data)
}
