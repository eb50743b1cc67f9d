package websocket

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"meme-coin-aggregator/internal/models"
	"meme-coin-aggregator/pkg/logger"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Options tunes subscriber sessions
type Options struct {
	SendBuffer        int
	HeartbeatInterval time.Duration
	WriteWait         time.Duration
	PongWait          time.Duration
	PingPeriod        time.Duration
	MaxMessageSize    int64
	AllowedOrigins    []string
}

// DefaultOptions returns the session settings used when none are given
func DefaultOptions() Options {
	return Options{
		SendBuffer:        256,
		HeartbeatInterval: 30 * time.Second,
		WriteWait:         10 * time.Second,
		PongWait:          60 * time.Second,
		PingPeriod:        54 * time.Second,
		MaxMessageSize:    4096,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.SendBuffer <= 0 {
		o.SendBuffer = d.SendBuffer
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = d.HeartbeatInterval
	}
	if o.WriteWait <= 0 {
		o.WriteWait = d.WriteWait
	}
	if o.PongWait <= 0 {
		o.PongWait = d.PongWait
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = o.PongWait * 9 / 10
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = d.MaxMessageSize
	}
	return o
}

// Hub tracks live sessions and fans broadcast events out to them. A slow
// session never blocks the others: when its queue is full it is dropped.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool

	opts     Options
	logger   *logger.Logger
	onChange func(int)
}

// NewHub creates a hub. onChange, when set, receives the session count after
// every connect and disconnect.
func NewHub(opts Options, log *logger.Logger, onChange func(int)) *Hub {
	if log == nil {
		log = logger.NewNop()
	}
	return &Hub{
		sessions: make(map[string]*Session),
		opts:     opts.withDefaults(),
		logger:   log.Named("websocket"),
		onChange: onChange,
	}
}

// Broadcast sends one event to every connected session
func (h *Hub) Broadcast(event string, payload interface{}) {
	frame, err := json.Marshal(models.Envelope{Event: event, Payload: payload})
	if err != nil {
		h.logger.Error("Failed to encode broadcast", zap.String("event", event), zap.Error(err))
		return
	}

	h.mu.RLock()
	targets := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	var dropped []*Session
	for _, s := range targets {
		if err := s.enqueue(frame); errors.Is(err, ErrSendBufferFull) {
			dropped = append(dropped, s)
		}
	}

	for _, s := range dropped {
		s.logger.Warn("Dropping slow client")
		s.closeWith(websocket.ClosePolicyViolation, "send buffer full")
	}

	h.logger.Debug("Broadcast sent",
		zap.String("event", event),
		zap.Int("sessions", len(targets)-len(dropped)),
	)
}

// Count returns the number of live sessions
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

func (h *Hub) register(s *Session) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.sessions[s.id] = s
	n := len(h.sessions)
	h.mu.Unlock()

	s.logger.Info("Client connected", zap.Int("sessions", n))
	h.notify(n)
	return true
}

func (h *Hub) unregister(s *Session) {
	h.mu.Lock()
	if _, ok := h.sessions[s.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.sessions, s.id)
	n := len(h.sessions)
	h.mu.Unlock()

	h.notify(n)
}

func (h *Hub) notify(n int) {
	if h.onChange != nil {
		h.onChange(n)
	}
}

// Close disconnects every session and refuses new ones. It is safe to call
// more than once.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		s.closeWith(websocket.CloseGoingAway, "server shutting down")
	}
	h.logger.Info("WebSocket hub closed", zap.Int("sessions", len(sessions)))
}
