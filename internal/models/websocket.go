package models

import "time"

// Event names pushed to subscribers
const (
	EventInitialData = "initial_data"
	EventTokenUpdate = "token_update"
	EventHeartbeat   = "heartbeat"
	EventError       = "error"
)

// MessageType classifies the payload of a subscriber message
type MessageType string

const (
	MessageTypeInitialData MessageType = "initial_data"
	MessageTypeUpdate      MessageType = "update"
	MessageTypeError       MessageType = "error"
	MessageTypeHeartbeat   MessageType = "heartbeat"
)

// WebSocketMessage is the payload carried by every subscriber event
type WebSocketMessage struct {
	Type      MessageType `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// NewWebSocketMessage creates a message stamped with the current time in milliseconds
func NewWebSocketMessage(msgType MessageType, data interface{}) *WebSocketMessage {
	return &WebSocketMessage{
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	}
}

// Envelope is the frame written to the socket: an event name plus its payload
type Envelope struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
}

// ClientMessage is sent by subscribers to register or clear filter preferences
type ClientMessage struct {
	Type    string         `json:"type"`
	Filters *FilterOptions `json:"filters,omitempty"`
}
