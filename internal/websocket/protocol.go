package websocket

import (
	"encoding/json"
	"time"

	"github.com/observer/notifyhub/internal/domain"
)

// Event types for client -> server
const (
	EventTypePing            = "ping"
	EventTypeNotificationAck = "notification_ack"
)

// Event types for server -> client
const (
	EventTypeConnected    = "connected"
	EventTypeNotification = "notification"
	EventTypePong         = "pong"
	EventTypeError        = "error"
)

// Message is the base WebSocket message envelope
type Message struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp,omitempty"`
}

// NewMessage creates a message with the current timestamp
func NewMessage(eventType string, payload interface{}) (*Message, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:      eventType,
		Payload:   payloadBytes,
		Timestamp: time.Now(),
	}, nil
}

// EncodeMessage builds and serializes an envelope in one step. The result is
// the frame handed to fanout.
func EncodeMessage(eventType string, payload interface{}) ([]byte, error) {
	msg, err := NewMessage(eventType, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(msg)
}

// EncodeNotification wraps a notification in a "notification" frame
func EncodeNotification(n domain.Notification) ([]byte, error) {
	return EncodeMessage(EventTypeNotification, n)
}

// ============================================================================
// Server -> Client Payloads
// ============================================================================

// ConnectedPayload is the welcome frame sent right after admission
type ConnectedPayload struct {
	Message   string            `json:"message"`
	User      domain.PublicUser `json:"user"`
	SessionID string            `json:"session_id"`
	Timestamp time.Time         `json:"timestamp"`
}

// PongPayload answers a client ping
type PongPayload struct {
	Timestamp time.Time `json:"timestamp"`
}

// ErrorPayload for error responses
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ============================================================================
// Client -> Server Payloads
// ============================================================================

// NotificationAckPayload acknowledges a delivered notification. Clients may
// send any subset of the fields.
type NotificationAckPayload struct {
	Type     string `json:"type,omitempty"`
	TestID   string `json:"testId,omitempty"`
	TestName string `json:"testName,omitempty"`
}
