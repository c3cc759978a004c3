package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrSessionNotFound is returned by Send when no client holds the session
	ErrSessionNotFound = errors.New("websocket: session not found")

	// ErrSendBufferFull is returned by Send when the client is not keeping up
	ErrSendBufferFull = errors.New("websocket: send buffer full")

	// ErrHubClosed is returned by Register after the hub stopped
	ErrHubClosed = errors.New("websocket: hub closed")
)

// SessionRegistry is the part of the connection registry the hub drives.
// *registry.Registry satisfies it.
type SessionRegistry interface {
	Add(userID uuid.UUID, sessionID string)
	Remove(sessionID string) bool
}

// Hub owns the live websocket clients, keyed by session handle, and keeps
// the connection registry in step with them.
type Hub struct {
	// session handle -> client
	clients map[string]*Client
	mu      sync.RWMutex

	register   chan registration
	unregister chan *Client
	done       chan struct{}

	registry SessionRegistry
	logger   *slog.Logger
}

// NewHub creates a new Hub
func NewHub(reg SessionRegistry, logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan registration),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		registry:   reg,
		logger:     logger.With("component", "hub"),
	}
}

// Run starts the hub's main loop. When ctx ends every client is closed.
// Registry entries are left in place so the next process can reconcile them.
func (h *Hub) Run(ctx context.Context) {
	defer h.shutdown()
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-h.register:
			h.handleRegister(req.client)
			close(req.done)
		case client := <-h.unregister:
			h.handleUnregister(client)
		}
	}
}

// registration carries a client to Run; done is closed once it is admitted
type registration struct {
	client *Client
	done   chan struct{}
}

// Register admits a client. It returns once the session is in the registry
// and the welcome frame is queued, so fanout can reach it.
func (h *Hub) Register(client *Client) error {
	req := registration{client: client, done: make(chan struct{})}
	select {
	case h.register <- req:
	case <-h.done:
		return ErrHubClosed
	}
	<-req.done
	return nil
}

// Unregister removes a client. Safe to call more than once and after Run returned.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) handleRegister(client *Client) {
	h.mu.Lock()
	h.clients[client.sessionID] = client
	h.mu.Unlock()

	h.registry.Add(client.user.ID, client.sessionID)

	// queued ahead of any notification, so it is always the first frame
	welcome, err := NewMessage(EventTypeConnected, ConnectedPayload{
		Message:   "Successfully connected to notification service",
		User:      client.user.ToPublic(),
		SessionID: client.sessionID,
		Timestamp: time.Now(),
	})
	if err == nil {
		_ = client.Send(welcome)
	}

	h.logger.Info("client connected", "user_id", client.user.ID, "session_id", client.sessionID)
}

func (h *Hub) handleUnregister(client *Client) {
	h.mu.Lock()
	current, ok := h.clients[client.sessionID]
	if !ok || current != client {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client.sessionID)
	h.mu.Unlock()

	client.closeSend()
	h.registry.Remove(client.sessionID)
	h.logger.Info("client disconnected", "user_id", client.user.ID, "session_id", client.sessionID)
}

func (h *Hub) shutdown() {
	close(h.done)

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*Client)
	h.mu.Unlock()

	for _, client := range clients {
		client.closeSend()
	}
	h.logger.Info("hub stopped", "closed_clients", len(clients))
}

// Send queues a pre-encoded frame for one session. A session this process
// does not hold is dropped from the registry: handles are never reused, so
// it cannot become live again.
func (h *Hub) Send(ctx context.Context, sessionID string, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.RLock()
	client, ok := h.clients[sessionID]
	h.mu.RUnlock()

	if !ok {
		if h.registry.Remove(sessionID) {
			h.logger.Info("pruned session not held by this process", "session_id", sessionID)
		}
		return ErrSessionNotFound
	}
	return client.enqueue(frame)
}

// HandleMessage processes incoming WebSocket messages
func (h *Hub) HandleMessage(client *Client, msg *Message) {
	switch msg.Type {
	case EventTypePing:
		pong, err := NewMessage(EventTypePong, PongPayload{Timestamp: time.Now()})
		if err == nil {
			_ = client.Send(pong)
		}
	case EventTypeNotificationAck:
		var ack NotificationAckPayload
		if len(msg.Payload) > 0 {
			if err := json.Unmarshal(msg.Payload, &ack); err != nil {
				client.sendError("invalid_payload", "Invalid notification_ack payload")
				return
			}
		}
		client.logger.Info("notification acknowledged",
			"user_name", client.user.Name,
			"notification_type", ack.Type,
			"test_id", ack.TestID,
		)
	default:
		client.sendError("unknown_event", "Unknown event type: "+msg.Type)
	}
}

// ClientCount returns the number of sessions held by this process
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
