package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/observer/notifyhub/internal/auth"
	"github.com/observer/notifyhub/internal/domain"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Allow all origins; CORS_ORIGIN only governs the REST API
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Resolver authenticates the credential presented on the handshake.
// Rejections wrap domain.ErrAuthRejected.
type Resolver interface {
	Resolve(ctx context.Context, credential string) (*domain.User, error)
}

// SessionIDs hands out session handles of the form "<boot>.<seq>". The boot
// prefix is random per process, so handles never repeat across restarts.
type SessionIDs struct {
	boot string
	seq  atomic.Uint64
}

// NewSessionIDs creates a generator with a fresh boot namespace
func NewSessionIDs() *SessionIDs {
	return &SessionIDs{boot: uuid.NewString()}
}

// Next returns a new, never before issued session handle
func (s *SessionIDs) Next() string {
	return fmt.Sprintf("%s.%d", s.boot, s.seq.Add(1))
}

// Handler handles WebSocket upgrade requests
type Handler struct {
	hub      *Hub
	resolver Resolver
	ids      *SessionIDs
	logger   *slog.Logger
}

// NewHandler creates a WebSocket handler
func NewHandler(hub *Hub, resolver Resolver, ids *SessionIDs, logger *slog.Logger) *Handler {
	return &Handler{
		hub:      hub,
		resolver: resolver,
		ids:      ids,
		logger:   logger,
	}
}

// ServeHTTP authenticates, upgrades HTTP to WebSocket and handles the
// connection. A rejected credential gets a 401 and never reaches the registry.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, err := h.resolver.Resolve(r.Context(), auth.BearerToken(r, true))
	if err != nil {
		if errors.Is(err, domain.ErrAuthRejected) {
			h.logger.Info("websocket connection rejected", "remote_addr", r.RemoteAddr, "error", err)
			http.Error(w, `{"error":"authentication failed"}`, http.StatusUnauthorized)
			return
		}
		h.logger.Error("websocket auth failed", "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(h.hub, conn, h.ids.Next(), user, h.logger)
	if err := h.hub.Register(client); err != nil {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		_ = conn.Close()
		return
	}

	// The request context gets cancelled when ServeHTTP returns after upgrade
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go client.WritePump(ctx)
	client.ReadPump(ctx) // Block here until client disconnects
}
