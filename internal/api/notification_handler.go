package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/observer/notifyhub/internal/domain"
)

// SystemBroadcaster publishes a notification for every live session.
// *websocket.PubSubBroadcaster satisfies it.
type SystemBroadcaster interface {
	BroadcastSystem(ctx context.Context, note domain.Notification) error
}

// NotificationHandler handles operator notifications
type NotificationHandler struct {
	broadcaster SystemBroadcaster
	logger      *slog.Logger
}

func NewNotificationHandler(broadcaster SystemBroadcaster, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{
		broadcaster: broadcaster,
		logger:      logger,
	}
}

// BroadcastRequest is the body of POST /api/notifications/broadcast
type BroadcastRequest struct {
	Message string `json:"message"`
}

// Broadcast godoc
//
//	@Summary		Broadcast a system notification
//	@Description	Publish a SYSTEM notification to every connected device
//	@Tags			notifications
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			request	body		BroadcastRequest	true	"Notification text"
//	@Success		202		{object}	object{message=string,notification=domain.Notification}
//	@Failure		400		{object}	map[string]string
//	@Router			/api/notifications/broadcast [post]
func (h *NotificationHandler) Broadcast(w http.ResponseWriter, r *http.Request) {
	var req BroadcastRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	message := strings.TrimSpace(req.Message)
	if message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	note := domain.NewSystemNotification(message)
	if err := h.broadcaster.BroadcastSystem(r.Context(), note); err != nil {
		h.logger.Error("broadcast failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to publish notification")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"message":      "Broadcast published",
		"notification": note,
	})
}
