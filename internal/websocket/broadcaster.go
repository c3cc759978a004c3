package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/observer/notifyhub/internal/domain"
	"github.com/observer/notifyhub/internal/fanout"
	"github.com/observer/notifyhub/internal/pubsub"
)

// UserNotifier encodes notifications as websocket frames and fans them out
// to every live session of a user.
type UserNotifier struct {
	fanout *fanout.Fanout[[]byte]
}

// NewUserNotifier creates a notifier on top of f
func NewUserNotifier(f *fanout.Fanout[[]byte]) *UserNotifier {
	return &UserNotifier{fanout: f}
}

// NotifyUser returns the number of sessions a delivery was attempted on
func (n *UserNotifier) NotifyUser(ctx context.Context, userID uuid.UUID, note domain.Notification) (int, error) {
	frame, err := EncodeNotification(note)
	if err != nil {
		return 0, fmt.Errorf("encode notification: %w", err)
	}
	return n.fanout.DeliverToUser(ctx, userID, frame), nil
}

// PubSubBroadcaster publishes system notifications on the broadcast topic.
// Every hub subscribed through SubscribeBroadcasts delivers them.
type PubSubBroadcaster struct {
	ps pubsub.PubSub
}

// NewPubSubBroadcaster creates a new broadcaster that uses the PubSub system
func NewPubSubBroadcaster(ps pubsub.PubSub) *PubSubBroadcaster {
	return &PubSubBroadcaster{ps: ps}
}

// BroadcastSystem publishes note to all instances
func (b *PubSubBroadcaster) BroadcastSystem(ctx context.Context, note domain.Notification) error {
	payload, err := json.Marshal(note)
	if err != nil {
		return err
	}

	msg := &pubsub.Message{
		Topic:   pubsub.Topics.Broadcast(),
		Type:    note.Type,
		Payload: payload,
	}
	return b.ps.Publish(ctx, msg.Topic, msg)
}

// SubscribeBroadcasts delivers every notification published on the broadcast
// topic to all sessions known to f.
func SubscribeBroadcasts(ctx context.Context, ps pubsub.PubSub, f *fanout.Fanout[[]byte], logger *slog.Logger) (pubsub.Subscription, error) {
	logger = logger.With("component", "broadcast_subscriber")

	return ps.Subscribe(ctx, pubsub.Topics.Broadcast(), func(ctx context.Context, msg *pubsub.Message) {
		var note domain.Notification
		if err := json.Unmarshal(msg.Payload, &note); err != nil {
			logger.Error("invalid broadcast payload", "error", err, "msg_type", msg.Type)
			return
		}

		frame, err := EncodeNotification(note)
		if err != nil {
			logger.Error("encode broadcast", "error", err)
			return
		}

		sessions := f.Broadcast(ctx, frame)
		logger.Info("system notification broadcast", "sessions", sessions, "notification_type", note.Type)
	})
}
