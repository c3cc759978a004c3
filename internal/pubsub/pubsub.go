// Package pubsub carries system-wide notification events between API handlers
// and the websocket hub. The in-memory backend serves a single instance; the
// Redis backend lets a broadcast published on one instance reach sessions
// held by every instance.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
)

// ErrClosed is returned when operations are attempted on a closed PubSub
var ErrClosed = errors.New("pubsub: closed")

// subscriptionBuffer is how many messages may wait for a slow subscriber
// before newer ones are dropped.
const subscriptionBuffer = 64

// Message represents a pub/sub message with typed payload
type Message struct {
	Topic   string          `json:"topic"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Handler is a callback for processing messages. A subscription's handler
// is never called concurrently with itself and sees messages in the order
// this instance received them.
type Handler func(ctx context.Context, msg *Message)

// invoke runs h and turns a panic into a logged error so one bad message
// does not end the subscription.
func invoke(ctx context.Context, h Handler, msg *Message, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("subscriber panicked",
				"error", fmt.Sprint(r),
				"topic", msg.Topic,
				"msg_type", msg.Type,
				"stack", string(debug.Stack()),
			)
		}
	}()
	h(ctx, msg)
}

// Subscription represents an active subscription that can be closed
type Subscription interface {
	// Unsubscribe removes the subscription
	Unsubscribe() error
}

// PubSub defines the interface for publish/subscribe operations.
// All implementations must be safe for concurrent use.
type PubSub interface {
	// Publish sends a message to all subscribers of the given topic.
	// Handlers run asynchronously and must not rely on ctx staying alive.
	Publish(ctx context.Context, topic string, msg *Message) error

	// Subscribe registers a handler for messages on the given topic.
	// The handler is called for each message published to the topic.
	// Returns a Subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, topic string, handler Handler) (Subscription, error)

	// Close shuts down the pub/sub system and releases resources.
	Close() error
}

// TopicBuilder helps construct consistent topic names
type TopicBuilder struct{}

// Broadcast returns the topic for notifications sent to every live session
func (t TopicBuilder) Broadcast() string {
	return "notifications:broadcast"
}

// Topics is a helper for building topic names
var Topics = TopicBuilder{}
