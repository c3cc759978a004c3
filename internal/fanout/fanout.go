// Package fanout delivers one payload to every live session of a user.
package fanout

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Sender pushes a payload to a single session. It is provided by the
// transport layer and may fail if the session has just gone away.
type Sender[P any] interface {
	Send(ctx context.Context, sessionID string, payload P) error
}

// SenderFunc adapts a function to Sender
type SenderFunc[P any] func(ctx context.Context, sessionID string, payload P) error

func (f SenderFunc[P]) Send(ctx context.Context, sessionID string, payload P) error {
	return f(ctx, sessionID, payload)
}

// SessionSource provides snapshots of live sessions. *registry.Registry
// satisfies it.
type SessionSource interface {
	SessionsOf(userID uuid.UUID) []string
	AllSessions() []string
}

// Fanout delivers payloads of type P without inspecting them.
type Fanout[P any] struct {
	sessions    SessionSource
	sender      Sender[P]
	parallelism int
	logger      *slog.Logger
}

// New creates a Fanout. parallelism bounds concurrent sends per call;
// values below 1 mean sequential delivery.
func New[P any](sessions SessionSource, sender Sender[P], parallelism int, logger *slog.Logger) *Fanout[P] {
	if parallelism < 1 {
		parallelism = 1
	}
	return &Fanout[P]{
		sessions:    sessions,
		sender:      sender,
		parallelism: parallelism,
		logger:      logger.With("component", "fanout"),
	}
}

// DeliverToUser sends payload to each session of userID and returns how many
// sessions were attempted. Send failures are logged, not returned: a device
// that dropped mid-delivery must not fail the operation that triggered it.
func (f *Fanout[P]) DeliverToUser(ctx context.Context, userID uuid.UUID, payload P) int {
	sessions := f.sessions.SessionsOf(userID)
	f.deliver(ctx, sessions, payload)
	f.logger.Debug("delivered to user", "user_id", userID, "sessions", len(sessions))
	return len(sessions)
}

// Broadcast sends payload to every live session and returns the attempt count.
func (f *Fanout[P]) Broadcast(ctx context.Context, payload P) int {
	sessions := f.sessions.AllSessions()
	f.deliver(ctx, sessions, payload)
	f.logger.Debug("broadcast delivered", "sessions", len(sessions))
	return len(sessions)
}

// deliver runs outside any registry lock; sessions is already a copy.
func (f *Fanout[P]) deliver(ctx context.Context, sessions []string, payload P) {
	if len(sessions) == 0 {
		return
	}

	var g errgroup.Group
	g.SetLimit(f.parallelism)
	for _, sessionID := range sessions {
		g.Go(func() error {
			if err := f.sender.Send(ctx, sessionID, payload); err != nil {
				f.logger.Warn("delivery attempt failed", "session_id", sessionID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
}
