// Package registry keeps the authoritative in-memory index of live sessions
// per user, mirrors it to a durable ledger in the background and rebuilds it
// from that ledger on startup.
//
// Session handles must be unique for the lifetime of the process and never
// reused across restarts. The transport layer guarantees this; the registry
// cannot detect a reused handle.
package registry

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Recorder receives the durable side effects of registry mutations.
// Both calls are made with the registry lock held, so they arrive in the
// same order as the mutations. Implementations must not block.
type Recorder interface {
	Persist(sessionID string, userID uuid.UUID)
	Forget(sessionID string)
}

type nopRecorder struct{}

func (nopRecorder) Persist(string, uuid.UUID) {}
func (nopRecorder) Forget(string)             {}

// Stats is a point-in-time snapshot of the registry
type Stats struct {
	UserCount    int               `json:"total_users"`
	SessionCount int               `json:"total_connections"`
	PerUser      map[uuid.UUID]int `json:"connections_per_user"`
}

// Registry maps users to their live sessions and sessions back to their owner.
// Both maps are guarded by one mutex so a mutation is never observed half applied.
type Registry struct {
	mu sync.RWMutex

	// user -> set of session handles; a user with no sessions has no key
	byUser map[uuid.UUID]map[string]struct{}

	// session handle -> owning user
	ownerOf map[string]uuid.UUID

	recorder Recorder
	logger   *slog.Logger
}

// New creates an empty registry. A nil recorder disables persistence.
func New(recorder Recorder, logger *slog.Logger) *Registry {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Registry{
		byUser:   make(map[uuid.UUID]map[string]struct{}),
		ownerOf:  make(map[string]uuid.UUID),
		recorder: recorder,
		logger:   logger.With("component", "registry"),
	}
}

// Add registers sessionID under userID and schedules it to be persisted.
func (r *Registry) Add(userID uuid.UUID, sessionID string) {
	r.mu.Lock()
	if prev, ok := r.ownerOf[sessionID]; ok && prev != userID {
		// Handle reuse is a transport bug; keep the index consistent anyway.
		r.logger.Warn("session handle re-added under a different user",
			"session_id", sessionID, "previous_user_id", prev, "user_id", userID)
		r.detachLocked(prev, sessionID)
	}
	sessions, ok := r.byUser[userID]
	if !ok {
		sessions = make(map[string]struct{})
		r.byUser[userID] = sessions
	}
	sessions[sessionID] = struct{}{}
	r.ownerOf[sessionID] = userID
	count := len(sessions)
	r.recorder.Persist(sessionID, userID)
	r.mu.Unlock()

	r.logger.Debug("session added", "user_id", userID, "session_id", sessionID, "user_sessions", count)
}

// Remove unregisters sessionID. Unknown sessions are ignored so duplicate
// disconnect callbacks are harmless. It reports whether anything was removed.
func (r *Registry) Remove(sessionID string) bool {
	r.mu.Lock()
	userID, ok := r.ownerOf[sessionID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	r.detachLocked(userID, sessionID)
	r.recorder.Forget(sessionID)
	r.mu.Unlock()

	r.logger.Debug("session removed", "user_id", userID, "session_id", sessionID)
	return true
}

func (r *Registry) detachLocked(userID uuid.UUID, sessionID string) {
	delete(r.ownerOf, sessionID)
	if sessions, ok := r.byUser[userID]; ok {
		delete(sessions, sessionID)
		if len(sessions) == 0 {
			delete(r.byUser, userID)
		}
	}
}

// SessionsOf returns a copy of the user's live sessions, empty if none.
func (r *Registry) SessionsOf(userID uuid.UUID) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := r.byUser[userID]
	out := make([]string, 0, len(sessions))
	for id := range sessions {
		out = append(out, id)
	}
	return out
}

// AllSessions returns a copy of every live session handle.
func (r *Registry) AllSessions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.ownerOf))
	for id := range r.ownerOf {
		out = append(out, id)
	}
	return out
}

// OwnerOf returns the user owning sessionID.
func (r *Registry) OwnerOf(sessionID string) (uuid.UUID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	userID, ok := r.ownerOf[sessionID]
	return userID, ok
}

// IsUserOnline checks if a user has any live session
func (r *Registry) IsUserOnline(userID uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byUser[userID]
	return ok
}

// Stats returns user and session counts.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	perUser := make(map[uuid.UUID]int, len(r.byUser))
	for userID, sessions := range r.byUser {
		perUser[userID] = len(sessions)
	}
	return Stats{
		UserCount:    len(r.byUser),
		SessionCount: len(r.ownerOf),
		PerUser:      perUser,
	}
}
