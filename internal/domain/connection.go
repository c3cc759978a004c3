package domain

import "time"

// ConnectionEntry is one row of the durable connection ledger.
// UserID stays as text so that reconciliation can reject malformed rows
// without failing the whole load.
type ConnectionEntry struct {
	SessionID   string    `json:"session_id" bson:"session_id"`
	UserID      string    `json:"user_id" bson:"user_id"`
	ConnectedAt time.Time `json:"connected_at" bson:"connected_at"`
}
