package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/observer/notifyhub/internal/domain"
	"github.com/observer/notifyhub/internal/registry"
)

var _ registry.Ledger = (*ConnectionLedger)(nil)

// ConnectionLedger stores live sessions in the Postgres connections table
type ConnectionLedger struct {
	db *DB
}

func NewConnectionLedger(db *DB) *ConnectionLedger {
	return &ConnectionLedger{db: db}
}

// Persist upserts the session row and refreshes connected_at
func (l *ConnectionLedger) Persist(ctx context.Context, sessionID string, userID uuid.UUID) error {
	_, err := l.db.Pool.Exec(ctx, `
		INSERT INTO connections (connection_id, user_id, connected_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (connection_id)
		DO UPDATE SET user_id = EXCLUDED.user_id, connected_at = NOW()
	`, sessionID, userID)
	if err != nil {
		return fmt.Errorf("persist connection: %w", err)
	}
	return nil
}

// Forget deletes the session row. Deleting a missing row is not an error.
func (l *ConnectionLedger) Forget(ctx context.Context, sessionID string) error {
	_, err := l.db.Pool.Exec(ctx, `DELETE FROM connections WHERE connection_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("forget connection: %w", err)
	}
	return nil
}

// ListRecent returns rows whose connected_at is within maxAge of the
// database clock. user_id is read as text so bad rows surface during
// reconciliation instead of failing the scan.
func (l *ConnectionLedger) ListRecent(ctx context.Context, maxAge time.Duration) ([]domain.ConnectionEntry, error) {
	rows, err := l.db.Pool.Query(ctx, `
		SELECT connection_id, user_id::text, connected_at
		FROM connections
		WHERE connected_at > NOW() - make_interval(secs => $1)
		ORDER BY connected_at
	`, maxAge.Seconds())
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer rows.Close()

	var entries []domain.ConnectionEntry
	for rows.Next() {
		var e domain.ConnectionEntry
		if err := rows.Scan(&e.SessionID, &e.UserID, &e.ConnectedAt); err != nil {
			return nil, fmt.Errorf("scan connection: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
