package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/observer/notifyhub/internal/domain"
	"github.com/observer/notifyhub/internal/registry"
)

var _ registry.Ledger = (*SQLiteLedger)(nil)

// SQLiteLedger keeps the connection ledger in a local SQLite file, for
// single-node deployments without Postgres-backed sessions.
type SQLiteLedger struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteLedger opens (or creates) the ledger at path
func NewSQLiteLedger(ctx context.Context, path string) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite ledger: %w", err)
	}
	// one writer connection so the pragmas below apply to every statement
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA busy_timeout = 5000`,
		`CREATE TABLE IF NOT EXISTS connections (
			connection_id TEXT PRIMARY KEY,
			user_id       TEXT NOT NULL,
			connected_at  INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_connections_connected_at ON connections(connected_at)`,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init sqlite ledger: %w", err)
		}
	}

	return &SQLiteLedger{db: db, now: time.Now}, nil
}

// Persist upserts the session row and refreshes connected_at
func (l *SQLiteLedger) Persist(ctx context.Context, sessionID string, userID uuid.UUID) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO connections (connection_id, user_id, connected_at)
		VALUES (?, ?, ?)
		ON CONFLICT(connection_id)
		DO UPDATE SET user_id = excluded.user_id, connected_at = excluded.connected_at
	`, sessionID, userID.String(), l.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("persist connection: %w", err)
	}
	return nil
}

// Forget deletes the session row
func (l *SQLiteLedger) Forget(ctx context.Context, sessionID string) error {
	if _, err := l.db.ExecContext(ctx, `DELETE FROM connections WHERE connection_id = ?`, sessionID); err != nil {
		return fmt.Errorf("forget connection: %w", err)
	}
	return nil
}

// ListRecent returns rows connected within maxAge
func (l *SQLiteLedger) ListRecent(ctx context.Context, maxAge time.Duration) ([]domain.ConnectionEntry, error) {
	cutoff := l.now().Add(-maxAge).UnixMilli()
	rows, err := l.db.QueryContext(ctx, `
		SELECT connection_id, user_id, connected_at
		FROM connections
		WHERE connected_at > ?
		ORDER BY connected_at
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []domain.ConnectionEntry
	for rows.Next() {
		var (
			e  domain.ConnectionEntry
			ms int64
		)
		if err := rows.Scan(&e.SessionID, &e.UserID, &ms); err != nil {
			return nil, fmt.Errorf("scan connection: %w", err)
		}
		e.ConnectedAt = time.UnixMilli(ms)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the database file
func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}
