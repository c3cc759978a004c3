package database

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strconv"
	"strings"
)

//go:embed migrations/*.up.sql
var migrationFS embed.FS

type migration struct {
	version int64
	name    string
	path    string
}

// EnsureSchema applies all pending embedded migrations.
// It creates a schema_migrations table to track applied versions.
func EnsureSchema(ctx context.Context, db *DB, logger *slog.Logger) error {
	return applyMigrations(ctx, db, migrationFS, "migrations", logger)
}

func applyMigrations(ctx context.Context, db *DB, fsys fs.FS, dir string, logger *slog.Logger) error {
	_, err := db.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version BIGINT PRIMARY KEY,
			applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);
	`)
	if err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	migrations, err := collectMigrations(fsys, dir)
	if err != nil {
		return fmt.Errorf("collect migrations: %w", err)
	}
	logger.Info("found migration files", "count", len(migrations))

	for _, m := range migrations {
		var applied bool
		err = db.Pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)", m.version).Scan(&applied)
		if err != nil {
			return fmt.Errorf("check migration version %d: %w", m.version, err)
		}
		if applied {
			continue
		}

		content, err := fs.ReadFile(fsys, m.path)
		if err != nil {
			return fmt.Errorf("read migration file %s: %w", m.path, err)
		}

		tx, err := db.Pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}

		if _, err := tx.Exec(ctx, string(content)); err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				logger.Error("rollback failed", "error", rbErr)
			}
			return fmt.Errorf("execute migration %s: %w", m.path, err)
		}

		if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", m.version); err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				logger.Error("rollback failed", "error", rbErr)
			}
			return fmt.Errorf("record migration %s: %w", m.path, err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit migration %s: %w", m.path, err)
		}
		logger.Info("migration applied", "version", m.version, "name", m.name)
	}

	return nil
}

// collectMigrations returns NNNNNN_name.up.sql files sorted by version
func collectMigrations(fsys fs.FS, dir string) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}

	var out []migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".up.sql") {
			continue
		}
		parts := strings.SplitN(entry.Name(), "_", 2)
		if len(parts) < 2 {
			continue
		}
		version, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			continue
		}
		out = append(out, migration{
			version: version,
			name:    strings.TrimSuffix(parts[1], ".up.sql"),
			path:    dir + "/" + entry.Name(),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}
