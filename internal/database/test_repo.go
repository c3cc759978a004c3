package database

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/observer/notifyhub/internal/domain"
)

// foreignKeyViolation is the Postgres SQLSTATE for a missing referenced row
const foreignKeyViolation = "23503"

// TestRepository handles scheduled test data access
type TestRepository struct {
	db *DB
}

func NewTestRepository(db *DB) *TestRepository {
	return &TestRepository{db: db}
}

// Create schedules a test for test.UserID. It returns domain.ErrUserNotFound
// when the user does not exist.
func (r *TestRepository) Create(ctx context.Context, test *domain.ScheduledTest) error {
	err := r.db.Pool.QueryRow(ctx, `
		INSERT INTO tests (user_id, test_name)
		VALUES ($1, $2)
		RETURNING id, scheduled_at, created_at
	`, test.UserID, test.TestName).Scan(&test.ID, &test.ScheduledAt, &test.CreatedAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
		return domain.ErrUserNotFound
	}
	return err
}

// ListByUser returns a user's tests, newest first
func (r *TestRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.ScheduledTest, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, user_id, test_name, scheduled_at, created_at
		FROM tests
		WHERE user_id = $1
		ORDER BY scheduled_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tests := []domain.ScheduledTest{}
	for rows.Next() {
		var t domain.ScheduledTest
		if err := rows.Scan(&t.ID, &t.UserID, &t.TestName, &t.ScheduledAt, &t.CreatedAt); err != nil {
			return nil, err
		}
		tests = append(tests, t)
	}
	return tests, rows.Err()
}

// ListAll returns every test with its owner, newest first
func (r *TestRepository) ListAll(ctx context.Context) ([]domain.TestWithOwner, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT t.id, t.user_id, t.test_name, t.scheduled_at, t.created_at,
		       u.name, u.email
		FROM tests t
		JOIN users u ON u.id = t.user_id
		ORDER BY t.scheduled_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tests := []domain.TestWithOwner{}
	for rows.Next() {
		var t domain.TestWithOwner
		err := rows.Scan(
			&t.ID, &t.UserID, &t.TestName, &t.ScheduledAt, &t.CreatedAt,
			&t.UserName, &t.UserEmail,
		)
		if err != nil {
			return nil, err
		}
		tests = append(tests, t)
	}
	return tests, rows.Err()
}

// Delete removes a test and returns the deleted row so its owner can be notified
func (r *TestRepository) Delete(ctx context.Context, id uuid.UUID) (*domain.ScheduledTest, error) {
	t := &domain.ScheduledTest{}
	err := r.db.Pool.QueryRow(ctx, `
		DELETE FROM tests WHERE id = $1
		RETURNING id, user_id, test_name, scheduled_at, created_at
	`, id).Scan(&t.ID, &t.UserID, &t.TestName, &t.ScheduledAt, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrTestNotFound
	}
	return t, err
}
