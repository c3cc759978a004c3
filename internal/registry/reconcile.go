package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/observer/notifyhub/internal/domain"
)

var (
	// ErrMalformedRow marks a ledger row that cannot be restored
	ErrMalformedRow = errors.New("malformed ledger row")

	// ErrLedgerUnavailable is returned when every attempt to read the ledger failed
	ErrLedgerUnavailable = errors.New("connection ledger unavailable")
)

// RetryPolicy controls how long Reconcile keeps trying to read the ledger.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration // doubled after each failed attempt
	MaxDelay  time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.Attempts <= 0 {
		p.Attempts = 5
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 500 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 10 * time.Second
	}
	return p
}

// ReconcileResult summarizes a reconciliation run
type ReconcileResult struct {
	Loaded int `json:"loaded"`
	Stale  int `json:"stale"`
	Failed int `json:"failed"`
}

// Reconciler rebuilds a registry from the ledger. It must run before the
// transport starts admitting connections.
type Reconciler struct {
	source   LedgerSource
	registry *Registry
	retry    RetryPolicy
	now      func() time.Time
	logger   *slog.Logger
}

// NewReconciler creates a reconciler reading from source into reg
func NewReconciler(source LedgerSource, reg *Registry, retry RetryPolicy, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		source:   source,
		registry: reg,
		retry:    retry.withDefaults(),
		now:      time.Now,
		logger:   logger.With("component", "reconciler"),
	}
}

// Reconcile restores every ledger row younger than maxAge. Bad rows are
// logged and skipped. Only a ledger that stays unreachable through all retry
// attempts yields an error, in which case the registry is left untouched.
func (r *Reconciler) Reconcile(ctx context.Context, maxAge time.Duration) (ReconcileResult, error) {
	var result ReconcileResult
	if maxAge <= 0 {
		return result, fmt.Errorf("reconcile: max age must be positive, got %s", maxAge)
	}

	entries, err := r.listWithRetry(ctx, maxAge)
	if err != nil {
		return result, err
	}

	cutoff := r.now().Add(-maxAge)
	seen := make(map[string]struct{}, len(entries))

	for i, entry := range entries {
		userID, err := validateEntry(entry, seen)
		if err != nil {
			result.Failed++
			r.logger.Warn("skipping ledger row", "row", i, "session_id", entry.SessionID, "user_id", entry.UserID, "error", err)
			continue
		}
		// The ledger already filters, but its clock may differ from ours.
		if !entry.ConnectedAt.After(cutoff) {
			result.Stale++
			continue
		}
		seen[entry.SessionID] = struct{}{}
		r.registry.Add(userID, entry.SessionID)
		result.Loaded++
	}

	r.logger.Info("reconciled connections from ledger",
		"loaded", result.Loaded,
		"stale", result.Stale,
		"failed", result.Failed,
		"max_age", maxAge.String(),
	)
	return result, nil
}

func validateEntry(entry domain.ConnectionEntry, seen map[string]struct{}) (uuid.UUID, error) {
	if entry.SessionID == "" {
		return uuid.Nil, fmt.Errorf("%w: empty session id", ErrMalformedRow)
	}
	if _, dup := seen[entry.SessionID]; dup {
		return uuid.Nil, fmt.Errorf("%w: duplicate session id", ErrMalformedRow)
	}
	userID, err := uuid.Parse(entry.UserID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: user id: %v", ErrMalformedRow, err)
	}
	if userID == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%w: nil user id", ErrMalformedRow)
	}
	if entry.ConnectedAt.IsZero() {
		return uuid.Nil, fmt.Errorf("%w: missing connected_at", ErrMalformedRow)
	}
	return userID, nil
}

func (r *Reconciler) listWithRetry(ctx context.Context, maxAge time.Duration) ([]domain.ConnectionEntry, error) {
	delay := r.retry.BaseDelay
	var lastErr error

	for attempt := 1; attempt <= r.retry.Attempts; attempt++ {
		entries, err := r.source.ListRecent(ctx, maxAge)
		if err == nil {
			return entries, nil
		}
		lastErr = err
		if attempt == r.retry.Attempts {
			break
		}

		r.logger.Warn("ledger read failed, retrying",
			"attempt", attempt,
			"max_attempts", r.retry.Attempts,
			"retry_in", delay.String(),
			"error", err,
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w: %v", ErrLedgerUnavailable, ctx.Err())
		case <-timer.C:
		}

		delay *= 2
		if delay > r.retry.MaxDelay {
			delay = r.retry.MaxDelay
		}
	}

	return nil, fmt.Errorf("%w after %d attempts: %v", ErrLedgerUnavailable, r.retry.Attempts, lastErr)
}
