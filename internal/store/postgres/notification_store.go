package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Damqn23/auction-marketplace/internal/domain"
)

// NotificationStore implements domain.NotificationStore using PostgreSQL.
type NotificationStore struct {
	pool *pgxpool.Pool
}

// NewNotificationStore creates a new NotificationStore backed by the given connection pool.
func NewNotificationStore(pool *pgxpool.Pool) *NotificationStore {
	return &NotificationStore{pool: pool}
}

var _ domain.NotificationStore = (*NotificationStore)(nil)

// ListByUser returns a user's notifications, newest first.
func (s *NotificationStore) ListByUser(ctx context.Context, userID string, unreadOnly bool, opts domain.ListOpts) ([]domain.Notification, error) {
	base := `SELECT ` + notificationSelectCols + ` FROM notifications WHERE user_id = $1`
	if unreadOnly {
		base += ` AND NOT read`
	}
	query, args := withListOpts(base, []any{userID}, "created_at", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list notifications %s: %w", userID, err)
	}
	out, err := collect(rows, scanNotification)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan notifications %s: %w", userID, err)
	}
	return out, nil
}

// MarkRead flags one of the user's notifications as read.
func (s *NotificationStore) MarkRead(ctx context.Context, userID, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE notifications SET read = TRUE WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("postgres: mark notification %s read: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("notification %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// OutboxStore implements domain.OutboxStore using PostgreSQL.
type OutboxStore struct {
	pool *pgxpool.Pool
}

// NewOutboxStore creates a new OutboxStore backed by the given connection pool.
func NewOutboxStore(pool *pgxpool.Pool) *OutboxStore {
	return &OutboxStore{pool: pool}
}

var _ domain.OutboxStore = (*OutboxStore)(nil)

// Append inserts events outside any settlement transaction.
func (s *OutboxStore) Append(ctx context.Context, events ...domain.OutboxEvent) error {
	for _, e := range events {
		if err := insertOutbox(ctx, s.pool, e); err != nil {
			return err
		}
	}
	return nil
}

// ListPending returns undelivered events below the attempt ceiling in
// creation order.
func (s *OutboxStore) ListPending(ctx context.Context, limit, maxAttempts int) ([]domain.OutboxEvent, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+outboxSelectCols+` FROM outbox
		WHERE delivered_at IS NULL AND ($2 <= 0 OR attempts < $2)
		ORDER BY created_at, id
		LIMIT $1`, limit, maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pending outbox: %w", err)
	}
	out, err := collect(rows, scanOutbox)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan pending outbox: %w", err)
	}
	return out, nil
}

// MarkDelivered records a successful delivery.
func (s *OutboxStore) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE outbox SET delivered_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("postgres: mark outbox %s delivered: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("outbox %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// MarkFailed counts a failed delivery attempt.
func (s *OutboxStore) MarkFailed(ctx context.Context, id, reason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE outbox SET attempts = attempts + 1, last_error = $2 WHERE id = $1`, id, reason)
	if err != nil {
		return fmt.Errorf("postgres: mark outbox %s failed: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("outbox %s: %w", id, domain.ErrNotFound)
	}
	return nil
}
