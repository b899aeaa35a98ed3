package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Damqn23/auction-marketplace/internal/domain"
)

// AccountQueries serves the read side of accounts: ledger history and
// notifications.
type AccountQueries struct {
	transactions  domain.TransactionStore
	notifications domain.NotificationStore
	logger        *slog.Logger
}

// NewAccountQueries creates an AccountQueries.
func NewAccountQueries(
	transactions domain.TransactionStore,
	notifications domain.NotificationStore,
	logger *slog.Logger,
) *AccountQueries {
	return &AccountQueries{
		transactions:  transactions,
		notifications: notifications,
		logger:        logger,
	}
}

// ListTransactions returns the user's ledger entries, newest first.
func (q *AccountQueries) ListTransactions(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Transaction, error) {
	txs, err := q.transactions.ListByUser(ctx, userID, opts)
	if err != nil {
		return nil, fmt.Errorf("account_queries: list transactions: %w", err)
	}
	return txs, nil
}

// ListNotifications returns the user's notifications, newest first.
func (q *AccountQueries) ListNotifications(ctx context.Context, userID string, unreadOnly bool, opts domain.ListOpts) ([]domain.Notification, error) {
	ns, err := q.notifications.ListByUser(ctx, userID, unreadOnly, opts)
	if err != nil {
		return nil, fmt.Errorf("account_queries: list notifications: %w", err)
	}
	return ns, nil
}

// MarkRead acknowledges one of the user's notifications.
func (q *AccountQueries) MarkRead(ctx context.Context, userID, id string) error {
	if err := q.notifications.MarkRead(ctx, userID, id); err != nil {
		return fmt.Errorf("account_queries: mark read: %w", err)
	}
	q.logger.DebugContext(ctx, "account_queries: notification read",
		slog.String("user_id", userID),
		slog.String("notification_id", id),
	)
	return nil
}
