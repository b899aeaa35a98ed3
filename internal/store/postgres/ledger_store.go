package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Damqn23/auction-marketplace/internal/domain"
)

// AccountStore implements domain.AccountStore using PostgreSQL.
type AccountStore struct {
	pool *pgxpool.Pool
}

// NewAccountStore creates a new AccountStore backed by the given connection pool.
func NewAccountStore(pool *pgxpool.Pool) *AccountStore {
	return &AccountStore{pool: pool}
}

var _ domain.AccountStore = (*AccountStore)(nil)

// Create inserts a new account.
func (s *AccountStore) Create(ctx context.Context, a domain.Account) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (user_id, balance, created_at, updated_at) VALUES ($1, $2::numeric, $3, $4)`,
		a.UserID, numeric(a.Balance), a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create account %s: %w", a.UserID, mapError(err))
	}
	return nil
}

// GetByUser reads an account without locking it.
func (s *AccountStore) GetByUser(ctx context.Context, userID string) (domain.Account, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+accountSelectCols+` FROM accounts WHERE user_id = $1`, userID)
	a, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Account{}, fmt.Errorf("account %s: %w", userID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Account{}, fmt.Errorf("postgres: get account %s: %w", userID, err)
	}
	return a, nil
}

// TransactionStore implements domain.TransactionStore using PostgreSQL.
type TransactionStore struct {
	pool *pgxpool.Pool
}

// NewTransactionStore creates a new TransactionStore backed by the given connection pool.
func NewTransactionStore(pool *pgxpool.Pool) *TransactionStore {
	return &TransactionStore{pool: pool}
}

var _ domain.TransactionStore = (*TransactionStore)(nil)

// ListByUser returns a user's ledger records, newest first.
func (s *TransactionStore) ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Transaction, error) {
	query, args := withListOpts(
		`SELECT `+transactionSelectCols+` FROM transactions WHERE user_id = $1`,
		[]any{userID}, "created_at", opts,
	)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list transactions %s: %w", userID, err)
	}
	out, err := collect(rows, scanTransaction)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan transactions %s: %w", userID, err)
	}
	return out, nil
}

// ListByAuction returns every ledger record tied to an auction in the order
// it was written.
func (s *TransactionStore) ListByAuction(ctx context.Context, auctionID string) ([]domain.Transaction, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+transactionSelectCols+` FROM transactions
		WHERE auction_id = $1
		ORDER BY created_at, id`, auctionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list auction transactions %s: %w", auctionID, err)
	}
	out, err := collect(rows, scanTransaction)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan auction transactions %s: %w", auctionID, err)
	}
	return out, nil
}

// withListOpts appends time filters, newest-first ordering and paging to a
// query whose existing placeholders are numbered up to len(args).
func withListOpts(query string, args []any, column string, opts domain.ListOpts) (string, []any) {
	argIdx := len(args) + 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND %s >= $%d", column, argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND %s <= $%d", column, argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += fmt.Sprintf(" ORDER BY %s DESC", column)

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}
	return query, args
}
