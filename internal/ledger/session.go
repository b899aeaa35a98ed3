// Package ledger owns user balances. Every balance change goes through a
// Session opened on a settlement transaction, which locks the touched
// accounts in a fixed order and appends an audit record per mutation.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Damqn23/auction-marketplace/internal/domain"
	"github.com/Damqn23/auction-marketplace/internal/money"
)

var errNotLocked = errors.New("ledger: account not locked in this session")

// Entry describes one balance mutation.
type Entry struct {
	UserID      string
	Amount      decimal.Decimal
	Kind        domain.TransactionKind
	AuctionID   string
	Description string
}

// Session holds exclusive locks on a set of accounts for the lifetime of the
// enclosing transaction.
type Session struct {
	tx       domain.Tx
	now      time.Time
	accounts map[string]*domain.Account
	changed  map[string]bool
}

// Open locks the accounts of userIDs in ascending id order. Duplicate and
// empty ids are ignored. A missing account fails with domain.ErrNotFound.
func Open(ctx context.Context, tx domain.Tx, now time.Time, userIDs ...string) (*Session, error) {
	ids := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		if id != "" {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	ids = slices.Compact(ids)

	s := &Session{
		tx:       tx,
		now:      now,
		accounts: make(map[string]*domain.Account, len(ids)),
		changed:  make(map[string]bool),
	}
	if len(ids) == 0 {
		return s, nil
	}

	locked, err := tx.LockAccounts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("ledger: lock accounts: %w", err)
	}
	for i := range locked {
		acct := locked[i]
		s.accounts[acct.UserID] = &acct
	}
	for _, id := range ids {
		if _, ok := s.accounts[id]; !ok {
			return nil, fmt.Errorf("ledger: account %s: %w", id, domain.ErrNotFound)
		}
	}
	return s, nil
}

// Balance returns the current in-transaction balance of a locked account.
func (s *Session) Balance(userID string) (decimal.Decimal, bool) {
	acct, ok := s.accounts[userID]
	if !ok {
		return decimal.Zero, false
	}
	return acct.Balance, true
}

// Debit removes e.Amount from the account. It fails with
// domain.ErrInsufficientFunds when the balance is lower than the amount.
func (s *Session) Debit(ctx context.Context, e Entry) error {
	acct, err := s.lookup(e)
	if err != nil {
		return err
	}
	if acct.Balance.LessThan(e.Amount) {
		return fmt.Errorf("%w: balance %s, required %s",
			domain.ErrInsufficientFunds, money.Dollars(acct.Balance), money.Dollars(e.Amount))
	}
	return s.apply(ctx, acct, acct.Balance.Sub(e.Amount), e)
}

// Credit adds e.Amount to the account.
func (s *Session) Credit(ctx context.Context, e Entry) error {
	acct, err := s.lookup(e)
	if err != nil {
		return err
	}
	return s.apply(ctx, acct, acct.Balance.Add(e.Amount), e)
}

// Changed returns the accounts mutated in this session, ordered by user id.
func (s *Session) Changed() []domain.Account {
	out := make([]domain.Account, 0, len(s.changed))
	for id := range s.changed {
		out = append(out, *s.accounts[id])
	}
	slices.SortFunc(out, func(a, b domain.Account) int {
		switch {
		case a.UserID < b.UserID:
			return -1
		case a.UserID > b.UserID:
			return 1
		}
		return 0
	})
	return out
}

func (s *Session) lookup(e Entry) (*domain.Account, error) {
	if !money.IsCents(e.Amount) {
		return nil, fmt.Errorf("%w: ledger amount %s", domain.ErrInvalidAmount, e.Amount)
	}
	acct, ok := s.accounts[e.UserID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errNotLocked, e.UserID)
	}
	return acct, nil
}

func (s *Session) apply(ctx context.Context, acct *domain.Account, balance decimal.Decimal, e Entry) error {
	if err := s.tx.UpdateBalance(ctx, acct.UserID, balance, s.now); err != nil {
		return fmt.Errorf("ledger: update balance %s: %w", acct.UserID, err)
	}

	rec := domain.Transaction{
		ID:          uuid.NewString(),
		UserID:      acct.UserID,
		Kind:        e.Kind,
		Amount:      e.Amount,
		Status:      domain.TxCompleted,
		Description: e.Description,
		AuctionID:   e.AuctionID,
		CreatedAt:   s.now,
		UpdatedAt:   s.now,
	}
	if err := s.tx.InsertTransaction(ctx, rec); err != nil {
		return fmt.Errorf("ledger: record %s for %s: %w", e.Kind, acct.UserID, err)
	}

	acct.Balance = balance
	acct.UpdatedAt = s.now
	s.changed[acct.UserID] = true
	return nil
}
