package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Damqn23/auction-marketplace/internal/domain"
	"github.com/Damqn23/auction-marketplace/internal/money"
)

// Service exposes the ledger operations driven from outside settlement:
// account creation and external top-ups and withdrawals.
type Service struct {
	txr      domain.TxRunner
	accounts domain.AccountStore
	waker    domain.OutboxWaker
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a ledger Service.
func NewService(
	txr domain.TxRunner,
	accounts domain.AccountStore,
	waker domain.OutboxWaker,
	logger *slog.Logger,
) *Service {
	if waker == nil {
		waker = domain.NopWaker{}
	}
	return &Service{
		txr:      txr,
		accounts: accounts,
		waker:    waker,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// OpenAccount creates a zero-balance account for userID.
func (s *Service) OpenAccount(ctx context.Context, userID string) (domain.Account, error) {
	if userID == "" {
		return domain.Account{}, fmt.Errorf("%w: empty user id", domain.ErrInvalidState)
	}
	now := s.now().UTC()
	acct := domain.Account{
		UserID:    userID,
		Balance:   decimal.Zero,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.accounts.Create(ctx, acct); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return domain.Account{}, err
		}
		return domain.Account{}, fmt.Errorf("ledger: open account %s: %w", userID, err)
	}
	s.logger.InfoContext(ctx, "ledger: account opened", slog.String("user_id", userID))
	return acct, nil
}

// Get returns the account of userID.
func (s *Service) Get(ctx context.Context, userID string) (domain.Account, error) {
	return s.accounts.GetByUser(ctx, userID)
}

// Deposit credits an external top-up to userID through the same primitive
// settlement uses.
func (s *Service) Deposit(ctx context.Context, userID string, amount decimal.Decimal) (domain.Account, error) {
	return s.move(ctx, userID, amount, domain.TxDeposit,
		fmt.Sprintf("Deposit of %s", money.Dollars(amount)))
}

// Withdraw debits userID, failing with domain.ErrInsufficientFunds when the
// balance does not cover amount.
func (s *Service) Withdraw(ctx context.Context, userID string, amount decimal.Decimal) (domain.Account, error) {
	return s.move(ctx, userID, amount, domain.TxWithdrawal,
		fmt.Sprintf("Withdrawal of %s", money.Dollars(amount)))
}

func (s *Service) move(
	ctx context.Context,
	userID string,
	amount decimal.Decimal,
	kind domain.TransactionKind,
	description string,
) (domain.Account, error) {
	if !money.IsCents(amount) {
		return domain.Account{}, fmt.Errorf("%w: %s must be positive with at most two decimals",
			domain.ErrInvalidAmount, amount)
	}

	var result domain.Account
	err := s.txr.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		now := s.now().UTC()
		sess, err := Open(ctx, tx, now, userID)
		if err != nil {
			return err
		}

		entry := Entry{UserID: userID, Amount: amount, Kind: kind, Description: description}
		if kind == domain.TxWithdrawal {
			err = sess.Debit(ctx, entry)
		} else {
			err = sess.Credit(ctx, entry)
		}
		if err != nil {
			return err
		}

		changed := sess.Changed()
		result = changed[0]
		ev, err := domain.NewOutboxEvent(domain.NewBalanceEvent(result, now))
		if err != nil {
			return err
		}
		return tx.InsertOutbox(ctx, ev)
	})
	if err != nil {
		if domain.IsBusinessError(err) {
			return domain.Account{}, err
		}
		return domain.Account{}, fmt.Errorf("ledger: %s %s: %w", kind, userID, err)
	}

	s.waker.Wake()
	s.logger.InfoContext(ctx, "ledger: balance moved",
		slog.String("user_id", userID),
		slog.String("kind", string(kind)),
		slog.String("amount", money.Format(amount)),
		slog.String("balance", money.Format(result.Balance)),
	)
	return result, nil
}
