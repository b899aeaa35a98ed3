package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is a user's ledger entry. Balance is never negative after a
// committed operation.
type Account struct {
	UserID    string          `json:"user_id"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// TransactionKind classifies a ledger audit record.
type TransactionKind string

const (
	TxDeposit       TransactionKind = "deposit"
	TxWithdrawal    TransactionKind = "withdrawal"
	TxBidLock       TransactionKind = "bid_lock"
	TxBidRelease    TransactionKind = "bid_release"
	TxSellerPayment TransactionKind = "seller_payment"
)

// TransactionStatus is the processing state of a ledger record.
type TransactionStatus string

const (
	TxPending   TransactionStatus = "pending"
	TxCompleted TransactionStatus = "completed"
	TxFailed    TransactionStatus = "failed"
)

// Transaction is an append-only ledger audit record.
type Transaction struct {
	ID          string            `json:"id"`
	UserID      string            `json:"user_id"`
	Kind        TransactionKind   `json:"kind"`
	Amount      decimal.Decimal   `json:"amount"`
	Status      TransactionStatus `json:"status"`
	Description string            `json:"description"`
	AuctionID   string            `json:"auction_id,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// HoldStatus tracks funds held against a user's bid on one auction.
type HoldStatus string

const (
	HoldActive   HoldStatus = "active"
	HoldReleased HoldStatus = "released"
	HoldCaptured HoldStatus = "captured"
)

// Hold records the amount currently held for a user on an auction. Refunds
// are driven by active holds so each held amount is returned at most once.
type Hold struct {
	AuctionID string          `json:"auction_id"`
	UserID    string          `json:"user_id"`
	Amount    decimal.Decimal `json:"amount"`
	Status    HoldStatus      `json:"status"`
	UpdatedAt time.Time       `json:"updated_at"`
}
