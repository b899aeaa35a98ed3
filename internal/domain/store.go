package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// Tx is the set of operations available inside one settlement transaction.
// LockAuction and LockAccounts take exclusive row locks held until commit or
// rollback; reads that drive a write decision must happen after LockAuction.
type Tx interface {
	LockAuction(ctx context.Context, id string) (Auction, error)
	UpdateAuction(ctx context.Context, a Auction) error

	HighestBid(ctx context.Context, auctionID string) (Bid, bool, error)
	LastBidAt(ctx context.Context, auctionID, bidderID string) (time.Time, bool, error)
	InsertBid(ctx context.Context, b Bid) error
	BidderIDs(ctx context.Context, auctionID string) ([]string, error)

	// LockAccounts locks the given accounts in ascending user id order and
	// returns the ones that exist.
	LockAccounts(ctx context.Context, userIDs []string) ([]Account, error)
	UpdateBalance(ctx context.Context, userID string, balance decimal.Decimal, at time.Time) error
	InsertTransaction(ctx context.Context, t Transaction) error

	GetHold(ctx context.Context, auctionID, userID string) (Hold, error)
	ActiveHolds(ctx context.Context, auctionID string) ([]Hold, error)
	SaveHold(ctx context.Context, h Hold) error

	InsertNotification(ctx context.Context, n Notification) error
	InsertOutbox(ctx context.Context, e OutboxEvent) error
}

// TxRunner executes fn atomically. Any error returned by fn rolls back every
// mutation made through the Tx.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// AuctionStore provides auction reads and seeding outside settlement.
type AuctionStore interface {
	Create(ctx context.Context, a Auction) error
	GetByID(ctx context.Context, id string) (Auction, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]string, error)
	ListEndedBetween(ctx context.Context, from, to time.Time) ([]Auction, error)
}

// BidStore lists recorded bids, highest first.
type BidStore interface {
	ListByAuction(ctx context.Context, auctionID string, opts ListOpts) ([]Bid, error)
}

// AccountStore creates and reads ledger accounts.
type AccountStore interface {
	Create(ctx context.Context, a Account) error
	GetByUser(ctx context.Context, userID string) (Account, error)
}

// TransactionStore reads the ledger audit trail.
type TransactionStore interface {
	ListByUser(ctx context.Context, userID string, opts ListOpts) ([]Transaction, error)
	ListByAuction(ctx context.Context, auctionID string) ([]Transaction, error)
}

// NotificationStore reads and acknowledges user notifications.
type NotificationStore interface {
	ListByUser(ctx context.Context, userID string, unreadOnly bool, opts ListOpts) ([]Notification, error)
	MarkRead(ctx context.Context, userID, id string) error
}

// OutboxStore holds events awaiting delivery.
type OutboxStore interface {
	Append(ctx context.Context, events ...OutboxEvent) error
	ListPending(ctx context.Context, limit, maxAttempts int) ([]OutboxEvent, error)
	MarkDelivered(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id, reason string) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
