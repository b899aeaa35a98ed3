package memory

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Damqn23/auction-marketplace/internal/domain"
)

// memTx mutates a private state copy. The Store mutex is held for the whole
// transaction, so row locks are implicit.
type memTx struct {
	st *state
}

var _ domain.Tx = (*memTx)(nil)

func (t *memTx) LockAuction(ctx context.Context, id string) (domain.Auction, error) {
	a, ok := t.st.auctions[id]
	if !ok {
		return domain.Auction{}, fmt.Errorf("memory: auction %s: %w", id, domain.ErrNotFound)
	}
	return a, nil
}

func (t *memTx) UpdateAuction(ctx context.Context, a domain.Auction) error {
	if _, ok := t.st.auctions[a.ID]; !ok {
		return fmt.Errorf("memory: auction %s: %w", a.ID, domain.ErrNotFound)
	}
	t.st.auctions[a.ID] = a
	return nil
}

func (t *memTx) HighestBid(ctx context.Context, auctionID string) (domain.Bid, bool, error) {
	bids := t.st.bids[auctionID]
	if len(bids) == 0 {
		return domain.Bid{}, false, nil
	}
	best := bids[0]
	for _, b := range bids[1:] {
		if b.Outranks(best) {
			best = b
		}
	}
	return best, true, nil
}

func (t *memTx) LastBidAt(ctx context.Context, auctionID, bidderID string) (time.Time, bool, error) {
	var (
		last  time.Time
		found bool
	)
	for _, b := range t.st.bids[auctionID] {
		if b.BidderID == bidderID && (!found || b.CreatedAt.After(last)) {
			last, found = b.CreatedAt, true
		}
	}
	return last, found, nil
}

func (t *memTx) InsertBid(ctx context.Context, b domain.Bid) error {
	t.st.bids[b.AuctionID] = append(t.st.bids[b.AuctionID], b)
	return nil
}

func (t *memTx) BidderIDs(ctx context.Context, auctionID string) ([]string, error) {
	var ids []string
	for _, b := range t.st.bids[auctionID] {
		ids = append(ids, b.BidderID)
	}
	slices.Sort(ids)
	return slices.Compact(ids), nil
}

func (t *memTx) LockAccounts(ctx context.Context, userIDs []string) ([]domain.Account, error) {
	ids := slices.Clone(userIDs)
	slices.Sort(ids)
	out := make([]domain.Account, 0, len(ids))
	for _, id := range slices.Compact(ids) {
		if acct, ok := t.st.accounts[id]; ok {
			out = append(out, acct)
		}
	}
	return out, nil
}

func (t *memTx) UpdateBalance(ctx context.Context, userID string, balance decimal.Decimal, at time.Time) error {
	acct, ok := t.st.accounts[userID]
	if !ok {
		return fmt.Errorf("memory: account %s: %w", userID, domain.ErrNotFound)
	}
	if balance.IsNegative() {
		return fmt.Errorf("memory: account %s: negative balance %s", userID, balance)
	}
	acct.Balance = balance
	acct.UpdatedAt = at
	t.st.accounts[userID] = acct
	return nil
}

func (t *memTx) InsertTransaction(ctx context.Context, rec domain.Transaction) error {
	t.st.transactions = append(t.st.transactions, rec)
	return nil
}

func (t *memTx) GetHold(ctx context.Context, auctionID, userID string) (domain.Hold, error) {
	h, ok := t.st.holds[holdKey{auctionID, userID}]
	if !ok {
		return domain.Hold{}, fmt.Errorf("memory: hold %s/%s: %w", auctionID, userID, domain.ErrNotFound)
	}
	return h, nil
}

func (t *memTx) ActiveHolds(ctx context.Context, auctionID string) ([]domain.Hold, error) {
	var out []domain.Hold
	for k, h := range t.st.holds {
		if k.auctionID == auctionID && h.Status == domain.HoldActive {
			out = append(out, h)
		}
	}
	slices.SortFunc(out, func(a, b domain.Hold) int {
		switch {
		case a.UserID < b.UserID:
			return -1
		case a.UserID > b.UserID:
			return 1
		}
		return 0
	})
	return out, nil
}

func (t *memTx) SaveHold(ctx context.Context, h domain.Hold) error {
	t.st.holds[holdKey{h.AuctionID, h.UserID}] = h
	return nil
}

func (t *memTx) InsertNotification(ctx context.Context, n domain.Notification) error {
	t.st.notifications = append(t.st.notifications, n)
	return nil
}

func (t *memTx) InsertOutbox(ctx context.Context, e domain.OutboxEvent) error {
	t.st.outbox = append(t.st.outbox, e)
	return nil
}
