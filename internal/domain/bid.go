package domain

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// Bid is an immutable offer on an auction. Bids are superseded, never edited.
type Bid struct {
	ID        string          `json:"id"`
	AuctionID string          `json:"auction_id"`
	BidderID  string          `json:"bidder_id"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt time.Time       `json:"created_at"`
}

// Outranks reports whether b sorts before o: higher amount first, earlier
// timestamp on ties.
func (b Bid) Outranks(o Bid) bool {
	if c := b.Amount.Cmp(o.Amount); c != 0 {
		return c > 0
	}
	if !b.CreatedAt.Equal(o.CreatedAt) {
		return b.CreatedAt.Before(o.CreatedAt)
	}
	return b.ID < o.ID
}

// SortBids orders bids highest first.
func SortBids(bids []Bid) {
	slices.SortStableFunc(bids, func(a, b Bid) int {
		switch {
		case a.Outranks(b):
			return -1
		case b.Outranks(a):
			return 1
		default:
			return 0
		}
	})
}
