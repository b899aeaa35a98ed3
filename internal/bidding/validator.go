// Package bidding holds the pure bid and buy-now rule checks. Validators
// never touch storage; callers pass a snapshot read under the auction lock.
package bidding

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Damqn23/auction-marketplace/internal/domain"
	"github.com/Damqn23/auction-marketplace/internal/money"
)

// Rules are the tunable bidding parameters.
type Rules struct {
	MinIncrementPct decimal.Decimal
	RateWindow      time.Duration
}

// DefaultRules returns a 2% minimum increment and a 30 second per-auction
// bid window.
func DefaultRules() Rules {
	return Rules{
		MinIncrementPct: decimal.NewFromInt(2),
		RateWindow:      30 * time.Second,
	}
}

// Snapshot is the locked state a bid is validated against.
type Snapshot struct {
	Auction domain.Auction
	// LastBidAt is the time of the bidder's previous bid on this auction.
	LastBidAt time.Time
	HasLast   bool
	Now       time.Time
}

// Validator applies Rules to bid and buy-now requests.
type Validator struct {
	rules Rules
}

// New creates a Validator.
func New(r Rules) *Validator {
	return &Validator{rules: r}
}

// MinRequired returns the smallest acceptable next bid on a.
func (v *Validator) MinRequired(a domain.Auction) decimal.Decimal {
	return money.MinRequiredBid(a.Base(), v.rules.MinIncrementPct)
}

// ValidateBid checks raw against s in a fixed order and returns the parsed
// amount. The first failing rule decides the error. A domain.ErrAuctionClosed
// result on an auction that is still stored as active means it is due and
// the caller must finalize it.
func (v *Validator) ValidateBid(s Snapshot, bidderID, raw string) (decimal.Decimal, error) {
	a := s.Auction

	if !a.IsOpen(s.Now) {
		return decimal.Zero, domain.ErrAuctionClosed
	}
	if bidderID == a.SellerID {
		return decimal.Zero, domain.ErrOwnerCannotBid
	}
	if a.BuyNowBuyerID != "" {
		return decimal.Zero, domain.ErrAlreadyPurchased
	}

	amount, err := money.Parse(raw)
	if err != nil {
		return decimal.Zero, err
	}

	minimum := v.MinRequired(a)
	if amount.LessThan(minimum) {
		return decimal.Zero, fmt.Errorf("%w: minimum bid is %s", domain.ErrMinIncrementNotMet, money.Dollars(minimum))
	}
	if a.BuyNowPrice.Valid && !amount.LessThan(a.BuyNowPrice.Decimal) {
		return decimal.Zero, fmt.Errorf("%w: buy now price is %s", domain.ErrMustBeBelowBuyNow, money.Dollars(a.BuyNowPrice.Decimal))
	}

	if s.HasLast && v.rules.RateWindow > 0 {
		if elapsed := s.Now.Sub(s.LastBidAt); elapsed < v.rules.RateWindow {
			return decimal.Zero, &domain.RateLimitError{Remaining: v.rules.RateWindow - elapsed}
		}
	}

	return amount, nil
}

// ValidateBuyNow checks that userID may buy a outright at now.
func (v *Validator) ValidateBuyNow(a domain.Auction, userID string, now time.Time) error {
	if !a.IsOpen(now) {
		return domain.ErrAuctionClosed
	}
	if userID == a.SellerID {
		return domain.ErrOwnerCannotBid
	}
	if a.BuyNowBuyerID != "" {
		return domain.ErrAlreadyPurchased
	}
	if !a.BuyNowPrice.Valid {
		return domain.ErrBuyNowUnavailable
	}
	return nil
}
