package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AuctionStatus is the stored lifecycle state of an auction.
type AuctionStatus string

const (
	AuctionActive    AuctionStatus = "active"
	AuctionClosed    AuctionStatus = "closed"
	AuctionCancelled AuctionStatus = "cancelled"
)

// ShippingStatus tracks delivery of a sold item.
type ShippingStatus string

const (
	ShippingNotShipped ShippingStatus = "not_shipped"
	ShippingShipped    ShippingStatus = "shipped"
	ShippingReceived   ShippingStatus = "received"
)

// Auction is a single listing. CurrentBid, when set, always equals the amount
// of the highest recorded bid. WinnerID is only ever set on closed auctions.
type Auction struct {
	ID             string              `json:"id"`
	Title          string              `json:"title"`
	SellerID       string              `json:"seller_id"`
	StartingPrice  decimal.Decimal     `json:"starting_price"`
	CurrentBid     decimal.NullDecimal `json:"current_bid"`
	BuyNowPrice    decimal.NullDecimal `json:"buy_now_price"`
	EndTime        time.Time           `json:"end_time"`
	Status         AuctionStatus       `json:"status"`
	WinnerID       string              `json:"winner_id,omitempty"`
	BuyNowBuyerID  string              `json:"buy_now_buyer_id,omitempty"`
	ShippingStatus ShippingStatus      `json:"shipping_status"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// EffectiveStatus is the status readers should see: an active auction past
// its end time reads as closed even before the closer has swept it.
func (a Auction) EffectiveStatus(now time.Time) AuctionStatus {
	if a.Status == AuctionActive && !now.Before(a.EndTime) {
		return AuctionClosed
	}
	return a.Status
}

// IsOpen reports whether the auction still accepts bids at now.
func (a Auction) IsOpen(now time.Time) bool {
	return a.Status == AuctionActive && now.Before(a.EndTime)
}

// IsDue reports whether the auction is active but past its end time and
// therefore waiting to be finalized.
func (a Auction) IsDue(now time.Time) bool {
	return a.Status == AuctionActive && !now.Before(a.EndTime)
}

// Base is the price the next minimum bid is computed from.
func (a Auction) Base() decimal.Decimal {
	if a.CurrentBid.Valid {
		return a.CurrentBid.Decimal
	}
	return a.StartingPrice
}

// SalePrice is what the buyer paid: the final bid, or the buy-now price.
func (a Auction) SalePrice() decimal.Decimal {
	if a.CurrentBid.Valid {
		return a.CurrentBid.Decimal
	}
	return a.BuyNowPrice.Decimal
}

// BuyerID returns the user entitled to the item.
func (a Auction) BuyerID() string {
	if a.BuyNowBuyerID != "" {
		return a.BuyNowBuyerID
	}
	return a.WinnerID
}
