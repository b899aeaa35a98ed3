package handler

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/Damqn23/auction-marketplace/internal/closer"
	"github.com/Damqn23/auction-marketplace/internal/domain"
	"github.com/Damqn23/auction-marketplace/internal/service"
	"github.com/Damqn23/auction-marketplace/internal/settlement"
)

//go:generate mockgen -source=services.go -destination=mock_services_test.go -package=handler

// Settlement is the money-moving surface used by the auction handler.
type Settlement interface {
	PlaceBid(ctx context.Context, req settlement.PlaceBidRequest) (settlement.BidResult, error)
	BuyNow(ctx context.Context, auctionID, userID string) (domain.Auction, error)
	MarkShipped(ctx context.Context, auctionID, userID string) (domain.Auction, error)
	MarkReceived(ctx context.Context, auctionID, userID string) (settlement.Payout, error)
}

// AuctionReader creates listings and serves auction reads.
type AuctionReader interface {
	CreateAuction(ctx context.Context, req service.CreateAuctionRequest) (domain.Auction, error)
	GetAuction(ctx context.Context, id string) (service.AuctionView, error)
	ListBids(ctx context.Context, auctionID string, opts domain.ListOpts) ([]domain.Bid, error)
}

// Ledger opens accounts and moves external funds.
type Ledger interface {
	OpenAccount(ctx context.Context, userID string) (domain.Account, error)
	Get(ctx context.Context, userID string) (domain.Account, error)
	Deposit(ctx context.Context, userID string, amount decimal.Decimal) (domain.Account, error)
	Withdraw(ctx context.Context, userID string, amount decimal.Decimal) (domain.Account, error)
}

// AccountReader serves ledger history and notifications.
type AccountReader interface {
	ListTransactions(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Transaction, error)
	ListNotifications(ctx context.Context, userID string, unreadOnly bool, opts domain.ListOpts) ([]domain.Notification, error)
	MarkRead(ctx context.Context, userID, id string) error
}

// Sweeper runs one closer pass on demand.
type Sweeper interface {
	SweepOnce(ctx context.Context) (closer.SweepReport, error)
}
