package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Damqn23/auction-marketplace/internal/domain"
	"github.com/Damqn23/auction-marketplace/internal/money"
)

// CreateAuctionRequest seeds a listing. Prices are decimal strings.
type CreateAuctionRequest struct {
	SellerID      string    `json:"seller_id"`
	Title         string    `json:"title"`
	StartingPrice string    `json:"starting_price"`
	BuyNowPrice   string    `json:"buy_now_price,omitempty"`
	EndTime       time.Time `json:"end_time"`
}

// AuctionView is an auction as readers see it.
type AuctionView struct {
	domain.Auction
	EffectiveStatus domain.AuctionStatus `json:"effective_status"`
	MinRequiredBid  decimal.Decimal      `json:"min_required_bid"`
}

// AuctionService handles listing creation and read-side queries. Anything
// that moves money goes through the settlement engine instead.
type AuctionService struct {
	auctions        domain.AuctionStore
	bids            domain.BidStore
	minIncrementPct decimal.Decimal
	now             func() time.Time
	logger          *slog.Logger
}

// NewAuctionService creates an AuctionService.
func NewAuctionService(
	auctions domain.AuctionStore,
	bids domain.BidStore,
	minIncrementPct decimal.Decimal,
	logger *slog.Logger,
) *AuctionService {
	return &AuctionService{
		auctions:        auctions,
		bids:            bids,
		minIncrementPct: minIncrementPct,
		now:             time.Now,
		logger:          logger,
	}
}

// WithClock replaces the time source. Intended for tests.
func (s *AuctionService) WithClock(now func() time.Time) *AuctionService {
	s.now = now
	return s
}

// CreateAuction validates and stores a new active listing.
func (s *AuctionService) CreateAuction(ctx context.Context, req CreateAuctionRequest) (domain.Auction, error) {
	title := strings.TrimSpace(req.Title)
	if req.SellerID == "" || title == "" {
		return domain.Auction{}, fmt.Errorf("%w: seller and title are required", domain.ErrInvalidState)
	}

	start, err := money.Parse(req.StartingPrice)
	if err != nil || !start.IsPositive() {
		return domain.Auction{}, fmt.Errorf("%w: starting price %q", domain.ErrInvalidAmount, req.StartingPrice)
	}

	var buyNow decimal.NullDecimal
	if req.BuyNowPrice != "" {
		price, err := money.Parse(req.BuyNowPrice)
		if err != nil || !price.GreaterThan(start) {
			return domain.Auction{}, fmt.Errorf("%w: buy now price %q must exceed the starting price", domain.ErrInvalidAmount, req.BuyNowPrice)
		}
		buyNow = decimal.NewNullDecimal(price)
	}

	now := s.now().UTC()
	if !req.EndTime.After(now) {
		return domain.Auction{}, fmt.Errorf("%w: end time must be in the future", domain.ErrInvalidState)
	}

	a := domain.Auction{
		ID:             uuid.NewString(),
		Title:          title,
		SellerID:       req.SellerID,
		StartingPrice:  start,
		BuyNowPrice:    buyNow,
		EndTime:        req.EndTime.UTC(),
		Status:         domain.AuctionActive,
		ShippingStatus: domain.ShippingNotShipped,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.auctions.Create(ctx, a); err != nil {
		return domain.Auction{}, fmt.Errorf("auction_service: create: %w", err)
	}

	s.logger.InfoContext(ctx, "auction_service: auction created",
		slog.String("auction_id", a.ID),
		slog.String("seller_id", a.SellerID),
		slog.String("starting_price", money.Format(start)),
		slog.Time("end_time", a.EndTime),
	)
	return a, nil
}

// GetAuction returns the auction with its effective status and the next
// minimum bid.
func (s *AuctionService) GetAuction(ctx context.Context, id string) (AuctionView, error) {
	a, err := s.auctions.GetByID(ctx, id)
	if err != nil {
		return AuctionView{}, fmt.Errorf("auction_service: get %q: %w", id, err)
	}
	return AuctionView{
		Auction:         a,
		EffectiveStatus: a.EffectiveStatus(s.now()),
		MinRequiredBid:  money.MinRequiredBid(a.Base(), s.minIncrementPct),
	}, nil
}

// ListBids returns the auction's bids, highest first.
func (s *AuctionService) ListBids(ctx context.Context, auctionID string, opts domain.ListOpts) ([]domain.Bid, error) {
	if _, err := s.auctions.GetByID(ctx, auctionID); err != nil {
		return nil, fmt.Errorf("auction_service: get %q: %w", auctionID, err)
	}
	bids, err := s.bids.ListByAuction(ctx, auctionID, opts)
	if err != nil {
		return nil, fmt.Errorf("auction_service: list bids: %w", err)
	}
	return bids, nil
}
