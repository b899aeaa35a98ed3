package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Damqn23/auction-marketplace/internal/domain"
)

// AuctionStore implements domain.AuctionStore using PostgreSQL.
type AuctionStore struct {
	pool *pgxpool.Pool
}

// NewAuctionStore creates a new AuctionStore backed by the given connection pool.
func NewAuctionStore(pool *pgxpool.Pool) *AuctionStore {
	return &AuctionStore{pool: pool}
}

var _ domain.AuctionStore = (*AuctionStore)(nil)

// Create inserts a new auction.
func (s *AuctionStore) Create(ctx context.Context, a domain.Auction) error {
	const query = `
		INSERT INTO auctions (
			id, title, seller_id, starting_price, current_bid, buy_now_price,
			end_time, status, winner_id, buy_now_buyer_id, shipping_status,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4::numeric, $5::numeric, $6::numeric,
			$7, $8, $9, $10, $11,
			$12, $13
		)`
	_, err := s.pool.Exec(ctx, query,
		a.ID, a.Title, a.SellerID,
		numeric(a.StartingPrice), nullNumeric(a.CurrentBid), nullNumeric(a.BuyNowPrice),
		a.EndTime, string(a.Status), nullString(a.WinnerID), nullString(a.BuyNowBuyerID),
		string(a.ShippingStatus), a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create auction %s: %w", a.ID, mapError(err))
	}
	return nil
}

// GetByID retrieves a single auction without locking it.
func (s *AuctionStore) GetByID(ctx context.Context, id string) (domain.Auction, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+auctionSelectCols+` FROM auctions WHERE id = $1`, id)
	a, err := scanAuction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Auction{}, fmt.Errorf("auction %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Auction{}, fmt.Errorf("postgres: get auction %s: %w", id, err)
	}
	return a, nil
}

// ListDue returns ids of active auctions whose end time has passed, oldest
// deadline first.
func (s *AuctionStore) ListDue(ctx context.Context, now time.Time, limit int) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM auctions
		WHERE status = 'active' AND end_time <= $1
		ORDER BY end_time, id
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list due auctions: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres: scan due auctions: %w", err)
	}
	return ids, nil
}

// ListEndedBetween returns closed auctions whose end time falls in [from, to).
func (s *AuctionStore) ListEndedBetween(ctx context.Context, from, to time.Time) ([]domain.Auction, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+auctionSelectCols+` FROM auctions
		WHERE status = 'closed' AND end_time >= $1 AND end_time < $2
		ORDER BY end_time, id`, from, to)
	if err != nil {
		return nil, fmt.Errorf("postgres: list ended auctions: %w", err)
	}
	out, err := collect(rows, scanAuction)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan ended auctions: %w", err)
	}
	return out, nil
}
