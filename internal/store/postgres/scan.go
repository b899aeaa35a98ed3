package postgres

import (
	"github.com/jackc/pgx/v5"

	"github.com/Damqn23/auction-marketplace/internal/domain"
)

type rowScanner interface{ Scan(dest ...any) error }

const auctionSelectCols = `id, title, seller_id, starting_price::text, current_bid::text,
	buy_now_price::text, end_time, status, winner_id, buy_now_buyer_id,
	shipping_status, created_at, updated_at`

func scanAuction(row rowScanner) (domain.Auction, error) {
	var (
		a                     domain.Auction
		starting              string
		current, buyNow       *string
		status, shipping      string
		winnerID, buyNowBuyer *string
	)
	if err := row.Scan(
		&a.ID, &a.Title, &a.SellerID, &starting, &current,
		&buyNow, &a.EndTime, &status, &winnerID, &buyNowBuyer,
		&shipping, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return domain.Auction{}, err
	}

	var err error
	if a.StartingPrice, err = parseNumeric(starting); err != nil {
		return domain.Auction{}, err
	}
	if a.CurrentBid, err = parseNullNumeric(current); err != nil {
		return domain.Auction{}, err
	}
	if a.BuyNowPrice, err = parseNullNumeric(buyNow); err != nil {
		return domain.Auction{}, err
	}
	a.Status = domain.AuctionStatus(status)
	a.ShippingStatus = domain.ShippingStatus(shipping)
	a.WinnerID = deref(winnerID)
	a.BuyNowBuyerID = deref(buyNowBuyer)
	return a, nil
}

const bidSelectCols = `id, auction_id, bidder_id, amount::text, created_at`

func scanBid(row rowScanner) (domain.Bid, error) {
	var (
		b      domain.Bid
		amount string
	)
	if err := row.Scan(&b.ID, &b.AuctionID, &b.BidderID, &amount, &b.CreatedAt); err != nil {
		return domain.Bid{}, err
	}
	var err error
	b.Amount, err = parseNumeric(amount)
	return b, err
}

const accountSelectCols = `user_id, balance::text, created_at, updated_at`

func scanAccount(row rowScanner) (domain.Account, error) {
	var (
		a       domain.Account
		balance string
	)
	if err := row.Scan(&a.UserID, &balance, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return domain.Account{}, err
	}
	var err error
	a.Balance, err = parseNumeric(balance)
	return a, err
}

const transactionSelectCols = `id, user_id, kind, amount::text, status, description,
	auction_id, created_at, updated_at`

func scanTransaction(row rowScanner) (domain.Transaction, error) {
	var (
		t            domain.Transaction
		kind, status string
		amount       string
		auctionID    *string
	)
	if err := row.Scan(
		&t.ID, &t.UserID, &kind, &amount, &status, &t.Description,
		&auctionID, &t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return domain.Transaction{}, err
	}
	t.Kind = domain.TransactionKind(kind)
	t.Status = domain.TransactionStatus(status)
	t.AuctionID = deref(auctionID)
	var err error
	t.Amount, err = parseNumeric(amount)
	return t, err
}

const holdSelectCols = `auction_id, user_id, amount::text, status, updated_at`

func scanHold(row rowScanner) (domain.Hold, error) {
	var (
		h              domain.Hold
		amount, status string
	)
	if err := row.Scan(&h.AuctionID, &h.UserID, &amount, &status, &h.UpdatedAt); err != nil {
		return domain.Hold{}, err
	}
	h.Status = domain.HoldStatus(status)
	var err error
	h.Amount, err = parseNumeric(amount)
	return h, err
}

const notificationSelectCols = `id, user_id, kind, title, message, auction_id, read, created_at`

func scanNotification(row rowScanner) (domain.Notification, error) {
	var (
		n         domain.Notification
		kind      string
		auctionID *string
	)
	if err := row.Scan(&n.ID, &n.UserID, &kind, &n.Title, &n.Message, &auctionID, &n.Read, &n.CreatedAt); err != nil {
		return domain.Notification{}, err
	}
	n.Kind = domain.NotificationKind(kind)
	n.AuctionID = deref(auctionID)
	return n, nil
}

const outboxSelectCols = `id, kind, payload, attempts, last_error, created_at, delivered_at`

func scanOutbox(row rowScanner) (domain.OutboxEvent, error) {
	var (
		e    domain.OutboxEvent
		kind string
	)
	if err := row.Scan(&e.ID, &kind, &e.Payload, &e.Attempts, &e.LastError, &e.CreatedAt, &e.DeliveredAt); err != nil {
		return domain.OutboxEvent{}, err
	}
	e.Kind = domain.EventKind(kind)
	return e, nil
}

// collect scans every row with fn.
func collect[T any](rows pgx.Rows, fn func(rowScanner) (T, error)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := fn(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
