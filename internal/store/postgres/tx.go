package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/Damqn23/auction-marketplace/internal/domain"
)

// TxConfig tunes settlement transactions.
type TxConfig struct {
	// LockTimeout bounds how long a statement waits for a row lock.
	LockTimeout time.Duration
	// Retries is how many times a deadlocked or serialization-failed
	// transaction is re-run before the error is returned.
	Retries int
}

// TxManager implements domain.TxRunner. Transactions run at READ COMMITTED;
// correctness comes from the explicit FOR UPDATE row locks taken by pgTx.
type TxManager struct {
	pool   *pgxpool.Pool
	cfg    TxConfig
	logger *slog.Logger
}

// NewTxManager creates a TxManager.
func NewTxManager(pool *pgxpool.Pool, cfg TxConfig, logger *slog.Logger) *TxManager {
	return &TxManager{pool: pool, cfg: cfg, logger: logger}
}

var _ domain.TxRunner = (*TxManager)(nil)

// WithinTx runs fn in a transaction, retrying deadlocks and serialization
// failures. Errors returned by fn roll the transaction back.
func (m *TxManager) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	for attempt := 0; ; attempt++ {
		err := m.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if attempt >= m.cfg.Retries || !retryable(err) {
			return mapError(err)
		}

		m.logger.WarnContext(ctx, "postgres: retrying transaction",
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
		backoff := time.Duration(attempt+1) * 25 * time.Millisecond
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}

func (m *TxManager) runOnce(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	return pgx.BeginTxFunc(ctx, m.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		if m.cfg.LockTimeout > 0 {
			stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", m.cfg.LockTimeout.Milliseconds())
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("postgres: set lock_timeout: %w", err)
			}
		}
		return fn(ctx, &pgTx{tx: tx})
	})
}

// pgTx implements domain.Tx on an open pgx transaction.
type pgTx struct {
	tx pgx.Tx
}

var _ domain.Tx = (*pgTx)(nil)

func (t *pgTx) LockAuction(ctx context.Context, id string) (domain.Auction, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+auctionSelectCols+` FROM auctions WHERE id = $1 FOR UPDATE`, id)
	a, err := scanAuction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Auction{}, fmt.Errorf("auction %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Auction{}, fmt.Errorf("postgres: lock auction %s: %w", id, err)
	}
	return a, nil
}

func (t *pgTx) UpdateAuction(ctx context.Context, a domain.Auction) error {
	const query = `
		UPDATE auctions SET
			current_bid = $2::numeric,
			end_time = $3,
			status = $4,
			winner_id = $5,
			buy_now_buyer_id = $6,
			shipping_status = $7,
			updated_at = $8
		WHERE id = $1`
	tag, err := t.tx.Exec(ctx, query,
		a.ID, nullNumeric(a.CurrentBid), a.EndTime, string(a.Status),
		nullString(a.WinnerID), nullString(a.BuyNowBuyerID),
		string(a.ShippingStatus), a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update auction %s: %w", a.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("auction %s: %w", a.ID, domain.ErrNotFound)
	}
	return nil
}

func (t *pgTx) HighestBid(ctx context.Context, auctionID string) (domain.Bid, bool, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+bidSelectCols+` FROM bids
		WHERE auction_id = $1
		ORDER BY amount DESC, created_at ASC, id ASC
		LIMIT 1`, auctionID)
	b, err := scanBid(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Bid{}, false, nil
	}
	if err != nil {
		return domain.Bid{}, false, fmt.Errorf("postgres: highest bid %s: %w", auctionID, err)
	}
	return b, true, nil
}

func (t *pgTx) LastBidAt(ctx context.Context, auctionID, bidderID string) (time.Time, bool, error) {
	var last *time.Time
	err := t.tx.QueryRow(ctx,
		`SELECT max(created_at) FROM bids WHERE auction_id = $1 AND bidder_id = $2`,
		auctionID, bidderID,
	).Scan(&last)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("postgres: last bid %s/%s: %w", auctionID, bidderID, err)
	}
	if last == nil {
		return time.Time{}, false, nil
	}
	return *last, true, nil
}

func (t *pgTx) InsertBid(ctx context.Context, b domain.Bid) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO bids (id, auction_id, bidder_id, amount, created_at) VALUES ($1, $2, $3, $4::numeric, $5)`,
		b.ID, b.AuctionID, b.BidderID, numeric(b.Amount), b.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert bid %s: %w", b.ID, err)
	}
	return nil
}

func (t *pgTx) BidderIDs(ctx context.Context, auctionID string) ([]string, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT DISTINCT bidder_id FROM bids WHERE auction_id = $1 ORDER BY bidder_id`, auctionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: bidders %s: %w", auctionID, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres: scan bidders %s: %w", auctionID, err)
	}
	return ids, nil
}

func (t *pgTx) LockAccounts(ctx context.Context, userIDs []string) ([]domain.Account, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+accountSelectCols+` FROM accounts
		WHERE user_id = ANY($1)
		ORDER BY user_id
		FOR UPDATE`, userIDs)
	if err != nil {
		return nil, fmt.Errorf("postgres: lock accounts: %w", err)
	}
	accts, err := collect(rows, scanAccount)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan accounts: %w", err)
	}
	return accts, nil
}

func (t *pgTx) UpdateBalance(ctx context.Context, userID string, balance decimal.Decimal, at time.Time) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE accounts SET balance = $2::numeric, updated_at = $3 WHERE user_id = $1`,
		userID, numeric(balance), at,
	)
	if err != nil {
		return fmt.Errorf("postgres: update balance %s: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account %s: %w", userID, domain.ErrNotFound)
	}
	return nil
}

func (t *pgTx) InsertTransaction(ctx context.Context, rec domain.Transaction) error {
	const query = `
		INSERT INTO transactions (
			id, user_id, kind, amount, status, description, auction_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9)`
	_, err := t.tx.Exec(ctx, query,
		rec.ID, rec.UserID, string(rec.Kind), numeric(rec.Amount), string(rec.Status),
		rec.Description, nullString(rec.AuctionID), rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert transaction %s: %w", rec.ID, err)
	}
	return nil
}

func (t *pgTx) GetHold(ctx context.Context, auctionID, userID string) (domain.Hold, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+holdSelectCols+` FROM holds WHERE auction_id = $1 AND user_id = $2`,
		auctionID, userID)
	h, err := scanHold(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Hold{}, fmt.Errorf("hold %s/%s: %w", auctionID, userID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Hold{}, fmt.Errorf("postgres: get hold %s/%s: %w", auctionID, userID, err)
	}
	return h, nil
}

func (t *pgTx) ActiveHolds(ctx context.Context, auctionID string) ([]domain.Hold, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+holdSelectCols+` FROM holds
		WHERE auction_id = $1 AND status = 'active'
		ORDER BY user_id`, auctionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: active holds %s: %w", auctionID, err)
	}
	holds, err := collect(rows, scanHold)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan holds %s: %w", auctionID, err)
	}
	return holds, nil
}

func (t *pgTx) SaveHold(ctx context.Context, h domain.Hold) error {
	const query = `
		INSERT INTO holds (auction_id, user_id, amount, status, updated_at)
		VALUES ($1, $2, $3::numeric, $4, $5)
		ON CONFLICT (auction_id, user_id) DO UPDATE SET
			amount = EXCLUDED.amount,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at`
	_, err := t.tx.Exec(ctx, query, h.AuctionID, h.UserID, numeric(h.Amount), string(h.Status), h.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: save hold %s/%s: %w", h.AuctionID, h.UserID, err)
	}
	return nil
}

func (t *pgTx) InsertNotification(ctx context.Context, n domain.Notification) error {
	const query = `
		INSERT INTO notifications (id, user_id, kind, title, message, auction_id, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := t.tx.Exec(ctx, query,
		n.ID, n.UserID, string(n.Kind), n.Title, n.Message, nullString(n.AuctionID), n.Read, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert notification %s: %w", n.ID, err)
	}
	return nil
}

func (t *pgTx) InsertOutbox(ctx context.Context, e domain.OutboxEvent) error {
	return insertOutbox(ctx, t.tx, e)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertOutbox(ctx context.Context, db execer, e domain.OutboxEvent) error {
	_, err := db.Exec(ctx,
		`INSERT INTO outbox (id, kind, payload, created_at) VALUES ($1, $2, $3, $4)`,
		e.ID, string(e.Kind), e.Payload, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert outbox %s: %w", e.ID, err)
	}
	return nil
}
