// Package settlement is the bid settlement engine. Every operation locks
// the auction row first, validates against the locked snapshot, moves funds
// through a ledger session and records events in the same transaction.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Damqn23/auction-marketplace/internal/bidding"
	"github.com/Damqn23/auction-marketplace/internal/domain"
	"github.com/Damqn23/auction-marketplace/internal/ledger"
	"github.com/Damqn23/auction-marketplace/internal/money"
)

// Config holds the engine's business timers and percentages.
type Config struct {
	Rules              bidding.Rules
	AntiSnipeWindow    time.Duration
	AntiSnipeExtension time.Duration
	PlatformFeePct     decimal.Decimal
}

// DefaultConfig returns the production rules: 2% increment, 30s bid window,
// 120s anti-snipe window and extension, 10% platform fee.
func DefaultConfig() Config {
	return Config{
		Rules:              bidding.DefaultRules(),
		AntiSnipeWindow:    120 * time.Second,
		AntiSnipeExtension: 120 * time.Second,
		PlatformFeePct:     decimal.NewFromInt(10),
	}
}

// PlaceBidRequest is a typed bid submission. Amount is kept as the raw
// decimal string so parsing failures surface as domain.ErrInvalidAmount.
type PlaceBidRequest struct {
	AuctionID string
	UserID    string
	Amount    string
}

// BidResult describes an accepted bid.
type BidResult struct {
	Bid      domain.Bid      `json:"bid"`
	Auction  domain.Auction  `json:"auction"`
	Debited  decimal.Decimal `json:"debited"`
	Extended bool            `json:"extended"`
}

// Engine settles bids, buy-now purchases and delivery confirmations.
type Engine struct {
	txr       domain.TxRunner
	validator *bidding.Validator
	cfg       Config
	waker     domain.OutboxWaker
	logger    *slog.Logger
	now       func() time.Time
}

// NewEngine creates an Engine.
func NewEngine(txr domain.TxRunner, cfg Config, waker domain.OutboxWaker, logger *slog.Logger) *Engine {
	if waker == nil {
		waker = domain.NopWaker{}
	}
	return &Engine{
		txr:       txr,
		validator: bidding.New(cfg.Rules),
		cfg:       cfg,
		waker:     waker,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// MinRequired returns the smallest acceptable next bid on a.
func (e *Engine) MinRequired(a domain.Auction) decimal.Decimal {
	return e.validator.MinRequired(a)
}

// PlaceBid validates and settles one bid. A bid on an auction whose end
// time has passed finalizes the auction and returns domain.ErrAuctionClosed.
func (e *Engine) PlaceBid(ctx context.Context, req PlaceBidRequest) (BidResult, error) {
	var (
		res       BidResult
		finalized bool
	)
	err := e.txr.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		res, finalized = BidResult{}, false
		now := e.now().UTC()

		a, err := tx.LockAuction(ctx, req.AuctionID)
		if err != nil {
			return err
		}
		last, hasLast, err := tx.LastBidAt(ctx, a.ID, req.UserID)
		if err != nil {
			return fmt.Errorf("last bid: %w", err)
		}

		amount, err := e.validator.ValidateBid(bidding.Snapshot{
			Auction:   a,
			LastBidAt: last,
			HasLast:   hasLast,
			Now:       now,
		}, req.UserID, req.Amount)
		if err != nil {
			if errors.Is(err, domain.ErrAuctionClosed) && a.IsDue(now) {
				if _, ferr := e.finalizeWithBalances(ctx, tx, a, now); ferr != nil {
					return ferr
				}
				finalized = true
				return nil
			}
			return err
		}

		res, err = e.settleBid(ctx, tx, a, req.UserID, amount, now)
		return err
	})
	if err != nil {
		return BidResult{}, e.wrap("place bid", err)
	}

	e.waker.Wake()
	if finalized {
		e.logger.InfoContext(ctx, "settlement: late bid finalized auction",
			slog.String("auction_id", req.AuctionID),
			slog.String("user_id", req.UserID),
		)
		return BidResult{}, domain.ErrAuctionClosed
	}

	e.logger.InfoContext(ctx, "settlement: bid placed",
		slog.String("auction_id", req.AuctionID),
		slog.String("user_id", req.UserID),
		slog.String("amount", money.Format(res.Bid.Amount)),
		slog.String("debited", money.Format(res.Debited)),
		slog.Bool("extended", res.Extended),
	)
	return res, nil
}

func (e *Engine) settleBid(
	ctx context.Context,
	tx domain.Tx,
	a domain.Auction,
	bidderID string,
	amount decimal.Decimal,
	now time.Time,
) (BidResult, error) {
	prev, hasPrev, err := tx.HighestBid(ctx, a.ID)
	if err != nil {
		return BidResult{}, fmt.Errorf("highest bid: %w", err)
	}
	raising := hasPrev && prev.BidderID == bidderID
	displaced := hasPrev && !raising

	lockIDs := []string{bidderID}
	if displaced {
		lockIDs = append(lockIDs, prev.BidderID)
	}
	sess, err := ledger.Open(ctx, tx, now, lockIDs...)
	if err != nil {
		return BidResult{}, err
	}

	debit := amount
	if raising {
		own, err := holdFor(ctx, tx, a.ID, bidderID, prev.Amount)
		if err != nil {
			return BidResult{}, err
		}
		debit = amount.Sub(own.Amount)
		if !debit.IsPositive() {
			return BidResult{}, domain.ErrRebidNotHigher
		}
	}

	if displaced {
		h, err := holdFor(ctx, tx, a.ID, prev.BidderID, prev.Amount)
		if err != nil {
			return BidResult{}, err
		}
		if h.Status == domain.HoldActive {
			if err := sess.Credit(ctx, ledger.Entry{
				UserID:      prev.BidderID,
				Amount:      h.Amount,
				Kind:        domain.TxBidRelease,
				AuctionID:   a.ID,
				Description: fmt.Sprintf("Refund: outbid on %s", a.Title),
			}); err != nil {
				return BidResult{}, err
			}
			h.Status, h.UpdatedAt = domain.HoldReleased, now
			if err := tx.SaveHold(ctx, h); err != nil {
				return BidResult{}, fmt.Errorf("release hold: %w", err)
			}
		}
	}

	if err := sess.Debit(ctx, ledger.Entry{
		UserID:      bidderID,
		Amount:      debit,
		Kind:        domain.TxBidLock,
		AuctionID:   a.ID,
		Description: fmt.Sprintf("Bid of %s on %s", money.Dollars(amount), a.Title),
	}); err != nil {
		return BidResult{}, err
	}

	bid := domain.Bid{
		ID:        uuid.NewString(),
		AuctionID: a.ID,
		BidderID:  bidderID,
		Amount:    amount,
		CreatedAt: now,
	}
	if err := tx.InsertBid(ctx, bid); err != nil {
		return BidResult{}, fmt.Errorf("insert bid: %w", err)
	}
	if err := tx.SaveHold(ctx, domain.Hold{
		AuctionID: a.ID,
		UserID:    bidderID,
		Amount:    amount,
		Status:    domain.HoldActive,
		UpdatedAt: now,
	}); err != nil {
		return BidResult{}, fmt.Errorf("save hold: %w", err)
	}

	a.CurrentBid = decimal.NewNullDecimal(amount)
	extended := e.extend(&a, now)
	a.UpdatedAt = now
	if err := tx.UpdateAuction(ctx, a); err != nil {
		return BidResult{}, fmt.Errorf("update auction: %w", err)
	}

	em := newEmitter(tx, now)
	if displaced {
		if err := em.emit(ctx, outbidEvent(prev.BidderID, a, amount)); err != nil {
			return BidResult{}, err
		}
	}
	if err := em.emit(ctx, newBidEvent(a, bidderID, amount, raising)); err != nil {
		return BidResult{}, err
	}
	if extended {
		bidders, err := tx.BidderIDs(ctx, a.ID)
		if err != nil {
			return BidResult{}, fmt.Errorf("bidders: %w", err)
		}
		for _, id := range bidders {
			if err := em.emit(ctx, extendedEvent(id, a)); err != nil {
				return BidResult{}, err
			}
		}
	}
	if err := em.balances(ctx, sess.Changed()); err != nil {
		return BidResult{}, err
	}

	return BidResult{Bid: bid, Auction: a, Debited: debit, Extended: extended}, nil
}

// extend applies the anti-snipe rule. The end time only ever moves later.
func (e *Engine) extend(a *domain.Auction, now time.Time) bool {
	if e.cfg.AntiSnipeWindow <= 0 || a.EndTime.Sub(now) >= e.cfg.AntiSnipeWindow {
		return false
	}
	end := now.Add(e.cfg.AntiSnipeExtension)
	if !end.After(a.EndTime) {
		return false
	}
	a.EndTime = end
	return true
}

// holdFor returns the user's hold on the auction. Bids recorded without a
// hold row are treated as holding their bid amount.
func holdFor(ctx context.Context, tx domain.Tx, auctionID, userID string, fallback decimal.Decimal) (domain.Hold, error) {
	h, err := tx.GetHold(ctx, auctionID, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Hold{
			AuctionID: auctionID,
			UserID:    userID,
			Amount:    fallback,
			Status:    domain.HoldActive,
		}, nil
	}
	if err != nil {
		return domain.Hold{}, fmt.Errorf("get hold: %w", err)
	}
	return h, nil
}

// wrap leaves business errors untouched so callers can match and report them.
func (e *Engine) wrap(op string, err error) error {
	if domain.IsBusinessError(err) {
		return err
	}
	return fmt.Errorf("settlement: %s: %w", op, err)
}
