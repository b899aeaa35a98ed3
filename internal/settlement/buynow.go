package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Damqn23/auction-marketplace/internal/domain"
	"github.com/Damqn23/auction-marketplace/internal/ledger"
	"github.com/Damqn23/auction-marketplace/internal/money"
)

// BuyNow purchases the auction at its buy-now price and closes it
// immediately. Other bidders are refunded in full; a buyer who already holds
// funds on this auction only pays the shortfall.
func (e *Engine) BuyNow(ctx context.Context, auctionID, userID string) (domain.Auction, error) {
	var (
		result    domain.Auction
		debited   decimal.Decimal
		finalized bool
	)
	err := e.txr.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		finalized = false
		now := e.now().UTC()

		a, err := tx.LockAuction(ctx, auctionID)
		if err != nil {
			return err
		}
		if err := e.validator.ValidateBuyNow(a, userID, now); err != nil {
			if errors.Is(err, domain.ErrAuctionClosed) && a.IsDue(now) {
				if _, ferr := e.finalizeWithBalances(ctx, tx, a, now); ferr != nil {
					return ferr
				}
				finalized = true
				return nil
			}
			return err
		}

		result, debited, err = e.settleBuyNow(ctx, tx, a, userID, now)
		return err
	})
	if err != nil {
		return domain.Auction{}, e.wrap("buy now", err)
	}

	e.waker.Wake()
	if finalized {
		return domain.Auction{}, domain.ErrAuctionClosed
	}
	e.logger.InfoContext(ctx, "settlement: buy now",
		slog.String("auction_id", auctionID),
		slog.String("user_id", userID),
		slog.String("price", money.Format(result.BuyNowPrice.Decimal)),
		slog.String("debited", money.Format(debited)),
	)
	return result, nil
}

func (e *Engine) settleBuyNow(
	ctx context.Context,
	tx domain.Tx,
	a domain.Auction,
	buyerID string,
	now time.Time,
) (domain.Auction, decimal.Decimal, error) {
	price := a.BuyNowPrice.Decimal

	holds, err := tx.ActiveHolds(ctx, a.ID)
	if err != nil {
		return a, decimal.Zero, fmt.Errorf("active holds: %w", err)
	}
	lockIDs := []string{buyerID}
	for _, h := range holds {
		lockIDs = append(lockIDs, h.UserID)
	}
	sess, err := ledger.Open(ctx, tx, now, lockIDs...)
	if err != nil {
		return a, decimal.Zero, err
	}

	em := newEmitter(tx, now)
	debit := price
	for _, h := range holds {
		if h.UserID == buyerID {
			debit = price.Sub(h.Amount)
			continue
		}
		if err := sess.Credit(ctx, ledger.Entry{
			UserID:      h.UserID,
			Amount:      h.Amount,
			Kind:        domain.TxBidRelease,
			AuctionID:   a.ID,
			Description: fmt.Sprintf("Refund: %s was bought now", a.Title),
		}); err != nil {
			return a, decimal.Zero, err
		}
		h.Status, h.UpdatedAt = domain.HoldReleased, now
		if err := tx.SaveHold(ctx, h); err != nil {
			return a, decimal.Zero, fmt.Errorf("release hold: %w", err)
		}
		if err := em.emit(ctx, buyNowDisplacedEvent(h.UserID, a, h.Amount)); err != nil {
			return a, decimal.Zero, err
		}
	}

	if debit.IsPositive() {
		if err := sess.Debit(ctx, ledger.Entry{
			UserID:      buyerID,
			Amount:      debit,
			Kind:        domain.TxBidLock,
			AuctionID:   a.ID,
			Description: fmt.Sprintf("Buy now of %s for %s", a.Title, money.Dollars(price)),
		}); err != nil {
			return a, decimal.Zero, err
		}
	} else {
		debit = decimal.Zero
	}

	// The purchase is recorded as the top bid so the current price always
	// matches the highest bid row.
	if err := tx.InsertBid(ctx, domain.Bid{
		ID:        uuid.NewString(),
		AuctionID: a.ID,
		BidderID:  buyerID,
		Amount:    price,
		CreatedAt: now,
	}); err != nil {
		return a, decimal.Zero, fmt.Errorf("insert bid: %w", err)
	}
	if err := tx.SaveHold(ctx, domain.Hold{
		AuctionID: a.ID,
		UserID:    buyerID,
		Amount:    price,
		Status:    domain.HoldCaptured,
		UpdatedAt: now,
	}); err != nil {
		return a, decimal.Zero, fmt.Errorf("save hold: %w", err)
	}

	a.BuyNowBuyerID = buyerID
	a.CurrentBid = decimal.NewNullDecimal(price)
	a.Status = domain.AuctionClosed
	a.EndTime = now
	a.UpdatedAt = now
	if a.WinnerID == "" {
		top, ok, err := tx.HighestBid(ctx, a.ID)
		if err != nil {
			return a, decimal.Zero, fmt.Errorf("highest bid: %w", err)
		}
		if ok {
			a.WinnerID = top.BidderID
		}
	}
	if err := tx.UpdateAuction(ctx, a); err != nil {
		return a, decimal.Zero, fmt.Errorf("update auction: %w", err)
	}

	if err := em.emit(ctx, boughtEvent(a, price)); err != nil {
		return a, decimal.Zero, err
	}
	if err := em.emit(ctx, soldNowEvent(a, price)); err != nil {
		return a, decimal.Zero, err
	}
	if err := em.balances(ctx, sess.Changed()); err != nil {
		return a, decimal.Zero, err
	}
	return a, debit, nil
}
