package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Damqn23/auction-marketplace/internal/domain"
	"github.com/Damqn23/auction-marketplace/internal/ledger"
)

// Outcome summarizes one finalization.
type Outcome struct {
	AuctionID string
	WinnerID  string
	Price     decimal.Decimal
	NoBids    bool
	// Skipped is set when the auction was no longer active under the lock.
	Skipped bool
	// Refunded lists the accounts credited by this finalization with their
	// balances after the refund.
	Refunded []domain.Account
	Events   int
}

// Finalize closes a locked auction: the highest bidder wins and their hold
// is captured, every other active hold is refunded and released. a must
// have been read with tx.LockAuction in the same transaction. Calling it on
// an auction that is no longer active is a no-op.
//
// Balance events for refunded accounts are left to the caller.
func Finalize(ctx context.Context, tx domain.Tx, a domain.Auction, now time.Time) (Outcome, error) {
	out := Outcome{AuctionID: a.ID}
	if a.Status != domain.AuctionActive {
		out.Skipped = true
		return out, nil
	}

	highest, hasBid, err := tx.HighestBid(ctx, a.ID)
	if err != nil {
		return out, fmt.Errorf("highest bid: %w", err)
	}
	holds, err := tx.ActiveHolds(ctx, a.ID)
	if err != nil {
		return out, fmt.Errorf("active holds: %w", err)
	}

	holders := make([]string, 0, len(holds))
	for _, h := range holds {
		holders = append(holders, h.UserID)
	}
	sess, err := ledger.Open(ctx, tx, now, holders...)
	if err != nil {
		return out, err
	}

	a.Status = domain.AuctionClosed
	a.UpdatedAt = now
	if hasBid {
		a.WinnerID = highest.BidderID
		out.WinnerID = highest.BidderID
		out.Price = highest.Amount
	} else {
		out.NoBids = true
	}

	for _, h := range holds {
		if hasBid && h.UserID == highest.BidderID {
			h.Status = domain.HoldCaptured
		} else {
			if err := sess.Credit(ctx, ledger.Entry{
				UserID:      h.UserID,
				Amount:      h.Amount,
				Kind:        domain.TxBidRelease,
				AuctionID:   a.ID,
				Description: fmt.Sprintf("Refund: auction %s ended", a.Title),
			}); err != nil {
				return out, err
			}
			h.Status = domain.HoldReleased
		}
		h.UpdatedAt = now
		if err := tx.SaveHold(ctx, h); err != nil {
			return out, fmt.Errorf("save hold: %w", err)
		}
	}

	if err := tx.UpdateAuction(ctx, a); err != nil {
		return out, fmt.Errorf("update auction: %w", err)
	}

	em := newEmitter(tx, now)
	if !hasBid {
		if err := em.emit(ctx, noBidsEvent(a)); err != nil {
			return out, err
		}
	} else {
		bidders, err := tx.BidderIDs(ctx, a.ID)
		if err != nil {
			return out, fmt.Errorf("bidders: %w", err)
		}
		for _, id := range bidders {
			if id == a.WinnerID {
				continue
			}
			if err := em.emit(ctx, lostEvent(id, a)); err != nil {
				return out, err
			}
		}
		if err := em.emit(ctx, wonEvent(a, highest.Amount)); err != nil {
			return out, err
		}
		if err := em.emit(ctx, soldEvent(a, highest.Amount)); err != nil {
			return out, err
		}
	}

	out.Refunded = sess.Changed()
	out.Events = em.count
	return out, nil
}

// finalizeWithBalances finalizes and records balance events in the same
// transaction, for engine paths that discover an expired auction.
func (e *Engine) finalizeWithBalances(ctx context.Context, tx domain.Tx, a domain.Auction, now time.Time) (Outcome, error) {
	out, err := Finalize(ctx, tx, a, now)
	if err != nil {
		return out, err
	}
	if err := newEmitter(tx, now).balances(ctx, out.Refunded); err != nil {
		return out, err
	}
	return out, nil
}
