package settlement

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/Damqn23/auction-marketplace/internal/domain"
	"github.com/Damqn23/auction-marketplace/internal/ledger"
	"github.com/Damqn23/auction-marketplace/internal/money"
)

// Payout is the seller payment released on delivery confirmation.
type Payout struct {
	SalePrice decimal.Decimal `json:"sale_price"`
	Fee       decimal.Decimal `json:"fee"`
	Net       decimal.Decimal `json:"net"`
}

// MarkShipped moves a sold auction from NotShipped to Shipped. Only the
// seller may call it. An auction past its end time is finalized first.
func (e *Engine) MarkShipped(ctx context.Context, auctionID, userID string) (domain.Auction, error) {
	var result domain.Auction
	err := e.txr.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		now := e.now().UTC()

		a, err := tx.LockAuction(ctx, auctionID)
		if err != nil {
			return err
		}
		if a.SellerID != userID {
			return fmt.Errorf("%w: only the seller can mark an item shipped", domain.ErrForbidden)
		}
		if a.IsDue(now) {
			if _, err := e.finalizeWithBalances(ctx, tx, a, now); err != nil {
				return err
			}
			if a, err = tx.LockAuction(ctx, auctionID); err != nil {
				return err
			}
		}
		if a.Status != domain.AuctionClosed || a.ShippingStatus != domain.ShippingNotShipped || a.BuyerID() == "" {
			return fmt.Errorf("%w: cannot ship auction in status %s/%s", domain.ErrInvalidState, a.Status, a.ShippingStatus)
		}

		a.ShippingStatus = domain.ShippingShipped
		a.UpdatedAt = now
		if err := tx.UpdateAuction(ctx, a); err != nil {
			return fmt.Errorf("update auction: %w", err)
		}
		result = a
		return newEmitter(tx, now).emit(ctx, shippedEvent(a))
	})
	if err != nil {
		return domain.Auction{}, e.wrap("mark shipped", err)
	}

	e.waker.Wake()
	e.logger.InfoContext(ctx, "settlement: marked shipped",
		slog.String("auction_id", auctionID),
		slog.String("buyer_id", result.BuyerID()),
	)
	return result, nil
}

// MarkReceived confirms delivery and credits the seller the sale price less
// the platform fee. Only the buyer may call it and only once.
func (e *Engine) MarkReceived(ctx context.Context, auctionID, userID string) (Payout, error) {
	var p Payout
	err := e.txr.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		now := e.now().UTC()

		a, err := tx.LockAuction(ctx, auctionID)
		if err != nil {
			return err
		}
		if buyer := a.BuyerID(); buyer == "" || buyer != userID {
			return fmt.Errorf("%w: only the buyer can confirm delivery", domain.ErrForbidden)
		}
		if a.ShippingStatus != domain.ShippingShipped {
			return fmt.Errorf("%w: cannot confirm delivery in shipping status %s", domain.ErrInvalidState, a.ShippingStatus)
		}

		price := a.SalePrice()
		fee := money.Fee(price, e.cfg.PlatformFeePct)
		p = Payout{SalePrice: price, Fee: fee, Net: price.Sub(fee)}

		sess, err := ledger.Open(ctx, tx, now, a.SellerID)
		if err != nil {
			return err
		}
		if p.Net.IsPositive() {
			if err := sess.Credit(ctx, ledger.Entry{
				UserID:    a.SellerID,
				Amount:    p.Net,
				Kind:      domain.TxSellerPayment,
				AuctionID: a.ID,
				Description: fmt.Sprintf("Payment for %s: %s less %s platform fee",
					a.Title, money.Dollars(price), money.Dollars(fee)),
			}); err != nil {
				return err
			}
		}

		a.ShippingStatus = domain.ShippingReceived
		a.UpdatedAt = now
		if err := tx.UpdateAuction(ctx, a); err != nil {
			return fmt.Errorf("update auction: %w", err)
		}

		em := newEmitter(tx, now)
		if err := em.emit(ctx, paymentEvent(a, p)); err != nil {
			return err
		}
		return em.balances(ctx, sess.Changed())
	})
	if err != nil {
		return Payout{}, e.wrap("mark received", err)
	}

	e.waker.Wake()
	e.logger.InfoContext(ctx, "settlement: payment released",
		slog.String("auction_id", auctionID),
		slog.String("net", money.Format(p.Net)),
		slog.String("fee", money.Format(p.Fee)),
	)
	return p, nil
}
