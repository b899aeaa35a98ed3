package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Damqn23/auction-marketplace/internal/domain"
	"github.com/Damqn23/auction-marketplace/internal/money"
)

// emitter writes events as notification and outbox rows on the current
// transaction. Nothing is delivered until the relay reads the committed
// outbox.
type emitter struct {
	tx    domain.Tx
	now   time.Time
	count int
}

func newEmitter(tx domain.Tx, now time.Time) *emitter {
	return &emitter{tx: tx, now: now}
}

func (em *emitter) emit(ctx context.Context, e domain.Event) error {
	e.ID = uuid.NewString()
	e.OccurredAt = em.now

	if n, ok := domain.NotificationFromEvent(e); ok {
		if err := em.tx.InsertNotification(ctx, n); err != nil {
			return fmt.Errorf("insert notification %s: %w", e.Kind, err)
		}
	}
	row, err := domain.NewOutboxEvent(e)
	if err != nil {
		return err
	}
	if err := em.tx.InsertOutbox(ctx, row); err != nil {
		return fmt.Errorf("insert outbox %s: %w", e.Kind, err)
	}
	em.count++
	return nil
}

func (em *emitter) balances(ctx context.Context, accts []domain.Account) error {
	for _, acct := range accts {
		if err := em.emit(ctx, domain.NewBalanceEvent(acct, em.now)); err != nil {
			return err
		}
	}
	return nil
}

func auctionEvent(kind domain.EventKind, userID string, a domain.Auction, title, msg string) domain.Event {
	return domain.Event{
		Kind:      kind,
		UserID:    userID,
		AuctionID: a.ID,
		Title:     title,
		Message:   msg,
	}
}

func withAmount(e domain.Event, amount decimal.Decimal) domain.Event {
	e.Amount = decimal.NewNullDecimal(amount)
	return e
}

func outbidEvent(userID string, a domain.Auction, amount decimal.Decimal) domain.Event {
	return withAmount(auctionEvent(domain.EventOutbid, userID, a,
		fmt.Sprintf("You have been outbid on %q", a.Title),
		fmt.Sprintf("Someone placed a higher bid of %s.", money.Dollars(amount)),
	), amount)
}

func newBidEvent(a domain.Auction, bidderID string, amount decimal.Decimal, raised bool) domain.Event {
	if raised {
		return withAmount(auctionEvent(domain.EventBidPlaced, a.SellerID, a,
			fmt.Sprintf("Bid increased on %q", a.Title),
			fmt.Sprintf("%s increased their bid to %s on your auction.", bidderID, money.Dollars(amount)),
		), amount)
	}
	return withAmount(auctionEvent(domain.EventBidPlaced, a.SellerID, a,
		fmt.Sprintf("New bid placed on %q", a.Title),
		fmt.Sprintf("%s placed a bid of %s on your auction.", bidderID, money.Dollars(amount)),
	), amount)
}

func extendedEvent(userID string, a domain.Auction) domain.Event {
	e := auctionEvent(domain.EventAuctionExtended, userID, a,
		fmt.Sprintf("Auction extended: %q", a.Title),
		fmt.Sprintf("The auction has been extended due to late bidding. New end time: %s",
			a.EndTime.UTC().Format("2006-01-02 15:04")),
	)
	end := a.EndTime
	e.EndTime = &end
	return e
}

func wonEvent(a domain.Auction, amount decimal.Decimal) domain.Event {
	return withAmount(auctionEvent(domain.EventAuctionWon, a.WinnerID, a,
		"Congratulations!",
		fmt.Sprintf("You won the auction for '%s' with a bid of %s.", a.Title, money.Dollars(amount)),
	), amount)
}

func lostEvent(userID string, a domain.Auction) domain.Event {
	return auctionEvent(domain.EventAuctionEndedLost, userID, a,
		"Auction Ended",
		fmt.Sprintf("The auction for '%s' has ended. You did not win.", a.Title),
	)
}

func soldEvent(a domain.Auction, amount decimal.Decimal) domain.Event {
	return withAmount(auctionEvent(domain.EventAuctionSold, a.SellerID, a,
		"Auction Ended",
		fmt.Sprintf("Your auction for '%s' has ended. Winner: %s with %s.", a.Title, a.WinnerID, money.Dollars(amount)),
	), amount)
}

func noBidsEvent(a domain.Auction) domain.Event {
	return auctionEvent(domain.EventAuctionEndedNoBids, a.SellerID, a,
		"Auction Ended",
		fmt.Sprintf("Your auction for '%s' has ended with no bids.", a.Title),
	)
}

func boughtEvent(a domain.Auction, price decimal.Decimal) domain.Event {
	return withAmount(auctionEvent(domain.EventBuyNow, a.BuyNowBuyerID, a,
		fmt.Sprintf("You bought %q", a.Title),
		fmt.Sprintf("You bought '%s' for %s. The seller will ship it soon.", a.Title, money.Dollars(price)),
	), price)
}

func buyNowDisplacedEvent(userID string, a domain.Auction, refund decimal.Decimal) domain.Event {
	return withAmount(auctionEvent(domain.EventBuyNow, userID, a,
		fmt.Sprintf("%q was bought now", a.Title),
		fmt.Sprintf("The item was purchased at the buy now price. Your bid of %s has been refunded.", money.Dollars(refund)),
	), refund)
}

func soldNowEvent(a domain.Auction, price decimal.Decimal) domain.Event {
	return withAmount(auctionEvent(domain.EventAuctionSold, a.SellerID, a,
		"Auction Ended",
		fmt.Sprintf("Your auction for '%s' was bought now by %s for %s.", a.Title, a.BuyNowBuyerID, money.Dollars(price)),
	), price)
}

func shippedEvent(a domain.Auction) domain.Event {
	return auctionEvent(domain.EventShipped, a.BuyerID(), a,
		fmt.Sprintf("%q has shipped", a.Title),
		fmt.Sprintf("The seller marked '%s' as shipped. Confirm delivery once it arrives.", a.Title),
	)
}

func paymentEvent(a domain.Auction, p Payout) domain.Event {
	return withAmount(auctionEvent(domain.EventPaymentReleased, a.SellerID, a,
		"Payment released",
		fmt.Sprintf("Delivery of '%s' was confirmed. %s has been added to your balance (sale %s, fee %s).",
			a.Title, money.Dollars(p.Net), money.Dollars(p.SalePrice), money.Dollars(p.Fee)),
	), p.Net)
}
