package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventKind names a settlement or lifecycle event delivered to the sink.
type EventKind string

const (
	EventBidPlaced          EventKind = "bid_placed"
	EventOutbid             EventKind = "outbid"
	EventAuctionExtended    EventKind = "auction_extended"
	EventAuctionWon         EventKind = "auction_won"
	EventAuctionEndedLost   EventKind = "auction_ended_lost"
	EventAuctionEndedNoBids EventKind = "auction_ended_no_bids"
	EventAuctionSold        EventKind = "auction_sold"
	EventBuyNow             EventKind = "buy_now"
	EventShipped            EventKind = "shipped"
	EventPaymentReleased    EventKind = "payment_released"
	EventBalanceUpdated     EventKind = "balance_updated"
)

// NotificationKind maps an event to the user-facing notification it produces.
// Balance updates are pushed but never stored as notifications.
func (k EventKind) NotificationKind() (NotificationKind, bool) {
	switch k {
	case EventBidPlaced:
		return NotifyBid, true
	case EventOutbid:
		return NotifyOutbid, true
	case EventAuctionExtended:
		return NotifyEndingSoon, true
	case EventAuctionWon:
		return NotifyWon, true
	case EventAuctionEndedLost, EventAuctionEndedNoBids, EventAuctionSold:
		return NotifyEnded, true
	case EventBuyNow:
		return NotifyBuyNow, true
	case EventShipped:
		return NotifyShipped, true
	case EventPaymentReleased:
		return NotifyPayment, true
	default:
		return "", false
	}
}

// Event is emitted by settlement and the closer and delivered post-commit.
type Event struct {
	ID         string              `json:"id"`
	Kind       EventKind           `json:"kind"`
	UserID     string              `json:"user_id"`
	AuctionID  string              `json:"auction_id,omitempty"`
	Title      string              `json:"title,omitempty"`
	Message    string              `json:"message,omitempty"`
	Amount     decimal.NullDecimal `json:"amount"`
	Balance    decimal.NullDecimal `json:"balance"`
	EndTime    *time.Time          `json:"end_time,omitempty"`
	OccurredAt time.Time           `json:"occurred_at"`
}

// NewBalanceEvent reports an account's balance after a committed change.
func NewBalanceEvent(acct Account, at time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		Kind:       EventBalanceUpdated,
		UserID:     acct.UserID,
		Balance:    decimal.NewNullDecimal(acct.Balance),
		OccurredAt: at,
	}
}

// OutboxEvent is a persisted, not yet delivered event.
type OutboxEvent struct {
	ID          string     `json:"id"`
	Kind        EventKind  `json:"kind"`
	Payload     []byte     `json:"payload"`
	Attempts    int        `json:"attempts"`
	LastError   string     `json:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
}

// NewOutboxEvent serializes e into an outbox row sharing the event's id.
func NewOutboxEvent(e Event) (OutboxEvent, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return OutboxEvent{}, fmt.Errorf("domain: marshal event %s: %w", e.ID, err)
	}
	return OutboxEvent{
		ID:        e.ID,
		Kind:      e.Kind,
		Payload:   payload,
		CreatedAt: e.OccurredAt,
	}, nil
}

// Decode returns the event stored in the outbox row.
func (o OutboxEvent) Decode() (Event, error) {
	var e Event
	if err := json.Unmarshal(o.Payload, &e); err != nil {
		return Event{}, fmt.Errorf("domain: decode outbox %s: %w", o.ID, err)
	}
	return e, nil
}

// OutboxWaker is told that new outbox rows were committed.
type OutboxWaker interface {
	Wake()
}

// NopWaker ignores wake-ups; the relay still picks rows up on its interval.
type NopWaker struct{}

func (NopWaker) Wake() {}
