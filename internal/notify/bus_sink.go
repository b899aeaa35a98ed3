package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Damqn23/auction-marketplace/internal/domain"
)

// EventStream is the durable stream every delivered event is appended to.
const EventStream = "stream:auction-events"

// BusSink publishes events on the signal bus: to the recipient's user
// channel, to the auction channel for auction events, and to EventStream.
type BusSink struct {
	bus domain.SignalBus
}

// NewBusSink creates a BusSink over bus.
func NewBusSink(bus domain.SignalBus) *BusSink {
	return &BusSink{bus: bus}
}

func (b *BusSink) Deliver(ctx context.Context, e domain.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("notify: marshal event %s: %w", e.ID, err)
	}

	if e.UserID != "" {
		if err := b.bus.Publish(ctx, domain.UserChannel(e.UserID), payload); err != nil {
			return err
		}
	}
	// Balances are private to the account holder.
	if e.AuctionID != "" && e.Kind != domain.EventBalanceUpdated {
		if err := b.bus.Publish(ctx, domain.AuctionChannel(e.AuctionID), payload); err != nil {
			return err
		}
	}
	return b.bus.StreamAppend(ctx, EventStream, payload)
}

func (b *BusSink) Name() string { return "bus" }
