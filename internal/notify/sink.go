package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/Damqn23/auction-marketplace/internal/domain"
)

// Sink receives events after the transaction that produced them committed.
// Delivery is at-least-once; sinks must tolerate duplicates by event ID.
type Sink interface {
	Deliver(ctx context.Context, e domain.Event) error
	Name() string
}

// Fanout delivers every event to all of its sinks and joins their errors.
type Fanout []Sink

// Deliver tries every sink even when an earlier one fails.
func (f Fanout) Deliver(ctx context.Context, e domain.Event) error {
	var errs []error
	for _, s := range f {
		if err := s.Deliver(ctx, e); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) Name() string { return "fanout" }

// OperatorSink forwards events to the operator Notifier, filtered by kind.
type OperatorSink struct {
	notifier *Notifier
}

// NewOperatorSink wraps n.
func NewOperatorSink(n *Notifier) *OperatorSink {
	return &OperatorSink{notifier: n}
}

func (o *OperatorSink) Deliver(ctx context.Context, e domain.Event) error {
	if !o.notifier.Enabled() {
		return nil
	}
	title := e.Title
	if title == "" {
		title = string(e.Kind)
	}
	msg := e.Message
	if e.AuctionID != "" {
		msg = fmt.Sprintf("%s\nauction %s, user %s", msg, e.AuctionID, e.UserID)
	}
	return o.notifier.Notify(ctx, string(e.Kind), title, msg)
}

func (o *OperatorSink) Name() string { return "operator" }
