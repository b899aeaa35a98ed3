package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Damqn23/auction-marketplace/internal/domain"
)

// RelayConfig controls outbox draining.
type RelayConfig struct {
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
}

// DefaultRelayConfig returns the relay defaults.
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		Interval:    5 * time.Second,
		BatchSize:   100,
		MaxAttempts: 10,
	}
}

// Alerter receives dead-letter alerts.
type Alerter interface {
	NotifyAll(ctx context.Context, title, message string) error
}

// Relay moves committed outbox rows to a Sink in creation order. A row is
// marked delivered only after the sink accepted it, so delivery is
// at-least-once. Rows that fail MaxAttempts times stay in the outbox and
// are reported to the alerter.
type Relay struct {
	outbox domain.OutboxStore
	sink   Sink
	alerts Alerter
	cfg    RelayConfig
	dedup  *Dedup
	wake   chan struct{}
	now    func() time.Time
	logger *slog.Logger
}

// NewRelay creates a Relay. alerts may be nil.
func NewRelay(outbox domain.OutboxStore, sink Sink, alerts Alerter, cfg RelayConfig, logger *slog.Logger) *Relay {
	def := DefaultRelayConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	return &Relay{
		outbox: outbox,
		sink:   sink,
		alerts: alerts,
		cfg:    cfg,
		dedup:  NewDedup(10 * time.Minute),
		wake:   make(chan struct{}, 1),
		now:    time.Now,
		logger: logger.With(slog.String("component", "relay")),
	}
}

var _ domain.OutboxWaker = (*Relay)(nil)

// Wake asks Run to drain now. It never blocks.
func (r *Relay) Wake() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// DrainOnce delivers one batch of pending rows and returns how many were
// delivered.
func (r *Relay) DrainOnce(ctx context.Context) (int, error) {
	pending, err := r.outbox.ListPending(ctx, r.cfg.BatchSize, r.cfg.MaxAttempts)
	if err != nil {
		return 0, fmt.Errorf("notify: list pending: %w", err)
	}

	delivered := 0
	for _, row := range pending {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}
		if r.deliver(ctx, row) {
			delivered++
		}
	}
	return delivered, nil
}

func (r *Relay) deliver(ctx context.Context, row domain.OutboxEvent) bool {
	if !r.dedup.Seen(row.ID) {
		e, err := row.Decode()
		if err == nil {
			err = r.sink.Deliver(ctx, e)
		}
		if err != nil {
			r.fail(ctx, row, err)
			return false
		}
		r.dedup.Mark(row.ID)
	}

	if err := r.outbox.MarkDelivered(ctx, row.ID, r.now().UTC()); err != nil {
		r.logger.WarnContext(ctx, "relay: mark delivered failed",
			slog.String("event_id", row.ID),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}

func (r *Relay) fail(ctx context.Context, row domain.OutboxEvent, cause error) {
	r.logger.WarnContext(ctx, "relay: delivery failed",
		slog.String("event_id", row.ID),
		slog.String("kind", string(row.Kind)),
		slog.Int("attempt", row.Attempts+1),
		slog.String("error", cause.Error()),
	)
	if err := r.outbox.MarkFailed(ctx, row.ID, cause.Error()); err != nil {
		r.logger.ErrorContext(ctx, "relay: mark failed failed",
			slog.String("event_id", row.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	if row.Attempts+1 < r.cfg.MaxAttempts || r.alerts == nil {
		return
	}
	msg := fmt.Sprintf("event %s (%s) gave up after %d attempts: %v", row.ID, row.Kind, row.Attempts+1, cause)
	if err := r.alerts.NotifyAll(ctx, "Outbox event dead-lettered", msg); err != nil {
		r.logger.ErrorContext(ctx, "relay: alert failed", slog.String("error", err.Error()))
	}
}

// drain repeats DrainOnce while full batches are delivered.
func (r *Relay) drain(ctx context.Context) {
	for {
		n, err := r.DrainOnce(ctx)
		if err != nil {
			if ctx.Err() == nil {
				r.logger.ErrorContext(ctx, "relay: drain failed", slog.String("error", err.Error()))
			}
			return
		}
		if n > 0 {
			r.logger.DebugContext(ctx, "relay: delivered", slog.Int("count", n))
		}
		if n < r.cfg.BatchSize {
			return
		}
	}
}

// Run drains on every wake-up and every interval until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "relay: started",
		slog.Duration("interval", r.cfg.Interval),
		slog.Int("batch_size", r.cfg.BatchSize),
	)
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.drain(ctx)
	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "relay: stopped")
			return ctx.Err()
		case <-r.wake:
			r.drain(ctx)
		case <-ticker.C:
			r.drain(ctx)
			r.dedup.Cleanup()
		}
	}
}
