// Package closer finalizes auctions whose end time has passed. A sweep locks
// each due auction in its own transaction so one failing auction never
// blocks the rest; anything left active is picked up by the next sweep.
package closer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Damqn23/auction-marketplace/internal/domain"
	"github.com/Damqn23/auction-marketplace/internal/settlement"
)

const sweepLockKey = "closer:sweep"

// Config controls sweep cadence and batching.
type Config struct {
	Interval  time.Duration
	BatchSize int
	LockTTL   time.Duration
}

// SweepFailure records an auction that could not be finalized.
type SweepFailure struct {
	AuctionID string `json:"auction_id"`
	Error     string `json:"error"`
}

// SweepReport summarizes one sweep.
type SweepReport struct {
	StartedAt time.Time      `json:"started_at"`
	Duration  time.Duration  `json:"duration"`
	Due       int            `json:"due"`
	Closed    int            `json:"closed"`
	Sold      int            `json:"sold"`
	NoBids    int            `json:"no_bids"`
	Refunds   int            `json:"refunds"`
	Skipped   int            `json:"skipped"`
	Failures  []SweepFailure `json:"failures,omitempty"`
}

// Closer runs sweeps on demand or on a ticker.
type Closer struct {
	txr      domain.TxRunner
	auctions domain.AuctionStore
	outbox   domain.OutboxStore
	audit    domain.AuditStore
	locks    domain.LockManager
	waker    domain.OutboxWaker
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time

	group singleflight.Group
}

// New creates a Closer. locks may be nil when only one process sweeps.
func New(
	txr domain.TxRunner,
	auctions domain.AuctionStore,
	outbox domain.OutboxStore,
	audit domain.AuditStore,
	locks domain.LockManager,
	waker domain.OutboxWaker,
	cfg Config,
	logger *slog.Logger,
) *Closer {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}
	if waker == nil {
		waker = domain.NopWaker{}
	}
	return &Closer{
		txr:      txr,
		auctions: auctions,
		outbox:   outbox,
		audit:    audit,
		locks:    locks,
		waker:    waker,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (c *Closer) WithClock(now func() time.Time) *Closer {
	c.now = now
	return c
}

// SweepOnce finalizes every auction that is active and past its end time.
// Concurrent callers in the same process share one execution. It returns
// domain.ErrLockHeld when another process is sweeping.
//
// The shared execution is detached from the caller that started it; a
// caller whose ctx ends stops waiting but the sweep runs to completion for
// the others.
func (c *Closer) SweepOnce(ctx context.Context) (SweepReport, error) {
	ch := c.group.DoChan(sweepLockKey, func() (any, error) {
		return c.sweep(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return SweepReport{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return SweepReport{}, res.Err
		}
		return res.Val.(SweepReport), nil
	}
}

// Run sweeps every interval until ctx is cancelled.
func (c *Closer) Run(ctx context.Context) error {
	c.logger.InfoContext(ctx, "closer: starting", slog.Duration("interval", c.cfg.Interval))

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		c.tick(ctx)
		select {
		case <-ctx.Done():
			c.logger.InfoContext(ctx, "closer: stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Closer) tick(ctx context.Context) {
	report, err := c.SweepOnce(ctx)
	switch {
	case errors.Is(err, domain.ErrLockHeld):
		c.logger.DebugContext(ctx, "closer: sweep running elsewhere")
	case err != nil:
		c.logger.ErrorContext(ctx, "closer: sweep failed", slog.String("error", err.Error()))
	case report.Due > 0:
		c.logger.InfoContext(ctx, "closer: sweep complete",
			slog.Int("due", report.Due),
			slog.Int("closed", report.Closed),
			slog.Int("sold", report.Sold),
			slog.Int("no_bids", report.NoBids),
			slog.Int("refunds", report.Refunds),
			slog.Int("failures", len(report.Failures)),
			slog.Duration("duration", report.Duration),
		)
	}
}

func (c *Closer) sweep(ctx context.Context) (SweepReport, error) {
	if c.locks != nil {
		unlock, err := c.locks.Acquire(ctx, sweepLockKey, c.cfg.LockTTL)
		if err != nil {
			return SweepReport{}, err
		}
		defer unlock()
	}

	report := SweepReport{StartedAt: c.now().UTC()}
	ids, err := c.auctions.ListDue(ctx, report.StartedAt, c.cfg.BatchSize)
	if err != nil {
		return SweepReport{}, fmt.Errorf("closer: list due: %w", err)
	}
	report.Due = len(ids)

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		out, err := c.closeOne(ctx, id)
		if err != nil {
			c.logger.WarnContext(ctx, "closer: finalize failed",
				slog.String("auction_id", id),
				slog.String("error", err.Error()),
			)
			report.Failures = append(report.Failures, SweepFailure{AuctionID: id, Error: err.Error()})
			continue
		}
		switch {
		case out.Skipped:
			report.Skipped++
			continue
		case out.NoBids:
			report.NoBids++
		default:
			report.Sold++
		}
		report.Closed++
		report.Refunds += len(out.Refunded)
	}

	report.Duration = c.now().Sub(report.StartedAt)
	if report.Closed > 0 {
		c.waker.Wake()
	}
	if c.audit != nil && report.Due > 0 {
		detail := map[string]any{
			"due":      report.Due,
			"closed":   report.Closed,
			"sold":     report.Sold,
			"no_bids":  report.NoBids,
			"refunds":  report.Refunds,
			"skipped":  report.Skipped,
			"failures": len(report.Failures),
		}
		if err := c.audit.Log(ctx, "closer.sweep", detail); err != nil {
			c.logger.WarnContext(ctx, "closer: audit log failed", slog.String("error", err.Error()))
		}
	}
	return report, nil
}

// closeOne finalizes a single auction in its own transaction and then
// records balance events for the refunded bidders.
func (c *Closer) closeOne(ctx context.Context, id string) (settlement.Outcome, error) {
	var (
		out settlement.Outcome
		now time.Time
	)
	err := c.txr.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		now = c.now().UTC()
		a, err := tx.LockAuction(ctx, id)
		if err != nil {
			return err
		}
		// Re-check under the lock: a bid may have extended it or another
		// actor may have closed it since ListDue.
		if !a.IsDue(now) {
			out = settlement.Outcome{AuctionID: id, Skipped: true}
			return nil
		}
		out, err = settlement.Finalize(ctx, tx, a, now)
		return err
	})
	if err != nil {
		return settlement.Outcome{}, err
	}
	if len(out.Refunded) == 0 {
		return out, nil
	}

	events := make([]domain.OutboxEvent, 0, len(out.Refunded))
	for _, acct := range out.Refunded {
		row, err := domain.NewOutboxEvent(domain.NewBalanceEvent(acct, now))
		if err != nil {
			return out, err
		}
		events = append(events, row)
	}
	if err := c.outbox.Append(ctx, events...); err != nil {
		// The refund is committed; only the balance push is lost.
		c.logger.WarnContext(ctx, "closer: balance events not recorded",
			slog.String("auction_id", id),
			slog.String("error", err.Error()),
		)
	}
	return out, nil
}
