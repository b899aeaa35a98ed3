package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Damqn23/auction-marketplace/internal/pipeline"
	"github.com/Damqn23/auction-marketplace/internal/server"
	"github.com/Damqn23/auction-marketplace/internal/server/handler"
	"github.com/Damqn23/auction-marketplace/internal/server/ws"
)

// maxDrainRounds bounds the outbox flush at the end of a one-shot sweep.
const maxDrainRounds = 50

// ServeMode runs the HTTP API together with the background workers: the
// outbox relay, the periodic closer, the archive schedule and the live push
// hub.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Relay.Run(ctx)
	})

	if a.cfg.Closer.Enabled {
		g.Go(func() error {
			return deps.Closer.Run(ctx)
		})
	}

	a.startArchive(ctx, g, deps)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}

	return g.Wait()
}

// CloserMode runs only the periodic closer and the relay that delivers the
// events it emits. Several closer processes may run against the same
// database; the redis lock keeps sweeps from overlapping.
func (a *App) CloserMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting closer mode",
		slog.Duration("interval", a.cfg.Closer.Interval.Duration),
		slog.Bool("distributed_lock", deps.LockManager != nil),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return deps.Closer.Run(ctx)
	})
	g.Go(func() error {
		return deps.Relay.Run(ctx)
	})
	a.startArchive(ctx, g, deps)
	return g.Wait()
}

// SweepMode closes every due auction once, flushes the outbox and exits.
// It is meant for cron jobs and manual recovery.
func (a *App) SweepMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting one-shot sweep")

	report, err := deps.Closer.SweepOnce(ctx)
	if err != nil {
		return fmt.Errorf("sweep mode: %w", err)
	}

	delivered := 0
	for range maxDrainRounds {
		n, err := deps.Relay.DrainOnce(ctx)
		if err != nil {
			return fmt.Errorf("sweep mode: drain outbox: %w", err)
		}
		if n == 0 {
			break
		}
		delivered += n
	}

	a.logger.InfoContext(ctx, "sweep complete",
		slog.Int("due", report.Due),
		slog.Int("closed", report.Closed),
		slog.Int("sold", report.Sold),
		slog.Int("no_bids", report.NoBids),
		slog.Int("refunds", report.Refunds),
		slog.Int("skipped", report.Skipped),
		slog.Int("failures", len(report.Failures)),
		slog.Int("events_delivered", delivered),
		slog.Duration("duration", report.Duration),
	)

	if len(report.Failures) > 0 {
		for _, f := range report.Failures {
			a.logger.ErrorContext(ctx, "sweep: auction not closed",
				slog.String("auction_id", f.AuctionID),
				slog.String("error", f.Error),
			)
		}
		return fmt.Errorf("sweep mode: %d auctions failed to close", len(report.Failures))
	}
	return nil
}

// RelayMode runs only the outbox relay.
func (a *App) RelayMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting relay mode",
		slog.Duration("interval", a.cfg.Relay.Interval.Duration),
	)
	return deps.Relay.Run(ctx)
}

// MigrateMode applies pending schema migrations and exits. It does not go
// through Wire so that no other dependency has to be reachable.
func (a *App) MigrateMode(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting migrate mode")

	client, err := openPostgres(ctx, a.cfg.Postgres)
	if err != nil {
		return fmt.Errorf("migrate mode: %w", err)
	}
	defer client.Close()

	applied, err := client.RunMigrations(ctx)
	if err != nil {
		return fmt.Errorf("migrate mode: %w", err)
	}
	if len(applied) == 0 {
		a.logger.InfoContext(ctx, "schema up to date")
		return nil
	}
	a.logger.InfoContext(ctx, "migrations applied", slog.Any("files", applied))
	return nil
}

// startArchive schedules the settlement archive when it is configured.
func (a *App) startArchive(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if !a.cfg.Archive.Enabled || deps.Archiver == nil {
		return
	}
	archiver := pipeline.NewArchiver(deps.Archiver, a.cfg.Archive.RetentionDays, a.logger)
	g.Go(func() error {
		return archiver.RunCron(ctx, a.cfg.Archive.Cron)
	})
}

// startHTTPServer registers the API handlers and the websocket hub and runs
// the server until ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	handlers := server.Handlers{
		Health:        handler.NewHealthHandler(deps.Health, a.logger),
		Auctions:      handler.NewAuctionHandler(deps.AuctionService, deps.Engine, a.logger),
		Accounts:      handler.NewAccountHandler(deps.Ledger, deps.AccountQueries, a.logger),
		Notifications: handler.NewNotificationHandler(deps.AccountQueries, a.logger),
		Closer:        handler.NewCloserHandler(deps.Closer, a.logger),
	}

	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, a.logger)
		g.Go(func() error {
			return hub.Run(ctx)
		})
	} else {
		a.logger.WarnContext(ctx, "HTTP server: websocket push disabled (no signal bus)")
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKeyHash:  a.cfg.Server.APIKeyHash,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)))
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
