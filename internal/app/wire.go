package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/Damqn23/auction-marketplace/internal/blob/s3"
	"github.com/Damqn23/auction-marketplace/internal/bidding"
	"github.com/Damqn23/auction-marketplace/internal/cache/redis"
	"github.com/Damqn23/auction-marketplace/internal/closer"
	"github.com/Damqn23/auction-marketplace/internal/config"
	"github.com/Damqn23/auction-marketplace/internal/domain"
	"github.com/Damqn23/auction-marketplace/internal/ledger"
	"github.com/Damqn23/auction-marketplace/internal/notify"
	"github.com/Damqn23/auction-marketplace/internal/server/handler"
	"github.com/Damqn23/auction-marketplace/internal/service"
	"github.com/Damqn23/auction-marketplace/internal/settlement"
	"github.com/Damqn23/auction-marketplace/internal/store/memory"
	"github.com/Damqn23/auction-marketplace/internal/store/postgres"
)

// Dependencies bundles everything the run modes need. It is built by Wire
// and torn down by the cleanup function Wire returns.
type Dependencies struct {
	// Stores
	TxRunner      domain.TxRunner
	Auctions      domain.AuctionStore
	Bids          domain.BidStore
	Accounts      domain.AccountStore
	Transactions  domain.TransactionStore
	Notifications domain.NotificationStore
	Outbox        domain.OutboxStore
	Audit         domain.AuditStore

	// Redis-backed; nil when redis is disabled.
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Nil unless s3 is enabled.
	Archiver domain.Archiver

	Notifier *notify.Notifier
	Relay    *notify.Relay

	Ledger         *ledger.Service
	Engine         *settlement.Engine
	Closer         *closer.Closer
	AuctionService *service.AuctionService
	AccountQueries *service.AccountQueries

	// Health checks by dependency name, served by GET /api/health.
	Health map[string]handler.Check
}

// SettlementConfig maps the [auction] section onto the engine rules.
func SettlementConfig(cfg config.AuctionConfig) settlement.Config {
	return settlement.Config{
		Rules: bidding.Rules{
			MinIncrementPct: cfg.MinIncrementPct.Decimal,
			RateWindow:      cfg.BidRateWindow.Duration,
		},
		AntiSnipeWindow:    cfg.AntiSnipeWindow.Duration,
		AntiSnipeExtension: cfg.AntiSnipeExtension.Duration,
		PlatformFeePct:     cfg.PlatformFeePct.Decimal,
	}
}

// openPostgres connects to PostgreSQL with the [postgres] section.
func openPostgres(ctx context.Context, cfg config.PostgresConfig) (*postgres.Client, error) {
	return postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.DSN,
		Host:     cfg.Host,
		Port:     cfg.Port,
		Database: cfg.Database,
		User:     cfg.User,
		Password: cfg.Password,
		SSLMode:  cfg.SSLMode,
		MaxConns: cfg.PoolMaxConns,
		MinConns: cfg.PoolMinConns,
	})
}

// Wire constructs every concrete dependency from cfg and returns them with
// a cleanup function that releases resources in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{Health: make(map[string]handler.Check)}

	// --- Stores ---
	switch cfg.Store.Driver {
	case "memory":
		logger.WarnContext(ctx, "wire: using in-memory store; data is lost on exit")
		mem := memory.New()
		deps.TxRunner = mem
		deps.Auctions = mem
		deps.Bids = mem.Bids()
		deps.Accounts = mem.Accounts()
		deps.Transactions = mem.Transactions()
		deps.Notifications = mem.Notifications()
		deps.Outbox = mem
		deps.Audit = mem

	case "postgres":
		pgClient, err := openPostgres(ctx, cfg.Postgres)
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)
		deps.Health["postgres"] = pgClient.Ping

		if cfg.Postgres.RunMigrations {
			applied, err := pgClient.RunMigrations(ctx)
			if err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
			if len(applied) > 0 {
				logger.InfoContext(ctx, "wire: migrations applied", slog.Any("files", applied))
			}
		}

		pool := pgClient.Pool()
		deps.TxRunner = postgres.NewTxManager(pool, postgres.TxConfig{
			LockTimeout: cfg.Postgres.LockTimeout.Duration,
			Retries:     cfg.Postgres.TxRetries,
		}, logger.With(slog.String("component", "postgres")))
		deps.Auctions = postgres.NewAuctionStore(pool)
		deps.Bids = postgres.NewBidStore(pool)
		deps.Accounts = postgres.NewAccountStore(pool)
		deps.Transactions = postgres.NewTransactionStore(pool)
		deps.Notifications = postgres.NewNotificationStore(pool)
		deps.Outbox = postgres.NewOutboxStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)

	default:
		return fail(fmt.Errorf("wire: unknown store driver %q", cfg.Store.Driver))
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		deps.Health["redis"] = redisClient.Ping

		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen)
	} else {
		logger.WarnContext(ctx, "wire: redis disabled; no closer lock, API rate limit or live push")
	}

	// --- S3 archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Health["s3"] = s3Client.Health
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			deps.Auctions,
			deps.Bids,
			deps.Transactions,
			deps.Audit,
			logger,
		)
	}

	// --- Notifications and the outbox relay ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	sinks := notify.Fanout{notify.NewOperatorSink(deps.Notifier)}
	if deps.SignalBus != nil {
		sinks = append(sinks, notify.NewBusSink(deps.SignalBus))
	}
	if cfg.AMQP.Enabled {
		amqpSink := notify.NewAMQPSink(notify.AMQPConfig{
			URL:           cfg.AMQP.URL,
			Exchange:      cfg.AMQP.Exchange,
			RoutingPrefix: cfg.AMQP.RoutingPrefix,
		}, logger)
		closers = append(closers, func() { _ = amqpSink.Close() })
		sinks = append(sinks, amqpSink)
	}
	deps.Relay = notify.NewRelay(deps.Outbox, sinks, deps.Notifier, notify.RelayConfig{
		Interval:    cfg.Relay.Interval.Duration,
		BatchSize:   cfg.Relay.BatchSize,
		MaxAttempts: cfg.Relay.MaxAttempts,
	}, logger)

	// --- Services ---
	settleCfg := SettlementConfig(cfg.Auction)
	deps.Ledger = ledger.NewService(deps.TxRunner, deps.Accounts, deps.Relay, logger)
	deps.Engine = settlement.NewEngine(deps.TxRunner, settleCfg, deps.Relay, logger)
	deps.Closer = closer.New(
		deps.TxRunner,
		deps.Auctions,
		deps.Outbox,
		deps.Audit,
		deps.LockManager,
		deps.Relay,
		closer.Config{
			Interval:  cfg.Closer.Interval.Duration,
			BatchSize: cfg.Closer.BatchSize,
			LockTTL:   cfg.Closer.LockTTL.Duration,
		},
		logger.With(slog.String("component", "closer")),
	)
	deps.AuctionService = service.NewAuctionService(deps.Auctions, deps.Bids, settleCfg.Rules.MinIncrementPct, logger)
	deps.AccountQueries = service.NewAccountQueries(deps.Transactions, deps.Notifications, logger)

	return deps, cleanup, nil
}
