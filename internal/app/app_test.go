package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Damqn23/auction-marketplace/internal/config"
	"github.com/Damqn23/auction-marketplace/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func memoryConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Store.Driver = "memory"
	cfg.Redis.Enabled = false
	cfg.Server.Enabled = false
	return &cfg
}

func TestWire_Memory(t *testing.T) {
	deps, cleanup, err := Wire(context.Background(), memoryConfig(), testLogger())
	require.NoError(t, err)
	defer cleanup()

	assert.NotNil(t, deps.Engine)
	assert.NotNil(t, deps.Closer)
	assert.NotNil(t, deps.Relay)
	assert.Nil(t, deps.SignalBus)
	assert.Nil(t, deps.LockManager)
	assert.Nil(t, deps.Archiver)
	assert.Empty(t, deps.Health)
}

func TestWire_UnknownDriver(t *testing.T) {
	cfg := memoryConfig()
	cfg.Store.Driver = "sqlite"
	_, _, err := Wire(context.Background(), cfg, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown store driver")
}

func TestSettlementConfig(t *testing.T) {
	cfg := config.Defaults().Auction
	cfg.MinIncrementPct = config.Percent{Decimal: decimal.RequireFromString("2.5")}
	cfg.AntiSnipeWindow.Duration = 90 * time.Second

	got := SettlementConfig(cfg)
	assert.True(t, got.Rules.MinIncrementPct.Equal(decimal.RequireFromString("2.5")))
	assert.Equal(t, 90*time.Second, got.AntiSnipeWindow)
	assert.Equal(t, cfg.AntiSnipeExtension.Duration, got.AntiSnipeExtension)
	assert.True(t, got.PlatformFeePct.Equal(cfg.PlatformFeePct.Decimal))
}

func TestSweepMode_ClosesDueAuctions(t *testing.T) {
	ctx := context.Background()
	cfg := memoryConfig()
	cfg.Mode = "sweep"
	a := New(cfg, testLogger())
	defer a.Close()

	deps, cleanup, err := Wire(ctx, cfg, testLogger())
	require.NoError(t, err)
	defer cleanup()

	now := time.Now().UTC()
	require.NoError(t, deps.Auctions.Create(ctx, domain.Auction{
		ID:             "expired",
		Title:          "Lamp",
		SellerID:       "seller",
		StartingPrice:  decimal.NewFromInt(10),
		EndTime:        now.Add(-time.Hour),
		Status:         domain.AuctionActive,
		ShippingStatus: domain.ShippingNotShipped,
		CreatedAt:      now.Add(-2 * time.Hour),
	}))
	require.NoError(t, deps.Auctions.Create(ctx, domain.Auction{
		ID:             "running",
		Title:          "Chair",
		SellerID:       "seller",
		StartingPrice:  decimal.NewFromInt(10),
		EndTime:        now.Add(time.Hour),
		Status:         domain.AuctionActive,
		ShippingStatus: domain.ShippingNotShipped,
		CreatedAt:      now,
	}))

	require.NoError(t, a.SweepMode(ctx, deps))

	got, err := deps.Auctions.GetByID(ctx, "expired")
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionClosed, got.Status)
	assert.Empty(t, got.WinnerID)

	got, err = deps.Auctions.GetByID(ctx, "running")
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionActive, got.Status)

	pending, err := deps.Outbox.ListPending(ctx, 100, cfg.Relay.MaxAttempts)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRun_CancelledIsClean(t *testing.T) {
	cfg := memoryConfig()
	cfg.Mode = "relay"
	a := New(cfg, testLogger())
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, a.Run(ctx))
}

func TestRun_UnsupportedMode(t *testing.T) {
	cfg := memoryConfig()
	cfg.Mode = "trade"
	a := New(cfg, testLogger())
	defer a.Close()

	err := a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported mode")
}
