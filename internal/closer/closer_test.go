package closer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Damqn23/auction-marketplace/internal/domain"
	"github.com/Damqn23/auction-marketplace/internal/ledger"
	"github.com/Damqn23/auction-marketplace/internal/money"
	"github.com/Damqn23/auction-marketplace/internal/settlement"
	"github.com/Damqn23/auction-marketplace/internal/store/memory"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func (l *fakeLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return nil, domain.ErrLockHeld
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}, nil
}

type env struct {
	ctx    context.Context
	st     *memory.Store
	ledger *ledger.Service
	eng    *settlement.Engine
	closer *Closer
	locks  *fakeLocks
	now    time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{ctx: context.Background(), st: memory.New(), now: t0, locks: &fakeLocks{held: map[string]bool{}}}
	clock := func() time.Time { return e.now }
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	e.ledger = ledger.NewService(e.st, e.st.Accounts(), nil, logger).WithClock(clock)
	e.eng = settlement.NewEngine(e.st, settlement.DefaultConfig(), nil, logger).WithClock(clock)
	e.closer = New(e.st, e.st, e.st, e.st, e.locks, nil, Config{BatchSize: 10}, logger).WithClock(clock)

	for _, id := range []string{"seller", "bob", "carol"} {
		_, err := e.ledger.OpenAccount(e.ctx, id)
		require.NoError(t, err)
	}
	for _, id := range []string{"bob", "carol"} {
		_, err := e.ledger.Deposit(e.ctx, id, money.MustParse("1000"))
		require.NoError(t, err)
	}
	return e
}

func (e *env) auction(t *testing.T, id string, endIn time.Duration) {
	t.Helper()
	require.NoError(t, e.st.Create(e.ctx, domain.Auction{
		ID:             id,
		Title:          "Item " + id,
		SellerID:       "seller",
		StartingPrice:  money.MustParse("100"),
		EndTime:        e.now.Add(endIn),
		Status:         domain.AuctionActive,
		ShippingStatus: domain.ShippingNotShipped,
	}))
}

func (e *env) bid(t *testing.T, auctionID, userID, amount string) {
	t.Helper()
	_, err := e.eng.PlaceBid(e.ctx, settlement.PlaceBidRequest{AuctionID: auctionID, UserID: userID, Amount: amount})
	require.NoError(t, err)
}

func (e *env) balance(t *testing.T, userID string) string {
	t.Helper()
	acct, err := e.ledger.Get(e.ctx, userID)
	require.NoError(t, err)
	return money.Format(acct.Balance)
}

func TestSweepOnce(t *testing.T) {
	e := newEnv(t)
	e.auction(t, "sold", time.Hour)
	e.auction(t, "empty", time.Hour)
	e.auction(t, "later", 3*time.Hour)

	e.bid(t, "sold", "bob", "102")
	e.bid(t, "sold", "carol", "110")
	e.now = e.now.Add(2 * time.Hour)

	report, err := e.closer.SweepOnce(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Due)
	assert.Equal(t, 2, report.Closed)
	assert.Equal(t, 1, report.Sold)
	assert.Equal(t, 1, report.NoBids)
	assert.Empty(t, report.Failures)

	sold, err := e.st.GetByID(e.ctx, "sold")
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionClosed, sold.Status)
	assert.Equal(t, "carol", sold.WinnerID)

	later, err := e.st.GetByID(e.ctx, "later")
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionActive, later.Status)

	assert.Equal(t, "1000.00", e.balance(t, "bob"))
	assert.Equal(t, "890.00", e.balance(t, "carol"))

	bobNotes, err := e.st.Notifications().ListByUser(e.ctx, "bob", false, domain.ListOpts{})
	require.NoError(t, err)
	require.NotEmpty(t, bobNotes)
	assert.Equal(t, "The auction for 'Item sold' has ended. You did not win.", bobNotes[0].Message)

	audit, err := e.st.List(e.ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, "closer.sweep", audit[0].Event)
}

func TestSweepOnceIsIdempotent(t *testing.T) {
	e := newEnv(t)
	e.auction(t, "a1", time.Hour)
	e.bid(t, "a1", "bob", "150")
	e.now = e.now.Add(2 * time.Hour)

	_, err := e.closer.SweepOnce(e.ctx)
	require.NoError(t, err)
	outbox := len(e.st.Outbox())
	txs, err := e.st.ListByAuction(e.ctx, "a1")
	require.NoError(t, err)

	report, err := e.closer.SweepOnce(e.ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Due)
	assert.Zero(t, report.Closed)
	assert.Len(t, e.st.Outbox(), outbox)

	again, err := e.st.ListByAuction(e.ctx, "a1")
	require.NoError(t, err)
	assert.Len(t, again, len(txs))
	assert.Equal(t, "850.00", e.balance(t, "bob"))
}

func TestSweepRefundsStrayHoldAndEmitsBalance(t *testing.T) {
	e := newEnv(t)
	e.auction(t, "a1", time.Hour)
	e.bid(t, "a1", "bob", "150")

	err := e.st.WithinTx(e.ctx, func(ctx context.Context, tx domain.Tx) error {
		sess, err := ledger.Open(ctx, tx, e.now, "carol")
		if err != nil {
			return err
		}
		if err := sess.Debit(ctx, ledger.Entry{UserID: "carol", Amount: money.MustParse("120"), Kind: domain.TxBidLock, AuctionID: "a1"}); err != nil {
			return err
		}
		return tx.SaveHold(ctx, domain.Hold{AuctionID: "a1", UserID: "carol", Amount: money.MustParse("120"), Status: domain.HoldActive})
	})
	require.NoError(t, err)

	e.now = e.now.Add(2 * time.Hour)
	report, err := e.closer.SweepOnce(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Refunds)
	assert.Equal(t, "1000.00", e.balance(t, "carol"))

	outbox := e.st.Outbox()
	last, err := outbox[len(outbox)-1].Decode()
	require.NoError(t, err)
	assert.Equal(t, domain.EventBalanceUpdated, last.Kind)
	assert.Equal(t, "carol", last.UserID)
	assert.Equal(t, "1000.00", money.Format(last.Balance.Decimal))
}

type failingRunner struct {
	domain.TxRunner
	failID string
}

func (f failingRunner) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	return f.TxRunner.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		return fn(ctx, failingTx{Tx: tx, failID: f.failID})
	})
}

type failingTx struct {
	domain.Tx
	failID string
}

func (f failingTx) LockAuction(ctx context.Context, id string) (domain.Auction, error) {
	if id == f.failID {
		return domain.Auction{}, errors.New("row vanished")
	}
	return f.Tx.LockAuction(ctx, id)
}

func TestSweepIsolatesFailures(t *testing.T) {
	e := newEnv(t)
	e.auction(t, "a1", time.Minute)
	e.auction(t, "a2", 2*time.Minute)
	e.bid(t, "a2", "bob", "120")
	e.now = e.now.Add(time.Hour)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := New(failingRunner{TxRunner: e.st, failID: "a1"}, e.st, e.st, e.st, nil, nil, Config{}, logger).
		WithClock(func() time.Time { return e.now })

	report, err := c.SweepOnce(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Due)
	assert.Equal(t, 1, report.Closed)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "a1", report.Failures[0].AuctionID)

	a1, err := e.st.GetByID(e.ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionActive, a1.Status)

	// The next sweep retries what is still due.
	report, err = e.closer.SweepOnce(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Closed)
}

func TestSweepSkipsWhenLockHeld(t *testing.T) {
	e := newEnv(t)
	e.auction(t, "a1", time.Minute)
	e.now = e.now.Add(time.Hour)

	unlock, err := e.locks.Acquire(e.ctx, sweepLockKey, time.Minute)
	require.NoError(t, err)

	_, err = e.closer.SweepOnce(e.ctx)
	require.ErrorIs(t, err, domain.ErrLockHeld)
	a1, err := e.st.GetByID(e.ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionActive, a1.Status)

	unlock()
	report, err := e.closer.SweepOnce(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Closed)
}

// gateLocks blocks Acquire until released and fails it if the sweep's
// context was cancelled in the meantime.
type gateLocks struct {
	entered  chan struct{}
	release  chan struct{}
	unlocked chan struct{}
	once     sync.Once
	unlock   sync.Once
}

func (g *gateLocks) Acquire(ctx context.Context, _ string, _ time.Duration) (func(), error) {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return func() { g.unlock.Do(func() { close(g.unlocked) }) }, nil
}

func TestSweepSurvivesCancelledStarter(t *testing.T) {
	e := newEnv(t)
	e.auction(t, "a1", time.Minute)
	e.now = e.now.Add(time.Hour)

	gate := &gateLocks{entered: make(chan struct{}), release: make(chan struct{}), unlocked: make(chan struct{})}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	now := e.now
	c := New(e.st, e.st, e.st, e.st, gate, nil, Config{BatchSize: 10}, logger).
		WithClock(func() time.Time { return now })

	ctx, cancel := context.WithCancel(e.ctx)
	starterErr := make(chan error, 1)
	go func() {
		_, err := c.SweepOnce(ctx)
		starterErr <- err
	}()

	select {
	case <-gate.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("sweep did not start")
	}
	cancel()
	select {
	case err := <-starterErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller kept waiting")
	}

	close(gate.release)
	select {
	case <-gate.unlocked:
	case <-time.After(2 * time.Second):
		t.Fatal("shared sweep did not finish")
	}

	a1, err := e.st.GetByID(e.ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionClosed, a1.Status)

	report, err := c.SweepOnce(e.ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Due)
}

func TestRunStopsOnCancel(t *testing.T) {
	e := newEnv(t)
	e.auction(t, "a1", time.Minute)
	e.now = e.now.Add(time.Hour)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := New(e.st, e.st, e.st, e.st, nil, nil, Config{Interval: 10 * time.Millisecond}, logger).
		WithClock(func() time.Time { return t0.Add(time.Hour) })

	ctx, cancel := context.WithTimeout(e.ctx, 50*time.Millisecond)
	defer cancel()
	err := c.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	a1, err := e.st.GetByID(e.ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionClosed, a1.Status)
}
