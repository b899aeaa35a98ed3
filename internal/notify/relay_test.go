package notify

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
	"github.com/Damqn23/auction-marketplace/internal/store/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingSink struct {
	mu     sync.Mutex
	events []domain.Event
	fail   map[string]error
}

func (s *recordingSink) Deliver(_ context.Context, e domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail[e.ID]; err != nil {
		return err
	}
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) ids() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.ID)
	}
	return out
}

type recordingAlerter struct {
	titles []string
}

func (a *recordingAlerter) NotifyAll(_ context.Context, title, _ string) error {
	a.titles = append(a.titles, title)
	return nil
}

func appendEvents(t *testing.T, store *memory.Store, ids ...string) {
	t.Helper()
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range ids {
		row, err := domain.NewOutboxEvent(domain.Event{
			ID:         id,
			Kind:       domain.EventOutbid,
			UserID:     "u1",
			AuctionID:  "a1",
			OccurredAt: base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
		require.NoError(t, store.Append(context.Background(), row))
	}
}

func pendingIDs(t *testing.T, store *memory.Store) []string {
	t.Helper()
	rows, err := store.ListPending(context.Background(), 0, 0)
	require.NoError(t, err)
	var out []string
	for _, r := range rows {
		out = append(out, r.ID)
	}
	return out
}

func TestRelay_DrainOnceDeliversInOrder(t *testing.T) {
	store := memory.New()
	appendEvents(t, store, "e1", "e2", "e3")
	sink := &recordingSink{}
	relay := NewRelay(store, sink, nil, RelayConfig{BatchSize: 10}, discardLogger())

	n, err := relay.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"e1", "e2", "e3"}, sink.ids())
	assert.Empty(t, pendingIDs(t, store))

	n, err = relay.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRelay_FailureKeepsRowPending(t *testing.T) {
	store := memory.New()
	appendEvents(t, store, "e1", "e2")
	sink := &recordingSink{fail: map[string]error{"e1": errors.New("broker down")}}
	relay := NewRelay(store, sink, nil, RelayConfig{BatchSize: 10, MaxAttempts: 5}, discardLogger())

	n, err := relay.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"e1"}, pendingIDs(t, store))

	rows := store.Outbox()
	assert.Equal(t, 1, rows[0].Attempts)
	assert.Equal(t, "broker down", rows[0].LastError)

	delete(sink.fail, "e1")
	n, err = relay.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"e2", "e1"}, sink.ids())
}

func TestRelay_DeadLetterAlertsOperator(t *testing.T) {
	store := memory.New()
	appendEvents(t, store, "e1")
	sink := &recordingSink{fail: map[string]error{"e1": errors.New("rejected")}}
	alerts := &recordingAlerter{}
	relay := NewRelay(store, sink, alerts, RelayConfig{BatchSize: 10, MaxAttempts: 2}, discardLogger())

	for i := 0; i < 3; i++ {
		_, err := relay.DrainOnce(context.Background())
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"Outbox event dead-lettered"}, alerts.titles)
	rows, err := store.ListPending(context.Background(), 10, 2)
	require.NoError(t, err)
	assert.Empty(t, rows, "rows past max attempts are no longer picked up")
	assert.Equal(t, 2, store.Outbox()[0].Attempts)
}

func TestRelay_DedupSkipsRedelivery(t *testing.T) {
	store := memory.New()
	appendEvents(t, store, "e1")
	sink := &recordingSink{}
	relay := NewRelay(store, sink, nil, RelayConfig{BatchSize: 10}, discardLogger())
	relay.dedup.Mark("e1")

	n, err := relay.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, sink.ids())
	assert.Empty(t, pendingIDs(t, store))
}

func TestRelay_RunDrainsOnWake(t *testing.T) {
	store := memory.New()
	sink := &recordingSink{}
	relay := NewRelay(store, sink, nil, RelayConfig{Interval: time.Hour, BatchSize: 10}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	appendEvents(t, store, "e1")
	relay.Wake()
	relay.Wake()

	require.Eventually(t, func() bool { return len(sink.ids()) == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop")
	}
}

func TestDedup(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	d := NewDedup(time.Minute)
	d.now = func() time.Time { return now }

	assert.False(t, d.Seen("a"))
	d.Mark("a")
	assert.True(t, d.Seen("a"))

	now = now.Add(2 * time.Minute)
	assert.False(t, d.Seen("a"))
	d.Cleanup()
	assert.Zero(t, d.Len())
}
