package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Damqn23/auction-marketplace/internal/domain"
	"github.com/Damqn23/auction-marketplace/internal/store/memory"
)

type fakeBlob struct {
	objects   map[string][]byte
	multipart []string
	putErr    error
}

func newFakeBlob() *fakeBlob { return &fakeBlob{objects: make(map[string][]byte)} }

func (f *fakeBlob) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if f.putErr != nil {
		return f.putErr
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.objects[path] = b
	return nil
}

func (f *fakeBlob) PutMultipart(_ context.Context, path string, data io.Reader, _ int64) error {
	f.multipart = append(f.multipart, path)
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.objects[path] = b
	return nil
}

func (f *fakeBlob) Exists(_ context.Context, path string) (bool, error) {
	_, ok := f.objects[path]
	return ok, nil
}

type fakeBids map[string][]domain.Bid

func (f fakeBids) ListByAuction(_ context.Context, id string, _ domain.ListOpts) ([]domain.Bid, error) {
	return f[id], nil
}

type fakeTxs map[string][]domain.Transaction

func (f fakeTxs) ListByAuction(_ context.Context, id string) ([]domain.Transaction, error) {
	return f[id], nil
}

var day = time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)

func seedClosed(t *testing.T, store *memory.Store, id string, end time.Time) {
	t.Helper()
	require.NoError(t, store.Create(context.Background(), domain.Auction{
		ID:            id,
		Title:         "item " + id,
		SellerID:      "seller",
		StartingPrice: decimal.NewFromInt(10),
		EndTime:       end,
		Status:        domain.AuctionClosed,
	}))
}

func newTestArchiver(blob *fakeBlob, store *memory.Store, bids fakeBids, txs fakeTxs) *Archiver {
	return NewArchiver(blob, blob, store, bids, txs, store, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestArchiveSettled_WritesWindow(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	seedClosed(t, store, "a1", day.Add(2*time.Hour))
	seedClosed(t, store, "a2", day.Add(20*time.Hour))
	seedClosed(t, store, "late", day.Add(25*time.Hour))

	bids := fakeBids{"a1": {{ID: "b1", AuctionID: "a1", BidderID: "u1", Amount: decimal.NewFromInt(12)}}}
	txs := fakeTxs{"a1": {{ID: "t1", UserID: "u1", Kind: domain.TxBidLock, Amount: decimal.NewFromInt(12)}}}
	blob := newFakeBlob()

	n, err := newTestArchiver(blob, store, bids, txs).ArchiveSettled(ctx, day, day.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	data, ok := blob.objects["archive/settlements/2026-03-14.jsonl"]
	require.True(t, ok)

	var records []SettlementRecord
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		var rec SettlementRecord
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		records = append(records, rec)
	}
	require.Len(t, records, 2)
	assert.Equal(t, "a1", records[0].Auction.ID)
	assert.Len(t, records[0].Bids, 1)
	assert.Len(t, records[0].Transactions, 1)
	assert.Equal(t, "a2", records[1].Auction.ID)
	assert.Empty(t, records[1].Bids)
	assert.Empty(t, blob.multipart)

	entries, err := store.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "archive.settlements", entries[0].Event)
}

func TestArchiveSettled_SkipsExistingAndEmpty(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	blob := newFakeBlob()
	arch := newTestArchiver(blob, store, fakeBids{}, fakeTxs{})

	n, err := arch.ArchiveSettled(ctx, day, day.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, blob.objects)

	seedClosed(t, store, "a1", day.Add(time.Hour))
	blob.objects[ArchivePath(day)] = []byte("old\n")
	n, err = arch.ArchiveSettled(ctx, day, day.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, "old\n", string(blob.objects[ArchivePath(day)]))
}

func TestArchiveSettled_UploadError(t *testing.T) {
	store := memory.New()
	seedClosed(t, store, "a1", day.Add(time.Hour))
	blob := newFakeBlob()
	blob.putErr = errors.New("bucket gone")

	_, err := newTestArchiver(blob, store, fakeBids{}, fakeTxs{}).ArchiveSettled(context.Background(), day, day.Add(24*time.Hour))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket gone")
}

func TestArchiveSettled_LargeUsesMultipart(t *testing.T) {
	store := memory.New()
	seedClosed(t, store, "a1", day.Add(time.Hour))

	bids := make([]domain.Bid, 0, 80000)
	for i := 0; i < 80000; i++ {
		bids = append(bids, domain.Bid{
			ID:        "bid-with-a-reasonably-long-identifier",
			AuctionID: "a1",
			BidderID:  "user-with-a-reasonably-long-identifier",
			Amount:    decimal.NewFromInt(int64(i)),
		})
	}
	blob := newFakeBlob()

	n, err := newTestArchiver(blob, store, fakeBids{"a1": bids}, fakeTxs{}).ArchiveSettled(context.Background(), day, day.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, []string{ArchivePath(day)}, blob.multipart)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://e2.example.com", normaliseEndpoint("e2.example.com", true))
	assert.Equal(t, "http://10.0.0.5", normaliseEndpoint("10.0.0.5", false))
	assert.Equal(t, "http://localhost:9000", normaliseEndpoint("http://localhost:9000", true))
}
