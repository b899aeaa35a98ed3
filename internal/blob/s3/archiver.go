package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Damqn23/auction-marketplace/internal/domain"
)

const (
	contentTypeJSONL = "application/x-ndjson"

	// multipartThreshold switches uploads to the multipart manager.
	multipartThreshold = 8 * 1024 * 1024
)

// SettledAuctionStore lists closed auctions by end time.
type SettledAuctionStore interface {
	ListEndedBetween(ctx context.Context, from, to time.Time) ([]domain.Auction, error)
}

// BidArchiveStore lists an auction's bid history.
type BidArchiveStore interface {
	ListByAuction(ctx context.Context, auctionID string, opts domain.ListOpts) ([]domain.Bid, error)
}

// TransactionArchiveStore lists the ledger rows tied to an auction.
type TransactionArchiveStore interface {
	ListByAuction(ctx context.Context, auctionID string) ([]domain.Transaction, error)
}

// SettlementRecord is one JSONL line of a settlement archive.
type SettlementRecord struct {
	Auction      domain.Auction       `json:"auction"`
	Bids         []domain.Bid         `json:"bids"`
	Transactions []domain.Transaction `json:"transactions"`
}

// Archiver implements domain.Archiver. It copies settled auctions to
// object storage and leaves the primary store untouched.
type Archiver struct {
	writer       domain.BlobWriter
	reader       domain.BlobReader
	auctions     SettledAuctionStore
	bids         BidArchiveStore
	transactions TransactionArchiveStore
	audit        domain.AuditStore
	logger       *slog.Logger
}

// NewArchiver creates an Archiver. reader may be nil, in which case
// existing archives are overwritten.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	auctions SettledAuctionStore,
	bids BidArchiveStore,
	transactions TransactionArchiveStore,
	audit domain.AuditStore,
	logger *slog.Logger,
) *Archiver {
	return &Archiver{
		writer:       writer,
		reader:       reader,
		auctions:     auctions,
		bids:         bids,
		transactions: transactions,
		audit:        audit,
		logger:       logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveSettled writes every auction that ended in [from, to) with its
// bids and transactions to archive/settlements/<from date>.jsonl and
// returns the number of auctions written. A window whose object already
// exists is skipped.
func (a *Archiver) ArchiveSettled(ctx context.Context, from, to time.Time) (int64, error) {
	path := ArchivePath(from)
	if a.reader != nil {
		exists, err := a.reader.Exists(ctx, path)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive settled: %w", err)
		}
		if exists {
			a.logger.InfoContext(ctx, "archiver: window already archived", slog.String("path", path))
			return 0, nil
		}
	}

	auctions, err := a.auctions.ListEndedBetween(ctx, from, to)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive settled query: %w", err)
	}
	if len(auctions) == 0 {
		return 0, nil
	}

	records := make([]SettlementRecord, 0, len(auctions))
	for _, auc := range auctions {
		bids, err := a.bids.ListByAuction(ctx, auc.ID, domain.ListOpts{})
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive bids %s: %w", auc.ID, err)
		}
		txs, err := a.transactions.ListByAuction(ctx, auc.ID)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive transactions %s: %w", auc.ID, err)
		}
		if bids == nil {
			bids = []domain.Bid{}
		}
		if txs == nil {
			txs = []domain.Transaction{}
		}
		records = append(records, SettlementRecord{Auction: auc, Bids: bids, Transactions: txs})
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive settled marshal: %w", err)
	}

	if len(buf) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), multipartThreshold)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), contentTypeJSONL)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive settled upload: %w", err)
	}

	count := int64(len(records))
	a.logger.InfoContext(ctx, "archiver: settlements archived",
		slog.String("path", path),
		slog.Int64("auctions", count),
		slog.Int("bytes", len(buf)),
	)

	if err := a.audit.Log(ctx, "archive.settlements", map[string]any{
		"path":  path,
		"count": count,
		"from":  from.UTC().Format(time.RFC3339),
		"to":    to.UTC().Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive settled audit log: %w", err)
	}
	return count, nil
}

// ArchivePath is the object key for the window starting at from:
//
//	archive/settlements/2026-03-14.jsonl
func ArchivePath(from time.Time) string {
	return fmt.Sprintf("archive/settlements/%s.jsonl", from.UTC().Format("2006-01-02"))
}

// marshalJSONL encodes one compact JSON document per line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
