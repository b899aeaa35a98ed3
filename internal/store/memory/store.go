// Package memory is an in-process implementation of every store interface.
// Transactions run one at a time against a copy of the state that replaces
// the live state on commit, so a failing transaction leaves nothing behind.
// It backs the "memory" store driver and the settlement tests.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/Damqn23/auction-marketplace/internal/domain"
)

type holdKey struct {
	auctionID string
	userID    string
}

type state struct {
	auctions      map[string]domain.Auction
	bids          map[string][]domain.Bid
	accounts      map[string]domain.Account
	transactions  []domain.Transaction
	holds         map[holdKey]domain.Hold
	notifications []domain.Notification
	outbox        []domain.OutboxEvent
	audit         []domain.AuditEntry
	auditSeq      int64
}

func newState() *state {
	return &state{
		auctions: make(map[string]domain.Auction),
		bids:     make(map[string][]domain.Bid),
		accounts: make(map[string]domain.Account),
		holds:    make(map[holdKey]domain.Hold),
	}
}

func (s *state) clone() *state {
	bids := make(map[string][]domain.Bid, len(s.bids))
	for id, list := range s.bids {
		bids[id] = slices.Clone(list)
	}
	return &state{
		auctions:      maps.Clone(s.auctions),
		bids:          bids,
		accounts:      maps.Clone(s.accounts),
		transactions:  slices.Clone(s.transactions),
		holds:         maps.Clone(s.holds),
		notifications: slices.Clone(s.notifications),
		outbox:        slices.Clone(s.outbox),
		audit:         slices.Clone(s.audit),
		auditSeq:      s.auditSeq,
	}
}

// Store holds all data in memory behind a single mutex.
type Store struct {
	mu    sync.Mutex
	state *state
}

// New creates an empty Store.
func New() *Store {
	return &Store{state: newState()}
}

var (
	_ domain.TxRunner          = (*Store)(nil)
	_ domain.AuctionStore      = (*Store)(nil)
	_ domain.TransactionStore  = (*Store)(nil)
	_ domain.OutboxStore       = (*Store)(nil)
	_ domain.AuditStore        = (*Store)(nil)
	_ domain.BidStore          = bidStore{}
	_ domain.AccountStore      = accountStore{}
	_ domain.NotificationStore = notificationStore{}
)

// WithinTx runs fn against a private copy of the state and publishes the
// copy only when fn succeeds. fn must not call other Store methods.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(ctx, &memTx{st: work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

// Bids exposes the bid history for the bid store interface.
func (s *Store) Bids() domain.BidStore { return bidStore{s} }

// Transactions lists ledger records by user or auction.
func (s *Store) Transactions() domain.TransactionStore { return s }

// Hold returns the stored hold for (auctionID, userID).
func (s *Store) Hold(auctionID, userID string) (domain.Hold, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.state.holds[holdKey{auctionID, userID}]
	return h, ok
}

// --- auctions ---

func (s *Store) Create(ctx context.Context, a domain.Auction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.auctions[a.ID]; ok {
		return fmt.Errorf("memory: auction %s: %w", a.ID, domain.ErrAlreadyExists)
	}
	s.state.auctions[a.ID] = a
	return nil
}

func (s *Store) GetByID(ctx context.Context, id string) (domain.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.state.auctions[id]
	if !ok {
		return domain.Auction{}, fmt.Errorf("memory: auction %s: %w", id, domain.ErrNotFound)
	}
	return a, nil
}

func (s *Store) ListDue(ctx context.Context, now time.Time, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []domain.Auction
	for _, a := range s.state.auctions {
		if a.IsDue(now) {
			due = append(due, a)
		}
	}
	slices.SortFunc(due, func(x, y domain.Auction) int {
		if c := x.EndTime.Compare(y.EndTime); c != 0 {
			return c
		}
		return cmp.Compare(x.ID, y.ID)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	ids := make([]string, len(due))
	for i, a := range due {
		ids[i] = a.ID
	}
	return ids, nil
}

func (s *Store) ListEndedBetween(ctx context.Context, from, to time.Time) ([]domain.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Auction
	for _, a := range s.state.auctions {
		if a.Status != domain.AuctionClosed {
			continue
		}
		if a.EndTime.Before(from) || !a.EndTime.Before(to) {
			continue
		}
		out = append(out, a)
	}
	slices.SortFunc(out, func(x, y domain.Auction) int {
		if c := x.EndTime.Compare(y.EndTime); c != 0 {
			return c
		}
		return cmp.Compare(x.ID, y.ID)
	})
	return out, nil
}

// --- bids ---

type bidStore struct{ s *Store }

func (b bidStore) ListByAuction(ctx context.Context, auctionID string, opts domain.ListOpts) ([]domain.Bid, error) {
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	bids := slices.Clone(b.s.state.bids[auctionID])
	domain.SortBids(bids)
	return page(bids, opts), nil
}

// --- accounts ---

// Accounts returns the account store view.
func (s *Store) Accounts() domain.AccountStore { return accountStore{s} }

type accountStore struct{ s *Store }

func (a accountStore) Create(ctx context.Context, acct domain.Account) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	if _, ok := a.s.state.accounts[acct.UserID]; ok {
		return fmt.Errorf("memory: account %s: %w", acct.UserID, domain.ErrAlreadyExists)
	}
	a.s.state.accounts[acct.UserID] = acct
	return nil
}

func (a accountStore) GetByUser(ctx context.Context, userID string) (domain.Account, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	acct, ok := a.s.state.accounts[userID]
	if !ok {
		return domain.Account{}, fmt.Errorf("memory: account %s: %w", userID, domain.ErrNotFound)
	}
	return acct, nil
}

// --- transactions ---

func (s *Store) ListByUser(ctx context.Context, userID string, opts domain.ListOpts) ([]domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Transaction
	for i := len(s.state.transactions) - 1; i >= 0; i-- {
		t := s.state.transactions[i]
		if t.UserID == userID && inRange(t.CreatedAt, opts) {
			out = append(out, t)
		}
	}
	return page(out, opts), nil
}

func (s *Store) ListByAuction(ctx context.Context, auctionID string) ([]domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Transaction
	for _, t := range s.state.transactions {
		if t.AuctionID == auctionID {
			out = append(out, t)
		}
	}
	return out, nil
}

// --- notifications ---

// Notifications returns the notification store view.
func (s *Store) Notifications() domain.NotificationStore { return notificationStore{s} }

type notificationStore struct{ s *Store }

func (n notificationStore) ListByUser(ctx context.Context, userID string, unreadOnly bool, opts domain.ListOpts) ([]domain.Notification, error) {
	n.s.mu.Lock()
	defer n.s.mu.Unlock()
	var out []domain.Notification
	for i := len(n.s.state.notifications) - 1; i >= 0; i-- {
		nt := n.s.state.notifications[i]
		if nt.UserID != userID || (unreadOnly && nt.Read) {
			continue
		}
		out = append(out, nt)
	}
	return page(out, opts), nil
}

func (n notificationStore) MarkRead(ctx context.Context, userID, id string) error {
	n.s.mu.Lock()
	defer n.s.mu.Unlock()
	for i := range n.s.state.notifications {
		nt := &n.s.state.notifications[i]
		if nt.ID == id && nt.UserID == userID {
			nt.Read = true
			return nil
		}
	}
	return fmt.Errorf("memory: notification %s: %w", id, domain.ErrNotFound)
}

// --- outbox ---

func (s *Store) Append(ctx context.Context, events ...domain.OutboxEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.outbox = append(s.state.outbox, events...)
	return nil
}

func (s *Store) ListPending(ctx context.Context, limit, maxAttempts int) ([]domain.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.OutboxEvent
	for _, e := range s.state.outbox {
		if e.DeliveredAt != nil || (maxAttempts > 0 && e.Attempts >= maxAttempts) {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	return s.updateOutbox(id, func(e *domain.OutboxEvent) {
		e.DeliveredAt = &at
	})
}

func (s *Store) MarkFailed(ctx context.Context, id, reason string) error {
	return s.updateOutbox(id, func(e *domain.OutboxEvent) {
		e.Attempts++
		e.LastError = reason
	})
}

func (s *Store) updateOutbox(id string, fn func(*domain.OutboxEvent)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.state.outbox {
		if s.state.outbox[i].ID == id {
			fn(&s.state.outbox[i])
			return nil
		}
	}
	return fmt.Errorf("memory: outbox %s: %w", id, domain.ErrNotFound)
}

// Outbox returns a copy of every outbox row in insertion order.
func (s *Store) Outbox() []domain.OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.state.outbox)
}

// --- audit ---

func (s *Store) Log(ctx context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.auditSeq++
	s.state.audit = append(s.state.audit, domain.AuditEntry{
		ID:        s.state.auditSeq,
		Event:     event,
		Detail:    maps.Clone(detail),
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (s *Store) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AuditEntry
	for i := len(s.state.audit) - 1; i >= 0; i-- {
		if e := s.state.audit[i]; inRange(e.CreatedAt, opts) {
			out = append(out, e)
		}
	}
	return page(out, opts), nil
}

func inRange(t time.Time, opts domain.ListOpts) bool {
	if opts.Since != nil && t.Before(*opts.Since) {
		return false
	}
	if opts.Until != nil && t.After(*opts.Until) {
		return false
	}
	return true
}

func page[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && len(items) > opts.Limit {
		items = items[:opts.Limit]
	}
	return items
}
