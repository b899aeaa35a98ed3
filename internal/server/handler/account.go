package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Damqn23/auction-marketplace/internal/domain"
	"github.com/Damqn23/auction-marketplace/internal/money"
)

// AccountHandler serves balances, deposits, withdrawals and ledger history.
// Account-scoped routes only serve the acting user's own account.
type AccountHandler struct {
	ledger Ledger
	reader AccountReader
	logger *slog.Logger
}

// NewAccountHandler creates an AccountHandler.
func NewAccountHandler(ledger Ledger, reader AccountReader, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		ledger: ledger,
		reader: reader,
		logger: logger.With(slog.String("handler", "account")),
	}
}

// ownAccount returns the path user id when it matches the acting user.
func ownAccount(w http.ResponseWriter, r *http.Request) (string, bool) {
	user, ok := actingUser(w, r)
	if !ok {
		return "", false
	}
	if id := r.PathValue("id"); id != user {
		writeError(w, http.StatusForbidden, domain.ErrForbidden.Error())
		return "", false
	}
	return user, true
}

// CreateAccount opens a zero-balance account.
// POST /api/accounts
func (h *AccountHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.UserID) == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	acct, err := h.ledger.OpenAccount(r.Context(), strings.TrimSpace(req.UserID))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, acct)
}

// GetAccount returns the acting user's balance.
// GET /api/accounts/{id}
func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	user, ok := ownAccount(w, r)
	if !ok {
		return
	}
	acct, err := h.ledger.Get(r.Context(), user)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// Deposit credits external funds.
// POST /api/accounts/{id}/deposits
func (h *AccountHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.move(w, r, h.ledger.Deposit)
}

// Withdraw debits funds to the outside world.
// POST /api/accounts/{id}/withdrawals
func (h *AccountHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.move(w, r, h.ledger.Withdraw)
}

func (h *AccountHandler) move(
	w http.ResponseWriter,
	r *http.Request,
	op func(ctx context.Context, userID string, amount decimal.Decimal) (domain.Account, error),
) {
	user, ok := ownAccount(w, r)
	if !ok {
		return
	}
	amount, ok := parseAmount(w, r)
	if !ok {
		return
	}
	acct, err := op(r.Context(), user, amount)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// ListTransactions returns the acting user's ledger history, newest first.
// GET /api/accounts/{id}/transactions?limit=50&offset=0
func (h *AccountHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	user, ok := ownAccount(w, r)
	if !ok {
		return
	}
	txs, err := h.reader.ListTransactions(r.Context(), user, parseListOpts(r))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if txs == nil {
		txs = []domain.Transaction{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": txs})
}

// parseAmount reads an amount body; it writes a 400 on failure.
func parseAmount(w http.ResponseWriter, r *http.Request) (decimal.Decimal, bool) {
	var req amountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return decimal.Decimal{}, false
	}
	amount, err := money.Parse(req.Amount)
	if err != nil || !amount.IsPositive() {
		writeError(w, http.StatusBadRequest, domain.ErrInvalidAmount.Error())
		return decimal.Decimal{}, false
	}
	return amount, true
}
