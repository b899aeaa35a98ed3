package handler

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Damqn23/auction-marketplace/internal/domain"
	"github.com/Damqn23/auction-marketplace/internal/service"
	"github.com/Damqn23/auction-marketplace/internal/settlement"
)

// AuctionHandler serves auction reads, bidding, buy-now and delivery.
type AuctionHandler struct {
	auctions AuctionReader
	engine   Settlement
	logger   *slog.Logger
}

// NewAuctionHandler creates an AuctionHandler.
func NewAuctionHandler(auctions AuctionReader, engine Settlement, logger *slog.Logger) *AuctionHandler {
	return &AuctionHandler{
		auctions: auctions,
		engine:   engine,
		logger:   logger.With(slog.String("handler", "auction")),
	}
}

type createAuctionRequest struct {
	Title         string    `json:"title"`
	StartingPrice string    `json:"starting_price"`
	BuyNowPrice   string    `json:"buy_now_price"`
	EndTime       time.Time `json:"end_time"`
}

// CreateAuction seeds a listing owned by the acting user.
// POST /api/auctions
func (h *AuctionHandler) CreateAuction(w http.ResponseWriter, r *http.Request) {
	seller, ok := actingUser(w, r)
	if !ok {
		return
	}
	var req createAuctionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Title) == "" || req.StartingPrice == "" || req.EndTime.IsZero() {
		writeError(w, http.StatusBadRequest, "title, starting_price and end_time are required")
		return
	}

	a, err := h.auctions.CreateAuction(r.Context(), service.CreateAuctionRequest{
		SellerID:      seller,
		Title:         req.Title,
		StartingPrice: req.StartingPrice,
		BuyNowPrice:   req.BuyNowPrice,
		EndTime:       req.EndTime,
	})
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// GetAuction returns one auction with its effective status.
// GET /api/auctions/{id}
func (h *AuctionHandler) GetAuction(w http.ResponseWriter, r *http.Request) {
	view, err := h.auctions.GetAuction(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// ListBids returns an auction's bids, highest first.
// GET /api/auctions/{id}/bids?limit=50&offset=0
func (h *AuctionHandler) ListBids(w http.ResponseWriter, r *http.Request) {
	bids, err := h.auctions.ListBids(r.Context(), r.PathValue("id"), parseListOpts(r))
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if bids == nil {
		bids = []domain.Bid{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"bids": bids})
}

// PlaceBid submits a bid for the acting user.
// POST /api/auctions/{id}/bids
func (h *AuctionHandler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	user, ok := actingUser(w, r)
	if !ok {
		return
	}
	var req amountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.engine.PlaceBid(r.Context(), settlement.PlaceBidRequest{
		AuctionID: r.PathValue("id"),
		UserID:    user,
		Amount:    req.Amount,
	})
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// BuyNow purchases the item at its buy-now price.
// POST /api/auctions/{id}/buy-now
func (h *AuctionHandler) BuyNow(w http.ResponseWriter, r *http.Request) {
	user, ok := actingUser(w, r)
	if !ok {
		return
	}
	a, err := h.engine.BuyNow(r.Context(), r.PathValue("id"), user)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// Ship marks a sold item as shipped. Seller only.
// POST /api/auctions/{id}/ship
func (h *AuctionHandler) Ship(w http.ResponseWriter, r *http.Request) {
	user, ok := actingUser(w, r)
	if !ok {
		return
	}
	a, err := h.engine.MarkShipped(r.Context(), r.PathValue("id"), user)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// Receive confirms delivery and releases the seller payment. Buyer only.
// POST /api/auctions/{id}/receive
func (h *AuctionHandler) Receive(w http.ResponseWriter, r *http.Request) {
	user, ok := actingUser(w, r)
	if !ok {
		return
	}
	p, err := h.engine.MarkReceived(r.Context(), r.PathValue("id"), user)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
