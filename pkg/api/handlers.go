package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/tcex/engine/pkg/book"
	"github.com/tcex/engine/pkg/decimal"
	"github.com/tcex/engine/pkg/engine"
	"github.com/tcex/engine/pkg/risk"
	"github.com/tcex/engine/pkg/storage"
)

// handlePlaceOrder drives the full order-entry flow: DTO validation, the
// pre-trade reservation, then the matching session. If the engine fails
// after funds were reserved, the reservation is rolled back and the order
// is durably marked failed — the caller never gets a "maybe applied"
// answer.
func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	listingID := mux.Vars(r)["listingID"]

	var req PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", err.Error(), "rejected")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error(), "rejected")
		return
	}

	price, err := decimal.Parse(req.Price)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_price", err.Error(), "rejected")
		return
	}
	quantity, err := decimal.Parse(req.Quantity)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_quantity", err.Error(), "rejected")
		return
	}
	side := book.Side(req.Side)

	reservation, err := s.gate.Reserve(r.Context(), listingID, req.UserID, side, price, quantity)
	if err != nil {
		code := http.StatusBadRequest
		if errors.Is(err, risk.ErrListingNotFound) {
			code = http.StatusNotFound
		}
		respondError(w, code, "order_rejected", err.Error(), "rejected")
		return
	}

	result, err := s.registry.Session(listingID).PlaceOrder(r.Context(), engine.PlaceRequest{
		OrderID:  req.OrderID,
		UserID:   req.UserID,
		Side:     side,
		Price:    price,
		Quantity: quantity,
	})
	if err != nil {
		s.log.Errorw("place_order_failed", "listing", listingID, "order", req.OrderID, "err", err)
		if rerr := s.gate.Release(r.Context(), reservation); rerr != nil {
			s.log.Errorw("reservation_rollback_failed", "order", req.OrderID, "err", rerr)
		}
		s.markOrderFailed(listingID, &req, price, quantity)
		respondError(w, http.StatusServiceUnavailable, "transient_failure", "order was not applied", "failed")
		return
	}

	respondJSON(w, http.StatusOK, PlaceOrderResponse{
		Trades:         result.Trades,
		RemainingOrder: result.RemainingOrder,
		Status:         string(result.Status),
	})
}

// markOrderFailed records a durable failed row for an order whose batch
// never applied, so upstream reconciliation sees an explicit terminal
// state.
func (s *Server) markOrderFailed(listingID string, req *PlaceOrderRequest, price, quantity decimal.Decimal) {
	now := s.clock.Now().UTC()
	if err := s.store.PutOrder(&storage.Order{
		ID:                req.OrderID,
		ListingID:         listingID,
		UserID:            req.UserID,
		Side:              book.Side(req.Side),
		Price:             price,
		Quantity:          quantity,
		RemainingQuantity: quantity,
		Status:            storage.OrderFailed,
		CreatedAt:         now,
		UpdatedAt:         now,
	}); err != nil {
		s.log.Errorw("mark_order_failed_errored", "order", req.OrderID, "err", err)
	}
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	listingID, orderID := vars["listingID"], vars["orderID"]

	err := s.registry.Session(listingID).CancelOrder(r.Context(), orderID)
	if errors.Is(err, engine.ErrOrderNotFound) {
		respondError(w, http.StatusNotFound, "order_not_found", "", "not_found")
		return
	}
	if err != nil {
		s.log.Errorw("cancel_order_failed", "listing", listingID, "order", orderID, "err", err)
		respondError(w, http.StatusServiceUnavailable, "transient_failure", "cancel was not applied", "failed")
		return
	}
	respondJSON(w, http.StatusOK, CancelOrderResponse{Success: true})
}

func (s *Server) handleGetOrderBook(w http.ResponseWriter, r *http.Request) {
	listingID := mux.Vars(r)["listingID"]

	depth := s.depth
	if raw := r.URL.Query().Get("depth"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			depth = n
		}
	}

	snap, err := s.registry.Session(listingID).Snapshot(depth)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "snapshot_failed", err.Error(), "")
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	listingID := mux.Vars(r)["listingID"]

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	trades, err := s.store.RecentTrades(listingID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "trades_failed", err.Error(), "")
		return
	}
	if trades == nil {
		trades = []*storage.Trade{}
	}
	respondJSON(w, http.StatusOK, trades)
}

func (s *Server) handleCreateListing(w http.ResponseWriter, r *http.Request) {
	var req CreateListingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", err.Error(), "")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error(), "")
		return
	}
	unitPrice, err := decimal.Parse(req.UnitPrice)
	if err != nil || !unitPrice.IsPositive() {
		respondError(w, http.StatusBadRequest, "invalid_unit_price", req.UnitPrice, "")
		return
	}

	listing := &storage.Listing{
		ID:        req.ID,
		Symbol:    req.Symbol,
		UnitPrice: unitPrice,
		Status:    storage.ListingActive,
		CreatedAt: s.clock.Now().UTC(),
	}
	if err := s.store.PutListing(listing); err != nil {
		respondError(w, http.StatusInternalServerError, "listing_create_failed", err.Error(), "")
		return
	}
	respondJSON(w, http.StatusCreated, listing)
}

func (s *Server) handleGetListing(w http.ResponseWriter, r *http.Request) {
	listing, err := s.store.GetListing(mux.Vars(r)["listingID"])
	if err != nil {
		respondError(w, http.StatusInternalServerError, "listing_lookup_failed", err.Error(), "")
		return
	}
	if listing == nil {
		respondError(w, http.StatusNotFound, "listing_not_found", "", "")
		return
	}
	respondJSON(w, http.StatusOK, listing)
}

func (s *Server) handleGetWallet(w http.ResponseWriter, r *http.Request) {
	wallet, err := s.store.GetWallet(mux.Vars(r)["userID"])
	if err != nil {
		respondError(w, http.StatusInternalServerError, "wallet_lookup_failed", err.Error(), "")
		return
	}
	if wallet == nil {
		respondError(w, http.StatusNotFound, "wallet_not_found", "", "")
		return
	}
	respondJSON(w, http.StatusOK, WalletResponse{Wallet: wallet})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	s.handleWalletMutation(w, r, s.wallets.Deposit)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	s.handleWalletMutation(w, r, s.wallets.Withdraw)
}

type walletOp func(ctx context.Context, userID string, amount decimal.Decimal) (*storage.Wallet, *storage.WalletTransaction, error)

func (s *Server) handleWalletMutation(w http.ResponseWriter, r *http.Request, op walletOp) {
	userID := mux.Vars(r)["userID"]

	var req AmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", err.Error(), "")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error(), "")
		return
	}
	amount, err := decimal.Parse(req.Amount)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_amount", err.Error(), "")
		return
	}

	wallet, tx, err := op(r.Context(), userID, amount)
	if err != nil {
		code := http.StatusBadRequest
		switch {
		case errors.Is(err, risk.ErrInsufficientBalance):
			code = http.StatusConflict
		case errors.Is(err, storage.ErrConflict):
			code = http.StatusServiceUnavailable
		}
		respondError(w, code, "wallet_update_rejected", err.Error(), "")
		return
	}
	respondJSON(w, http.StatusOK, WalletResponse{Wallet: wallet, Transaction: tx})
}
