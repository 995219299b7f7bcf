package api

import (
	"time"

	"github.com/tcex/engine/pkg/book"
	"github.com/tcex/engine/pkg/decimal"
	"github.com/tcex/engine/pkg/storage"
)

// Request/response DTOs for the REST boundary and WebSocket messages.
// Money values cross the wire as decimal strings and are parsed at this
// boundary; nothing beyond it sees raw strings.

// ==============================
// REST Request Types
// ==============================

type PlaceOrderRequest struct {
	OrderID  string `json:"orderId" validate:"required"`
	UserID   string `json:"userId" validate:"required"`
	Side     string `json:"side" validate:"required,oneof=buy sell"`
	Price    string `json:"price" validate:"required"`
	Quantity string `json:"quantity" validate:"required"`
}

type AmountRequest struct {
	Amount string `json:"amount" validate:"required"`
}

type CreateListingRequest struct {
	ID        string `json:"id" validate:"required"`
	Symbol    string `json:"symbol" validate:"required"`
	UnitPrice string `json:"unitPrice" validate:"required"`
}

// ==============================
// REST Response Types
// ==============================

type PlaceOrderResponse struct {
	Trades         []*storage.Trade `json:"trades"`
	RemainingOrder *storage.Order   `json:"remainingOrder"`
	Status         string           `json:"status"`
}

type CancelOrderResponse struct {
	Success bool `json:"success"`
}

type WalletResponse struct {
	Wallet      *storage.Wallet            `json:"wallet"`
	Transaction *storage.WalletTransaction `json:"transaction,omitempty"`
}

type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
	Status string `json:"status,omitempty"`
}

// ==============================
// WebSocket Messages
// ==============================

// WSSubscribeRequest is the client control message. Channels are
// "orderbook:{listingID}" and "trades:{listingID}".
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // subscribe | unsubscribe
	Channels []string `json:"channels"`
}

type wsOrderBookMessage struct {
	Type      string        `json:"type"`
	ListingID string        `json:"listingId"`
	Snapshot  book.Snapshot `json:"snapshot"`
}

type wsTradesMessage struct {
	Type      string      `json:"type"`
	ListingID string      `json:"listingId"`
	Trades    []tradeTick `json:"trades"`
}

// tradeTick is the public tape entry: no order or party identity.
type tradeTick struct {
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
	CreatedAt time.Time       `json:"createdAt"`
}
