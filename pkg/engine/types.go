package engine

import (
	"context"
	"errors"

	"github.com/tcex/engine/pkg/book"
	"github.com/tcex/engine/pkg/decimal"
	"github.com/tcex/engine/pkg/storage"
)

// ErrOrderNotFound reports a cancel for an order that is not resting in
// the book.
var ErrOrderNotFound = errors.New("engine: order not found")

// PlaceRequest is an accepted, validated order entering the engine. For a
// buy, the risk gate has already reserved Price × Quantity of the user's
// funds before the request reaches a session.
type PlaceRequest struct {
	OrderID  string
	UserID   string
	Side     book.Side
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// PlaceResult is the outcome of one placement: the fills it produced, the
// resting remainder (nil when fully filled) and the taker's terminal
// status (filled, partial or pending).
type PlaceResult struct {
	Trades         []*storage.Trade
	RemainingOrder *storage.Order
	Status         storage.OrderStatus
}

// Broadcaster pushes book and trade deltas to live subscribers.
// Best-effort: the engine never fails an operation over a broadcast.
type Broadcaster interface {
	BroadcastOrderBook(listingID string, snap book.Snapshot)
	BroadcastTrades(listingID string, trades []*storage.Trade)
}

// TradeFeed publishes the trade tape downstream (market-data fan-out).
// Best-effort like Broadcaster.
type TradeFeed interface {
	PublishTrades(ctx context.Context, listingID string, trades []*storage.Trade)
}
