package book

import (
	"time"

	"github.com/tcex/engine/pkg/decimal"
)

// Side is the order side.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool { return s == Buy || s == Sell }

// Opposite returns the side an order of side s matches against.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Order is a resting or incoming limit order as the book sees it.
// ID, UserID, Side and Price are immutable for the order's life;
// Remaining only ever decreases while the order rests.
type Order struct {
	ID        string
	UserID    string
	Side      Side
	Price     decimal.Decimal
	Quantity  decimal.Decimal
	Remaining decimal.Decimal
	CreatedAt time.Time
}
