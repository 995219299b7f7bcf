package storage

import (
	"time"

	"github.com/tcex/engine/pkg/book"
	"github.com/tcex/engine/pkg/decimal"
)

// Typed records for every persisted entity. Rows are validated into these
// structs at the store boundary and never passed around as untyped maps.

// OrderStatus is the durable lifecycle state of an order.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderPartial   OrderStatus = "partial"
	OrderFilled    OrderStatus = "filled"
	OrderCancelled OrderStatus = "cancelled"
	OrderFailed    OrderStatus = "failed"
)

// Open reports whether an order in this status still rests on the book.
func (s OrderStatus) Open() bool { return s == OrderPending || s == OrderPartial }

// Order is the durable order row. CreatedAt is immutable: it keys the
// row's position in the listing's time-ordered scan.
type Order struct {
	ID                string          `json:"id"`
	ListingID         string          `json:"listingId"`
	UserID            string          `json:"userId"`
	Side              book.Side       `json:"side"`
	Price             decimal.Decimal `json:"price"`
	Quantity          decimal.Decimal `json:"quantity"`
	FilledQuantity    decimal.Decimal `json:"filledQuantity"`
	RemainingQuantity decimal.Decimal `json:"remainingQuantity"`
	Status            OrderStatus     `json:"status"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
	FilledAt          *time.Time      `json:"filledAt,omitempty"`
	CancelledAt       *time.Time      `json:"cancelledAt,omitempty"`
}

// Trade is one immutable fill record. Price is always the maker's price
// and Total = Price × Quantity under truncating multiplication.
type Trade struct {
	ID          string          `json:"id"`
	ListingID   string          `json:"listingId"`
	BuyOrderID  string          `json:"buyOrderId"`
	SellOrderID string          `json:"sellOrderId"`
	BuyerID     string          `json:"buyerId"`
	SellerID    string          `json:"sellerId"`
	Price       decimal.Decimal `json:"price"`
	Quantity    decimal.Decimal `json:"quantity"`
	Total       decimal.Decimal `json:"total"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// DefaultCurrency is the quote currency every wallet settles in.
const DefaultCurrency = "TWD"

// Wallet is a user's quote-currency balance. AvailableBalance and
// LockedBalance are both non-negative at all times; funds move between
// them only through reserve/release operations tied to an order event.
type Wallet struct {
	ID               string          `json:"id"`
	UserID           string          `json:"userId"`
	Currency         string          `json:"currency"`
	AvailableBalance decimal.Decimal `json:"availableBalance"`
	LockedBalance    decimal.Decimal `json:"lockedBalance"`
	TotalDeposited   decimal.Decimal `json:"totalDeposited"`
	TotalWithdrawn   decimal.Decimal `json:"totalWithdrawn"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// WalletTransaction is one ledger entry against a wallet.
type WalletTransaction struct {
	ID            string          `json:"id"`
	WalletID      string          `json:"walletId"`
	UserID        string          `json:"userId"`
	Type          string          `json:"type"` // deposit | withdrawal
	Amount        decimal.Decimal `json:"amount"`
	BalanceBefore decimal.Decimal `json:"balanceBefore"`
	BalanceAfter  decimal.Decimal `json:"balanceAfter"`
	ReferenceType string          `json:"referenceType,omitempty"`
	ReferenceID   string          `json:"referenceId,omitempty"`
	Description   string          `json:"description"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// Position is a user's holding in one listing.
type Position struct {
	UserID      string          `json:"userId"`
	ListingID   string          `json:"listingId"`
	Quantity    decimal.Decimal `json:"quantity"`
	AverageCost decimal.Decimal `json:"averageCost"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// ListingStatus is the trading state of a listing.
type ListingStatus string

const (
	ListingActive    ListingStatus = "active"
	ListingSuspended ListingStatus = "suspended"
	ListingDelisted  ListingStatus = "delisted"
)

// Listing is the static configuration of one tradable instrument.
// UnitPrice is the reference price the pre-trade band check anchors on.
type Listing struct {
	ID        string          `json:"id"`
	Symbol    string          `json:"symbol"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Status    ListingStatus   `json:"status"`
	CreatedAt time.Time       `json:"createdAt"`
}
