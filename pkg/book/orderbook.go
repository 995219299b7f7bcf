// Package book implements the in-memory price-time-priority order book for
// a single listing. The book is a plain data structure: it is NOT safe for
// concurrent use and performs no I/O. Its single owner (the matching
// session) serializes every mutation and read against it.
package book

import (
	"sort"
	"time"

	"github.com/tcex/engine/pkg/decimal"
)

// Fill is one matching step: Quantity traded against Maker at the maker's
// resting price. The taker never trades at its own limit price.
type Fill struct {
	Maker    *Order
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// Level is the aggregated public view of one price level. Individual order
// identity and ownership are never exposed through it.
type Level struct {
	Price      decimal.Decimal `json:"price"`
	Quantity   decimal.Decimal `json:"quantity"`
	OrderCount int             `json:"orderCount"`
}

// Snapshot is the market-data view of the book.
type Snapshot struct {
	Bids           []Level          `json:"bids"`
	Asks           []Level          `json:"asks"`
	LastTradePrice *decimal.Decimal `json:"lastTradePrice"`
	LastTradeTime  *time.Time       `json:"lastTradeTime"`
}

// OrderBook holds per-side price levels (FIFO queues keyed by canonical
// price string) plus a sorted price index per side. Invariant: a price is
// present in the level map iff it is present in the index, and no level is
// ever empty.
type OrderBook struct {
	bids map[string][]*Order
	asks map[string][]*Order

	bidPrices []decimal.Decimal // descending: best bid first
	askPrices []decimal.Decimal // ascending: best ask first

	lastTradePrice *decimal.Decimal
	lastTradeTime  *time.Time
}

func New() *OrderBook {
	return &OrderBook{
		bids: make(map[string][]*Order),
		asks: make(map[string][]*Order),
	}
}

// Add inserts o at the back of its price level, creating the level (and
// re-sorting the side's price index) on first use of that price. Time
// priority within a level is plain insertion order.
func (b *OrderBook) Add(o *Order) {
	if o.Side == Buy {
		b.addBid(o)
	} else {
		b.addAsk(o)
	}
}

func (b *OrderBook) addBid(o *Order) {
	key := o.Price.String()
	if _, ok := b.bids[key]; !ok {
		b.bidPrices = append(b.bidPrices, o.Price)
		sort.Slice(b.bidPrices, func(i, j int) bool {
			return b.bidPrices[i].GT(b.bidPrices[j])
		})
	}
	b.bids[key] = append(b.bids[key], o)
}

func (b *OrderBook) addAsk(o *Order) {
	key := o.Price.String()
	if _, ok := b.asks[key]; !ok {
		b.askPrices = append(b.askPrices, o.Price)
		sort.Slice(b.askPrices, func(i, j int) bool {
			return b.askPrices[i].LT(b.askPrices[j])
		})
	}
	b.asks[key] = append(b.asks[key], o)
}

// Remove takes orderID off the given side. Returns the removed order, or
// nil if no order with that ID rests on that side. The level is deleted
// the moment its queue empties.
func (b *OrderBook) Remove(orderID string, side Side) *Order {
	levels, prices := b.side(side)
	for _, price := range *prices {
		key := price.String()
		queue := levels[key]
		for i, o := range queue {
			if o.ID != orderID {
				continue
			}
			levels[key] = append(queue[:i:i], queue[i+1:]...)
			if len(levels[key]) == 0 {
				delete(levels, key)
				b.dropPrice(prices, key)
			}
			return o
		}
	}
	return nil
}

// Match walks the opposite side best-price-first and fills the incoming
// order against resting makers in FIFO order within each eligible level.
// Each step fills min(incoming remaining, maker remaining) at the maker's
// price; maker remainders are decremented in place and exhausted makers and
// levels are removed. Iteration stops at the first ineligible level, since
// the index is sorted every further level is worse.
//
// The incoming order is NOT inserted here; the caller rests any nonzero
// remainder via Add. Nothing outside the book is touched.
//
// Orders from the same user may match each other; the book performs no
// wash-trade detection.
func (b *OrderBook) Match(incoming *Order) ([]Fill, decimal.Decimal) {
	levels, prices := b.side(incoming.Side.Opposite())

	var fills []Fill
	remaining := incoming.Remaining
	var exhausted []string

	for _, price := range *prices {
		if remaining.IsZero() {
			break
		}
		if incoming.Side == Buy && price.GT(incoming.Price) {
			break
		}
		if incoming.Side == Sell && price.LT(incoming.Price) {
			break
		}

		key := price.String()
		queue := levels[key]
		kept := queue[:0]
		for _, maker := range queue {
			if remaining.IsZero() {
				kept = append(kept, maker)
				continue
			}
			qty := remaining.Min(maker.Remaining)
			fills = append(fills, Fill{Maker: maker, Price: price, Quantity: qty})
			maker.Remaining = maker.Remaining.Sub(qty)
			remaining = remaining.Sub(qty)
			if !maker.Remaining.IsZero() {
				kept = append(kept, maker)
			}
		}
		levels[key] = kept
		if len(kept) == 0 {
			exhausted = append(exhausted, key)
		}
	}

	for _, key := range exhausted {
		delete(levels, key)
		b.dropPrice(prices, key)
	}

	return fills, remaining
}

// SetLastTrade records the most recent fill for snapshot consumers.
func (b *OrderBook) SetLastTrade(price decimal.Decimal, at time.Time) {
	b.lastTradePrice = &price
	b.lastTradeTime = &at
}

// Snapshot returns the top depth levels per side with remaining quantity
// and order count aggregated per level.
func (b *OrderBook) Snapshot(depth int) Snapshot {
	return Snapshot{
		Bids:           b.levels(b.bids, b.bidPrices, depth),
		Asks:           b.levels(b.asks, b.askPrices, depth),
		LastTradePrice: b.lastTradePrice,
		LastTradeTime:  b.lastTradeTime,
	}
}

func (b *OrderBook) levels(side map[string][]*Order, prices []decimal.Decimal, depth int) []Level {
	if depth < 0 {
		depth = 0
	}
	if depth > len(prices) {
		depth = len(prices)
	}
	out := make([]Level, 0, depth)
	for _, price := range prices[:depth] {
		queue := side[price.String()]
		qty := decimal.Zero
		for _, o := range queue {
			qty = qty.Add(o.Remaining)
		}
		out = append(out, Level{Price: price, Quantity: qty, OrderCount: len(queue)})
	}
	return out
}

func (b *OrderBook) side(s Side) (map[string][]*Order, *[]decimal.Decimal) {
	if s == Buy {
		return b.bids, &b.bidPrices
	}
	return b.asks, &b.askPrices
}

func (b *OrderBook) dropPrice(prices *[]decimal.Decimal, key string) {
	for i, p := range *prices {
		if p.String() == key {
			*prices = append((*prices)[:i:i], (*prices)[i+1:]...)
			return
		}
	}
}
