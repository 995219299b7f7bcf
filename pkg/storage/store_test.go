package storage

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tcex/engine/pkg/book"
	"github.com/tcex/engine/pkg/decimal"
)

var testTime = time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testWallet(userID, available, locked string) *Wallet {
	return &Wallet{
		ID:               "w-" + userID,
		UserID:           userID,
		Currency:         DefaultCurrency,
		AvailableBalance: decimal.MustParse(available),
		LockedBalance:    decimal.MustParse(locked),
		CreatedAt:        testTime,
		UpdatedAt:        testTime,
	}
}

func testOrder(id, listingID string, side book.Side, price, qty string, status OrderStatus, createdAt time.Time) *Order {
	return &Order{
		ID:                id,
		ListingID:         listingID,
		UserID:            "u-" + id,
		Side:              side,
		Price:             decimal.MustParse(price),
		Quantity:          decimal.MustParse(qty),
		RemainingQuantity: decimal.MustParse(qty),
		Status:            status,
		CreatedAt:         createdAt,
		UpdatedAt:         createdAt,
	}
}

func TestWalletConditionalWrite(t *testing.T) {
	s := openTestStore(t)

	create := NewBatch()
	create.PutNewWallet(testWallet("alice", "1000", "0"))
	require.NoError(t, s.Commit(create))

	// Insert over an existing wallet must conflict.
	dup := NewBatch()
	dup.PutNewWallet(testWallet("alice", "0", "0"))
	assert.ErrorIs(t, s.Commit(dup), ErrConflict)

	// Update with the balances we read succeeds.
	update := NewBatch()
	update.PutWallet(testWallet("alice", "800", "200"), decimal.MustParse("1000"), decimal.MustParse("0"))
	require.NoError(t, s.Commit(update))

	w, err := s.GetWallet("alice")
	require.NoError(t, err)
	require.NotNil(t, w)
	assert.Equal(t, "800", w.AvailableBalance.String())
	assert.Equal(t, "200", w.LockedBalance.String())

	// Update keyed on the stale balances must conflict.
	stale := NewBatch()
	stale.PutWallet(testWallet("alice", "500", "0"), decimal.MustParse("1000"), decimal.MustParse("0"))
	assert.ErrorIs(t, s.Commit(stale), ErrConflict)

	// Update against a wallet that never existed must conflict.
	ghost := NewBatch()
	ghost.PutWallet(testWallet("bob", "10", "0"), decimal.Zero, decimal.Zero)
	assert.ErrorIs(t, s.Commit(ghost), ErrConflict)
}

func TestCommitAtomicity(t *testing.T) {
	s := openTestStore(t)

	seed := NewBatch()
	seed.PutNewWallet(testWallet("alice", "100", "0"))
	require.NoError(t, s.Commit(seed))

	// A batch mixing a valid order write with a conflicting wallet write
	// must apply nothing.
	b := NewBatch()
	b.PutOrder(testOrder("o1", "listing-1", book.Buy, "10", "5", OrderPending, testTime))
	b.PutWallet(testWallet("alice", "50", "50"), decimal.MustParse("999"), decimal.Zero)
	assert.ErrorIs(t, s.Commit(b), ErrConflict)

	_, err := s.GetOrder("o1")
	assert.ErrorIs(t, err, ErrNotFound)

	w, err := s.GetWallet("alice")
	require.NoError(t, err)
	assert.Equal(t, "100", w.AvailableBalance.String())
}

func TestPositionConditionalWrite(t *testing.T) {
	s := openTestStore(t)

	pos := &Position{
		UserID:      "alice",
		ListingID:   "listing-1",
		Quantity:    decimal.MustParse("10"),
		AverageCost: decimal.MustParse("9.5"),
		CreatedAt:   testTime,
		UpdatedAt:   testTime,
	}
	create := NewBatch()
	create.PutNewPosition(pos)
	require.NoError(t, s.Commit(create))

	dup := NewBatch()
	dup.PutNewPosition(pos)
	assert.ErrorIs(t, s.Commit(dup), ErrConflict)

	grown := *pos
	grown.Quantity = decimal.MustParse("15")
	update := NewBatch()
	update.PutPosition(&grown, decimal.MustParse("10"))
	require.NoError(t, s.Commit(update))

	got, err := s.GetPosition("alice", "listing-1")
	require.NoError(t, err)
	assert.Equal(t, "15", got.Quantity.String())

	stale := NewBatch()
	stale.PutPosition(&grown, decimal.MustParse("10"))
	assert.ErrorIs(t, s.Commit(stale), ErrConflict)
}

func TestGetOrderByID(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetOrder("nope")
	assert.ErrorIs(t, err, ErrNotFound)

	b := NewBatch()
	b.PutOrder(testOrder("o1", "listing-1", book.Sell, "25.50", "3", OrderPending, testTime))
	require.NoError(t, s.Commit(b))

	o, err := s.GetOrder("o1")
	require.NoError(t, err)
	assert.Equal(t, "listing-1", o.ListingID)
	assert.Equal(t, "25.5", o.Price.String())

	// Updating the same order keeps a single row reachable by ID.
	updated := testOrder("o1", "listing-1", book.Sell, "25.50", "3", OrderFilled, testTime)
	updated.RemainingQuantity = decimal.Zero
	ub := NewBatch()
	ub.PutOrder(updated)
	require.NoError(t, s.Commit(ub))

	o, err = s.GetOrder("o1")
	require.NoError(t, err)
	assert.Equal(t, OrderFilled, o.Status)
}

func TestOpenOrdersOrderingAndFilter(t *testing.T) {
	s := openTestStore(t)

	b := NewBatch()
	b.PutOrder(testOrder("late", "listing-1", book.Buy, "10", "1", OrderPending, testTime.Add(2*time.Second)))
	b.PutOrder(testOrder("early", "listing-1", book.Buy, "10", "1", OrderPartial, testTime))
	b.PutOrder(testOrder("mid", "listing-1", book.Buy, "10", "1", OrderPending, testTime.Add(time.Second)))
	b.PutOrder(testOrder("done", "listing-1", book.Buy, "10", "1", OrderFilled, testTime.Add(3*time.Second)))
	b.PutOrder(testOrder("gone", "listing-1", book.Buy, "10", "1", OrderCancelled, testTime.Add(4*time.Second)))
	b.PutOrder(testOrder("other", "listing-2", book.Buy, "10", "1", OrderPending, testTime))
	require.NoError(t, s.Commit(b))

	orders, err := s.OpenOrders("listing-1")
	require.NoError(t, err)
	require.Len(t, orders, 3)
	assert.Equal(t, "early", orders[0].ID)
	assert.Equal(t, "mid", orders[1].ID)
	assert.Equal(t, "late", orders[2].ID)
}

func TestTrades(t *testing.T) {
	s := openTestStore(t)

	last, err := s.LastTrade("listing-1")
	require.NoError(t, err)
	assert.Nil(t, last)

	b := NewBatch()
	for i := 0; i < 5; i++ {
		price := decimal.MustParse(fmt.Sprintf("%d", 100+i))
		b.PutTrade(&Trade{
			ID:        fmt.Sprintf("t%d", i),
			ListingID: "listing-1",
			Price:     price,
			Quantity:  decimal.MustParse("1"),
			Total:     price,
			CreatedAt: testTime.Add(time.Duration(i) * time.Second),
		})
	}
	require.NoError(t, s.Commit(b))

	last, err = s.LastTrade("listing-1")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "t4", last.ID)

	recent, err := s.RecentTrades("listing-1", 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "t4", recent[0].ID)
	assert.Equal(t, "t3", recent[1].ID)
	assert.Equal(t, "t2", recent[2].ID)

	none, err := s.RecentTrades("listing-other", 3)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestWalletTransactions(t *testing.T) {
	s := openTestStore(t)

	b := NewBatch()
	for i := 0; i < 3; i++ {
		b.PutWalletTx(&WalletTransaction{
			ID:        fmt.Sprintf("tx%d", i),
			WalletID:  "w-alice",
			UserID:    "alice",
			Type:      "deposit",
			Amount:    decimal.MustParse("100"),
			CreatedAt: testTime.Add(time.Duration(i) * time.Minute),
		})
	}
	require.NoError(t, s.Commit(b))

	txs, err := s.WalletTransactions("alice", 2)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, "tx2", txs[0].ID)
	assert.Equal(t, "tx1", txs[1].ID)
}

func TestListings(t *testing.T) {
	s := openTestStore(t)

	got, err := s.GetListing("listing-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, s.PutListing(&Listing{
		ID:        "listing-1",
		Symbol:    "TWR-A",
		UnitPrice: decimal.MustParse("100"),
		Status:    ListingActive,
		CreatedAt: testTime,
	}))

	got, err = s.GetListing("listing-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "TWR-A", got.Symbol)
	assert.Equal(t, ListingActive, got.Status)
}

func TestEmptyBatch(t *testing.T) {
	s := openTestStore(t)
	assert.NoError(t, s.Commit(NewBatch()))
	assert.True(t, NewBatch().Empty())
}
