package risk

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tcex/engine/pkg/book"
	"github.com/tcex/engine/pkg/decimal"
	"github.com/tcex/engine/pkg/storage"
)

const listing = "listing-1"

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type riskEnv struct {
	store   *storage.Store
	wallets *Wallets
	gate    *Gate
}

func newRiskEnv(t *testing.T) *riskEnv {
	t.Helper()
	store, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	clock := fixedClock{now: time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)}
	log := zap.NewNop().Sugar()
	wallets := NewWallets(store, clock, log)
	gate := NewGate(store, wallets, clock, log, decimal.MustParse("0.10"))

	require.NoError(t, store.PutListing(&storage.Listing{
		ID:        listing,
		Symbol:    "TWR-A",
		UnitPrice: decimal.MustParse("100"),
		Status:    storage.ListingActive,
		CreatedAt: clock.Now(),
	}))
	return &riskEnv{store: store, wallets: wallets, gate: gate}
}

func (e *riskEnv) deposit(t *testing.T, userID, amount string) {
	t.Helper()
	_, _, err := e.wallets.Deposit(context.Background(), userID, decimal.MustParse(amount))
	require.NoError(t, err)
}

func TestReserveBuyLocksFunds(t *testing.T) {
	env := newRiskEnv(t)
	env.deposit(t, "alice", "1000")

	res, err := env.gate.Reserve(context.Background(), listing, "alice", book.Buy,
		decimal.MustParse("100"), decimal.MustParse("5"))
	require.NoError(t, err)
	assert.Equal(t, "500", res.Amount.String())

	w, err := env.store.GetWallet("alice")
	require.NoError(t, err)
	assert.Equal(t, "500", w.AvailableBalance.String())
	assert.Equal(t, "500", w.LockedBalance.String())
}

func TestReserveBuyInsufficientFunds(t *testing.T) {
	env := newRiskEnv(t)
	env.deposit(t, "alice", "100")

	_, err := env.gate.Reserve(context.Background(), listing, "alice", book.Buy,
		decimal.MustParse("100"), decimal.MustParse("5"))
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	// Nothing moved.
	w, err := env.store.GetWallet("alice")
	require.NoError(t, err)
	assert.Equal(t, "100", w.AvailableBalance.String())
	assert.Equal(t, "0", w.LockedBalance.String())
}

func TestReserveBuyNoWallet(t *testing.T) {
	env := newRiskEnv(t)
	_, err := env.gate.Reserve(context.Background(), listing, "ghost", book.Buy,
		decimal.MustParse("100"), decimal.MustParse("1"))
	assert.ErrorIs(t, err, ErrWalletNotFound)
}

func TestReserveSellChecksPosition(t *testing.T) {
	env := newRiskEnv(t)

	_, err := env.gate.Reserve(context.Background(), listing, "bob", book.Sell,
		decimal.MustParse("100"), decimal.MustParse("5"))
	assert.ErrorIs(t, err, ErrInsufficientPosition)

	b := storage.NewBatch()
	b.PutNewPosition(&storage.Position{
		UserID:    "bob",
		ListingID: listing,
		Quantity:  decimal.MustParse("5"),
	})
	require.NoError(t, env.store.Commit(b))

	_, err = env.gate.Reserve(context.Background(), listing, "bob", book.Sell,
		decimal.MustParse("100"), decimal.MustParse("6"))
	assert.ErrorIs(t, err, ErrInsufficientPosition)

	res, err := env.gate.Reserve(context.Background(), listing, "bob", book.Sell,
		decimal.MustParse("100"), decimal.MustParse("5"))
	require.NoError(t, err)
	// Sells reserve no funds.
	assert.True(t, res.Amount.IsZero())
}

func TestReserveValidation(t *testing.T) {
	env := newRiskEnv(t)
	ctx := context.Background()
	price := decimal.MustParse("100")
	qty := decimal.MustParse("1")

	_, err := env.gate.Reserve(ctx, listing, "alice", book.Side("short"), price, qty)
	assert.ErrorIs(t, err, ErrInvalidSide)

	_, err = env.gate.Reserve(ctx, listing, "alice", book.Buy, decimal.Zero, qty)
	assert.ErrorIs(t, err, ErrInvalidPrice)

	_, err = env.gate.Reserve(ctx, listing, "alice", book.Buy, decimal.MustParse("-5"), qty)
	assert.ErrorIs(t, err, ErrInvalidPrice)

	_, err = env.gate.Reserve(ctx, listing, "alice", book.Buy, price, decimal.Zero)
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = env.gate.Reserve(ctx, "unknown", "alice", book.Buy, price, qty)
	assert.ErrorIs(t, err, ErrListingNotFound)
}

func TestReserveListingNotActive(t *testing.T) {
	env := newRiskEnv(t)
	require.NoError(t, env.store.PutListing(&storage.Listing{
		ID:        "halted",
		Symbol:    "TWR-B",
		UnitPrice: decimal.MustParse("50"),
		Status:    storage.ListingSuspended,
	}))

	_, err := env.gate.Reserve(context.Background(), "halted", "alice", book.Buy,
		decimal.MustParse("50"), decimal.MustParse("1"))
	assert.ErrorIs(t, err, ErrListingNotActive)
}

func TestReservePriceBand(t *testing.T) {
	env := newRiskEnv(t)
	env.deposit(t, "alice", "10000")
	ctx := context.Background()
	qty := decimal.MustParse("1")

	// Reference 100, band 0.10: [90, 110] inclusive.
	for _, price := range []string{"90", "100", "110"} {
		_, err := env.gate.Reserve(ctx, listing, "alice", book.Buy, decimal.MustParse(price), qty)
		assert.NoError(t, err, "price %s should be inside the band", price)
	}
	for _, price := range []string{"89.99", "110.01", "200"} {
		_, err := env.gate.Reserve(ctx, listing, "alice", book.Buy, decimal.MustParse(price), qty)
		assert.ErrorIs(t, err, ErrPriceOutOfBand, "price %s should be outside the band", price)
	}
}

func TestRelease(t *testing.T) {
	env := newRiskEnv(t)
	env.deposit(t, "alice", "1000")

	res, err := env.gate.Reserve(context.Background(), listing, "alice", book.Buy,
		decimal.MustParse("100"), decimal.MustParse("5"))
	require.NoError(t, err)

	require.NoError(t, env.gate.Release(context.Background(), res))

	w, err := env.store.GetWallet("alice")
	require.NoError(t, err)
	assert.Equal(t, "1000", w.AvailableBalance.String())
	assert.Equal(t, "0", w.LockedBalance.String())

	// Empty reservations are a no-op.
	require.NoError(t, env.gate.Release(context.Background(), &Reservation{UserID: "alice"}))
	require.NoError(t, env.gate.Release(context.Background(), nil))
}

func TestDeposit(t *testing.T) {
	env := newRiskEnv(t)

	w, tx, err := env.wallets.Deposit(context.Background(), "alice", decimal.MustParse("500"))
	require.NoError(t, err)
	assert.Equal(t, "500", w.AvailableBalance.String())
	assert.Equal(t, "500", w.TotalDeposited.String())
	assert.Equal(t, "deposit", tx.Type)
	assert.Equal(t, "0", tx.BalanceBefore.String())
	assert.Equal(t, "500", tx.BalanceAfter.String())

	// Second deposit accumulates on the same wallet.
	w, _, err = env.wallets.Deposit(context.Background(), "alice", decimal.MustParse("250"))
	require.NoError(t, err)
	assert.Equal(t, "750", w.AvailableBalance.String())
	assert.Equal(t, "750", w.TotalDeposited.String())

	txs, err := env.store.WalletTransactions("alice", 10)
	require.NoError(t, err)
	assert.Len(t, txs, 2)
}

func TestDepositLimits(t *testing.T) {
	env := newRiskEnv(t)
	ctx := context.Background()

	_, _, err := env.wallets.Deposit(ctx, "alice", decimal.MustParse("-10"))
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, _, err = env.wallets.Deposit(ctx, "alice", decimal.MustParse("99.99"))
	assert.ErrorIs(t, err, ErrAmountBelowMinimum)

	_, _, err = env.wallets.Deposit(ctx, "alice", decimal.MustParse("10000000.01"))
	assert.ErrorIs(t, err, ErrAmountAboveMaximum)
}

func TestWithdraw(t *testing.T) {
	env := newRiskEnv(t)
	env.deposit(t, "alice", "1000")

	w, tx, err := env.wallets.Withdraw(context.Background(), "alice", decimal.MustParse("400"))
	require.NoError(t, err)
	assert.Equal(t, "600", w.AvailableBalance.String())
	assert.Equal(t, "400", w.TotalWithdrawn.String())
	assert.Equal(t, "withdrawal", tx.Type)

	_, _, err = env.wallets.Withdraw(context.Background(), "alice", decimal.MustParse("700"))
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	_, _, err = env.wallets.Withdraw(context.Background(), "ghost", decimal.MustParse("100"))
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	_, _, err = env.wallets.Withdraw(context.Background(), "alice", decimal.MustParse("50"))
	assert.ErrorIs(t, err, ErrAmountBelowMinimum)
}

func TestWithdrawLockedFundsUnavailable(t *testing.T) {
	env := newRiskEnv(t)
	env.deposit(t, "alice", "1000")

	_, err := env.gate.Reserve(context.Background(), listing, "alice", book.Buy,
		decimal.MustParse("100"), decimal.MustParse("8"))
	require.NoError(t, err)

	// 800 locked; only 200 available to withdraw.
	_, _, err = env.wallets.Withdraw(context.Background(), "alice", decimal.MustParse("300"))
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	w, _, err := env.wallets.Withdraw(context.Background(), "alice", decimal.MustParse("200"))
	require.NoError(t, err)
	assert.Equal(t, "0", w.AvailableBalance.String())
	assert.Equal(t, "800", w.LockedBalance.String())
}

func TestGetOrCreate(t *testing.T) {
	env := newRiskEnv(t)

	w, err := env.wallets.GetOrCreate(context.Background(), "alice")
	require.NoError(t, err)
	require.NotNil(t, w)
	assert.Equal(t, storage.DefaultCurrency, w.Currency)
	assert.True(t, w.AvailableBalance.IsZero())

	again, err := env.wallets.GetOrCreate(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, w.ID, again.ID)
}
