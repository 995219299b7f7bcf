package storage

import (
	"github.com/tcex/engine/pkg/decimal"
)

// Batch is an explicit unit of work: it accumulates typed write intents
// and is submitted to Store.Commit as one all-or-nothing transaction.
// Matching code builds batches; it never touches pebble directly.
//
// Wallet and position writes are conditional: each carries the balances
// the writer read before computing the new record. Commit rejects the
// whole batch with ErrConflict if any stored value has moved since, so a
// concurrent fill on another listing can never lose an update.
type Batch struct {
	orders    []*Order
	trades    []*Trade
	wallets   []walletWrite
	walletTxs []*WalletTransaction
	positions []positionWrite
}

type walletWrite struct {
	wallet          *Wallet
	expectAvailable decimal.Decimal
	expectLocked    decimal.Decimal
	expectNew       bool
}

type positionWrite struct {
	position       *Position
	expectQuantity decimal.Decimal
	expectNew      bool
}

func NewBatch() *Batch { return &Batch{} }

// PutOrder stages an order insert or update.
func (b *Batch) PutOrder(o *Order) { b.orders = append(b.orders, o) }

// PutTrade stages a trade insert.
func (b *Batch) PutTrade(t *Trade) { b.trades = append(b.trades, t) }

// PutWallet stages a conditional wallet write. expectAvailable and
// expectLocked are the balances read before deriving w; the commit fails
// with ErrConflict if the stored wallet no longer matches them.
func (b *Batch) PutWallet(w *Wallet, expectAvailable, expectLocked decimal.Decimal) {
	b.wallets = append(b.wallets, walletWrite{
		wallet:          w,
		expectAvailable: expectAvailable,
		expectLocked:    expectLocked,
	})
}

// PutNewWallet stages a wallet insert that fails with ErrConflict if a
// wallet for the user already exists.
func (b *Batch) PutNewWallet(w *Wallet) {
	b.wallets = append(b.wallets, walletWrite{wallet: w, expectNew: true})
}

// PutWalletTx stages a wallet ledger entry.
func (b *Batch) PutWalletTx(tx *WalletTransaction) { b.walletTxs = append(b.walletTxs, tx) }

// PutPosition stages a conditional position update keyed on the quantity
// read before deriving p.
func (b *Batch) PutPosition(p *Position, expectQuantity decimal.Decimal) {
	b.positions = append(b.positions, positionWrite{position: p, expectQuantity: expectQuantity})
}

// PutNewPosition stages a position insert that fails with ErrConflict if
// the position already exists.
func (b *Batch) PutNewPosition(p *Position) {
	b.positions = append(b.positions, positionWrite{position: p, expectNew: true})
}

// Empty reports whether the batch holds no intents.
func (b *Batch) Empty() bool {
	return len(b.orders) == 0 && len(b.trades) == 0 && len(b.wallets) == 0 &&
		len(b.walletTxs) == 0 && len(b.positions) == 0
}
