// Package risk is the pre-trade gate: it validates an order against the
// listing's price band and the user's balances, and atomically reserves
// (locks) a buyer's funds before the order is allowed into the matching
// engine. The engine assumes funds are already reserved for any buy order
// it accepts.
package risk

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/tcex/engine/pkg/book"
	"github.com/tcex/engine/pkg/decimal"
	"github.com/tcex/engine/pkg/storage"
	"github.com/tcex/engine/pkg/util"
)

var (
	ErrInvalidPrice         = errors.New("risk: invalid price")
	ErrInvalidQuantity      = errors.New("risk: invalid quantity")
	ErrInvalidSide          = errors.New("risk: invalid side")
	ErrListingNotFound      = errors.New("risk: listing not found")
	ErrListingNotActive     = errors.New("risk: listing not active")
	ErrPriceOutOfBand       = errors.New("risk: price out of allowed band")
	ErrWalletNotFound       = errors.New("risk: wallet not found")
	ErrInsufficientPosition = errors.New("risk: insufficient position")
)

// Gate performs pre-trade checks and the fund-lock step.
type Gate struct {
	store   *storage.Store
	wallets *Wallets
	clock   util.Clock
	log     *zap.SugaredLogger
	band    decimal.Decimal // max fractional deviation from the listing reference price
}

func NewGate(store *storage.Store, wallets *Wallets, clock util.Clock, log *zap.SugaredLogger, priceBand decimal.Decimal) *Gate {
	return &Gate{store: store, wallets: wallets, clock: clock, log: log, band: priceBand}
}

// Reservation records what Reserve locked, so a failed placement can be
// rolled back with Release. Amount is zero for sell orders.
type Reservation struct {
	UserID string
	Amount decimal.Decimal
}

// Reserve validates the order and, for a buy, atomically moves
// price × quantity from available to locked balance. Checks, in order:
// side and value validity, listing existence and status, price band
// around the listing reference price, then balance (buy) or position
// (sell) sufficiency.
func (g *Gate) Reserve(ctx context.Context, listingID, userID string, side book.Side, price, quantity decimal.Decimal) (*Reservation, error) {
	if !side.Valid() {
		return nil, ErrInvalidSide
	}
	if !price.IsPositive() {
		return nil, ErrInvalidPrice
	}
	if !quantity.IsPositive() {
		return nil, ErrInvalidQuantity
	}

	listing, err := g.store.GetListing(listingID)
	if err != nil {
		return nil, err
	}
	if listing == nil {
		return nil, ErrListingNotFound
	}
	if listing.Status != storage.ListingActive {
		return nil, ErrListingNotActive
	}

	// Circuit breaker: price must stay within ±band of the reference price.
	allowed := listing.UnitPrice.Mul(g.band)
	if price.GT(listing.UnitPrice.Add(allowed)) || price.LT(listing.UnitPrice.Sub(allowed)) {
		return nil, ErrPriceOutOfBand
	}

	if side == book.Sell {
		pos, err := g.store.GetPosition(userID, listingID)
		if err != nil {
			return nil, err
		}
		if pos == nil || !pos.Quantity.GTE(quantity) {
			return nil, ErrInsufficientPosition
		}
		return &Reservation{UserID: userID}, nil
	}

	required := price.Mul(quantity)
	if err := g.lock(userID, required); err != nil {
		return nil, err
	}
	g.log.Infow("funds_reserved", "user", userID, "listing", listingID, "amount", required)
	return &Reservation{UserID: userID, Amount: required}, nil
}

// Release rolls a reservation back (locked → available) after the engine
// failed to apply the placement. No-op for empty reservations.
func (g *Gate) Release(ctx context.Context, res *Reservation) error {
	if res == nil || !res.Amount.IsPositive() {
		return nil
	}
	for attempt := 0; attempt < updateRetries; attempt++ {
		w, err := g.store.GetWallet(res.UserID)
		if err != nil {
			return err
		}
		if w == nil {
			return ErrWalletNotFound
		}

		updated := *w
		updated.AvailableBalance = w.AvailableBalance.Add(res.Amount)
		updated.LockedBalance = w.LockedBalance.Sub(res.Amount)
		updated.UpdatedAt = g.clock.Now().UTC()
		if updated.LockedBalance.IsNegative() {
			return fmt.Errorf("release of %s for %s exceeds locked balance", res.Amount, res.UserID)
		}

		batch := storage.NewBatch()
		batch.PutWallet(&updated, w.AvailableBalance, w.LockedBalance)
		err = g.store.Commit(batch)
		if errors.Is(err, storage.ErrConflict) {
			continue
		}
		if err == nil {
			g.log.Infow("funds_released", "user", res.UserID, "amount", res.Amount)
		}
		return err
	}
	return fmt.Errorf("release for %s: %w", res.UserID, storage.ErrConflict)
}

func (g *Gate) lock(userID string, amount decimal.Decimal) error {
	for attempt := 0; attempt < updateRetries; attempt++ {
		w, err := g.store.GetWallet(userID)
		if err != nil {
			return err
		}
		if w == nil {
			return ErrWalletNotFound
		}
		if !w.AvailableBalance.GTE(amount) {
			return ErrInsufficientBalance
		}

		updated := *w
		updated.AvailableBalance = w.AvailableBalance.Sub(amount)
		updated.LockedBalance = w.LockedBalance.Add(amount)
		updated.UpdatedAt = g.clock.Now().UTC()

		batch := storage.NewBatch()
		batch.PutWallet(&updated, w.AvailableBalance, w.LockedBalance)
		err = g.store.Commit(batch)
		if errors.Is(err, storage.ErrConflict) {
			continue
		}
		return err
	}
	return fmt.Errorf("lock for %s: %w", userID, storage.ErrConflict)
}
