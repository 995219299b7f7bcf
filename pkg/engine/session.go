// Package engine hosts the per-listing matching session: the exclusive
// owner of one listing's in-memory book and the transaction script that
// turns match results into durable state. One session exists per listing;
// every placement, cancellation and snapshot for that listing serializes
// through it, so the multi-step match mutation is atomic to any observer.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tcex/engine/pkg/book"
	"github.com/tcex/engine/pkg/decimal"
	"github.com/tcex/engine/pkg/storage"
	"github.com/tcex/engine/pkg/util"
)

// commitRetries bounds the optimistic-concurrency retry loop for batches
// touching wallets or positions shared with other listings' sessions.
const commitRetries = 5

// Session coordinates matching for a single listing.
//
// The in-memory book is derived state: it is rebuilt from the durable
// store on first use and again after any failed commit (the book may have
// been mutated by a match whose batch never applied). Rebuilding replays
// open orders in creation-time order, which reconstructs FIFO time
// priority exactly.
type Session struct {
	listingID string
	store     *storage.Store
	clock     util.Clock
	log       *zap.SugaredLogger
	broadcast Broadcaster
	feed      TradeFeed
	depth     int // snapshot depth for subscriber pushes

	mu     sync.Mutex
	book   *book.OrderBook
	loaded bool
	dirty  bool
}

func newSession(listingID string, store *storage.Store, clock util.Clock, log *zap.SugaredLogger, broadcast Broadcaster, feed TradeFeed, depth int) *Session {
	return &Session{
		listingID: listingID,
		store:     store,
		clock:     clock,
		log:       log,
		broadcast: broadcast,
		feed:      feed,
		depth:     depth,
	}
}

// ensureLoaded rebuilds the book from durable state. Caller holds s.mu.
func (s *Session) ensureLoaded() error {
	if s.loaded && !s.dirty {
		return nil
	}

	b := book.New()
	orders, err := s.store.OpenOrders(s.listingID)
	if err != nil {
		return fmt.Errorf("load open orders for %s: %w", s.listingID, err)
	}
	for _, rec := range orders {
		b.Add(&book.Order{
			ID:        rec.ID,
			UserID:    rec.UserID,
			Side:      rec.Side,
			Price:     rec.Price,
			Quantity:  rec.Quantity,
			Remaining: rec.RemainingQuantity,
			CreatedAt: rec.CreatedAt,
		})
	}

	last, err := s.store.LastTrade(s.listingID)
	if err != nil {
		return fmt.Errorf("load last trade for %s: %w", s.listingID, err)
	}
	if last != nil {
		b.SetLastTrade(last.Price, last.CreatedAt)
	}

	s.book = b
	s.loaded = true
	s.dirty = false
	s.log.Infow("book_rehydrated", "listing", s.listingID, "open_orders", len(orders))
	return nil
}

// balance-change accumulators, one per user touched by this placement.
type walletDelta struct {
	available decimal.Decimal
	locked    decimal.Decimal
}

type positionDelta struct {
	quantity  decimal.Decimal
	costBasis decimal.Decimal // average cost seed when a position is first created
}

// PlaceOrder runs the full placement protocol: match against the book,
// derive trades and balance movements, commit everything as one atomic
// batch, then notify subscribers. A failed commit leaves the durable
// store untouched and flags the in-memory book for rebuild; the caller
// rolls back the pre-trade reservation and marks the order failed.
func (s *Session) PlaceOrder(ctx context.Context, req PlaceRequest) (*PlaceResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	incoming := &book.Order{
		ID:        req.OrderID,
		UserID:    req.UserID,
		Side:      req.Side,
		Price:     req.Price,
		Quantity:  req.Quantity,
		Remaining: req.Quantity,
		CreatedAt: now,
	}

	fills, remaining := s.book.Match(incoming)

	trades := make([]*storage.Trade, 0, len(fills))
	makers := make([]*storage.Order, 0, len(fills))
	wallets := make(map[string]*walletDelta)
	positions := make(map[string]*positionDelta)

	for _, f := range fills {
		total := f.Price.Mul(f.Quantity)

		buyOrderID, sellOrderID := f.Maker.ID, incoming.ID
		buyerID, sellerID := f.Maker.UserID, incoming.UserID
		if req.Side == book.Buy {
			buyOrderID, sellOrderID = incoming.ID, f.Maker.ID
			buyerID, sellerID = incoming.UserID, f.Maker.UserID
		}

		trades = append(trades, &storage.Trade{
			ID:          uuid.NewString(),
			ListingID:   s.listingID,
			BuyOrderID:  buyOrderID,
			SellOrderID: sellOrderID,
			BuyerID:     buyerID,
			SellerID:    sellerID,
			Price:       f.Price,
			Quantity:    f.Quantity,
			Total:       total,
			CreatedAt:   now,
		})

		makerStatus := storage.OrderPartial
		var makerFilledAt *time.Time
		if f.Maker.Remaining.IsZero() {
			makerStatus = storage.OrderFilled
			makerFilledAt = &now
		}
		makers = append(makers, &storage.Order{
			ID:                f.Maker.ID,
			ListingID:         s.listingID,
			UserID:            f.Maker.UserID,
			Side:              f.Maker.Side,
			Price:             f.Maker.Price,
			Quantity:          f.Maker.Quantity,
			FilledQuantity:    f.Maker.Quantity.Sub(f.Maker.Remaining),
			RemainingQuantity: f.Maker.Remaining,
			Status:            makerStatus,
			CreatedAt:         f.Maker.CreatedAt,
			UpdatedAt:         now,
			FilledAt:          makerFilledAt,
		})

		// Seller receives the notional; buyer's reservation for this fill
		// is released. When the taker is the buyer and the maker priced
		// below its limit, the excess lock (limit − maker) × qty goes back
		// to available in the same batch: price-improvement refund.
		sellerWd := delta(wallets, sellerID)
		sellerWd.available = sellerWd.available.Add(total)

		release := total
		buyerWd := delta(wallets, buyerID)
		if req.Side == book.Buy {
			refund := incoming.Price.Sub(f.Price).Mul(f.Quantity)
			if refund.IsPositive() {
				buyerWd.available = buyerWd.available.Add(refund)
				release = release.Add(refund)
			}
		}
		buyerWd.locked = buyerWd.locked.Sub(release)

		buyerPd := posDelta(positions, buyerID, f.Price)
		buyerPd.quantity = buyerPd.quantity.Add(f.Quantity)
		sellerPd := posDelta(positions, sellerID, f.Price)
		sellerPd.quantity = sellerPd.quantity.Sub(f.Quantity)
	}

	filledQty := req.Quantity.Sub(remaining)
	status := storage.OrderPending
	var filledAt *time.Time
	switch {
	case remaining.IsZero():
		status = storage.OrderFilled
		filledAt = &now
	case filledQty.IsPositive():
		status = storage.OrderPartial
	}

	incomingRec := &storage.Order{
		ID:                req.OrderID,
		ListingID:         s.listingID,
		UserID:            req.UserID,
		Side:              req.Side,
		Price:             req.Price,
		Quantity:          req.Quantity,
		FilledQuantity:    filledQty,
		RemainingQuantity: remaining,
		Status:            status,
		CreatedAt:         now,
		UpdatedAt:         now,
		FilledAt:          filledAt,
	}

	if !remaining.IsZero() {
		incoming.Remaining = remaining
		s.book.Add(incoming)
	}

	commitErr := s.commitWithRetry(func(batch *storage.Batch) error {
		for _, t := range trades {
			batch.PutTrade(t)
		}
		for _, m := range makers {
			batch.PutOrder(m)
		}
		batch.PutOrder(incomingRec)
		return s.stageBalances(batch, wallets, positions, now)
	})
	if commitErr != nil {
		s.dirty = true
		s.log.Errorw("batch_commit_failed",
			"listing", s.listingID, "order", req.OrderID, "err", commitErr)
		return nil, fmt.Errorf("commit placement of %s: %w", req.OrderID, commitErr)
	}

	if len(trades) > 0 {
		last := trades[len(trades)-1]
		s.book.SetLastTrade(last.Price, last.CreatedAt)
	}

	s.log.Infow("order_placed",
		"listing", s.listingID, "order", req.OrderID, "side", req.Side,
		"status", status, "fills", len(trades))
	s.publish(trades)

	result := &PlaceResult{Trades: trades, Status: status}
	if !remaining.IsZero() {
		result.RemainingOrder = incomingRec
	}
	return result, nil
}

// CancelOrder removes a resting order from whichever side holds it. For a
// buy the still-locked notional (remaining × price) is unlocked back to
// available in the same batch as the status flip.
func (s *Session) CancelOrder(ctx context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return err
	}

	removed := s.book.Remove(orderID, book.Buy)
	if removed == nil {
		removed = s.book.Remove(orderID, book.Sell)
	}
	if removed == nil {
		return ErrOrderNotFound
	}

	now := s.clock.Now().UTC()
	rec := &storage.Order{
		ID:                removed.ID,
		ListingID:         s.listingID,
		UserID:            removed.UserID,
		Side:              removed.Side,
		Price:             removed.Price,
		Quantity:          removed.Quantity,
		FilledQuantity:    removed.Quantity.Sub(removed.Remaining),
		RemainingQuantity: removed.Remaining,
		Status:            storage.OrderCancelled,
		CreatedAt:         removed.CreatedAt,
		UpdatedAt:         now,
		CancelledAt:       &now,
	}

	commitErr := s.commitWithRetry(func(batch *storage.Batch) error {
		batch.PutOrder(rec)
		if removed.Side != book.Buy {
			return nil
		}
		locked := removed.Remaining.Mul(removed.Price)
		w, err := s.store.GetWallet(removed.UserID)
		if err != nil {
			return err
		}
		if w == nil {
			return fmt.Errorf("wallet for %s missing on cancel unlock", removed.UserID)
		}
		updated := *w
		updated.AvailableBalance = w.AvailableBalance.Add(locked)
		updated.LockedBalance = w.LockedBalance.Sub(locked)
		updated.UpdatedAt = now
		if updated.LockedBalance.IsNegative() {
			return fmt.Errorf("cancel of %s would drive locked balance negative", orderID)
		}
		batch.PutWallet(&updated, w.AvailableBalance, w.LockedBalance)
		return nil
	})
	if commitErr != nil {
		s.dirty = true
		s.log.Errorw("cancel_commit_failed",
			"listing", s.listingID, "order", orderID, "err", commitErr)
		return fmt.Errorf("commit cancel of %s: %w", orderID, commitErr)
	}

	s.log.Infow("order_cancelled", "listing", s.listingID, "order", orderID)
	s.publish(nil)
	return nil
}

// Snapshot returns the aggregated market-data view. It runs under the
// session mutex, so it only ever observes fully-committed book states.
func (s *Session) Snapshot(depth int) (book.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return book.Snapshot{}, err
	}
	return s.book.Snapshot(depth), nil
}

// commitWithRetry rebuilds and commits a batch, retrying with fresh reads
// when a conditional wallet/position write loses a race to a concurrent
// session on another listing. Conflicts are never dropped silently.
func (s *Session) commitWithRetry(stage func(*storage.Batch) error) error {
	var err error
	for attempt := 0; attempt < commitRetries; attempt++ {
		batch := storage.NewBatch()
		if err = stage(batch); err != nil {
			return err
		}
		err = s.store.Commit(batch)
		if !errors.Is(err, storage.ErrConflict) {
			return err
		}
		s.log.Warnw("commit_conflict_retry", "listing", s.listingID, "attempt", attempt+1)
	}
	return err
}

// stageBalances turns accumulated per-user deltas into conditional wallet
// and position writes. Called once per commit attempt so every attempt
// stages against freshly read balances.
func (s *Session) stageBalances(batch *storage.Batch, wallets map[string]*walletDelta, positions map[string]*positionDelta, now time.Time) error {
	for userID, wd := range wallets {
		if wd.available.IsZero() && wd.locked.IsZero() {
			continue
		}
		w, err := s.store.GetWallet(userID)
		if err != nil {
			return err
		}
		if w == nil {
			// Seller with no wallet yet: first credit creates it.
			fresh := &storage.Wallet{
				ID:               uuid.NewString(),
				UserID:           userID,
				Currency:         storage.DefaultCurrency,
				AvailableBalance: wd.available,
				LockedBalance:    wd.locked,
				CreatedAt:        now,
				UpdatedAt:        now,
			}
			if fresh.AvailableBalance.IsNegative() || fresh.LockedBalance.IsNegative() {
				return fmt.Errorf("fill would overdraw missing wallet for %s", userID)
			}
			batch.PutNewWallet(fresh)
			continue
		}
		updated := *w
		updated.AvailableBalance = w.AvailableBalance.Add(wd.available)
		updated.LockedBalance = w.LockedBalance.Add(wd.locked)
		updated.UpdatedAt = now
		if updated.AvailableBalance.IsNegative() || updated.LockedBalance.IsNegative() {
			return fmt.Errorf("fill would overdraw wallet for %s", userID)
		}
		batch.PutWallet(&updated, w.AvailableBalance, w.LockedBalance)
	}

	for userID, pd := range positions {
		if pd.quantity.IsZero() {
			continue
		}
		p, err := s.store.GetPosition(userID, s.listingID)
		if err != nil {
			return err
		}
		if p == nil {
			if pd.quantity.IsNegative() {
				return fmt.Errorf("fill would short missing position for %s", userID)
			}
			batch.PutNewPosition(&storage.Position{
				UserID:      userID,
				ListingID:   s.listingID,
				Quantity:    pd.quantity,
				AverageCost: pd.costBasis,
				CreatedAt:   now,
				UpdatedAt:   now,
			})
			continue
		}
		updated := *p
		updated.Quantity = p.Quantity.Add(pd.quantity)
		updated.UpdatedAt = now
		batch.PutPosition(&updated, p.Quantity)
	}
	return nil
}

// publish pushes the post-commit book state (and trade tape, when fills
// happened) to subscribers. Best-effort only: failures never unwind the
// committed operation.
func (s *Session) publish(trades []*storage.Trade) {
	snap := s.book.Snapshot(s.depth)
	if s.broadcast != nil {
		s.broadcast.BroadcastOrderBook(s.listingID, snap)
		if len(trades) > 0 {
			s.broadcast.BroadcastTrades(s.listingID, trades)
		}
	}
	if s.feed != nil && len(trades) > 0 {
		go s.feed.PublishTrades(context.Background(), s.listingID, trades)
	}
}

func delta(m map[string]*walletDelta, userID string) *walletDelta {
	if d, ok := m[userID]; ok {
		return d
	}
	d := &walletDelta{}
	m[userID] = d
	return d
}

func posDelta(m map[string]*positionDelta, userID string, price decimal.Decimal) *positionDelta {
	if d, ok := m[userID]; ok {
		return d
	}
	d := &positionDelta{costBasis: price}
	m[userID] = d
	return d
}
