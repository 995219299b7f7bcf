// Package storage is the durable-store adapter. State lives in pebble as
// JSON-encoded typed records behind a prefix key schema; all engine writes
// go through Store.Commit, which applies a Batch of typed intents as one
// atomic, fsynced pebble batch after validating its optimistic-concurrency
// conditions.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
)

var (
	// ErrConflict reports that a conditional write in a batch lost an
	// optimistic-concurrency race. Nothing from the batch was applied;
	// the caller re-reads, recomputes and retries.
	ErrConflict = errors.New("storage: conditional write conflict")

	// ErrNotFound reports a missing record on a point lookup.
	ErrNotFound = errors.New("storage: not found")
)

// Store wraps a pebble database. The commit mutex serializes batch
// commits so condition checks and the batch apply are a single step.
type Store struct {
	db *pebble.DB

	mu sync.Mutex // guards condition-check + apply in Commit
}

func Open(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Commit validates every conditional intent in the batch and applies all
// writes as one atomic, synced pebble batch. On ErrConflict nothing is
// applied. Partial application is never observable.
func (s *Store) Commit(b *Batch) error {
	if b.Empty() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ww := range b.wallets {
		current, err := s.GetWallet(ww.wallet.UserID)
		if err != nil {
			return err
		}
		if ww.expectNew {
			if current != nil {
				return fmt.Errorf("%w: wallet %s already exists", ErrConflict, ww.wallet.UserID)
			}
			continue
		}
		if current == nil {
			return fmt.Errorf("%w: wallet %s vanished", ErrConflict, ww.wallet.UserID)
		}
		if !current.AvailableBalance.Equal(ww.expectAvailable) || !current.LockedBalance.Equal(ww.expectLocked) {
			return fmt.Errorf("%w: wallet %s balance moved", ErrConflict, ww.wallet.UserID)
		}
	}

	for _, pw := range b.positions {
		current, err := s.GetPosition(pw.position.UserID, pw.position.ListingID)
		if err != nil {
			return err
		}
		if pw.expectNew {
			if current != nil {
				return fmt.Errorf("%w: position %s/%s already exists", ErrConflict, pw.position.UserID, pw.position.ListingID)
			}
			continue
		}
		if current == nil {
			return fmt.Errorf("%w: position %s/%s vanished", ErrConflict, pw.position.UserID, pw.position.ListingID)
		}
		if !current.Quantity.Equal(pw.expectQuantity) {
			return fmt.Errorf("%w: position %s/%s quantity moved", ErrConflict, pw.position.UserID, pw.position.ListingID)
		}
	}

	pb := s.db.NewBatch()
	defer pb.Close()

	for _, o := range b.orders {
		key := orderKey(o.ListingID, o.CreatedAt, o.ID)
		if err := setJSON(pb, key, o); err != nil {
			return err
		}
		if err := pb.Set(orderIdxKey(o.ID), key, nil); err != nil {
			return err
		}
	}
	for _, t := range b.trades {
		if err := setJSON(pb, tradeKey(t.ListingID, t.CreatedAt, t.ID), t); err != nil {
			return err
		}
	}
	for _, ww := range b.wallets {
		if err := setJSON(pb, walletKey(ww.wallet.UserID), ww.wallet); err != nil {
			return err
		}
	}
	for _, tx := range b.walletTxs {
		if err := setJSON(pb, walletTxKey(tx.UserID, tx.CreatedAt, tx.ID), tx); err != nil {
			return err
		}
	}
	for _, pw := range b.positions {
		if err := setJSON(pb, positionKey(pw.position.UserID, pw.position.ListingID), pw.position); err != nil {
			return err
		}
	}

	if err := s.db.Apply(pb, pebble.Sync); err != nil {
		return fmt.Errorf("apply batch: %w", err)
	}
	return nil
}

// GetWallet returns a user's wallet, or nil if none exists.
func (s *Store) GetWallet(userID string) (*Wallet, error) {
	var w Wallet
	ok, err := s.getJSON(walletKey(userID), &w)
	if err != nil || !ok {
		return nil, err
	}
	return &w, nil
}

// GetPosition returns a user's position in a listing, or nil if none.
func (s *Store) GetPosition(userID, listingID string) (*Position, error) {
	var p Position
	ok, err := s.getJSON(positionKey(userID, listingID), &p)
	if err != nil || !ok {
		return nil, err
	}
	return &p, nil
}

// GetListing returns a listing, or nil if none.
func (s *Store) GetListing(listingID string) (*Listing, error) {
	var l Listing
	ok, err := s.getJSON(listingKey(listingID), &l)
	if err != nil || !ok {
		return nil, err
	}
	return &l, nil
}

// PutListing writes a listing directly (admin path, not part of matching).
func (s *Store) PutListing(l *Listing) error {
	data, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("marshal listing: %w", err)
	}
	return s.db.Set(listingKey(l.ID), data, pebble.Sync)
}

// GetOrder resolves an order by ID through the oidx index.
func (s *Store) GetOrder(orderID string) (*Order, error) {
	ref, closer, err := s.db.Get(orderIdxKey(orderID))
	if err == pebble.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	key := append([]byte(nil), ref...)
	closer.Close()

	var o Order
	ok, err := s.getJSON(key, &o)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return &o, nil
}

// PutOrder writes a single order row outside a batch. Used to mark an
// order failed after a commit that never applied.
func (s *Store) PutOrder(o *Order) error {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}
	key := orderKey(o.ListingID, o.CreatedAt, o.ID)
	pb := s.db.NewBatch()
	defer pb.Close()
	if err := pb.Set(key, data, nil); err != nil {
		return err
	}
	if err := pb.Set(orderIdxKey(o.ID), key, nil); err != nil {
		return err
	}
	return s.db.Apply(pb, pebble.Sync)
}

// OpenOrders returns all pending and partial orders for a listing in
// creation-time ascending order — the exact replay order that rebuilds
// FIFO time priority in the in-memory book.
func (s *Store) OpenOrders(listingID string) ([]*Order, error) {
	prefix := orderPrefix(listingID)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var orders []*Order
	for iter.First(); iter.Valid(); iter.Next() {
		var o Order
		if err := json.Unmarshal(iter.Value(), &o); err != nil {
			return nil, fmt.Errorf("decode order %q: %w", iter.Key(), err)
		}
		if o.Status.Open() {
			orders = append(orders, &o)
		}
	}
	return orders, iter.Error()
}

// LastTrade returns the most recent trade for a listing, or nil if the
// listing has never traded.
func (s *Store) LastTrade(listingID string) (*Trade, error) {
	trades, err := s.RecentTrades(listingID, 1)
	if err != nil || len(trades) == 0 {
		return nil, err
	}
	return trades[0], nil
}

// RecentTrades returns up to limit trades for a listing, newest first.
func (s *Store) RecentTrades(listingID string, limit int) ([]*Trade, error) {
	prefix := tradePrefix(listingID)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var trades []*Trade
	for iter.Last(); iter.Valid() && len(trades) < limit; iter.Prev() {
		var t Trade
		if err := json.Unmarshal(iter.Value(), &t); err != nil {
			return nil, fmt.Errorf("decode trade %q: %w", iter.Key(), err)
		}
		trades = append(trades, &t)
	}
	return trades, iter.Error()
}

// WalletTransactions returns up to limit ledger entries for a user,
// newest first.
func (s *Store) WalletTransactions(userID string, limit int) ([]*WalletTransaction, error) {
	prefix := []byte(prefixWalletTx + userID + ":")
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var txs []*WalletTransaction
	for iter.Last(); iter.Valid() && len(txs) < limit; iter.Prev() {
		var tx WalletTransaction
		if err := json.Unmarshal(iter.Value(), &tx); err != nil {
			return nil, fmt.Errorf("decode wallet tx %q: %w", iter.Key(), err)
		}
		txs = append(txs, &tx)
	}
	return txs, iter.Error()
}

func (s *Store) getJSON(key []byte, v any) (bool, error) {
	data, closer, err := s.db.Get(key)
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer closer.Close()
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode %q: %w", key, err)
	}
	return true, nil
}

func setJSON(pb *pebble.Batch, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %q: %w", key, err)
	}
	return pb.Set(key, data, nil)
}
