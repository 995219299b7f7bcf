package storage

import (
	"fmt"
	"time"
)

// Pebble key schema. Prefix-based for range scans; timestamps are
// zero-padded unix nanos so lexicographic order is creation order.
//
//   ord:{listing}:{nanos:020d}:{orderID}  → Order
//   oidx:{orderID}                        → primary order key (point lookup)
//   trd:{listing}:{nanos:020d}:{tradeID}  → Trade
//   wal:{userID}                          → Wallet
//   wtx:{userID}:{nanos:020d}:{txID}      → WalletTransaction
//   pos:{userID}:{listing}                → Position
//   lst:{listingID}                       → Listing

const (
	prefixOrder    = "ord:"
	prefixOrderIdx = "oidx:"
	prefixTrade    = "trd:"
	prefixWallet   = "wal:"
	prefixWalletTx = "wtx:"
	prefixPosition = "pos:"
	prefixListing  = "lst:"
)

func orderKey(listingID string, createdAt time.Time, orderID string) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%s", prefixOrder, listingID, createdAt.UnixNano(), orderID))
}

func orderPrefix(listingID string) []byte {
	return []byte(prefixOrder + listingID + ":")
}

func orderIdxKey(orderID string) []byte {
	return []byte(prefixOrderIdx + orderID)
}

func tradeKey(listingID string, createdAt time.Time, tradeID string) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%s", prefixTrade, listingID, createdAt.UnixNano(), tradeID))
}

func tradePrefix(listingID string) []byte {
	return []byte(prefixTrade + listingID + ":")
}

func walletKey(userID string) []byte {
	return []byte(prefixWallet + userID)
}

func walletTxKey(userID string, createdAt time.Time, txID string) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%s", prefixWalletTx, userID, createdAt.UnixNano(), txID))
}

func positionKey(userID, listingID string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixPosition, userID, listingID))
}

func listingKey(listingID string) []byte {
	return []byte(prefixListing + listingID)
}

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
