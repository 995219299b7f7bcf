package engine

import (
	"sync"

	"go.uber.org/zap"

	"github.com/tcex/engine/pkg/storage"
	"github.com/tcex/engine/pkg/util"
)

// Registry hands out the single matching session per listing, creating
// sessions lazily on first request for a listing ID. Sessions for
// different listings are fully independent and run in parallel; requests
// for one listing all serialize through its one session.
type Registry struct {
	store     *storage.Store
	clock     util.Clock
	log       *zap.SugaredLogger
	broadcast Broadcaster
	feed      TradeFeed
	depth     int

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry(store *storage.Store, clock util.Clock, log *zap.SugaredLogger, broadcast Broadcaster, feed TradeFeed, snapshotDepth int) *Registry {
	return &Registry{
		store:     store,
		clock:     clock,
		log:       log,
		broadcast: broadcast,
		feed:      feed,
		depth:     snapshotDepth,
		sessions:  make(map[string]*Session),
	}
}

// Session returns the matching session for a listing, constructing it on
// first use. The session rehydrates its book from the durable store
// before serving its first request.
func (r *Registry) Session(listingID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[listingID]; ok {
		return s
	}
	s := newSession(listingID, r.store, r.clock, r.log, r.broadcast, r.feed, r.depth)
	r.sessions[listingID] = s
	return s
}
