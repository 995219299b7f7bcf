// Package api exposes the engine over REST (order entry, cancellation,
// market data, wallets) and WebSocket (live book and trade deltas). It is
// the request/response boundary the upstream portal calls into; auth and
// user management live upstream.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/tcex/engine/pkg/engine"
	"github.com/tcex/engine/pkg/risk"
	"github.com/tcex/engine/pkg/storage"
	"github.com/tcex/engine/pkg/util"
)

// Server handles REST API and WebSocket connections.
type Server struct {
	registry *engine.Registry
	gate     *risk.Gate
	wallets  *risk.Wallets
	store    *storage.Store
	clock    util.Clock
	log      *zap.SugaredLogger

	router   *mux.Router
	hub      *Hub
	validate *validator.Validate
	depth    int

	httpSrv *http.Server
}

func NewServer(registry *engine.Registry, gate *risk.Gate, wallets *risk.Wallets, store *storage.Store, clock util.Clock, log *zap.SugaredLogger, hub *Hub, defaultDepth int) *Server {
	s := &Server{
		registry: registry,
		gate:     gate,
		wallets:  wallets,
		store:    store,
		clock:    clock,
		log:      log,
		router:   mux.NewRouter(),
		hub:      hub,
		validate: validator.New(),
		depth:    defaultDepth,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/v1").Subrouter()

	// Listing admin
	api.HandleFunc("/listings", s.handleCreateListing).Methods("POST")
	api.HandleFunc("/listings/{listingID}", s.handleGetListing).Methods("GET")

	// Order entry + market data
	api.HandleFunc("/listings/{listingID}/orders", s.handlePlaceOrder).Methods("POST")
	api.HandleFunc("/listings/{listingID}/orders/{orderID}", s.handleCancelOrder).Methods("DELETE")
	api.HandleFunc("/listings/{listingID}/orderbook", s.handleGetOrderBook).Methods("GET")
	api.HandleFunc("/listings/{listingID}/trades", s.handleGetTrades).Methods("GET")

	// Wallets
	api.HandleFunc("/wallets/{userID}", s.handleGetWallet).Methods("GET")
	api.HandleFunc("/wallets/{userID}/deposit", s.handleDeposit).Methods("POST")
	api.HandleFunc("/wallets/{userID}/withdraw", s.handleWithdraw).Methods("POST")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start runs the WebSocket hub and serves HTTP until Shutdown.
func (s *Server) Start(addr string, allowedOrigins []string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	s.httpSrv = &http.Server{Addr: addr, Handler: c.Handler(s.router)}
	s.log.Infow("api_server_starting", "addr", addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "tcex-engine"})
}

func respondJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, code int, msg, detail, status string) {
	respondJSON(w, code, ErrorResponse{Error: msg, Detail: detail, Status: status})
}
