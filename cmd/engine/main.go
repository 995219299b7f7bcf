package main

import (
	"context"
	"log"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/tcex/engine/params"
	"github.com/tcex/engine/pkg/api"
	"github.com/tcex/engine/pkg/decimal"
	"github.com/tcex/engine/pkg/engine"
	"github.com/tcex/engine/pkg/feed"
	"github.com/tcex/engine/pkg/risk"
	"github.com/tcex/engine/pkg/storage"
	"github.com/tcex/engine/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("") // "" means load from .env in current directory

	// Setup logging (console, plus file when configured)
	logFile := cfg.LogFile
	if logFile == "" {
		logFile = filepath.Join(cfg.Storage.DataDir, "engine.log")
	}
	logger, err := util.NewLoggerWithFile(logFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", logFile)

	band, err := decimal.Parse(cfg.Engine.PriceBand)
	if err != nil {
		sugar.Fatalw("invalid_price_band", "value", cfg.Engine.PriceBand, "err", err)
	}

	// ---- Durable store ----
	store, err := storage.Open(filepath.Join(cfg.Storage.DataDir, "db"))
	if err != nil {
		sugar.Fatalw("store_open_failed", "dir", cfg.Storage.DataDir, "err", err)
	}
	defer store.Close()

	clock := util.RealClock{}

	// ---- Risk ----
	wallets := risk.NewWallets(store, clock, sugar)
	gate := risk.NewGate(store, wallets, clock, sugar, band)

	// ---- Live subscribers ----
	hub := api.NewHub(sugar)

	// ---- Trade tape fan-out (optional) ----
	var tradeFeed engine.TradeFeed
	var publisher *feed.Publisher
	if len(cfg.Feed.Brokers) > 0 {
		publisher = feed.NewPublisher(cfg.Feed.Brokers, cfg.Feed.Topic, sugar)
		tradeFeed = publisher
		sugar.Infow("trade_feed_enabled", "brokers", cfg.Feed.Brokers, "topic", cfg.Feed.Topic)
	} else {
		tradeFeed = feed.Nop{}
	}

	// ---- Matching sessions ----
	registry := engine.NewRegistry(store, clock, sugar, hub, tradeFeed, cfg.Engine.DefaultDepth)

	// ---- API ----
	server := api.NewServer(registry, gate, wallets, store, clock, sugar, hub, cfg.Engine.DefaultDepth)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.HTTP.Addr, cfg.HTTP.AllowedOrigins)
	}()

	select {
	case <-ctx.Done():
		sugar.Infow("shutdown_signal_received")
	case err := <-errCh:
		if err != nil {
			sugar.Errorw("server_failed", "err", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		sugar.Errorw("shutdown_failed", "err", err)
	}
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			sugar.Errorw("feed_close_failed", "err", err)
		}
	}
	sugar.Infow("engine_stopped")
}
