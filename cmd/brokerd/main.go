package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/paperledger/brokerd/params"
	"github.com/paperledger/brokerd/pkg/api"
	"github.com/paperledger/brokerd/pkg/broker"
	"github.com/paperledger/brokerd/pkg/feed"
	"github.com/paperledger/brokerd/pkg/ledger"
	"github.com/paperledger/brokerd/pkg/marketdata"
	"github.com/paperledger/brokerd/pkg/util"
)

func newLogger(path string) (*zap.Logger, error) {
	if path == "" {
		return util.NewLogger()
	}
	return util.NewLoggerWithFile(path)
}

func main() {
	cfg, err := params.Load("") // "" means load from .env in current directory
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := newLogger(cfg.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	if balance, err := decimal.NewFromString(cfg.StartingBalance); err == nil && balance.IsPositive() {
		broker.DefaultStartingBalance = balance
	}

	// ---- Ledger store ----
	var store broker.Store
	switch cfg.DBBackend {
	case "memory":
		store = ledger.NewMemory()
	case "pebble":
		store, err = ledger.NewPebble(cfg.DBPath)
	case "postgres":
		store, err = ledger.NewPostgres(context.Background(), cfg.DatabaseURL)
	default:
		sugar.Fatalw("unknown_db_backend", "backend", cfg.DBBackend)
	}
	if err != nil {
		sugar.Fatalw("store_init_failed", "backend", cfg.DBBackend, "err", err)
	}
	defer store.Close()
	sugar.Infow("store_ready", "backend", cfg.DBBackend)

	// ---- Market data ----
	var oracle broker.PriceOracle
	switch cfg.PriceOracle {
	case "static":
		oracle = marketdata.NewStaticDev()
	default:
		oracle = marketdata.NewYahoo()
	}
	sugar.Infow("oracle_ready", "provider", cfg.PriceOracle)

	// ---- Trade engine ----
	engine := broker.NewEngine(store, oracle, util.RealClock{}, sugar)
	if len(cfg.KafkaBrokers) > 0 {
		kafkaFeed := feed.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kafkaFeed.Close()
		engine.WithFeed(kafkaFeed)
		sugar.Infow("trade_feed_ready", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	// ---- Analytics ----
	sectors, err := broker.NewSectorCache(cfg.SectorCacheTTL)
	if err != nil {
		sugar.Fatalw("sector_cache_init_failed", "err", err)
	}
	analytics := broker.NewAnalytics(store, oracle, sectors, cfg.RiskFreeRate, sugar)

	// ---- API ----
	server := api.NewServer(engine, analytics, cfg.CORSOrigins, sugar)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start(cfg.APIAddr) }()

	select {
	case err := <-errCh:
		if err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	case <-ctx.Done():
		sugar.Infow("shutdown_signal_received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			sugar.Warnw("shutdown_failed", "err", err)
		}
	}
	sugar.Infow("brokerd_stopped")
}
