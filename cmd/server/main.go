// Package main is the entry point for the lot market API server. It restores
// the market from its journal, wires the HTTP API, WebSocket hub and
// settlement keeper, and serves until interrupted.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/evetabi/lotmarket/internal/api"
	"github.com/evetabi/lotmarket/internal/config"
	"github.com/evetabi/lotmarket/internal/fixedpoint"
	"github.com/evetabi/lotmarket/internal/market"
	"github.com/evetabi/lotmarket/internal/rate"
	"github.com/evetabi/lotmarket/internal/repository"
	"github.com/evetabi/lotmarket/internal/scheduler"
	"github.com/evetabi/lotmarket/internal/service"
	"github.com/evetabi/lotmarket/internal/token"
	"github.com/evetabi/lotmarket/internal/ws"
)

func main() {
	// ── 1. Logger ─────────────────────────────────────────────────────────────
	cfg := config.MustLoad()

	var logHandler slog.Handler
	if cfg.IsProd() {
		logHandler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		logHandler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	logger.Info("starting lot market server", "env", cfg.Server.Env, "port", cfg.Server.Port)

	// ── 2. Root context + signal handling ─────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── 3. Database + migrations ──────────────────────────────────────────────
	db, err := repository.Open(ctx, cfg.DB)
	if err != nil {
		logger.Error("database connection failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("database connected", "driver", cfg.DB.Driver)

	if err = repository.Migrate(ctx, db, "migrations"); err != nil {
		logger.Error("migrations failed", "err", err)
		os.Exit(1)
	}

	store := repository.NewStore(db)
	snap, err := store.Load(ctx)
	if err != nil {
		logger.Error("journal load failed", "err", err)
		os.Exit(1)
	}

	// ── 4. Rate source ────────────────────────────────────────────────────────
	src, closeSrc, err := buildRateSource(cfg)
	if err != nil {
		logger.Error("rate source setup failed", "err", err)
		os.Exit(1)
	}
	defer closeSrc()

	step, err := fixedpoint.FromDecimal(cfg.Market.PriceStep)
	if err != nil {
		logger.Error("invalid price step", "err", err)
		os.Exit(1)
	}
	rates, err := rate.NewAdapter(src, step)
	if err != nil {
		logger.Error("rate adapter setup failed", "err", err)
		os.Exit(1)
	}

	// ── 5. Asset ledger ───────────────────────────────────────────────────────
	ledger := token.NewLedger(cfg.Market.AssetAddress, cfg.Market.AssetDecimals)
	if float := cfg.Token.EngineFloat.Shift(int32(cfg.Market.AssetDecimals)); float.IsPositive() {
		if err = ledger.Mint(cfg.Market.EngineAddress, float.BigInt()); err != nil {
			logger.Error("engine float mint failed", "err", err)
			os.Exit(1)
		}
	}
	if len(snap.Frames) > 0 {
		logger.Warn("in-process ledger starts empty; restored pools are backed only by the engine float",
			"frames", len(snap.Frames))
	}

	// ── 6. Services + WebSocket hub ───────────────────────────────────────────
	authSvc := service.NewAuthService(cfg)
	hub := ws.NewHub(authSvc, cfg.Server.AllowedOrigins, logger)
	go hub.Run(ctx)
	logger.Info("websocket hub started")

	// ── 7. Market ─────────────────────────────────────────────────────────────
	mkt, err := market.Restore(cfg.Market, market.Deps{
		Asset:    ledger,
		Rates:    rates,
		Journal:  repository.NewJournal(db),
		Notifier: hub,
		Logger:   logger,
	}, snap)
	if err != nil {
		logger.Error("market restore failed", "err", err)
		os.Exit(1)
	}

	// ── 8. Keeper ─────────────────────────────────────────────────────────────
	var keeper *scheduler.Scheduler
	if cfg.Keeper.Enabled {
		keeper = scheduler.NewScheduler(mkt, hub, cfg.Market.EngineAddress, cfg.Keeper, logger)
		if err = keeper.Start(ctx); err != nil {
			logger.Error("keeper start failed", "err", err)
			os.Exit(1)
		}
	}

	// ── 9. HTTP Router ────────────────────────────────────────────────────────
	router := api.SetupRouter(api.RouterDeps{
		AuthSvc: authSvc,
		Market:  mkt,
		Store:   store,
		Ledger:  ledger,
		Hub:     hub,
		Cfg:     cfg,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// ── 10. Start server ──────────────────────────────────────────────────────
	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
			stop() // trigger graceful shutdown
		}
	}()

	// ── 11. Graceful shutdown ─────────────────────────────────────────────────
	<-ctx.Done()
	logger.Info("shutdown signal received, draining connections…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err = srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "err", err)
	}
	if keeper != nil {
		keeper.Stop()
	}
	logger.Info("server stopped cleanly")
}

// buildRateSource returns the configured spot source and a cleanup func.
func buildRateSource(cfg *config.Config) (rate.Source, func(), error) {
	noop := func() {}
	switch cfg.Price.Source {
	case "static":
		r, err := fixedpoint.FromDecimal(cfg.Price.StaticPrice)
		if err != nil {
			return nil, noop, fmt.Errorf("static price: %w", err)
		}
		return rate.NewStaticSource(r), noop, nil

	case "exchange":
		return rate.NewExchangeSource(cfg.Price), noop, nil

	case "pool":
		client, err := ethclient.Dial(cfg.Price.RPCURL)
		if err != nil {
			return nil, noop, fmt.Errorf("dial %s: %w", cfg.Price.RPCURL, err)
		}
		scale, err := fixedpoint.FromDecimal(cfg.Price.PoolScale)
		if err != nil {
			client.Close()
			return nil, noop, fmt.Errorf("pool scale: %w", err)
		}
		return rate.NewPoolSource(client, cfg.Market.PriceSourceAddress, scale), client.Close, nil
	}
	return nil, noop, fmt.Errorf("unknown price source %q", cfg.Price.Source)
}
