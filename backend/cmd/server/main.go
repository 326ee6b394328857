// Command server runs the agent gateway: registration, balances, trades and token deployments
// over HTTP, with live activity and price streams over websockets.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/user/agentdesk/backend/internal/activity"
	"github.com/user/agentdesk/backend/internal/auth"
	"github.com/user/agentdesk/backend/internal/cache/redis"
	"github.com/user/agentdesk/backend/internal/chain"
	"github.com/user/agentdesk/backend/internal/config"
	"github.com/user/agentdesk/backend/internal/credentials"
	"github.com/user/agentdesk/backend/internal/database"
	"github.com/user/agentdesk/backend/internal/guard"
	"github.com/user/agentdesk/backend/internal/handlers"
	"github.com/user/agentdesk/backend/internal/ledger"
	"github.com/user/agentdesk/backend/internal/ticker"
	"github.com/user/agentdesk/backend/internal/trading"
	ws "github.com/user/agentdesk/backend/internal/websocket"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout = 10 * time.Second
	lockTTLMargin   = 5 * time.Second
)

func main() {
	configPath := flag.String("config", "", "path to an optional TOML configuration file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", slog.String("path", *configPath), slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("gateway exited with error", slog.String("error", err.Error()))
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
	logger.Info("gateway stopped")
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	activityHub := ws.NewHub("activity", logger)
	priceHub := ws.NewHub("prices", logger)

	// Persistence is optional; without a DSN all state lives in memory.
	var db *database.DB
	agentOpts := []credentials.Option{credentials.WithWallets(auth.EphemeralWallets{}), credentials.WithLogger(logger)}
	if cfg.Postgres.DSN != "" {
		var err error
		if db, err = database.Open(ctx, cfg.Postgres.DSN, logger); err != nil {
			return err
		}
		defer db.Close()
		if err := db.EnsureSchema(ctx); err != nil {
			return err
		}
		agentOpts = append(agentOpts, credentials.WithJournal(db))
	}
	agents := credentials.NewStore(agentOpts...)

	feed := activity.NewFeed(cfg.Activity.BufferSize, activityHub, agents, logger)
	ledgerOpts := []ledger.Option{ledger.WithEvents(feed), ledger.WithLogger(logger)}
	if db != nil {
		ledgerOpts = append(ledgerOpts, ledger.WithJournal(db))
	}
	book := ledger.New(ledgerOpts...)

	if db != nil {
		snap, err := db.LoadSnapshot(ctx)
		if err != nil {
			return err
		}
		if err := agents.Restore(snap.Agents, snap.RetiredKeys); err != nil {
			return err
		}
		if err := book.Restore(snap.Balances, snap.Trades, snap.Deployments); err != nil {
			return err
		}
		logger.Info("state restored",
			slog.Int("agents", len(snap.Agents)),
			slog.Int("trades", len(snap.Trades)),
			slog.Int("deployments", len(snap.Deployments)),
		)
	}

	guardOpts := []guard.Option{
		guard.WithLockTimeout(cfg.LockTimeout()),
		guard.WithReplay(guard.NewReplay(cfg.Trading.IdempotencyTTL.Duration)),
		guard.WithLogger(logger),
	}
	if cfg.Redis.Addr != "" {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return err
		}
		defer rc.Close()
		// A lock is held for a whole settlement, so its TTL must outlive one.
		ttl := cfg.SettlementTimeout() + cfg.LockTimeout() + lockTTLMargin
		guardOpts = append(guardOpts, guard.WithDistributedLocker(redis.NewLocker(rc, ttl, cfg.Redis.KeyPrefix)))
	}
	g := guard.New(guardOpts...)

	var executor chain.Executor
	if cfg.ChainExecutorURL != "" {
		signer, err := auth.NewIntentSigner(cfg.Chain.ExecutorSecret, time.Minute)
		if err != nil {
			return err
		}
		executor = chain.NewHTTPExecutor(cfg.ChainExecutorURL, signer, &http.Client{})
		logger.Info("using chain executor", slog.String("url", cfg.ChainExecutorURL))
	} else {
		executor = chain.NewLoopback(cfg.Chain.LoopbackLatency.Duration)
		logger.Warn("no chain_executor_url configured, settling against the loopback executor")
	}

	svc := trading.NewService(book, g, executor, trading.Config{
		SettlementTimeout: cfg.SettlementTimeout(),
		SupportedChains:   cfg.Trading.SupportedChains,
		DefaultChain:      cfg.Trading.DefaultChain,
	}, logger)
	if _, err := svc.FailInterrupted(ctx); err != nil {
		return err
	}

	var prices *ticker.Ticker
	if cfg.Prices.Enabled {
		prices = ticker.New(cfg.PriceFeedURL, cfg.Prices.CoinIDs, cfg.Prices.PollInterval.Duration, priceHub, logger)
	}

	grp, gctx := errgroup.WithContext(ctx)
	app := handlers.NewApp(handlers.Deps{
		Agents:      agents,
		Ledger:      book,
		Trading:     svc,
		Activity:    feed,
		Prices:      prices,
		ActivityHub: activityHub,
		PriceHub:    priceHub,
		AdminToken:  cfg.Server.AdminToken,
		CORSOrigins: cfg.Server.CORSOrigins,
		Logger:      logger,
		BaseContext: gctx,
	})

	grp.Go(func() error { return activityHub.Run(gctx) })
	grp.Go(func() error { return priceHub.Run(gctx) })
	grp.Go(func() error { return g.Run(gctx) })
	if prices != nil {
		grp.Go(func() error { return prices.Run(gctx) })
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	grp.Go(func() error {
		logger.Info("gateway listening", slog.String("addr", addr), slog.Int("agents", agents.Count()))
		if err := app.Listen(addr); err != nil {
			return fmt.Errorf("listen %s: %w", addr, err)
		}
		return nil
	})
	grp.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := app.ShutdownWithContext(sctx); err != nil {
			logger.Error("http shutdown", slog.String("error", err.Error()))
		}
		// Settlements run detached from requests; let them reach a terminal state.
		return svc.Wait(sctx)
	})

	if err := grp.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
