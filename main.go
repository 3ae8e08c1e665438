package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"signal-trader/internal/api"
	"signal-trader/internal/autotrade"
	"signal-trader/internal/engine"
	"signal-trader/internal/events"
	"signal-trader/internal/gateway"
	"signal-trader/internal/indicators"
	"signal-trader/internal/market"
	"signal-trader/internal/monitor"
	"signal-trader/internal/order"
	"signal-trader/internal/reconciliation"
	"signal-trader/internal/risk"
	tradesignal "signal-trader/internal/signal"
	"signal-trader/pkg/cache"
	"signal-trader/pkg/config"
	"signal-trader/pkg/crypto"
	"signal-trader/pkg/db"
	"signal-trader/pkg/exchanges/common"
	"signal-trader/pkg/instance"
	"signal-trader/pkg/logging"
	marketbinance "signal-trader/pkg/market/binance"
)

func main() {
	issueFor := flag.String("issue-token", "", "print a bearer token for the given user id and exit")
	tokenTTL := flag.Duration("token-ttl", 72*time.Hour, "lifetime of -issue-token tokens")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	if *issueFor != "" {
		tok, err := api.IssueToken(*issueFor, cfg.JWTSecret, *tokenTTL)
		if err != nil {
			log.WithError(err).Fatal("issue token")
		}
		fmt.Println(tok)
		return
	}

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("signal-trader stopped")
	}
}

func run(cfg *config.Config, log *logrus.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	instanceID := instance.ID()
	log.WithFields(logrus.Fields{
		"instance": instanceID,
		"port":     cfg.Port,
		"db":       cfg.DBPath,
		"dry_run":  cfg.DryRun,
	}).Info("starting signal-trader")

	database, err := db.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	// Credentials cannot be stored or read without the master key; dry run
	// tolerates its absence.
	var opener gateway.Opener
	vault, err := crypto.VaultFromEnv(os.LookupEnv)
	switch {
	case err == nil:
		opener = vault
	case cfg.DryRun:
		log.WithError(err).Warn("no master key, exchange connections will not be persisted")
	default:
		return fmt.Errorf("load master key: %w", err)
	}

	baseConfig := risk.DefaultConfig()
	if cfg.AutoTradingConfigPath != "" {
		if baseConfig, err = risk.LoadConfigFile(cfg.AutoTradingConfigPath); err != nil {
			return fmt.Errorf("load auto-trading defaults: %w", err)
		}
	}

	bus := events.NewBus()
	prices := cache.NewPriceCache()
	if cfg.PriceMaxAge > 0 {
		prices.StartCleanup(ctx, time.Minute, cfg.PriceMaxAge)
	}
	rest := marketbinance.NewClient(cfg.BinanceREST, cfg.ExchangeTimeout)
	priceProvider := market.NewPrices(prices, rest, cfg.PriceMaxAge, log)

	window := indicators.NewWindow(7, 25, 14, 200)
	if cfg.UseMockFeed {
		market.NewMockFeed(prices, bus, cfg.FeedSymbols, log).Start(ctx)
	} else {
		seedWindow(ctx, rest, window, cfg.FeedSymbols, log)
		stream := marketbinance.NewStreamClient(cfg.BinanceWS, log)
		market.NewFeed(stream, prices, bus, cfg.FeedSymbols, log).Start(ctx)
	}

	registry := gateway.DefaultRegistry(common.Options{Timeout: cfg.ExchangeTimeout})
	pool := gateway.NewManager(database.Credentials(), opener, registry, gateway.DefaultConfig(), log)
	pool.Start(ctx)
	defer pool.Stop()

	metrics := monitor.NewSystemMetrics()
	monitor.New(bus, metrics, monitor.LogSink{Log: log}, log).Start(ctx)

	hub := tradesignal.NewHub(bus, log)
	svc := engine.New(engine.Config{
		DB:              database,
		Vault:           vault,
		Registry:        registry,
		Pool:            pool,
		Bus:             bus,
		Prices:          priceProvider,
		Cache:           prices,
		Signals:         hub,
		Window:          window,
		Metrics:         metrics,
		BaseConfig:      baseConfig,
		BalanceAsset:    cfg.BalanceAsset,
		ExchangeTimeout: cfg.ExchangeTimeout,
		InstanceID:      instanceID,
		DryRun:          cfg.DryRun,
		Paper: order.PaperConfig{
			InitialBalance: decimal.NewFromFloat(cfg.DryRunInitialBalance),
			Asset:          cfg.BalanceAsset,
			FeeRate:        decimal.NewFromFloat(cfg.DryRunFeeRate),
			SlippageBps:    cfg.DryRunSlippageBps,
		},
		Log: log,
	})
	svc.Start(ctx)
	reconciler := reconciliation.NewService(svc, monitor.LogSink{Log: log}, 5*time.Minute, log)
	reconciler.Start(ctx)
	svc.Reconciler = reconciler
	if _, err := svc.RestoreEngines(ctx); err != nil {
		log.WithError(err).Warn("auto-trading engines not restored")
	}
	autotrade.NewWatcher(svc.Users(), bus, hub, log).Start(ctx)
	svc.Users().StartCleanup(ctx, time.Minute, cfg.UserIdleTTL)
	svc.Users().StartDailyReset(ctx)

	if !log.IsLevelEnabled(logrus.DebugLevel) {
		gin.SetMode(gin.ReleaseMode)
	}
	server := api.NewServer(svc, bus, api.SystemMeta{
		DryRun:      cfg.DryRun,
		Symbols:     cfg.FeedSymbols,
		UseMockFeed: cfg.UseMockFeed,
		Version:     version(),
	}, cfg.JWTSecret, log)
	server.StartCleanup(ctx)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", httpServer.Addr).Info("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	return httpServer.Shutdown(shutdownCtx)
}

// seedWindow loads recent one-minute closes so indicators are usable before
// the stream has produced enough ticks.
func seedWindow(ctx context.Context, rest *marketbinance.Client, w *indicators.Window, symbols []string, log logrus.FieldLogger) {
	for _, sym := range symbols {
		klines, err := rest.Klines(ctx, sym, "1m", 200)
		if err != nil {
			log.WithError(err).WithField("symbol", sym).Warn("kline seed failed")
			continue
		}
		closes := make([]float64, 0, len(klines))
		for _, k := range klines {
			closes = append(closes, k.Close)
		}
		w.Seed(sym, closes)
	}
}

func version() string {
	if v := os.Getenv("APP_VERSION"); v != "" {
		return v
	}
	return "dev"
}
