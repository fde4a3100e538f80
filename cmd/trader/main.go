// Trader node — the execution core of the trading platform.
//
// Architecture:
//
//	main.go              — entry point: loads config, wires the node, waits for SIGINT/SIGTERM
//	engine/engine.go     — execution engine: dispatches commands out, applies broker events
//	database/database.go — in-memory execution database: orders, positions, all indexes
//	order/               — order model, state machine, atomic orders, factory
//	position/            — position model built from fills
//	account/             — brokerage account state
//	clock/               — test (discrete) and live (wall-time) clocks with timers
//	exchange/            — broker gateway adapters: live REST+WS client and the simulator
//	portfolio/           — realized-return analyzer
//	strategy/            — base type strategies embed to drive the engine
package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"

	"tradecore/internal/account"
	"tradecore/internal/clock"
	"tradecore/internal/config"
	"tradecore/internal/database"
	"tradecore/internal/engine"
	"tradecore/internal/exchange"
	"tradecore/internal/portfolio"
	"tradecore/pkg/types"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("TRADER_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	clk := clock.NewLiveClock()
	db := database.NewInMemory(logger)
	acct := account.New()
	analyzer := portfolio.NewAnalyzer(logger)
	eng := engine.New(types.TraderID(cfg.Trader.ID), clk, db, acct, analyzer, logger)

	var client engine.ExecutionClient
	if cfg.DryRun {
		client = exchange.NewSimClient(
			types.AccountID(cfg.Account.ID),
			types.Brokerage(cfg.Account.Brokerage),
			types.Currency(cfg.Account.Currency),
			decimal.NewFromInt(1_000_000),
			clk, eng, logger,
		)
		logger.Warn("dry-run mode: using simulated gateway, no orders leave this process")
	} else {
		auth := exchange.NewAuth(exchange.Credentials{
			APIKey:     cfg.Gateway.APIKey,
			Secret:     cfg.Gateway.Secret,
			Passphrase: cfg.Gateway.Passphrase,
		})
		client = exchange.NewLiveClient(cfg.Gateway.RESTBaseURL, cfg.Gateway.WSEventURL, auth, eng, logger)
	}
	eng.RegisterClient(client)

	if err := client.Connect(); err != nil {
		logger.Error("failed to connect execution client", "error", err)
		os.Exit(1)
	}

	// Prime the account view.
	if err := eng.Execute(&engine.AccountInquiry{CommandMeta: engine.NewCommandMeta(clk.TimeNow())}); err != nil {
		logger.Error("account inquiry failed", "error", err)
	}

	logger.Info("trader node started",
		"trader_id", cfg.Trader.ID,
		"account_id", cfg.Account.ID,
		"dry_run", cfg.DryRun,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	clk.CancelAllTimers()
	if err := client.Disconnect(); err != nil {
		logger.Error("disconnect failed", "error", err)
	}
	client.Dispose()
	db.CheckResiduals()
	logger.Info("trader node stopped",
		"commands", eng.CommandCount(),
		"events", eng.EventCount(),
	)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
