package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"signal-trade-bot-go/internal/binance"
	"signal-trade-bot-go/internal/config"
	"signal-trade-bot-go/internal/database"
	"signal-trade-bot-go/internal/logger"
	"signal-trade-bot-go/internal/market"
	"signal-trade-bot-go/internal/report"
	"signal-trade-bot-go/internal/signals"
	"signal-trade-bot-go/internal/store"
	"signal-trade-bot-go/internal/trader"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func main() {
	// Load application configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		panic(fmt.Sprintf("could not load config: %v", err))
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("Configuration loaded")

	// Initialize database and the store on top of it
	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connection successful and schema migrated.")

	st := store.NewGormStore(db, store.ProfileDefaults{
		UseTestnet:           cfg.Binance.Testnet,
		LimitDailyPercent:    decimal.NewFromFloat(cfg.Trading.LimitDailyPercent),
		LimitWeeklyPercent:   decimal.NewFromFloat(cfg.Trading.LimitWeeklyPercent),
		LimitMaxTradesPerDay: cfg.Trading.LimitMaxTradesPerDay,
	})

	// Exchange clients are built per user because orders sign with that
	// user's keys.
	newClient := func(apiKey, secretKey string, testnet bool) binance.RestClientInterface {
		return binance.NewRestClient(apiKey, secretKey, testnet, &cfg.Binance, log)
	}

	engine := trader.NewEngine(log, st, newClient, cfg.Trading.QuoteAsset)
	reports := report.NewAggregator(st)

	// Telegram front end
	bot, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		log.Fatal("Failed to connect to Telegram", zap.Error(err))
	}
	h := newHandler(log, bot, st, engine, reports)

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
		<-sigchan
		log.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	// Status server
	api := trader.NewAPIServer(engine, cfg.Server.Port, log)
	api.Start()

	// Background indicator signal poller
	marketClient := market.NewClient(cfg.Binance.Testnet, log)
	poller := signals.NewPoller(
		log,
		marketClient,
		cfg.Signals.Symbols,
		cfg.Signals.Interval,
		cfg.Signals.CandleLimit,
		time.Duration(cfg.Signals.PollSeconds)*time.Second,
		h.broadcastSignals,
	)
	go poller.Run(ctx)

	// Blocks until shutdown
	h.run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := api.Stop(shutdownCtx); err != nil {
		log.Error("Failed to stop API server", zap.Error(err))
	}

	log.Info("Bot has been shut down.")
}
