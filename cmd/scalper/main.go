package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hanyx21/BOOM/internal/binance"
	"github.com/hanyx21/BOOM/internal/config"
	"github.com/hanyx21/BOOM/internal/engine"
	"github.com/hanyx21/BOOM/internal/ledger"
	"github.com/hanyx21/BOOM/internal/logger"
	"github.com/hanyx21/BOOM/internal/metrics"
	"github.com/hanyx21/BOOM/internal/risk"
	"github.com/hanyx21/BOOM/internal/scoring"
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

	// Initialize Binance REST client and verify connectivity
	restClient := binance.NewRestClient(&cfg.Binance, log)
	if _, err := restClient.GetServerTime(context.Background()); err != nil {
		log.Fatal("Failed to connect to Binance API", zap.Error(err))
	}
	log.Info("Successfully connected to Binance API")

	// Initialize the position ledger and its observers
	book, err := ledger.NewLedger(cfg.Ledger, cfg.Scoring.TargetPercentage, log)
	if err != nil {
		log.Fatal("Failed to load ledger", zap.Error(err))
	}
	metrics.SeedFromPortfolio(book.Portfolio())
	book.AddObserver(ledger.NewLogNotifier(log))
	book.AddObserver(metrics.LedgerObserver{})

	if cfg.Database.DSN != "" {
		history, err := ledger.NewHistoryRecorder(cfg.Database.DSN, log)
		if err != nil {
			log.Fatal("Failed to open trade history database", zap.Error(err))
		}
		book.AddObserver(history)
		log.Info("Trade history mirror enabled", zap.String("dsn", cfg.Database.DSN))
	}

	scorer := scoring.NewScorer(restClient, &cfg.Scoring, log)
	riskMgr := risk.NewManager(cfg.Risk)

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
		<-sigchan
		log.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	// Initialize and run the trading engine
	tradeEngine := engine.NewEngine(log, &cfg, restClient, scorer, riskMgr, book)

	api := engine.NewAPIServer(tradeEngine, log)
	api.Start()

	tradeEngine.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := api.Stop(shutdownCtx); err != nil {
		log.Error("API server shutdown failed", zap.Error(err))
	}

	log.Info("Bot has been shut down.")
}
