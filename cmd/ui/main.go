package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/hanyx21/BOOM/internal/config"
	"github.com/hanyx21/BOOM/internal/ledger"
	"github.com/hanyx21/BOOM/internal/logger"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if cfg.Database.DSN == "" {
		log.Fatal("The dashboard requires database.dsn to be set (the engine's trade history mirror)")
	}

	// Connect to the trade history database
	history, err := ledger.NewHistoryRecorder(cfg.Database.DSN, log)
	if err != nil {
		log.Fatal("Failed to connect to history database", zap.Error(err))
	}

	// Setup HTTP server
	mux := http.NewServeMux()

	// Create a handler that has access to the logger and db
	apiHandler := NewAPIHandler(log, history.DB(), cfg.Ledger.Path)

	// API endpoints
	mux.HandleFunc("/api/trades", apiHandler.TradesHandler)
	mux.HandleFunc("/api/statistics", apiHandler.StatisticsHandler)
	mux.HandleFunc("/api/ledger", apiHandler.LedgerHandler)

	// Static file serving for CSS, JS, etc.
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir("web/static"))))

	// HTML template serving
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, "web/templates/index.html")
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port+1)
	log.Info("Starting dashboard server", zap.String("address", addr))

	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatal("Dashboard server failed", zap.Error(err))
	}
}
