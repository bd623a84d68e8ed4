package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// APIServer exposes the engine's state over HTTP: status, health, the raw
// ledger file, and prometheus metrics. It is read-only; the engine has no
// remote command surface beyond being startable/stoppable as a process.
type APIServer struct {
	server *http.Server
	engine *Engine
	logger *zap.Logger
}

// NewAPIServer creates a new APIServer on the configured port.
func NewAPIServer(engine *Engine, logger *zap.Logger) *APIServer {
	s := &APIServer{
		engine: engine,
		logger: logger.Named("api-server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.statusHandler)
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/ledger", s.ledgerHandler)
	mux.Handle("/metrics", promhttp.Handler())

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", engine.cfg.Server.Port),
		Handler: mux,
	}
	return s
}

// Start runs the HTTP server in a new goroutine.
func (s *APIServer) Start() {
	s.logger.Info("Starting API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Error("API server failed", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *APIServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server...")
	return s.server.Shutdown(ctx)
}

func (s *APIServer) statusHandler(w http.ResponseWriter, r *http.Request) {
	p := s.engine.book.Portfolio()
	status := struct {
		StartTime     string  `json:"start_time"`
		Uptime        string  `json:"uptime"`
		UniverseSize  int     `json:"universe_size"`
		OpenPositions int     `json:"open_positions"`
		RealizedPL    float64 `json:"realized_pl"`
		WinRate       float64 `json:"win_rate"`
	}{
		StartTime:     s.engine.StartTime.Format(time.RFC3339),
		Uptime:        time.Since(s.engine.StartTime).String(),
		UniverseSize:  len(s.engine.Universe()),
		OpenPositions: p.OpenPositions,
		RealizedPL:    p.RealizedPL,
		WinRate:       p.WinRate,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.Error("Failed to write status response", zap.Error(err))
		http.Error(w, "Failed to encode status", http.StatusInternalServerError)
	}
}

func (s *APIServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}

// ledgerHandler serves the persisted ledger file verbatim, the engine's one
// externally readable state artifact.
func (s *APIServer) ledgerHandler(w http.ResponseWriter, r *http.Request) {
	data, err := os.ReadFile(s.engine.book.Path())
	if err != nil {
		s.logger.Error("Failed to read ledger file", zap.Error(err))
		http.Error(w, "Failed to read ledger", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}
