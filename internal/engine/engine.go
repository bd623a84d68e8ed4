// Package engine orchestrates the scan/monitor trading loop.
package engine

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hanyx21/BOOM/internal/binance"
	"github.com/hanyx21/BOOM/internal/config"
	"github.com/hanyx21/BOOM/internal/ledger"
	"github.com/hanyx21/BOOM/internal/metrics"
	"github.com/hanyx21/BOOM/internal/risk"
	"github.com/hanyx21/BOOM/internal/scoring"
	"go.uber.org/zap"
)

// Scorer is the scoring surface the engine consumes.
type Scorer interface {
	ScoreAll(ctx context.Context, pairs []string) []scoring.PairScore
}

// Engine alternates scan phases (open new positions) with monitor phases
// (poll until flat), refreshing the tradable universe between cycles.
// Scan and monitor never run concurrently; pairs are processed sequentially.
type Engine struct {
	logger *zap.Logger
	cfg    *config.Config
	client binance.MarketDataClient
	scorer Scorer
	risk   *risk.Manager
	book   *ledger.Ledger

	// universe is read by the HTTP status surface while the loop replaces it.
	mu       sync.RWMutex
	universe []string

	StartTime time.Time
}

// NewEngine creates a new trading engine.
func NewEngine(logger *zap.Logger, cfg *config.Config, client binance.MarketDataClient,
	scorer Scorer, riskMgr *risk.Manager, book *ledger.Ledger) *Engine {
	return &Engine{
		logger:    logger,
		cfg:       cfg,
		client:    client,
		scorer:    scorer,
		risk:      riskMgr,
		book:      book,
		universe:  append([]string(nil), cfg.Trading.TradePairs...),
		StartTime: time.Now(),
	}
}

// Universe returns a copy of the current tradable pair list.
func (e *Engine) Universe() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]string(nil), e.universe...)
}

func (e *Engine) setUniverse(pairs []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.universe = pairs
}

// Run starts the engine's main loop and blocks until ctx is cancelled.
// Persistence failures are fatal: trading blind is worse than stopping.
func (e *Engine) Run(ctx context.Context) {
	e.logger.Info("Initializing trading engine...")
	if err := e.initialize(ctx); err != nil {
		e.logger.Fatal("Failed to initialize engine", zap.Error(err))
	}
	e.logger.Info("Engine initialized", zap.Int("universe", len(e.Universe())))

	pause := time.Duration(e.cfg.Trading.ScanPauseSec) * time.Second

	for {
		if ctx.Err() != nil {
			e.logger.Info("Stopping trading engine...")
			return
		}

		opened, err := e.scan(ctx)
		if err != nil {
			e.logger.Fatal("Scan failed on persistence", zap.Error(err))
		}
		metrics.ScanCycles.Inc()

		if e.book.HasOpen() {
			if err := e.monitor(ctx); err != nil {
				e.logger.Fatal("Monitor failed on persistence", zap.Error(err))
			}
		} else if opened == 0 {
			e.logger.Info("No trades opened on this scan")
		}

		if ctx.Err() != nil {
			e.logger.Info("Stopping trading engine...")
			return
		}
		e.refreshUniverse(ctx)

		select {
		case <-ctx.Done():
		case <-time.After(pause):
		}
	}
}

// initialize fetches exchange lot rules once and hands them to the ledger.
func (e *Engine) initialize(ctx context.Context) error {
	info, err := e.client.GetExchangeInfo(ctx)
	if err != nil {
		return fmt.Errorf("could not get exchange info: %w", err)
	}

	quote := strings.ToUpper(e.cfg.Universe.QuoteAsset)
	rules := make(map[string]ledger.LotRule)
	for _, s := range info.Symbols {
		pair, ok := pairFromSymbol(s.Symbol, quote)
		if !ok {
			continue
		}
		var rule ledger.LotRule
		for _, f := range s.Filters {
			switch f.FilterType {
			case "LOT_SIZE":
				rule.MinQty = parseFloat(f.MinQty)
				rule.StepSize = parseFloat(f.StepSize)
			case "NOTIONAL", "MIN_NOTIONAL":
				rule.MinNotional = parseFloat(f.MinNotional)
			}
		}
		rules[pair] = rule
	}
	e.book.SetLotRules(rules)
	e.logger.Info("Cached exchange lot rules", zap.Int("count", len(rules)))
	return nil
}

// scan scores the universe and opens positions best-score first until the
// threshold, the concurrency cap or the per-scan cap stops it. The returned
// error is always a persistence failure.
func (e *Engine) scan(ctx context.Context) (int, error) {
	universe := e.Universe()
	e.logger.Info("Scanning for opportunities...", zap.Int("universe", len(universe)))

	cooldown := time.Duration(e.cfg.Trading.CooldownSec) * time.Second
	var candidates []string
	for _, pair := range universe {
		if e.book.RecentlyTraded(pair, cooldown) {
			e.logger.Debug("Skipping pair in cooldown", zap.String("pair", pair))
			continue
		}
		candidates = append(candidates, pair)
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	prices, err := e.client.GetPrices(ctx, candidates)
	if err != nil {
		e.logger.Error("Could not fetch prices, skipping scan", zap.Error(err))
		return 0, nil
	}

	scores := e.scorer.ScoreAll(ctx, candidates)

	opened := 0
	for _, ps := range scores {
		if ps.Score < e.cfg.Trading.ScoreThreshold {
			break // sorted descending: the rest are weaker
		}
		if e.risk.MaxConcurrentReached(e.book.OpenCount()) {
			e.logger.Info("Concurrency cap reached; no more entries this scan")
			break
		}
		if e.cfg.Trading.MaxPerScan > 0 && opened >= e.cfg.Trading.MaxPerScan {
			break
		}

		stake := e.risk.PositionSize(e.balance())
		if stake <= 0 {
			e.logger.Warn("No free capital; skipping", zap.String("pair", ps.Pair))
			continue
		}

		price, ok := prices[ps.Pair]
		if !ok || price <= 0 {
			e.logger.Warn("No price for pair; skipping", zap.String("pair", ps.Pair))
			continue
		}

		e.logger.Info("Opening position",
			zap.String("pair", ps.Pair),
			zap.Int("score", ps.Score),
			zap.Float64("stake", stake))

		t, err := e.book.Open(ps.Pair, price, stake)
		if err != nil {
			return opened, err
		}
		if t != nil {
			opened++
		}
	}

	return opened, nil
}

// monitor polls prices for the open symbols and ticks the ledger until no
// trade remains open. Price-fetch failures are retried on the next poll; the
// scan cadence is the retry mechanism.
func (e *Engine) monitor(ctx context.Context) error {
	poll := time.Duration(e.cfg.Trading.PollIntervalMs) * time.Millisecond
	e.logger.Info("Monitoring open positions...", zap.Int("open", e.book.OpenCount()))

	for e.book.HasOpen() {
		if ctx.Err() != nil {
			return nil
		}

		prices, err := e.client.GetPrices(ctx, e.book.OpenSymbols())
		if err != nil {
			e.logger.Warn("Price refresh failed, retrying next poll", zap.Error(err))
		} else if err := e.book.Tick(prices); err != nil {
			return err
		}

		if e.book.HasOpen() {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(poll):
			}
		}
	}

	p := e.book.Portfolio()
	e.logger.Info("All positions flat",
		zap.Float64("realized_pl", p.RealizedPL),
		zap.Int("closed", p.ClosedPositions),
		zap.Float64("win_rate", p.WinRate))
	return nil
}

// refreshUniverse replaces the tradable pair list with the day's top movers.
// On failure the previous universe is kept; the next cycle retries.
func (e *Engine) refreshUniverse(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	tickers, err := e.client.Get24hTickers(ctx)
	if err != nil {
		e.logger.Warn("Universe refresh failed, keeping previous universe", zap.Error(err))
		return
	}

	quote := strings.ToUpper(e.cfg.Universe.QuoteAsset)
	type gainer struct {
		pair string
		pct  float64
	}
	var gainers []gainer
	for _, t := range tickers {
		pair, ok := pairFromSymbol(t.Symbol, quote)
		if !ok {
			continue
		}
		if t.PriceChangePercent >= e.cfg.Universe.MinChangePct {
			gainers = append(gainers, gainer{pair: pair, pct: t.PriceChangePercent})
		}
	}
	sort.Slice(gainers, func(i, j int) bool { return gainers[i].pct > gainers[j].pct })
	if limit := e.cfg.Universe.Limit; limit > 0 && len(gainers) > limit {
		gainers = gainers[:limit]
	}

	if len(gainers) == 0 {
		e.logger.Info("No movers above threshold, keeping previous universe")
		return
	}

	pairs := make([]string, len(gainers))
	for i, g := range gainers {
		pairs[i] = g.pair
	}
	e.setUniverse(pairs)
	e.logger.Info("Universe refreshed, rescanning", zap.Int("pairs", len(pairs)))
}

// balance is the starting balance adjusted by realized gains and losses.
func (e *Engine) balance() float64 {
	return e.cfg.Trading.StartingBalance + e.book.Portfolio().RealizedPL
}

// pairFromSymbol converts "BTCUSDT" into "BTC/USDT" for the given quote
// asset. Reports false when the symbol is not a pair against that quote.
func pairFromSymbol(symbol, quote string) (string, bool) {
	if !strings.HasSuffix(symbol, quote) || len(symbol) == len(quote) {
		return "", false
	}
	base := strings.TrimSuffix(symbol, quote)
	return base + "/" + quote, true
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
