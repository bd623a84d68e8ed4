// Package ledger owns the simulated trade list and portfolio statistics.
// It is the only component that mutates persisted state.
package ledger

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hanyx21/BOOM/internal/config"
	"go.uber.org/zap"
)

const (
	StatusOpen   = "open"
	StatusClosed = "closed"

	ActionBuy = "buy"

	CloseReasonTarget   = "target hit"
	CloseReasonTimeStop = "time stop"
)

// Trade is one simulated position. Closed trades are immutable and stay in
// history for cooldown lookups and portfolio statistics.
type Trade struct {
	Symbol        string   `json:"symbol"`
	Action        string   `json:"action"`
	AmountQuote   float64  `json:"amount_quote"`
	Units         float64  `json:"units"`
	EntryPrice    float64  `json:"entry_price"`
	TargetPrice   float64  `json:"target_price"`
	Status        string   `json:"status"`
	TargetReached bool     `json:"target_reached"`
	ExitPrice     *float64 `json:"exit_price"`
	ProfitLoss    float64  `json:"profit_loss"`
	PctMove       float64  `json:"pct_move"`
	PctGain       float64  `json:"pct_gain"`
	OpenTime      int64    `json:"open_time"`
}

// Portfolio is an aggregate cache recomputed from the full trade list after
// every mutation. It is derived data, not a source of truth.
type Portfolio struct {
	RealizedPL      float64 `json:"realized_pl"`
	OpenPL          float64 `json:"open_pl"`
	TotalPositions  int     `json:"total_positions"`
	ClosedPositions int     `json:"closed_positions"`
	OpenPositions   int     `json:"open_positions"`
	WinRate         float64 `json:"win_rate"`
}

// ledgerFile is the on-disk layout. The field set is a compatibility
// contract: existing history files must remain loadable.
type ledgerFile struct {
	Portfolio Portfolio `json:"portfolio"`
	Trades    []*Trade  `json:"trades"`
}

// LotRule carries the exchange lot constraints for one pair.
type LotRule struct {
	MinQty      float64
	StepSize    float64
	MinNotional float64
}

// Observer is notified after every completed state transition. Presentation
// concerns (console output, sounds, history mirrors) hang off this interface
// so the ledger itself has no I/O-device dependency.
type Observer interface {
	TradeOpened(t Trade)
	TradeClosed(t Trade, reason string)
}

// Ledger is the position ledger and execution simulator. It persists the
// full trade list atomically after every state transition. The engine loop
// mutates it while the HTTP status surface reads it, so all state access
// goes through mu.
//
// Precondition: exactly one process may run against a given ledger file.
// Concurrent engines sharing a file are unsupported.
type Ledger struct {
	path      string
	targetPct float64
	maxHold   time.Duration
	logger    *zap.Logger

	mu        sync.RWMutex
	observers []Observer
	lotRules  map[string]LotRule
	state     ledgerFile

	now func() time.Time
}

// NewLedger loads the ledger file at cfg.Path, or starts an empty ledger and
// writes the initial state if no file exists.
func NewLedger(cfg config.Ledger, targetPct float64, logger *zap.Logger) (*Ledger, error) {
	l := &Ledger{
		path:      cfg.Path,
		targetPct: targetPct,
		maxHold:   time.Duration(cfg.MaxHoldSec) * time.Second,
		logger:    logger,
		lotRules:  make(map[string]LotRule),
		now:       time.Now,
	}

	data, err := os.ReadFile(cfg.Path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &l.state); err != nil {
			return nil, fmt.Errorf("ledger file %s is corrupt: %w", cfg.Path, err)
		}
		logger.Info("Loaded ledger",
			zap.String("path", cfg.Path),
			zap.Int("trades", len(l.state.Trades)),
			zap.Int("open", l.OpenCount()))
	case os.IsNotExist(err):
		l.state = ledgerFile{Trades: []*Trade{}}
		if err := l.persist(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("failed to read ledger file %s: %w", cfg.Path, err)
	}

	return l, nil
}

// AddObserver registers an observer for trade transitions.
func (l *Ledger) AddObserver(o Observer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.observers = append(l.observers, o)
}

// SetLotRules installs the exchange lot constraints, keyed by pair.
func (l *Ledger) SetLotRules(rules map[string]LotRule) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lotRules = rules
}

// AdjustQuantity converts a quote-currency stake into base units, floored to
// the pair's step size. It returns 0 when the result violates the minimum
// quantity or minimum notional, meaning no trade should be opened.
func (l *Ledger) AdjustQuantity(symbol string, price, amountQuote float64) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.adjustQuantity(symbol, price, amountQuote)
}

func (l *Ledger) adjustQuantity(symbol string, price, amountQuote float64) float64 {
	if price <= 0 {
		return 0
	}
	qty := amountQuote / price

	rule, ok := l.lotRules[symbol]
	if !ok {
		l.logger.Warn("No lot rule for symbol, using raw quantity", zap.String("symbol", symbol))
		return qty
	}

	if rule.StepSize > 0 {
		qty = math.Floor(qty/rule.StepSize) * rule.StepSize
	}
	if qty < rule.MinQty {
		return 0
	}
	if qty*price < rule.MinNotional {
		return 0
	}
	return qty
}

// Open creates a new open trade for symbol at price with the given stake.
// It returns nil without error when the lot-size adjustment rejects the
// stake, observable to the caller as "no trade opened". A persistence
// failure is returned as an error and must be treated as fatal.
func (l *Ledger) Open(symbol string, price, stakeQuote float64) (*Trade, error) {
	l.mu.Lock()
	units := l.adjustQuantity(symbol, price, stakeQuote)
	if units <= 0 {
		l.mu.Unlock()
		l.logger.Warn("Skipping trade: stake too small or invalid per exchange filters",
			zap.String("symbol", symbol),
			zap.Float64("price", price),
			zap.Float64("stake_quote", stakeQuote))
		return nil, nil
	}

	t := &Trade{
		Symbol:      symbol,
		Action:      ActionBuy,
		AmountQuote: units * price,
		Units:       units,
		EntryPrice:  price,
		TargetPrice: price * (1 + l.targetPct/100),
		Status:      StatusOpen,
		OpenTime:    l.now().Unix(),
	}
	l.state.Trades = append(l.state.Trades, t)

	l.updatePortfolio()
	err := l.persist()
	snapshot := *t
	observers := append([]Observer(nil), l.observers...)
	l.mu.Unlock()

	if err != nil {
		return nil, err
	}
	for _, o := range observers {
		o.TradeOpened(snapshot)
	}
	return &snapshot, nil
}

// Tick feeds current prices to every open trade and closes those that hit
// the profit target or the breakeven time stop. Calling it again with the
// same prices when nothing crosses a threshold leaves the ledger unchanged.
func (l *Ledger) Tick(prices map[string]float64) error {
	l.mu.Lock()
	now := l.now()
	type closed struct {
		trade  Trade
		reason string
	}
	var transitions []closed

	for _, t := range l.state.Trades {
		if t.Status != StatusOpen {
			continue
		}
		price, ok := prices[t.Symbol]
		if !ok {
			continue // not in this feed, check again next tick
		}

		if price >= t.TargetPrice {
			l.closeTrade(t, price, CloseReasonTarget)
			transitions = append(transitions, closed{*t, CloseReasonTarget})
			continue
		}

		held := now.Unix() - t.OpenTime
		// The time stop never crystallizes a loss: flat-or-better only.
		if held >= int64(l.maxHold.Seconds()) && price >= t.EntryPrice {
			l.closeTrade(t, price, CloseReasonTimeStop)
			transitions = append(transitions, closed{*t, CloseReasonTimeStop})
		}
	}

	l.updatePortfolio()
	err := l.persist()
	observers := append([]Observer(nil), l.observers...)
	l.mu.Unlock()

	if err != nil {
		return err
	}
	for _, c := range transitions {
		for _, o := range observers {
			o.TradeClosed(c.trade, c.reason)
		}
	}
	return nil
}

func (l *Ledger) closeTrade(t *Trade, exitPrice float64, reason string) {
	t.Status = StatusClosed
	t.TargetReached = reason == CloseReasonTarget
	exit := exitPrice
	t.ExitPrice = &exit

	spread := exitPrice - t.EntryPrice
	t.ProfitLoss = round8(spread * t.Units)
	t.PctMove = round3(spread / t.EntryPrice * 100)
	t.PctGain = round3(t.ProfitLoss / t.AmountQuote * 100)
}

// RecentlyTraded reports whether the most recent trade on symbol, open or
// closed, was opened within cooldown of now. Only the newest occurrence of
// the symbol counts.
func (l *Ledger) RecentlyTraded(symbol string, cooldown time.Duration) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	now := l.now().Unix()
	for i := len(l.state.Trades) - 1; i >= 0; i-- {
		t := l.state.Trades[i]
		if t.Symbol == symbol {
			return now-t.OpenTime < int64(cooldown.Seconds())
		}
	}
	return false
}

// HasOpen reports whether any trade is currently open.
func (l *Ledger) HasOpen() bool {
	return l.OpenCount() > 0
}

// OpenCount returns the number of open trades.
func (l *Ledger) OpenCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, t := range l.state.Trades {
		if t.Status == StatusOpen {
			n++
		}
	}
	return n
}

// OpenSymbols returns the symbols of all open trades, oldest first.
func (l *Ledger) OpenSymbols() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var syms []string
	for _, t := range l.state.Trades {
		if t.Status == StatusOpen {
			syms = append(syms, t.Symbol)
		}
	}
	return syms
}

// Portfolio returns a copy of the current portfolio statistics.
func (l *Ledger) Portfolio() Portfolio {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.Portfolio
}

// Trades returns a read-only snapshot of the full trade history.
func (l *Ledger) Trades() []Trade {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Trade, len(l.state.Trades))
	for i, t := range l.state.Trades {
		out[i] = *t
	}
	return out
}

// Path returns the location of the persisted ledger file.
func (l *Ledger) Path() string {
	return l.path
}

// updatePortfolio recomputes the aggregate cache from the full trade list.
func (l *Ledger) updatePortfolio() {
	var realized, unrealized float64
	var closedCount, openCount, wins int

	for _, t := range l.state.Trades {
		switch t.Status {
		case StatusClosed:
			closedCount++
			realized += t.ProfitLoss
			if t.ProfitLoss > 0 {
				wins++
			}
		case StatusOpen:
			openCount++
			// mark-to-target valuation for open positions
			unrealized += (t.TargetPrice - t.EntryPrice) * t.Units
		}
	}

	winRate := 0.0
	if closedCount > 0 {
		winRate = round4(float64(wins) / float64(closedCount))
	}

	l.state.Portfolio = Portfolio{
		RealizedPL:      realized,
		OpenPL:          unrealized,
		TotalPositions:  len(l.state.Trades),
		ClosedPositions: closedCount,
		OpenPositions:   openCount,
		WinRate:         winRate,
	}
}

// persist rewrites the whole ledger file atomically: marshal to a temp file
// in the same directory, then rename over the old one. A crash mid-write can
// lose only the in-flight mutation, never corrupt prior history.
func (l *Ledger) persist() error {
	data, err := json.MarshalIndent(&l.state, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to marshal ledger: %w", err)
	}

	dir := filepath.Dir(l.path)
	tmp, err := os.CreateTemp(dir, ".ledger-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp ledger file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp ledger file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp ledger file: %w", err)
	}
	if err := os.Rename(tmpName, l.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace ledger file: %w", err)
	}
	return nil
}

func round8(v float64) float64 { return math.Round(v*1e8) / 1e8 }
func round4(v float64) float64 { return math.Round(v*1e4) / 1e4 }
func round3(v float64) float64 { return math.Round(v*1e3) / 1e3 }
