package ledger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hanyx21/BOOM/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	cfg := config.Ledger{
		Path:       filepath.Join(t.TempDir(), "trade_log.json"),
		MaxHoldSec: 900,
	}
	l, err := NewLedger(cfg, 0.2, zap.NewNop())
	require.NoError(t, err)
	return l
}

// recordingObserver collects transition notifications for assertions.
type recordingObserver struct {
	opened []Trade
	closed []Trade
	reason []string
}

func (r *recordingObserver) TradeOpened(t Trade) { r.opened = append(r.opened, t) }
func (r *recordingObserver) TradeClosed(t Trade, reason string) {
	r.closed = append(r.closed, t)
	r.reason = append(r.reason, reason)
}

func TestOpenComputesUnitsAndTarget(t *testing.T) {
	l := newTestLedger(t)

	tr, err := l.Open("BTC/USDT", 10.0, 1500.0)
	require.NoError(t, err)
	require.NotNil(t, tr)

	assert.Equal(t, "BTC/USDT", tr.Symbol)
	assert.Equal(t, ActionBuy, tr.Action)
	assert.Equal(t, 150.0, tr.Units)
	assert.Equal(t, 1500.0, tr.AmountQuote)
	assert.Equal(t, 10.0, tr.EntryPrice)
	assert.InDelta(t, 10.02, tr.TargetPrice, 1e-9)
	assert.Equal(t, StatusOpen, tr.Status)
	assert.Nil(t, tr.ExitPrice)
	assert.True(t, l.HasOpen())
	assert.Equal(t, []string{"BTC/USDT"}, l.OpenSymbols())
}

func TestTargetHitClosesTrade(t *testing.T) {
	l := newTestLedger(t)
	obs := &recordingObserver{}
	l.AddObserver(obs)

	_, err := l.Open("BTC/USDT", 10.0, 1500.0)
	require.NoError(t, err)

	require.NoError(t, l.Tick(map[string]float64{"BTC/USDT": 10.02}))

	trades := l.Trades()
	require.Len(t, trades, 1)
	tr := trades[0]
	assert.Equal(t, StatusClosed, tr.Status)
	assert.True(t, tr.TargetReached)
	require.NotNil(t, tr.ExitPrice)
	assert.Equal(t, 10.02, *tr.ExitPrice)
	assert.InDelta(t, 3.0, tr.ProfitLoss, 1e-9)
	assert.Equal(t, 0.2, tr.PctMove)
	assert.Equal(t, 0.2, tr.PctGain)

	p := l.Portfolio()
	assert.InDelta(t, 3.0, p.RealizedPL, 1e-9)
	assert.Equal(t, 0.0, p.OpenPL)
	assert.Equal(t, 1, p.ClosedPositions)
	assert.Equal(t, 0, p.OpenPositions)
	assert.Equal(t, 1.0, p.WinRate)

	require.Len(t, obs.opened, 1)
	require.Len(t, obs.closed, 1)
	assert.Equal(t, CloseReasonTarget, obs.reason[0])
}

func TestTimeStop(t *testing.T) {
	t.Run("FiresAtBreakevenOrBetter", func(t *testing.T) {
		l := newTestLedger(t)
		obs := &recordingObserver{}
		l.AddObserver(obs)

		t0 := time.Unix(1_700_000_000, 0)
		l.now = func() time.Time { return t0 }
		_, err := l.Open("ETH/USDT", 10.0, 1000.0)
		require.NoError(t, err)

		// One second before the hold limit: still open.
		l.now = func() time.Time { return t0.Add(899 * time.Second) }
		require.NoError(t, l.Tick(map[string]float64{"ETH/USDT": 10.01}))
		assert.True(t, l.HasOpen())

		// At the limit with price above entry: closed flat-or-better.
		l.now = func() time.Time { return t0.Add(900 * time.Second) }
		require.NoError(t, l.Tick(map[string]float64{"ETH/USDT": 10.01}))
		assert.False(t, l.HasOpen())

		trades := l.Trades()
		tr := trades[0]
		assert.Equal(t, StatusClosed, tr.Status)
		assert.False(t, tr.TargetReached)
		require.NotNil(t, tr.ExitPrice)
		assert.Equal(t, 10.01, *tr.ExitPrice)
		assert.Greater(t, tr.ProfitLoss, 0.0)
		require.Len(t, obs.reason, 1)
		assert.Equal(t, CloseReasonTimeStop, obs.reason[0])
	})

	t.Run("NeverCrystallizesALoss", func(t *testing.T) {
		l := newTestLedger(t)

		t0 := time.Unix(1_700_000_000, 0)
		l.now = func() time.Time { return t0 }
		_, err := l.Open("ETH/USDT", 10.0, 1000.0)
		require.NoError(t, err)

		// Far past the hold limit but underwater: the trade stays open.
		l.now = func() time.Time { return t0.Add(2 * time.Hour) }
		require.NoError(t, l.Tick(map[string]float64{"ETH/USDT": 9.5}))
		assert.True(t, l.HasOpen())

		// The instant price recovers to entry it closes flat.
		require.NoError(t, l.Tick(map[string]float64{"ETH/USDT": 10.0}))
		assert.False(t, l.HasOpen())
		tr := l.Trades()[0]
		assert.Equal(t, 0.0, tr.ProfitLoss)
	})
}

func TestTickIsIdempotent(t *testing.T) {
	l := newTestLedger(t)
	_, err := l.Open("BTC/USDT", 10.0, 1500.0)
	require.NoError(t, err)

	prices := map[string]float64{"BTC/USDT": 10.01}
	require.NoError(t, l.Tick(prices))
	before := l.Trades()
	require.NoError(t, l.Tick(prices))
	after := l.Trades()

	assert.Equal(t, before, after)
	assert.Equal(t, 1, l.OpenCount())
}

func TestTickSkipsSymbolsMissingFromFeed(t *testing.T) {
	l := newTestLedger(t)
	_, err := l.Open("BTC/USDT", 10.0, 1500.0)
	require.NoError(t, err)

	require.NoError(t, l.Tick(map[string]float64{"ETH/USDT": 99999})) // different symbol
	assert.True(t, l.HasOpen())
}

func TestRecentlyTraded(t *testing.T) {
	l := newTestLedger(t)

	t0 := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return t0 }
	_, err := l.Open("BTC/USDT", 10.0, 1500.0)
	require.NoError(t, err)

	cooldown := time.Hour

	l.now = func() time.Time { return t0.Add(time.Hour - time.Second) }
	assert.True(t, l.RecentlyTraded("BTC/USDT", cooldown))

	// The window is half-open: exactly cooldown later is tradable again.
	l.now = func() time.Time { return t0.Add(time.Hour) }
	assert.False(t, l.RecentlyTraded("BTC/USDT", cooldown))

	assert.False(t, l.RecentlyTraded("ETH/USDT", cooldown))
}

func TestRecentlyTradedUsesNewestOccurrence(t *testing.T) {
	l := newTestLedger(t)

	t0 := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return t0 }
	_, err := l.Open("BTC/USDT", 10.0, 750.0)
	require.NoError(t, err)
	require.NoError(t, l.Tick(map[string]float64{"BTC/USDT": 10.02}))

	// Second trade on the same symbol two hours later.
	l.now = func() time.Time { return t0.Add(2 * time.Hour) }
	_, err = l.Open("BTC/USDT", 10.0, 750.0)
	require.NoError(t, err)

	// The old closed trade is outside the window; the new one governs.
	l.now = func() time.Time { return t0.Add(2*time.Hour + 10*time.Minute) }
	assert.True(t, l.RecentlyTraded("BTC/USDT", time.Hour))
}

func TestAdjustQuantity(t *testing.T) {
	l := newTestLedger(t)
	l.SetLotRules(map[string]LotRule{
		"BTC/USDT": {MinQty: 0.001, StepSize: 0.001, MinNotional: 10},
	})

	t.Run("FlooredToStep", func(t *testing.T) {
		qty := l.AdjustQuantity("BTC/USDT", 30000, 100)
		assert.InDelta(t, 0.003, qty, 1e-12)
	})

	t.Run("BelowMinQty", func(t *testing.T) {
		assert.Equal(t, 0.0, l.AdjustQuantity("BTC/USDT", 30000, 20))
	})

	t.Run("BelowMinNotional", func(t *testing.T) {
		l.SetLotRules(map[string]LotRule{
			"BTC/USDT": {MinQty: 0.0001, StepSize: 0.0001, MinNotional: 10},
		})
		assert.Equal(t, 0.0, l.AdjustQuantity("BTC/USDT", 30000, 5))
	})

	t.Run("UnknownSymbolUsesRawQuantity", func(t *testing.T) {
		qty := l.AdjustQuantity("XRP/USDT", 2, 100)
		assert.Equal(t, 50.0, qty)
	})

	t.Run("InvalidPrice", func(t *testing.T) {
		assert.Equal(t, 0.0, l.AdjustQuantity("BTC/USDT", 0, 100))
	})
}

func TestOpenRejectedByLotRules(t *testing.T) {
	l := newTestLedger(t)
	obs := &recordingObserver{}
	l.AddObserver(obs)
	l.SetLotRules(map[string]LotRule{
		"BTC/USDT": {MinQty: 1, StepSize: 1, MinNotional: 10},
	})

	tr, err := l.Open("BTC/USDT", 30000, 100)
	assert.NoError(t, err)
	assert.Nil(t, tr)
	assert.Empty(t, l.Trades())
	assert.Empty(t, obs.opened)
}

func TestPersistAndReload(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Ledger{Path: filepath.Join(dir, "trade_log.json"), MaxHoldSec: 900}

	l, err := NewLedger(cfg, 0.2, zap.NewNop())
	require.NoError(t, err)
	_, err = l.Open("BTC/USDT", 10.0, 1500.0)
	require.NoError(t, err)
	require.NoError(t, l.Tick(map[string]float64{"BTC/USDT": 10.02}))
	_, err = l.Open("ETH/USDT", 20.0, 500.0)
	require.NoError(t, err)

	// A fresh ledger over the same file sees the identical state.
	reloaded, err := NewLedger(cfg, 0.2, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, l.Trades(), reloaded.Trades())
	assert.Equal(t, l.Portfolio(), reloaded.Portfolio())
	assert.Equal(t, 1, reloaded.OpenCount())

	// No temp files left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "trade_log.json", entries[0].Name())
}

func TestLedgerFileLayout(t *testing.T) {
	l := newTestLedger(t)
	_, err := l.Open("BTC/USDT", 10.0, 1500.0)
	require.NoError(t, err)
	require.NoError(t, l.Tick(map[string]float64{"BTC/USDT": 10.02}))

	data, err := os.ReadFile(l.Path())
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Contains(t, raw, "portfolio")
	assert.Contains(t, raw, "trades")

	var trades []map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw["trades"], &trades))
	require.Len(t, trades, 1)
	for _, field := range []string{
		"symbol", "action", "amount_quote", "units", "entry_price",
		"target_price", "status", "target_reached", "exit_price",
		"profit_loss", "pct_move", "pct_gain", "open_time",
	} {
		assert.Contains(t, trades[0], field)
	}

	var portfolio map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw["portfolio"], &portfolio))
	for _, field := range []string{
		"realized_pl", "open_pl", "total_positions",
		"closed_positions", "open_positions", "win_rate",
	} {
		assert.Contains(t, portfolio, field)
	}
}

func TestCorruptFileIsRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trade_log.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := NewLedger(config.Ledger{Path: path, MaxHoldSec: 900}, 0.2, zap.NewNop())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt")
}

func TestConcurrentReadersDuringTrading(t *testing.T) {
	// The HTTP status surface reads portfolio state while the engine loop
	// opens and closes trades. Run under -race.
	l := newTestLedger(t)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
				_ = l.Portfolio()
				_ = l.OpenCount()
				_ = l.HasOpen()
				_ = l.OpenSymbols()
				_ = l.Trades()
				_ = l.RecentlyTraded("BTC/USDT", time.Hour)
			}
		}
	}()

	for i := 0; i < 50; i++ {
		_, err := l.Open("BTC/USDT", 10.0, 100.0)
		require.NoError(t, err)
		require.NoError(t, l.Tick(map[string]float64{"BTC/USDT": 10.02}))
	}
	close(done)
	wg.Wait()

	p := l.Portfolio()
	assert.Equal(t, 50, p.ClosedPositions)
	assert.Equal(t, 0, p.OpenPositions)
}

func TestWinRate(t *testing.T) {
	l := newTestLedger(t)

	t0 := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return t0 }

	// One winner at the target.
	_, err := l.Open("BTC/USDT", 10.0, 500.0)
	require.NoError(t, err)
	require.NoError(t, l.Tick(map[string]float64{"BTC/USDT": 10.02}))

	// One flat time stop: not a win.
	_, err = l.Open("ETH/USDT", 20.0, 500.0)
	require.NoError(t, err)
	l.now = func() time.Time { return t0.Add(901 * time.Second) }
	require.NoError(t, l.Tick(map[string]float64{"ETH/USDT": 20.0}))

	p := l.Portfolio()
	assert.Equal(t, 2, p.ClosedPositions)
	assert.Equal(t, 0.5, p.WinRate)
}
