package metrics

import (
	"github.com/hanyx21/BOOM/internal/ledger"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ScanCycles = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "boom_scan_cycles_total",
			Help: "Total number of completed scan phases.",
		},
	)

	TradesOpened = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "boom_trades_opened_total",
			Help: "Total number of simulated trades opened.",
		},
	)

	TradesClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boom_trades_closed_total",
			Help: "Total number of simulated trades closed (by reason).",
		},
		[]string{"reason"},
	)

	PositionsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "boom_positions_open",
			Help: "Current number of open positions.",
		},
	)

	RealizedPL = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "boom_realized_pl",
			Help: "Realized profit and loss in quote currency.",
		},
	)
)

func init() {
	prometheus.MustRegister(ScanCycles, TradesOpened, TradesClosed, PositionsOpen, RealizedPL)
}

// SeedFromPortfolio initializes the stateful gauges from a loaded ledger.
// Called once at startup so a process restart with open positions or prior
// realized P&L does not leave the gauges starting from zero.
func SeedFromPortfolio(p ledger.Portfolio) {
	PositionsOpen.Set(float64(p.OpenPositions))
	RealizedPL.Set(p.RealizedPL)
}

// LedgerObserver feeds ledger transitions into the collectors.
type LedgerObserver struct{}

func (LedgerObserver) TradeOpened(ledger.Trade) {
	TradesOpened.Inc()
	PositionsOpen.Inc()
}

func (LedgerObserver) TradeClosed(t ledger.Trade, reason string) {
	TradesClosed.WithLabelValues(reason).Inc()
	PositionsOpen.Dec()
	RealizedPL.Add(t.ProfitLoss)
}

var _ ledger.Observer = LedgerObserver{}
