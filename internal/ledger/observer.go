package ledger

import (
	"go.uber.org/zap"
)

// LogNotifier is the console observer: one line per open, one per close.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a console notifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.Named("trades")}
}

func (n *LogNotifier) TradeOpened(t Trade) {
	n.logger.Info("OPEN",
		zap.String("symbol", t.Symbol),
		zap.Float64("entry_price", t.EntryPrice),
		zap.Float64("target_price", t.TargetPrice),
		zap.Float64("size_quote", t.AmountQuote))
}

func (n *LogNotifier) TradeClosed(t Trade, reason string) {
	exit := 0.0
	if t.ExitPrice != nil {
		exit = *t.ExitPrice
	}
	n.logger.Info("CLOSE",
		zap.String("symbol", t.Symbol),
		zap.String("reason", reason),
		zap.Float64("exit_price", exit),
		zap.Float64("pct_move", t.PctMove),
		zap.Float64("profit_loss", t.ProfitLoss))
}

var _ Observer = (*LogNotifier)(nil)
