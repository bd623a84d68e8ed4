package ledger

import (
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// TradeRecord is the sqlite row the history mirror writes for every closed
// trade. The dashboard reads this table; the JSON ledger file stays the
// engine's source of truth.
type TradeRecord struct {
	gorm.Model
	Symbol      string  `json:"symbol"`
	Action      string  `json:"action"`
	Units       float64 `json:"units"`
	EntryPrice  float64 `json:"entry_price"`
	ExitPrice   float64 `json:"exit_price"`
	ProfitLoss  float64 `json:"profit_loss"`
	PctMove     float64 `json:"pct_move"`
	PctGain     float64 `json:"pct_gain"`
	CloseReason string  `json:"close_reason"`
	OpenTime    int64   `json:"open_time"`
}

// HistoryRecorder mirrors closed trades into a sqlite database. It is an
// observer: a mirror write failure is logged, never propagated, because the
// JSON ledger already holds the durable record.
type HistoryRecorder struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewHistoryRecorder opens (or creates) the sqlite history database and
// migrates its schema.
func NewHistoryRecorder(dsn string, logger *zap.Logger) (*HistoryRecorder, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	if err := db.AutoMigrate(&TradeRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate history database: %w", err)
	}
	return &HistoryRecorder{db: db, logger: logger.Named("history")}, nil
}

// DB exposes the underlying handle for read-only consumers (the dashboard).
func (h *HistoryRecorder) DB() *gorm.DB {
	return h.db
}

func (h *HistoryRecorder) TradeOpened(Trade) {}

func (h *HistoryRecorder) TradeClosed(t Trade, reason string) {
	exit := 0.0
	if t.ExitPrice != nil {
		exit = *t.ExitPrice
	}
	rec := TradeRecord{
		Symbol:      t.Symbol,
		Action:      t.Action,
		Units:       t.Units,
		EntryPrice:  t.EntryPrice,
		ExitPrice:   exit,
		ProfitLoss:  t.ProfitLoss,
		PctMove:     t.PctMove,
		PctGain:     t.PctGain,
		CloseReason: reason,
		OpenTime:    t.OpenTime,
	}
	if err := h.db.Create(&rec).Error; err != nil {
		h.logger.Error("Failed to mirror closed trade", zap.Error(err), zap.String("symbol", t.Symbol))
	}
}

var _ Observer = (*HistoryRecorder)(nil)
