// Package scoring converts a pair's price/volume history into a 0-100
// breakout-confidence score.
package scoring

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/hanyx21/BOOM/internal/binance"
	"github.com/hanyx21/BOOM/internal/config"
	"github.com/hanyx21/BOOM/internal/indicator"
	"go.uber.org/zap"
)

// RSI, ATR and ADX all run on the conventional 14-bar window.
const indicatorPeriod = 14

// PairScore is the ephemeral result of scoring one pair. It is recomputed
// every scan and never persisted.
type PairScore struct {
	Pair       string
	Score      int
	ComputedAt time.Time
}

// Scorer scores pairs against the configured weight table.
type Scorer struct {
	client binance.MarketDataClient
	cfg    *config.Scoring
	levels indicator.LevelParams
	logger *zap.Logger
}

// NewScorer creates a scoring engine backed by the given market data client.
func NewScorer(client binance.MarketDataClient, cfg *config.Scoring, logger *zap.Logger) *Scorer {
	levels := indicator.DefaultLevelParams()
	if cfg.LevelLookback > 0 {
		levels.Lookback = cfg.LevelLookback
	}
	if cfg.ChannelLookback > 0 {
		levels.ChannelLookback = cfg.ChannelLookback
	}
	return &Scorer{
		client: client,
		cfg:    cfg,
		levels: levels,
		logger: logger,
	}
}

// Score returns the 0-100 confidence score for one pair. It never fails:
// data errors are logged and mapped to 0 so a single bad pair cannot stop
// a scan.
func (s *Scorer) Score(ctx context.Context, pair string) int {
	score, err := s.score(ctx, pair)
	if err != nil {
		s.logger.Warn("Scoring failed, pair gets zero",
			zap.String("pair", pair), zap.Error(err))
		return 0
	}
	return score
}

// ScoreAll scores every pair and returns the results sorted by score,
// highest first.
func (s *Scorer) ScoreAll(ctx context.Context, pairs []string) []PairScore {
	scores := make([]PairScore, 0, len(pairs))
	for _, pair := range pairs {
		scores = append(scores, PairScore{
			Pair:       pair,
			Score:      s.Score(ctx, pair),
			ComputedAt: time.Now(),
		})
	}
	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].Score > scores[j].Score
	})
	return scores
}

func (s *Scorer) score(ctx context.Context, pair string) (int, error) {
	slow, err := s.client.GetKlines(ctx, pair, s.cfg.SlowInterval, s.cfg.SlowLimit)
	if err != nil {
		return 0, fmt.Errorf("slow bars: %w", err)
	}
	fast, err := s.client.GetKlines(ctx, pair, s.cfg.FastInterval, s.cfg.FastLimit)
	if err != nil {
		return 0, fmt.Errorf("fast bars: %w", err)
	}
	if len(slow) < s.cfg.RecentHighBars+1 || len(fast) == 0 {
		return 0, fmt.Errorf("insufficient history: %d slow, %d fast bars", len(slow), len(fast))
	}

	closes := make([]float64, len(slow))
	for i, b := range slow {
		closes[i] = b.Close
	}
	cur := closes[len(closes)-1]

	// Liquidity gate: thin books cannot absorb even a small stake.
	var quoteVol float64
	start := len(slow) - s.cfg.LiquidityBars
	if start < 0 {
		start = 0
	}
	for _, b := range slow[start:] {
		quoteVol += b.Close * b.Volume
	}
	if quoteVol < s.cfg.MinQuoteVolume {
		s.logger.Debug("Liquidity gate",
			zap.String("pair", pair), zap.Float64("quote_volume", quoteVol))
		return 0, nil
	}

	atr, err := indicator.ATR(slow, indicatorPeriod)
	if err != nil {
		return 0, err
	}

	// Resistance veto: a setup running straight into a ceiling is worthless
	// regardless of how the sub-scores add up.
	rctx := indicator.NewResistanceContext(slow, cur, atr, s.levels)
	if rctx.Near {
		s.logger.Debug("Resistance veto",
			zap.String("pair", pair),
			zap.Float64("d_horiz", rctx.DHoriz),
			zap.Float64("d_chan", rctx.DChan),
			zap.Float64("buffer", rctx.Buffer))
		return 0, nil
	}

	recentHigh, err := indicator.RollingMaxPrev(closes, s.cfg.RecentHighBars)
	if err != nil {
		return 0, err
	}
	ema9 := indicator.EMALast(closes, 9)
	ema21 := indicator.EMALast(closes, 21)
	ema100 := indicator.EMALast(closes, 100)
	rsi, err := indicator.RSI(closes, indicatorPeriod)
	if err != nil {
		return 0, err
	}
	adx, err := indicator.ADX(slow, indicatorPeriod)
	if err != nil {
		return 0, err
	}
	macdLast, macdPrev, err := indicator.MACDHistogram(closes)
	if err != nil {
		return 0, err
	}
	volRatio, err := indicator.VolumeRatio(slow, s.cfg.VolumeAvgBars)
	if err != nil {
		return 0, err
	}

	lastFast := fast[len(fast)-1]
	impulsePct := 0.0
	if lastFast.Open != 0 {
		impulsePct = (lastFast.Close - lastFast.Open) / lastFast.Open * 100
	}

	breakoutOK := cur > recentHigh+math.Max(s.cfg.BreakoutPctFloor/100*cur, s.cfg.BreakoutATRFrac*atr)
	targetDist := cur * s.cfg.TargetPercentage / 100
	rrOK := targetDist <= s.cfg.RRMaxATRMultiple*atr

	w := s.cfg.Weights
	parts := map[string]float64{
		"breakout": boolScore(breakoutOK),
		"ema":      boolScore(ema9 > ema21 && ema21 > ema100),
		"rsi":      indicator.LinearScore(rsi, s.cfg.RSILow, s.cfg.RSIHigh),
		"adx":      indicator.LinearScore(adx, s.cfg.ADXLow, s.cfg.ADXHigh),
		"macd":     boolScore(macdLast > macdPrev),
		"volume":   indicator.LinearScore(volRatio, s.cfg.VolumeRatioLow, s.cfg.VolumeRatioHigh),
		"impulse":  boolScore(impulsePct >= s.cfg.ImpulseMinPct),
		"rr":       boolScore(rrOK),
	}
	total := w.Breakout*parts["breakout"] +
		w.EMA*parts["ema"] +
		w.RSI*parts["rsi"] +
		w.ADX*parts["adx"] +
		w.MACD*parts["macd"] +
		w.Volume*parts["volume"] +
		w.Impulse*parts["impulse"] +
		w.RR*parts["rr"]

	score := int(math.Round(total))
	if score < 0 {
		score = 0
	} else if score > 100 {
		score = 100
	}

	s.logger.Info("Scored pair",
		zap.String("pair", pair),
		zap.Int("score", score),
		zap.Float64("impulse_pct", impulsePct),
		zap.Float64("atr_pct", atr/cur*100),
		zap.Any("parts", parts))

	return score, nil
}

func boolScore(ok bool) float64 {
	if ok {
		return 1
	}
	return 0
}
