package indicator

import (
	"math"
	"sort"

	"github.com/hanyx21/BOOM/internal/binance"
)

// LevelParams configures the resistance detector and channel fitter.
type LevelParams struct {
	Lookback        int     // bars considered for horizontal levels
	Left, Right     int     // swing-high neighbourhood
	ATRPeriod       int
	TolPctFloor     float64 // cluster tolerance floor, fraction of price
	TolATRFrac      float64 // cluster tolerance, fraction of ATR
	TopK            int
	ChannelLookback int
	UpperQ, LowerQ  float64 // residual quantiles for the channel bounds
	BufPctFloor     float64 // veto buffer floor, fraction of price
	BufATRFrac      float64 // veto buffer, fraction of ATR
}

// DefaultLevelParams returns the tuned defaults.
func DefaultLevelParams() LevelParams {
	return LevelParams{
		Lookback:        240,
		Left:            3,
		Right:           3,
		ATRPeriod:       14,
		TolPctFloor:     0.0010, // 0.10% of price
		TolATRFrac:      0.30,
		TopK:            5,
		ChannelLookback: 180,
		UpperQ:          0.95,
		LowerQ:          0.05,
		BufPctFloor:     0.0012, // 0.12% of price
		BufATRFrac:      0.40,
	}
}

// SwingHighs returns the indices of bars whose high is the strict maximum of
// the symmetric window [i-left, i+right].
func SwingHighs(highs []float64, left, right int) []int {
	var out []int
	for i := left; i < len(highs)-right; i++ {
		v := highs[i]
		if v <= highs[i-1] || v <= highs[i+1] {
			continue
		}
		isMax := true
		for j := i - left; j <= i+right; j++ {
			if j != i && highs[j] >= v {
				isMax = false
				break
			}
		}
		if isMax {
			out = append(out, i)
		}
	}
	return out
}

// ClusterLevels greedily groups price levels within ±tol of the running
// cluster mean. Cluster means are returned sorted by touch count, then price,
// both descending.
func ClusterLevels(levels []float64, tol float64) []float64 {
	if len(levels) == 0 {
		return nil
	}
	lv := append([]float64(nil), levels...)
	sort.Float64s(lv)

	var clusters [][]float64
	cur := []float64{lv[0]}
	for _, x := range lv[1:] {
		if math.Abs(x-mean(cur)) <= tol {
			cur = append(cur, x)
		} else {
			clusters = append(clusters, cur)
			cur = []float64{x}
		}
	}
	clusters = append(clusters, cur)

	sort.Slice(clusters, func(i, j int) bool {
		if len(clusters[i]) != len(clusters[j]) {
			return len(clusters[i]) > len(clusters[j])
		}
		return mean(clusters[i]) > mean(clusters[j])
	})

	out := make([]float64, len(clusters))
	for i, c := range clusters {
		out[i] = mean(c)
	}
	return out
}

func mean(v []float64) float64 {
	var s float64
	for _, x := range v {
		s += x
	}
	return s / float64(len(v))
}

// HorizontalResistances returns up to TopK clustered swing-high levels at or
// above the current close, strongest first.
func HorizontalResistances(bars []binance.Bar, p LevelParams) []float64 {
	sub := tail(bars, p.Lookback)
	if len(sub) < p.ATRPeriod+1 {
		return nil
	}
	cur := sub[len(sub)-1].Close
	atr, err := ATR(sub, p.ATRPeriod)
	if err != nil {
		return nil
	}
	tol := math.Max(p.TolPctFloor*cur, p.TolATRFrac*atr)

	highs := make([]float64, len(sub))
	for i, b := range sub {
		highs[i] = b.High
	}
	var swings []float64
	for _, idx := range SwingHighs(highs, p.Left, p.Right) {
		swings = append(swings, highs[idx])
	}

	var levels []float64
	for _, lv := range ClusterLevels(swings, tol) {
		if lv >= cur {
			levels = append(levels, lv)
		}
	}
	if len(levels) > p.TopK {
		levels = levels[:p.TopK]
	}
	return levels
}

// FitChannel fits an ordinary least-squares trend line over the closes and
// offsets it by the residual quantiles, evaluated at the latest index.
func FitChannel(closes []float64, lookback int, upperQ, lowerQ float64) (upperNow, lowerNow, slope float64) {
	y := tailF(closes, lookback)
	n := len(y)
	if n < 2 {
		if n == 1 {
			return y[0], y[0], 0
		}
		return 0, 0, 0
	}

	// least squares over t = 0..n-1
	var sumT, sumY, sumTT, sumTY float64
	for i, v := range y {
		t := float64(i)
		sumT += t
		sumY += v
		sumTT += t * t
		sumTY += t * v
	}
	fn := float64(n)
	m := (fn*sumTY - sumT*sumY) / (fn*sumTT - sumT*sumT)
	b := (sumY - m*sumT) / fn

	resid := make([]float64, n)
	for i, v := range y {
		resid[i] = v - (m*float64(i) + b)
	}

	baseNow := m*float64(n-1) + b
	return baseNow + quantile(resid, upperQ), baseNow + quantile(resid, lowerQ), m
}

// quantile computes the linearly interpolated empirical quantile of v.
func quantile(v []float64, q float64) float64 {
	s := append([]float64(nil), v...)
	sort.Float64s(s)
	if len(s) == 1 {
		return s[0]
	}
	h := q * float64(len(s)-1)
	lo := int(math.Floor(h))
	hi := lo + 1
	if hi >= len(s) {
		return s[len(s)-1]
	}
	return s[lo] + (h-float64(lo))*(s[hi]-s[lo])
}

// ResistanceBuffer is the safety margin before resistance, wide enough to
// still leave room for the profit target.
func ResistanceBuffer(cur, atr float64, p LevelParams) float64 {
	return math.Max(p.BufPctFloor*cur, p.BufATRFrac*atr)
}

// ResistanceContext holds the detected levels and the veto verdict.
type ResistanceContext struct {
	Cur      float64
	ATR      float64
	Buffer   float64
	Levels   []float64 // horizontal resistances, strongest first
	UpperNow float64
	LowerNow float64
	Slope    float64
	DHoriz   float64 // distance to the nearest horizontal level
	DChan    float64 // distance to the channel top
	Near     bool
}

// NewResistanceContext detects horizontal and channel resistance around the
// current price and flags whether price sits inside the veto buffer of either.
func NewResistanceContext(bars []binance.Bar, cur, atr float64, p LevelParams) ResistanceContext {
	levels := HorizontalResistances(bars, p)

	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	upperNow, lowerNow, slope := FitChannel(closes, p.ChannelLookback, p.UpperQ, p.LowerQ)

	buf := ResistanceBuffer(cur, atr, p)

	dHoriz := math.Inf(1)
	for _, lv := range levels {
		if d := math.Abs(cur - lv); d < dHoriz {
			dHoriz = d
		}
	}
	dChan := math.Abs(cur - upperNow)

	return ResistanceContext{
		Cur:      cur,
		ATR:      atr,
		Buffer:   buf,
		Levels:   levels,
		UpperNow: upperNow,
		LowerNow: lowerNow,
		Slope:    slope,
		DHoriz:   dHoriz,
		DChan:    dChan,
		Near:     dHoriz <= buf || dChan <= buf,
	}
}

func tail(bars []binance.Bar, n int) []binance.Bar {
	if len(bars) <= n {
		return bars
	}
	return bars[len(bars)-n:]
}

func tailF(v []float64, n int) []float64 {
	if len(v) <= n {
		return v
	}
	return v[len(v)-n:]
}
