// Package indicator provides stateless technical indicator functions over
// OHLCV bar series. The formulas are rolling-window variants (not Wilder
// smoothed); the scoring thresholds in this repo were tuned against them.
package indicator

import (
	"fmt"
	"math"

	"github.com/hanyx21/BOOM/internal/binance"
)

// EMA computes the exponential moving average series, seeded by the first
// value, alpha = 2/(span+1). The result has the same length as values.
func EMA(values []float64, span int) []float64 {
	if len(values) == 0 {
		return nil
	}
	alpha := 2.0 / float64(span+1)
	out := make([]float64, len(values))
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

// EMALast returns only the final EMA value.
func EMALast(values []float64, span int) float64 {
	s := EMA(values, span)
	if len(s) == 0 {
		return 0
	}
	return s[len(s)-1]
}

// RSI computes the relative strength index over a rolling window of n deltas.
// A window with zero losses returns 100, never NaN.
func RSI(values []float64, n int) (float64, error) {
	if len(values) < n+1 {
		return 0, fmt.Errorf("not enough data points for RSI: need %d, got %d", n+1, len(values))
	}

	var gain, loss float64
	for i := len(values) - n; i < len(values); i++ {
		d := values[i] - values[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	gain /= float64(n)
	loss /= float64(n)

	if loss == 0 {
		return 100, nil
	}
	rs := gain / loss
	return 100 - 100/(1+rs), nil
}

// trueRanges returns the true range series. The first entry falls back to
// high-low since there is no previous close.
func trueRanges(bars []binance.Bar) []float64 {
	tr := make([]float64, len(bars))
	for i, b := range bars {
		if i == 0 {
			tr[0] = b.High - b.Low
			continue
		}
		prevClose := bars[i-1].Close
		tr[i] = math.Max(b.High-b.Low,
			math.Max(math.Abs(b.High-prevClose), math.Abs(b.Low-prevClose)))
	}
	return tr
}

// atrSeries returns the rolling-mean ATR series; entries before the window
// fills are NaN.
func atrSeries(bars []binance.Bar, n int) []float64 {
	tr := trueRanges(bars)
	out := make([]float64, len(bars))
	var sum float64
	for i := range tr {
		sum += tr[i]
		if i >= n {
			sum -= tr[i-n]
		}
		if i >= n-1 {
			out[i] = sum / float64(n)
		} else {
			out[i] = math.NaN()
		}
	}
	return out
}

// ATR computes the average true range as a rolling mean of the true range.
func ATR(bars []binance.Bar, n int) (float64, error) {
	if len(bars) < n+1 {
		return 0, fmt.Errorf("not enough data points for ATR: need %d, got %d", n+1, len(bars))
	}
	s := atrSeries(bars, n)
	return s[len(s)-1], nil
}

// ADX computes a simplified average directional index: rolling sums of raw
// +DM/-DM over the rolling ATR, with the DX smoothed by a rolling mean.
// This is deliberately not the Wilder-smoothed form.
func ADX(bars []binance.Bar, n int) (float64, error) {
	if len(bars) < 3*n {
		return 0, fmt.Errorf("not enough data points for ADX: need %d, got %d", 3*n, len(bars))
	}

	plus := make([]float64, len(bars))
	minus := make([]float64, len(bars))
	for i := 1; i < len(bars); i++ {
		up := bars[i].High - bars[i-1].High
		dn := bars[i-1].Low - bars[i].Low
		if up > dn && up > 0 {
			plus[i] = up
		}
		if dn > up && dn > 0 {
			minus[i] = dn
		}
	}

	atr := atrSeries(bars, n)

	dx := make([]float64, len(bars))
	var plusSum, minusSum float64
	for i := range bars {
		plusSum += plus[i]
		minusSum += minus[i]
		if i >= n {
			plusSum -= plus[i-n]
			minusSum -= minus[i-n]
		}
		if i < n-1 || math.IsNaN(atr[i]) || atr[i] == 0 {
			dx[i] = math.NaN()
			continue
		}
		plusDI := 100 * plusSum / atr[i]
		minusDI := 100 * minusSum / atr[i]
		if plusDI+minusDI == 0 {
			dx[i] = 0
			continue
		}
		dx[i] = 100 * math.Abs(plusDI-minusDI) / (plusDI + minusDI)
	}

	// rolling mean of the last n DX values
	var sum float64
	for i := len(dx) - n; i < len(dx); i++ {
		if math.IsNaN(dx[i]) {
			return 0, fmt.Errorf("ADX window contains unfilled DX values")
		}
		sum += dx[i]
	}
	return sum / float64(n), nil
}

// MACDHistogram computes the MACD histogram (EMA12-EMA26 minus its EMA9) and
// returns the last two values, so callers can test whether it is rising.
func MACDHistogram(values []float64) (last, prev float64, err error) {
	if len(values) < 2 {
		return 0, 0, fmt.Errorf("not enough data points for MACD histogram: need 2, got %d", len(values))
	}
	fast := EMA(values, 12)
	slow := EMA(values, 26)
	diff := make([]float64, len(values))
	for i := range values {
		diff[i] = fast[i] - slow[i]
	}
	signal := EMA(diff, 9)
	hist := make([]float64, len(values))
	for i := range values {
		hist[i] = diff[i] - signal[i]
	}
	return hist[len(hist)-1], hist[len(hist)-2], nil
}

// VolumeRatio returns the last bar's volume relative to the mean volume of
// the trailing n bars. The last bar is part of the mean.
func VolumeRatio(bars []binance.Bar, n int) (float64, error) {
	if len(bars) < n {
		return 0, fmt.Errorf("not enough data points for volume ratio: need %d, got %d", n, len(bars))
	}
	var sum float64
	for i := len(bars) - n; i < len(bars); i++ {
		sum += bars[i].Volume
	}
	mean := sum / float64(n)
	if mean == 0 {
		return 0, nil
	}
	return bars[len(bars)-1].Volume / mean, nil
}

// RollingMaxPrev returns the maximum of the window ending at the second-to-last
// element. The scorer uses it as "recent high before the current bar".
func RollingMaxPrev(values []float64, window int) (float64, error) {
	if len(values) < window+1 {
		return 0, fmt.Errorf("not enough data points for rolling max: need %d, got %d", window+1, len(values))
	}
	max := math.Inf(-1)
	for i := len(values) - 1 - window; i < len(values)-1; i++ {
		if values[i] > max {
			max = values[i]
		}
	}
	return max, nil
}

// LinearScore maps value onto [0,1]: 0 at or below lo, 1 at or above hi,
// linearly interpolated in between.
func LinearScore(value, lo, hi float64) float64 {
	if value <= lo {
		return 0
	}
	if value >= hi {
		return 1
	}
	return (value - lo) / (hi - lo)
}
