package indicator

import (
	"testing"

	"github.com/hanyx21/BOOM/internal/binance"
	"github.com/stretchr/testify/assert"
)

// flatBars builds n identical bars with the given close and a fixed
// high-low range.
func flatBars(n int, close, halfRange, volume float64) []binance.Bar {
	bars := make([]binance.Bar, n)
	for i := range bars {
		bars[i] = binance.Bar{
			OpenTime: int64(i),
			Open:     close,
			High:     close + halfRange,
			Low:      close - halfRange,
			Close:    close,
			Volume:   volume,
		}
	}
	return bars
}

// risingBars builds n bars whose close rises by step each bar.
func risingBars(n int, start, step float64) []binance.Bar {
	bars := make([]binance.Bar, n)
	for i := range bars {
		c := start + float64(i)*step
		bars[i] = binance.Bar{
			OpenTime: int64(i),
			Open:     c - step/2,
			High:     c + step/2,
			Low:      c - step,
			Close:    c,
			Volume:   100,
		}
	}
	return bars
}

func TestEMA(t *testing.T) {
	t.Run("SeededByFirstValue", func(t *testing.T) {
		// span 3 gives alpha 0.5
		out := EMA([]float64{1, 2, 3}, 3)
		assert.Equal(t, []float64{1, 1.5, 2.25}, out)
	})

	t.Run("Empty", func(t *testing.T) {
		assert.Nil(t, EMA(nil, 9))
	})

	t.Run("LastMatchesSeries", func(t *testing.T) {
		values := []float64{10, 11, 12, 11.5, 13, 12.8}
		series := EMA(values, 9)
		assert.Equal(t, series[len(series)-1], EMALast(values, 9))
	})
}

func TestRSI(t *testing.T) {
	t.Run("AllGainsIsHundred", func(t *testing.T) {
		values := make([]float64, 20)
		for i := range values {
			values[i] = float64(i)
		}
		rsi, err := RSI(values, 14)
		assert.NoError(t, err)
		assert.Equal(t, 100.0, rsi)
	})

	t.Run("BalancedIsFifty", func(t *testing.T) {
		// 14 deltas alternating +1/-1: mean gain equals mean loss.
		values := []float64{10}
		for i := 0; i < 7; i++ {
			values = append(values, values[len(values)-1]+1)
			values = append(values, values[len(values)-1]-1)
		}
		rsi, err := RSI(values, 14)
		assert.NoError(t, err)
		assert.InDelta(t, 50.0, rsi, 1e-9)
	})

	t.Run("TooShort", func(t *testing.T) {
		_, err := RSI([]float64{1, 2, 3}, 14)
		assert.Error(t, err)
	})
}

func TestATR(t *testing.T) {
	t.Run("ConstantRange", func(t *testing.T) {
		// Every bar spans close±1 at the same price, so every true range is 2.
		bars := flatBars(30, 100, 1, 10)
		atr, err := ATR(bars, 14)
		assert.NoError(t, err)
		assert.InDelta(t, 2.0, atr, 1e-9)
	})

	t.Run("TooShort", func(t *testing.T) {
		_, err := ATR(flatBars(10, 100, 1, 10), 14)
		assert.Error(t, err)
	})
}

func TestADX(t *testing.T) {
	t.Run("MonotonicTrendSaturates", func(t *testing.T) {
		// A one-way trend has only +DM, so DX pins at 100 everywhere.
		bars := risingBars(60, 100, 1)
		adx, err := ADX(bars, 14)
		assert.NoError(t, err)
		assert.InDelta(t, 100.0, adx, 1e-9)
	})

	t.Run("FlatMarketIsZero", func(t *testing.T) {
		bars := flatBars(60, 100, 1, 10)
		adx, err := ADX(bars, 14)
		assert.NoError(t, err)
		assert.Equal(t, 0.0, adx)
	})

	t.Run("NeedsThreeWindows", func(t *testing.T) {
		_, err := ADX(risingBars(41, 100, 1), 14)
		assert.Error(t, err)
	})
}

func TestMACDHistogram(t *testing.T) {
	t.Run("FlatIsZero", func(t *testing.T) {
		values := make([]float64, 50)
		for i := range values {
			values[i] = 10
		}
		last, prev, err := MACDHistogram(values)
		assert.NoError(t, err)
		assert.Equal(t, 0.0, last)
		assert.Equal(t, 0.0, prev)
	})

	t.Run("RisesAfterUpMove", func(t *testing.T) {
		values := make([]float64, 50)
		for i := range values {
			values[i] = 10
		}
		values = append(values, 11)
		last, prev, err := MACDHistogram(values)
		assert.NoError(t, err)
		assert.Greater(t, last, prev)
	})

	t.Run("TooShort", func(t *testing.T) {
		_, _, err := MACDHistogram([]float64{1})
		assert.Error(t, err)
	})
}

func TestVolumeRatio(t *testing.T) {
	t.Run("IncludesLastBarInMean", func(t *testing.T) {
		bars := flatBars(4, 100, 1, 1)
		bars[3].Volume = 2
		// mean over the window is (1+1+1+2)/4 = 1.25
		ratio, err := VolumeRatio(bars, 4)
		assert.NoError(t, err)
		assert.InDelta(t, 1.6, ratio, 1e-9)
	})

	t.Run("ZeroMean", func(t *testing.T) {
		ratio, err := VolumeRatio(flatBars(5, 100, 1, 0), 5)
		assert.NoError(t, err)
		assert.Equal(t, 0.0, ratio)
	})

	t.Run("TooShort", func(t *testing.T) {
		_, err := VolumeRatio(flatBars(3, 100, 1, 1), 5)
		assert.Error(t, err)
	})
}

func TestRollingMaxPrev(t *testing.T) {
	t.Run("ExcludesLastValue", func(t *testing.T) {
		values := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
		max, err := RollingMaxPrev(values, 3)
		assert.NoError(t, err)
		assert.Equal(t, 9.0, max)
	})

	t.Run("TooShort", func(t *testing.T) {
		_, err := RollingMaxPrev([]float64{1, 2, 3}, 3)
		assert.Error(t, err)
	})
}

func TestLinearScore(t *testing.T) {
	assert.Equal(t, 0.0, LinearScore(40, 50, 65))
	assert.Equal(t, 0.0, LinearScore(50, 50, 65))
	assert.Equal(t, 1.0, LinearScore(65, 50, 65))
	assert.Equal(t, 1.0, LinearScore(80, 50, 65))
	assert.InDelta(t, 0.5, LinearScore(57.5, 50, 65), 1e-9)
}
