package indicator

import (
	"math"

	"signalflow/internal/model"
)

// DefaultATRPeriod is the ATR window used across detectors.
const DefaultATRPeriod = 14

// TrueRange returns max(high-low, |high-prevClose|, |low-prevClose|).
func TrueRange(c model.Candle, prevClose float64) float64 {
	return math.Max(c.High-c.Low, math.Max(math.Abs(c.High-prevClose), math.Abs(c.Low-prevClose)))
}

// ATR returns the Wilder average true range, one slot per candle.
//
// Index 0 has no previous close and is always Undefined. The first value
// appears at index period as the simple mean of the true ranges of bars
// 1..period; later values use atr = (prev*(period-1) + tr) / period.
// Invalid candles carry the previous value forward.
func ATR(candles []model.Candle, period int) []float64 {
	out := undefinedSeries(len(candles))
	if len(candles) < 2 || period <= 0 {
		return out
	}

	smma := NewSMMA(period)
	prevClose := candles[0].Close
	if !Defined(prevClose) {
		prevClose = 0
	}
	prev := Undefined

	for i := 1; i < len(candles); i++ {
		c := candles[i]
		if !c.Valid() {
			out[i] = prev
			if Defined(c.Close) {
				prevClose = c.Close
			}
			continue
		}
		tr := TrueRange(c, prevClose)
		prevClose = c.Close
		if !Defined(tr) {
			out[i] = prev
			continue
		}
		smma.Update(tr)
		if smma.Ready() {
			prev = smma.Value()
		}
		out[i] = prev
	}
	return out
}

// LastPositive walks back from index and returns the nearest defined,
// positive value of series. ok is false if none exists.
func LastPositive(series []float64, index int) (float64, bool) {
	if index >= len(series) {
		index = len(series) - 1
	}
	for i := index; i >= 0; i-- {
		if v := series[i]; Defined(v) && v > 0 {
			return v, true
		}
	}
	return 0, false
}

// AverageRange is the mean high-low range of the last lookback candles.
// Used as a stand-in for ATR on very short windows.
func AverageRange(candles []model.Candle, lookback int) float64 {
	start := len(candles) - lookback
	if start < 0 {
		start = 0
	}
	var sum float64
	n := 0
	for _, c := range candles[start:] {
		if !Defined(c.High) || !Defined(c.Low) {
			continue
		}
		sum += math.Abs(c.High - c.Low)
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// CurrentATR returns the last ATR value, falling back to the average
// range of the last 14 candles when ATR is not yet defined.
func CurrentATR(candles []model.Candle, atr []float64) float64 {
	if v := Last(atr); Defined(v) && v > 0 {
		return v
	}
	return AverageRange(candles, DefaultATRPeriod)
}
