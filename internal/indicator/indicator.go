// Package indicator provides the volatility engine and indicator primitives
// used by every detector: true range, Wilder ATR, EMA, SMA, RSI, MACD, VWAP,
// Bollinger and Keltner bands.
//
// Streaming state lives in small O(1) structs (EMA, SMA, SMMA, RSI) that
// implement Indicator. Series functions run those structs across a candle
// window and return one value per candle, with NaN marking "undefined".
package indicator

import "math"

// Indicator is the interface for the streaming building blocks.
type Indicator interface {
	// Name returns the indicator name (e.g., "SMA", "EMA").
	Name() string

	// Update feeds the next value and recalculates.
	Update(v float64)

	// Value returns the current calculated value. Returns 0 if not enough data.
	Value() float64

	// Ready returns true when enough data has been accumulated.
	Ready() bool
}

// Undefined marks a series slot with no value.
var Undefined = math.NaN()

// Defined reports whether a series value is usable.
func Defined(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func undefinedSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = Undefined
	}
	return out
}

// Run feeds values through ind and returns its output per slot. Slots that
// are not finite, or where ind is not ready yet, are Undefined.
func Run(ind Indicator, values []float64) []float64 {
	out := undefinedSeries(len(values))
	for i, v := range values {
		if !Defined(v) {
			continue
		}
		ind.Update(v)
		if ind.Ready() {
			out[i] = ind.Value()
		}
	}
	return out
}
