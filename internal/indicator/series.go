package indicator

import "signalflow/internal/model"

// Closes extracts close prices.
func Closes(candles []model.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

// Volumes extracts volumes, treating non-finite volume as zero.
func Volumes(candles []model.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		if Defined(c.Volume) {
			out[i] = c.Volume
		}
	}
	return out
}

// TypicalPrices returns (high+low+close)/3, Undefined for invalid candles.
func TypicalPrices(candles []model.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		if !c.Valid() {
			out[i] = Undefined
			continue
		}
		out[i] = (c.High + c.Low + c.Close) / 3
	}
	return out
}

// VolumeMA returns the rolling mean volume over period bars.
func VolumeMA(candles []model.Candle, period int) []float64 {
	return SMASeries(Volumes(candles), period)
}

// EMACloses returns the EMA of close prices.
func EMACloses(candles []model.Candle, period int) []float64 {
	return EMASeries(Closes(candles), period)
}

// VWAP returns cumulative typical-price x volume over cumulative volume.
// It never resets by session. Slots before any volume are Undefined.
func VWAP(candles []model.Candle) []float64 {
	out := undefinedSeries(len(candles))
	var cumPV, cumV float64
	for i, c := range candles {
		if !c.Valid() {
			continue
		}
		v := 0.0
		if Defined(c.Volume) {
			v = c.Volume
		}
		cumPV += (c.High + c.Low + c.Close) / 3 * v
		cumV += v
		if cumV > 0 {
			out[i] = cumPV / cumV
		}
	}
	return out
}

// MACDResult holds the MACD line and its signal line, aligned to candles.
type MACDResult struct {
	MACD   []float64
	Signal []float64
}

// MACD returns EMA(fast) - EMA(slow) of closes and an EMA(signal) of that line.
func MACD(candles []model.Candle, fast, slow, signal int) MACDResult {
	f := EMACloses(candles, fast)
	s := EMACloses(candles, slow)
	line := undefinedSeries(len(candles))
	for i := range candles {
		if Defined(f[i]) && Defined(s[i]) {
			line[i] = f[i] - s[i]
		}
	}
	return MACDResult{MACD: line, Signal: EMASeries(line, signal)}
}

// Last returns the last value of a series, Undefined if empty.
func Last(series []float64) float64 {
	if len(series) == 0 {
		return Undefined
	}
	return series[len(series)-1]
}

// LastDefinedPair returns the two most recent values of series if both of
// the final two slots are defined.
func LastDefinedPair(series []float64) (prev, last float64, ok bool) {
	n := len(series)
	if n < 2 || !Defined(series[n-1]) || !Defined(series[n-2]) {
		return 0, 0, false
	}
	return series[n-2], series[n-1], true
}

// Mean averages the finite values in [start, end] of series, clamped to
// the slice bounds. Returns Undefined if none are finite.
func Mean(series []float64, start, end int) float64 {
	if start < 0 {
		start = 0
	}
	if end > len(series)-1 {
		end = len(series) - 1
	}
	var sum float64
	n := 0
	for i := start; i <= end; i++ {
		if Defined(series[i]) {
			sum += series[i]
			n++
		}
	}
	if n == 0 {
		return Undefined
	}
	return sum / float64(n)
}

// Point is one (time, value) sample of a rendered series.
type Point struct {
	Time  int64   `json:"time"`
	Value float64 `json:"value"`
}

// Line is a named overlay series.
type Line struct {
	ID     string  `json:"id"`
	Title  string  `json:"title"`
	Points []Point `json:"data"`
}

// Points pairs candle times with the defined values of series.
func Points(candles []model.Candle, series []float64) []Point {
	out := make([]Point, 0, len(series))
	for i, v := range series {
		if i >= len(candles) || !Defined(v) {
			continue
		}
		out = append(out, Point{Time: candles[i].Time, Value: v})
	}
	return out
}
