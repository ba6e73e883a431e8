package indicator

import (
	"github.com/markcheno/go-talib"

	"signalflow/internal/model"
)

// Bands is an upper/middle/lower envelope aligned to candles.
type Bands struct {
	Upper  []float64
	Middle []float64
	Lower  []float64
}

func newBands(n int) Bands {
	return Bands{Upper: undefinedSeries(n), Middle: undefinedSeries(n), Lower: undefinedSeries(n)}
}

// Bollinger returns SMA(period) of closes ± k population standard deviations.
func Bollinger(candles []model.Candle, period int, k float64) Bands {
	out := newBands(len(candles))
	if period <= 1 || len(candles) < period {
		return out
	}
	closes := Closes(candles)
	for _, v := range closes {
		if !Defined(v) {
			return bollingerSlow(closes, period, k)
		}
	}
	mid := talib.Sma(closes, period)
	dev := talib.StdDev(closes, period, 1.0)
	for i := period - 1; i < len(closes); i++ {
		out.Middle[i] = mid[i]
		out.Upper[i] = mid[i] + k*dev[i]
		out.Lower[i] = mid[i] - k*dev[i]
	}
	return out
}

// bollingerSlow handles windows with gaps by skipping non-finite closes.
func bollingerSlow(closes []float64, period int, k float64) Bands {
	out := newBands(len(closes))
	idx := make([]int, 0, len(closes))
	vals := make([]float64, 0, len(closes))
	for i, v := range closes {
		if Defined(v) {
			idx = append(idx, i)
			vals = append(vals, v)
		}
	}
	if len(vals) < period {
		return out
	}
	mid := talib.Sma(vals, period)
	dev := talib.StdDev(vals, period, 1.0)
	for j := period - 1; j < len(vals); j++ {
		i := idx[j]
		out.Middle[i] = mid[j]
		out.Upper[i] = mid[j] + k*dev[j]
		out.Lower[i] = mid[j] - k*dev[j]
	}
	return out
}

// Keltner returns EMA(period) of typical price ± multiplier x ATR(period).
func Keltner(candles []model.Candle, period int, multiplier float64) Bands {
	out := newBands(len(candles))
	if len(candles) < period {
		return out
	}
	basis := EMASeries(TypicalPrices(candles), period)
	atr := ATR(candles, period)
	for i := range candles {
		if !Defined(basis[i]) || !Defined(atr[i]) {
			continue
		}
		r := atr[i] * multiplier
		out.Middle[i] = basis[i]
		out.Upper[i] = basis[i] + r
		out.Lower[i] = basis[i] - r
	}
	return out
}
