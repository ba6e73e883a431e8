package model

import (
	"encoding/json"
	"math"
	"sort"
)

// Candle sources.
const (
	SourceTrade   = "trade"
	SourceQuote   = "quote"
	SourceHistory = "history"
	SourceCandle  = "candle"
)

// Candle is a one-minute OHLCV bar. Time is the bucket start in epoch seconds.
type Candle struct {
	Time      int64   `json:"time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Completed bool    `json:"completed"`
	Source    string  `json:"source,omitempty"`
}

// Valid reports whether all four prices are finite numbers.
func (c Candle) Valid() bool {
	return finite(c.Open) && finite(c.High) && finite(c.Low) && finite(c.Close)
}

// BodyHigh returns max(open, close).
func (c Candle) BodyHigh() float64 { return math.Max(c.Open, c.Close) }

// BodyLow returns min(open, close).
func (c Candle) BodyLow() float64 { return math.Min(c.Open, c.Close) }

// Body returns the absolute open-close distance.
func (c Candle) Body() float64 { return math.Abs(c.Close - c.Open) }

// Range returns high - low.
func (c Candle) Range() float64 { return c.High - c.Low }

// UpperWick returns the distance from the body top to the high.
func (c Candle) UpperWick() float64 { return c.High - c.BodyHigh() }

// LowerWick returns the distance from the low to the body bottom.
func (c Candle) LowerWick() float64 { return c.BodyLow() - c.Low }

// Bullish reports close > open.
func (c Candle) Bullish() bool { return c.Close > c.Open }

// Bearish reports close < open.
func (c Candle) Bearish() bool { return c.Close < c.Open }

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

// CloneCandles returns an independent copy of src.
func CloneCandles(src []Candle) []Candle {
	if src == nil {
		return nil
	}
	out := make([]Candle, len(src))
	copy(out, src)
	return out
}

// NormalizeCandles drops candles with non-finite prices or a non-positive
// time and returns the rest sorted by time. Non-finite volume becomes 0.
// The input is not modified.
func NormalizeCandles(candles []Candle) []Candle {
	out := make([]Candle, 0, len(candles))
	for _, c := range candles {
		if c.Time <= 0 || !c.Valid() {
			continue
		}
		if !finite(c.Volume) {
			c.Volume = 0
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Finite reports whether v is neither NaN nor ±Inf.
func Finite(v float64) bool { return finite(v) }
