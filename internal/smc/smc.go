// Package smc detects smart-money-concept structure on a candle window:
// order blocks, fair value gaps, breaker blocks, liquidity sweeps, equal
// highs and lows, session killzones, opening range breakouts and
// break-of-structure / change-of-character signals.
//
// Every detector is a pure function of its input window. Zones always
// satisfy Top >= Bottom; detections that would need a non-positive ATR or a
// non-finite price are skipped.
package smc

import (
	"math"

	"signalflow/internal/indicator"
	"signalflow/internal/model"
)

// Category is set on every signal produced here.
const Category = "Smart Money Concepts"

// Indicator keys used on zones and signals.
const (
	KeyMACross        = "maCross"
	KeyVWAP           = "vwap"
	KeyBollinger      = "bollinger"
	KeyKeltner        = "keltnerChannel"
	KeyFairValueGap   = "fairValueGap"
	KeyOrderBlock     = "orderBlock"
	KeyStructure      = "structure"
	KeyLiquiditySweep = "liquiditySweep"
	KeyEqualHighs     = "equalHighs"
	KeyEqualLows      = "equalLows"
	KeyBreakerBlock   = "breakerBlock"
	KeyKillzone       = "ictKillzone"
	KeyOpeningRange   = "openingRangeBreakout"
)

// Signal patterns.
const (
	PatternBOS          = "BOS"
	PatternCHOCH        = "CHOCH"
	PatternSweep        = "Liquidity Sweep"
	PatternOpeningRange = "Opening Range Breakout"
)

const (
	atrPeriod   = indicator.DefaultATRPeriod
	pivotWindow = 2

	// A close must clear the pivot by this many ATRs to break structure.
	minBreakATR = 0.3
)

// tail returns the last n candles and the offset of the first one.
func tail(candles []model.Candle, n int) ([]model.Candle, int) {
	if n <= 0 || len(candles) <= n {
		return candles, 0
	}
	off := len(candles) - n
	return candles[off:], off
}

// keepLast trims zones to the newest max entries.
func keepLast(zones []model.Zone, max int) []model.Zone {
	if len(zones) > max {
		return zones[len(zones)-max:]
	}
	return zones
}

// positiveATR returns atr[i] when it is defined and positive.
func positiveATR(atr []float64, i int) (float64, bool) {
	if i < 0 || i >= len(atr) {
		return 0, false
	}
	v := atr[i]
	if !indicator.Defined(v) || v <= 0 {
		return 0, false
	}
	return v, true
}

// overlap returns the length of [lo, hi] ∩ [bottom, top], or a value <= 0
// when they are disjoint.
func overlap(lo, hi, bottom, top float64) float64 {
	return math.Min(hi, top) - math.Max(lo, bottom)
}

// candleDirection treats close >= open as bullish.
func candleDirection(c model.Candle) model.Direction {
	if c.Close >= c.Open {
		return model.Bullish
	}
	return model.Bearish
}

func dirSlug(d model.Direction) string {
	if d == model.Bullish {
		return "bull"
	}
	return "bear"
}
