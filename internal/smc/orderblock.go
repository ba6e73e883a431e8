package smc

import (
	"fmt"

	"signalflow/internal/indicator"
	"signalflow/internal/model"
	"signalflow/internal/swing"
)

// Order block parameters.
const (
	OrderBlockLookback = 400
	OrderBlockMaxZones = 20

	// Impulse candle body, in ATRs.
	orderBlockImpulseATR = 1.5

	// Share of the block body a later candle must cover to fill it.
	orderBlockFillRatio = 0.5

	// Share of the block body a breaker-direction body must cover to retest it.
	breakerRetestRatio = 0.3
)

// OrderBlocks finds the last opposite-coloured candle before each impulse
// that breaks the most recent pivot. The block is that candle's body.
func OrderBlocks(candles []model.Candle) []model.Zone {
	if len(candles) < 5 {
		return nil
	}
	slice, _ := tail(candles, OrderBlockLookback)
	atr := indicator.ATR(slice, atrPeriod)
	markers := swing.PivotMarkers(slice, pivotWindow, pivotWindow)
	lastHigh := swing.LastPivotIndex(markers.Highs, len(slice))
	lastLow := swing.LastPivotIndex(markers.Lows, len(slice))

	var zones []model.Zone
	used := make(map[int]bool)
	for i := atrPeriod; i < len(slice); i++ {
		c := slice[i]
		if !c.Valid() {
			continue
		}
		a, ok := positiveATR(atr, i)
		if !ok || c.Body() < orderBlockImpulseATR*a {
			continue
		}

		bullish := c.Bullish()
		pivotIdx := lastLow[i-1]
		if bullish {
			pivotIdx = lastHigh[i-1]
		}
		if pivotIdx < 0 {
			continue
		}
		pivot := slice[pivotIdx]
		if bullish && c.Close < pivot.High+minBreakATR*a {
			continue
		}
		if !bullish && c.Close > pivot.Low-minBreakATR*a {
			continue
		}

		ob := i - 1
		for ; ob >= 0; ob-- {
			cand := slice[ob]
			if !cand.Valid() {
				continue
			}
			if (bullish && cand.Bearish()) || (!bullish && cand.Bullish()) {
				break
			}
		}
		if ob < 0 || used[ob] {
			continue
		}
		block := slice[ob]
		top, bottom := block.BodyHigh(), block.BodyLow()
		if !(top > bottom) {
			continue
		}

		fill := resolveBlockFill(slice, i+1, bottom, top)
		dir := model.Bearish
		label := "Bearish OB"
		if bullish {
			dir, label = model.Bullish, "Bullish OB"
		}
		end := c.Time
		if fill.filled {
			end = fill.time
		}
		zones = append(zones, model.Zone{
			ID:           fmt.Sprintf("ob-%s-%d-%d", dirSlug(dir), block.Time, c.Time),
			StartTime:    block.Time,
			EndTime:      end,
			Extend:       !fill.filled,
			Top:          top,
			Bottom:       bottom,
			Direction:    dir,
			Filled:       fill.filled,
			Label:        label,
			IndicatorKey: KeyOrderBlock,
			Size:         top - bottom,
			ATRMultiple:  (top - bottom) / a,
			FillRatio:    fill.ratio,
		})
		used[ob] = true
	}
	return keepLast(zones, OrderBlockMaxZones)
}

type fillResult struct {
	filled bool
	time   int64
	ratio  float64
}

// resolveBlockFill scans forward from start for the first candle whose
// high-low range covers at least half of [bottom, top].
func resolveBlockFill(candles []model.Candle, start int, bottom, top float64) fillResult {
	res := fillResult{time: candles[len(candles)-1].Time}
	thickness := top - bottom
	for i := start; i < len(candles); i++ {
		c := candles[i]
		if !c.Valid() {
			continue
		}
		ov := overlap(c.Low, c.High, bottom, top)
		if ov <= 0 {
			continue
		}
		ratio := ov / thickness
		if ratio > res.ratio {
			res.ratio = ratio
		}
		if ratio >= orderBlockFillRatio {
			res.filled, res.time, res.ratio = true, c.Time, ratio
			return res
		}
	}
	return res
}

// BreakerBlocks flips order blocks that were later invalidated by a close
// through their far edge. A breaker is retested when a candle moving in
// the breaker's direction overlaps at least 30% of it with its body.
func BreakerBlocks(candles []model.Candle) []model.Zone {
	if len(candles) < 10 {
		return nil
	}
	blocks := OrderBlocks(candles)
	if len(blocks) == 0 {
		return nil
	}
	byTime := make(map[int64]int, len(candles))
	for i, c := range candles {
		byTime[c.Time] = i
	}

	var zones []model.Zone
	for _, ob := range blocks {
		start, ok := byTime[ob.StartTime]
		if !ok {
			continue
		}
		invalid := -1
		for i := start + 1; i < len(candles); i++ {
			c := candles[i]
			if !c.Valid() {
				continue
			}
			if (ob.Direction == model.Bullish && c.Close < ob.Bottom) ||
				(ob.Direction == model.Bearish && c.Close > ob.Top) {
				invalid = i
				break
			}
		}
		if invalid < 0 {
			continue
		}

		dir := model.Bullish
		if ob.Direction == model.Bullish {
			dir = model.Bearish
		}
		invalidTime := candles[invalid].Time
		retest := resolveBreakerRetest(candles, invalid+1, ob.Top, ob.Bottom, dir)
		zones = append(zones, model.Zone{
			ID:           fmt.Sprintf("breaker-%s-%s", dir, ob.ID),
			StartTime:    invalidTime,
			EndTime:      retest.time,
			Extend:       !retest.filled,
			Top:          ob.Top,
			Bottom:       ob.Bottom,
			Direction:    dir,
			Filled:       retest.filled,
			Label:        "Breaker Block",
			IndicatorKey: KeyBreakerBlock,
			Size:         ob.Top - ob.Bottom,
			RetestRatio:  retest.ratio,
			Retested:     retest.filled,
		})
	}
	return zones
}

func resolveBreakerRetest(candles []model.Candle, start int, top, bottom float64, dir model.Direction) fillResult {
	res := fillResult{time: candles[len(candles)-1].Time}
	thickness := top - bottom
	if !(thickness > 0) {
		return res
	}
	for i := start; i < len(candles); i++ {
		c := candles[i]
		if !c.Valid() {
			continue
		}
		res.time = c.Time
		ov := overlap(c.BodyLow(), c.BodyHigh(), bottom, top)
		if ov <= 0 {
			continue
		}
		ratio := ov / thickness
		if ratio > res.ratio {
			res.ratio = ratio
		}
		if ratio >= breakerRetestRatio && candleDirection(c) == dir {
			res.filled, res.time, res.ratio = true, c.Time, ratio
			return res
		}
	}
	return res
}
