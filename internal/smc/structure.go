package smc

import (
	"fmt"
	"math"
	"sort"

	"signalflow/internal/indicator"
	"signalflow/internal/model"
	"signalflow/internal/swing"
)

// StructureBreaks tracks the most recent unbroken pivot high and low. A
// close beyond a pivot by 0.3 ATR is a break of structure; the pivot is then
// spent. A break against the previously tracked trend also emits a change
// of character on the same bar.
func StructureBreaks(candles []model.Candle) []model.Signal {
	if len(candles) < atrPeriod+2*pivotWindow+2 {
		return nil
	}
	atr := indicator.ATR(candles, atrPeriod)
	markers := swing.PivotMarkers(candles, pivotWindow, pivotWindow)
	lastHigh := swing.LastPivotIndex(markers.Highs, len(candles))
	lastLow := swing.LastPivotIndex(markers.Lows, len(candles))

	var out []model.Signal
	brokenHighs := make(map[int]bool)
	brokenLows := make(map[int]bool)
	var trend model.Direction

	emit := func(pivot, c model.Candle, dir model.Direction, level float64) {
		up := dir == model.Bullish
		slug := "down"
		chochSlug := "bear"
		if up {
			slug, chochSlug = "up", "bull"
		}
		idBase := fmt.Sprintf("%d-%d", pivot.Time, c.Time)
		out = append(out, structureSignal("bos-"+slug+"-"+idBase, PatternBOS, dir, pivot, c, level, 0.7))
		if trend != "" && trend != dir {
			out = append(out, structureSignal("choch-"+chochSlug+"-"+idBase, PatternCHOCH, dir, pivot, c, level, 0.65))
		}
		trend = dir
	}

	for i := atrPeriod; i < len(candles); i++ {
		a, ok := positiveATR(atr, i)
		if !ok {
			continue
		}
		c := candles[i]
		threshold := a * minBreakATR

		if h := lastHigh[i-1]; h >= 0 && !brokenHighs[h] {
			pivot := candles[h]
			if pivot.Valid() && c.Close >= pivot.High+threshold {
				brokenHighs[h] = true
				emit(pivot, c, model.Bullish, pivot.High)
			}
		}
		if l := lastLow[i-1]; l >= 0 && !brokenLows[l] {
			pivot := candles[l]
			if pivot.Valid() && c.Close <= pivot.Low-threshold {
				brokenLows[l] = true
				emit(pivot, c, model.Bearish, pivot.Low)
			}
		}
	}
	return out
}

func structureSignal(id, pattern string, dir model.Direction, pivot, c model.Candle, level, confidence float64) model.Signal {
	return model.Signal{
		ID:           id,
		Pattern:      pattern,
		Category:     Category,
		Direction:    dir,
		Status:       model.StatusConfirmed,
		Confidence:   confidence,
		ConfirmedAt:  c.Time,
		TriggerPrice: level,
		KeyLevels:    map[string]float64{"trigger": level, "close": c.Close},
		Context:      map[string]any{"pivotTime": pivot.Time, "breakTime": c.Time},
		Source:       "smc",
		IndicatorKey: KeyStructure,
	}
}

// Liquidity sweep parameters.
const (
	LiquidityLookback = 300

	// Largest wick extension beyond the pivot, in ATRs.
	sweepMaxATR = 0.2
)

// LiquiditySweeps finds, for each pivot, the first later candle that pokes
// past it by at most 0.2 ATR, closes back inside and leaves a wick on the
// swept side. Context indices refer to the full input window.
func LiquiditySweeps(candles []model.Candle) []model.Signal {
	if len(candles) < atrPeriod+2*pivotWindow+2 {
		return nil
	}
	slice, offset := tail(candles, LiquidityLookback)
	atr := indicator.ATR(slice, atrPeriod)
	markers := swing.PivotMarkers(slice, pivotWindow, pivotWindow)

	var out []model.Signal
	check := func(p int, high bool) {
		pivot := slice[p]
		if !pivot.Valid() {
			return
		}
		for i := p + 1; i < len(slice); i++ {
			c := slice[i]
			if !c.Valid() {
				continue
			}
			a, ok := indicator.LastPositive(atr, i)
			if !ok {
				continue
			}

			var ext, level, extreme, wick float64
			if high {
				if !(c.High > pivot.High) || c.Close > pivot.High {
					continue
				}
				ext, level, extreme, wick = c.High-pivot.High, pivot.High, c.High, c.UpperWick()
			} else {
				if !(c.Low < pivot.Low) || c.Close < pivot.Low {
					continue
				}
				ext, level, extreme, wick = pivot.Low-c.Low, pivot.Low, c.Low, c.LowerWick()
			}
			if ext <= 0 || ext > a*sweepMaxATR || wick <= 0 {
				continue
			}

			side, dir := "low", model.Bullish
			if high {
				side, dir = "high", model.Bearish
			}
			out = append(out, model.Signal{
				ID:           fmt.Sprintf("liq-%s-%d-%d", side, pivot.Time, c.Time),
				Pattern:      PatternSweep,
				Category:     Category,
				Direction:    dir,
				Status:       model.StatusConfirmed,
				Confidence:   0.5,
				ConfirmedAt:  c.Time,
				TriggerPrice: level,
				KeyLevels:    map[string]float64{"swing": level, "sweepExtreme": extreme, "close": c.Close},
				Context: map[string]any{
					"pivotTime":   pivot.Time,
					"pivotIndex":  offset + p,
					"sweepIndex":  offset + i,
					"atrMultiple": ext / a,
				},
				Source:       "smc",
				IndicatorKey: KeyLiquiditySweep,
			})
			return
		}
	}

	for _, p := range markers.HighIndices() {
		check(p, true)
	}
	for _, p := range markers.LowIndices() {
		check(p, false)
	}
	return out
}

// Equal level parameters.
const (
	EqualLevelLookback = 400

	equalToleranceMin = 0.1
	equalToleranceMax = 0.2
	equalMinTouches   = 2
)

// Side selects pivot highs or lows.
type Side string

const (
	SideHigh Side = "high"
	SideLow  Side = "low"
)

type level struct {
	price     float64
	tolerance float64
	touches   int
	times     []int64
	high, low float64
}

// EqualLevels clusters same-side pivots whose prices sit within 0.2 ATR of
// a running level. Levels touched at least twice become open liquidity
// zones: bearish above equal highs, bullish below equal lows.
func EqualLevels(candles []model.Candle, side Side) []model.Zone {
	if len(candles) < atrPeriod+2*pivotWindow+2 {
		return nil
	}
	slice, _ := tail(candles, EqualLevelLookback)
	atr := indicator.ATR(slice, atrPeriod)
	markers := swing.PivotMarkers(slice, pivotWindow, pivotWindow)
	pivots := markers.LowIndices()
	if side == SideHigh {
		pivots = markers.HighIndices()
	}

	var levels []*level
	for _, idx := range pivots {
		c := slice[idx]
		price := c.Low
		if side == SideHigh {
			price = c.High
		}
		a, ok := positiveATR(atr, idx)
		if !ok || !model.Finite(price) {
			continue
		}
		tolMax := max(a*equalToleranceMax, 0.01)
		tolMin := max(a*equalToleranceMin, 0.005)

		var lv *level
		for _, l := range levels {
			if math.Abs(l.price-price) <= tolMax {
				lv = l
				break
			}
		}
		if lv == nil {
			lv = &level{price: price, tolerance: tolMax, high: price, low: price}
			levels = append(levels, lv)
		} else {
			lv.price = (lv.price*float64(lv.touches) + price) / float64(lv.touches+1)
			lv.tolerance = max(lv.tolerance, tolMax)
			lv.high = max(lv.high, price+tolMin/2)
			lv.low = min(lv.low, price-tolMin/2)
		}
		lv.touches++
		lv.times = append(lv.times, c.Time)
	}

	key, label, dir := KeyEqualLows, "Equal Lows", model.Bullish
	if side == SideHigh {
		key, label, dir = KeyEqualHighs, "Equal Highs", model.Bearish
	}
	var zones []model.Zone
	for _, lv := range levels {
		if lv.touches < equalMinTouches {
			continue
		}
		spread := math.Abs(lv.high - lv.low)
		if spread == 0 {
			spread = 0.01
		}
		half := max(lv.tolerance, spread) / 2
		times := append([]int64(nil), lv.times...)
		sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })
		zones = append(zones, model.Zone{
			ID:           fmt.Sprintf("equal-%s-%d-%d", side, times[0], len(zones)),
			StartTime:    times[0],
			EndTime:      times[len(times)-1],
			Extend:       true,
			Top:          lv.price + half,
			Bottom:       lv.price - half,
			Direction:    dir,
			Label:        label,
			IndicatorKey: key,
			Touches:      lv.touches,
		})
	}
	return zones
}
