package smc

import (
	"fmt"

	"signalflow/internal/indicator"
	"signalflow/internal/model"
)

// Fair value gap parameters.
const (
	FairValueGapLookback = 400
	FairValueGapMaxZones = 20

	fvgMinATRMultiple = 0.2
	fvgFillRatio      = 0.5
)

// FairValueGaps finds three-candle imbalances: the first candle's high
// below the third's low (bullish) or its low above the third's high
// (bearish). The gap must be at least 0.2 ATR thick. A gap is filled when
// a candle moving against it covers half of the band with its body.
func FairValueGaps(candles []model.Candle) []model.Zone {
	if len(candles) < max(atrPeriod+2, 3) {
		return nil
	}
	slice, _ := tail(candles, FairValueGapLookback)
	atr := indicator.ATR(slice, atrPeriod)

	var zones []model.Zone
	for i := 1; i < len(slice)-1; i++ {
		a, ok := positiveATR(atr, i)
		if !ok {
			continue
		}
		left, base, right := slice[i-1], slice[i], slice[i+1]
		if !left.Valid() || !base.Valid() || !right.Valid() {
			continue
		}

		var top, bottom float64
		var dir model.Direction
		switch {
		case left.High < right.Low:
			top, bottom, dir = right.Low, left.High, model.Bullish
		case left.Low > right.High:
			top, bottom, dir = left.Low, right.High, model.Bearish
		default:
			continue
		}
		thickness := top - bottom
		if !(thickness > 0) || thickness < a*fvgMinATRMultiple {
			continue
		}

		fill := resolveGapFill(slice, i+1, top, bottom, dir)
		label := "Bearish FVG"
		if dir == model.Bullish {
			label = "Bullish FVG"
		}
		zones = append(zones, model.Zone{
			ID:           fmt.Sprintf("fvg-%s-%d-%d", dirSlug(dir), left.Time, right.Time),
			StartTime:    base.Time,
			EndTime:      fill.time,
			Extend:       !fill.filled,
			Top:          top,
			Bottom:       bottom,
			Direction:    dir,
			Filled:       fill.filled,
			Label:        label,
			IndicatorKey: KeyFairValueGap,
			Size:         thickness,
			ATRMultiple:  thickness / a,
			FillRatio:    fill.ratio,
		})
	}
	return keepLast(zones, FairValueGapMaxZones)
}

// resolveGapFill skips candles moving in the gap's direction; only
// opposing bodies can fill it.
func resolveGapFill(candles []model.Candle, start int, top, bottom float64, dir model.Direction) fillResult {
	res := fillResult{time: candles[len(candles)-1].Time}
	thickness := top - bottom
	for i := start; i < len(candles); i++ {
		c := candles[i]
		if !c.Valid() {
			continue
		}
		res.time = c.Time
		if candleDirection(c) == dir {
			continue
		}
		ov := overlap(c.BodyLow(), c.BodyHigh(), bottom, top)
		if ov <= 0 {
			continue
		}
		ratio := ov / thickness
		if ratio > res.ratio {
			res.ratio = ratio
		}
		if ratio >= fvgFillRatio {
			res.filled, res.ratio = true, ratio
			return res
		}
	}
	return res
}
