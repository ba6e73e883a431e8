package pattern

import (
	"math"

	"signalflow/internal/indicator"
	"signalflow/internal/model"
)

// detectAscendingTriangle needs flat resistance over two highs and a higher
// second low, confirmed by a 0.8 ATR close above resistance.
func detectAscendingTriangle(in *input) []model.Signal {
	var out []model.Signal
	p := in.profile
	for i := 3; i < len(in.swings); i++ {
		w := in.swings[i-3 : i+1]
		if !sequence(w, high, low, high, low) {
			continue
		}
		firstHigh, firstLow, secondHigh, secondLow := w[0], w[1], w[2], w[3]

		if math.Abs(pctDiff(secondHigh.Price, firstHigh.Price)) > p.TriangleFlatTolerance {
			continue
		}
		if !(secondLow.Price > firstLow.Price*(1+p.TriangleRisingThreshold)) {
			continue
		}
		resistance := (firstHigh.Price + secondHigh.Price) / 2
		idx := in.find(breakout{
			from:    secondLow.Index + 1,
			level:   resistance,
			atrMult: 0.8,
			volMult: p.VolumeSpikeMultiplier,
			above:   true,
		})
		if idx < 0 {
			continue
		}
		slope := math.Min(1, math.Abs(pctDiff(secondLow.Price, firstLow.Price))/p.TriangleRisingThreshold)
		sig, ok := in.signal(formation{
			pattern:    "Ascending Triangle",
			direction:  model.Bullish,
			index:      idx,
			keyLevels:  map[string]float64{"resistance": resistance, "risingBase": secondLow.Price},
			context:    map[string]any{"firstHighTime": firstHigh.Time, "secondHighTime": secondHigh.Time},
			confidence: clamp(0.5+slope*0.4, 0.5, 0.9),
		})
		if ok {
			out = append(out, sig)
		}
	}
	return out
}

// detectDescendingTriangle mirrors the ascending case: flat support and a
// lower second high.
func detectDescendingTriangle(in *input) []model.Signal {
	var out []model.Signal
	p := in.profile
	for i := 3; i < len(in.swings); i++ {
		w := in.swings[i-3 : i+1]
		if !sequence(w, low, high, low, high) {
			continue
		}
		firstLow, firstHigh, secondLow, secondHigh := w[0], w[1], w[2], w[3]

		if math.Abs(pctDiff(secondLow.Price, firstLow.Price)) > p.TriangleFlatTolerance {
			continue
		}
		if !(secondHigh.Price < firstHigh.Price*(1-p.TriangleFallingThreshold)) {
			continue
		}
		support := (firstLow.Price + secondLow.Price) / 2
		idx := in.find(breakout{
			from:    secondHigh.Index + 1,
			level:   support,
			atrMult: 0.8,
			volMult: p.VolumeSpikeMultiplier,
		})
		if idx < 0 {
			continue
		}
		slope := math.Min(1, math.Abs(pctDiff(secondHigh.Price, firstHigh.Price))/p.TriangleFallingThreshold)
		sig, ok := in.signal(formation{
			pattern:    "Descending Triangle",
			direction:  model.Bearish,
			index:      idx,
			keyLevels:  map[string]float64{"support": support, "fallingCeiling": secondHigh.Price},
			context:    map[string]any{"firstLowTime": firstLow.Time, "secondLowTime": secondLow.Time},
			confidence: clamp(0.5+slope*0.4, 0.5, 0.9),
		})
		if ok {
			out = append(out, sig)
		}
	}
	return out
}

// flagPullbackBars is how many bars after the impulse are searched for the pullback.
const flagPullbackBars = 6

func detectBullFlag(in *input) []model.Signal { return flag(in, true) }
func detectBearFlag(in *input) []model.Signal { return flag(in, false) }

// flag slides a fixed impulse window across the candles. The impulse must
// move at least FlagImpulseATRMultiple average ATRs; the following pullback
// must retrace within [FlagPullbackDepthMin, FlagPullbackDepthMax] of it.
func flag(in *input, bull bool) []model.Signal {
	var out []model.Signal
	p := in.profile
	window := p.FlagImpulseWindow
	candles := in.candles
	if window < 2 || len(candles) < window+flagPullbackBars {
		return nil
	}
	for start := 0; start <= len(candles)-(window+flagPullbackBars); start++ {
		end := start + window - 1
		move := candles[end].Close - candles[start].Close
		if !model.Finite(move) || (bull && move <= 0) || (!bull && move >= 0) {
			continue
		}
		avgATR := indicator.Mean(in.atr, start, end)
		if !indicator.Defined(avgATR) || avgATR <= 0 {
			continue
		}
		if math.Abs(move) < avgATR*p.FlagImpulseATRMultiple {
			continue
		}

		extreme := candles[start].High
		if !bull {
			extreme = candles[start].Low
		}
		for _, c := range candles[start+1 : end+1] {
			if bull {
				extreme = math.Max(extreme, c.High)
			} else {
				extreme = math.Min(extreme, c.Low)
			}
		}

		pbStart := end + 1
		pbEnd := min(pbStart+flagPullbackBars, len(candles)-1)
		pbIdx := pbStart
		pbPrice := candles[pbStart].Close
		for i := pbStart + 1; i <= pbEnd; i++ {
			c := candles[i].Close
			if (bull && c < pbPrice) || (!bull && c > pbPrice) {
				pbPrice, pbIdx = c, i
			}
		}
		if (bull && pbPrice >= extreme) || (!bull && pbPrice <= extreme) {
			continue
		}
		retrace := math.Abs((extreme - pbPrice) / move)
		if retrace < p.FlagPullbackDepthMin || retrace > p.FlagPullbackDepthMax {
			continue
		}

		idx := in.find(breakout{
			from:    pbIdx + 1,
			level:   extreme,
			atrMult: 0.5,
			volMult: p.VolumeSpikeMultiplier,
			above:   bull,
		})
		if idx < 0 {
			continue
		}

		s := formation{
			index:      idx,
			context:    map[string]any{"impulseStartTime": candles[start].Time, "impulseEndTime": candles[end].Time},
			confidence: clamp(retrace*1.2, 0.55, 0.92),
		}
		if bull {
			s.pattern, s.direction = "Bull Flag", model.Bullish
			s.keyLevels = map[string]float64{"flagHigh": extreme, "flagLow": pbPrice}
		} else {
			s.pattern, s.direction = "Bear Flag", model.Bearish
			s.keyLevels = map[string]float64{"flagLow": extreme, "flagHigh": pbPrice}
		}
		if sig, ok := in.signal(s); ok {
			out = append(out, sig)
		}
	}
	return out
}

// Cup depth bounds and rim symmetry, as fractions of the left rim.
const (
	cupDepthMin     = 0.02
	cupDepthMax     = 0.15
	cupRimTolerance = 0.01
	cupHandleBars   = 6
)

// detectCupAndHandle looks for a rounded base of CupMinBars whose rims
// match within 1%, followed by a shallow handle and a close above the rim.
func detectCupAndHandle(in *input) []model.Signal {
	var out []model.Signal
	p := in.profile
	candles := in.candles
	n := p.CupMinBars
	if n <= 0 || len(candles) < n+10 {
		return nil
	}
	for start := 0; start <= len(candles)-(n+cupHandleBars); start++ {
		end := start + n
		cup := candles[start : end+1]
		leftRim := cup[0].Close
		rightRim := cup[len(cup)-1].Close

		lowIdx := 0
		for i, c := range cup {
			if c.Close < cup[lowIdx].Close {
				lowIdx = i
			}
		}
		base := cup[lowIdx].Close

		depth := math.Abs((base - leftRim) / leftRim)
		if !model.Finite(depth) || depth < cupDepthMin || depth > cupDepthMax {
			continue
		}
		if math.Abs(pctDiff(rightRim, leftRim)) > cupRimTolerance {
			continue
		}

		hStart := end + 1
		hEnd := min(hStart+cupHandleBars, len(candles)-1)
		handleLow := math.Inf(1)
		for i := hStart; i <= hEnd; i++ {
			handleLow = math.Min(handleLow, candles[i].Close)
		}
		if !model.Finite(handleLow) || rightRim == base {
			continue
		}
		if math.Abs((rightRim-handleLow)/(rightRim-base)) > p.CupHandleRetraceMax {
			continue
		}

		idx := in.find(breakout{
			from:    hEnd,
			level:   rightRim,
			atrMult: 0.7,
			volMult: p.VolumeSpikeMultiplier,
			above:   true,
		})
		if idx < 0 {
			continue
		}
		half := float64(len(cup)) / 2
		symmetry := 1 - math.Abs((float64(lowIdx)-half)/half)
		sig, ok := in.signal(formation{
			pattern:    "Cup and Handle",
			direction:  model.Bullish,
			index:      idx,
			keyLevels:  map[string]float64{"breakout": rightRim, "baseLow": base},
			context:    map[string]any{"cupStartTime": candles[start].Time, "cupEndTime": candles[end].Time},
			confidence: clamp(0.6+symmetry*0.3, 0.55, 0.9),
		})
		if ok {
			out = append(out, sig)
		}
	}
	return out
}
