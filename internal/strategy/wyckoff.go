package strategy

import (
	"math"

	"signalflow/internal/indicator"
	"signalflow/internal/model"
	"signalflow/internal/swing"
)

const (
	wyckoffLookback  = 80
	wyckoffSwing     = 3
	wyckoffCompactAT = 4   // max range height in window ATRs
	wyckoffPierce    = 0.3 // spring/upthrust pierce in ATRs
)

type wyckoffGroup struct{}

func (wyckoffGroup) Name() string { return GroupWyckoff }

// Evaluate looks for accumulation and distribution ranges over the last 80
// candles and for springs and upthrusts on the newest bar.
func (wyckoffGroup) Evaluate(in *Input) Result {
	candles := in.Candles
	n := len(candles)
	if n < wyckoffLookback {
		return Result{Diagnostics: []model.Diagnostic{{
			Scope: GroupWyckoff, Status: model.DiagInsufficientData,
			Message: "Need 80+ candles for Wyckoff analysis.",
		}}}
	}

	window := candles[n-wyckoffLookback:]
	rangeHigh, rangeLow := priceRange(window)
	rangeMid := (rangeHigh + rangeLow) / 2
	height := rangeHigh - rangeLow
	atrWindow := indicator.Mean(in.ATR, n-wyckoffLookback, n-1)

	if !model.Finite(height) || height <= 0 || !indicator.Defined(atrWindow) || atrWindow <= 0 {
		return Result{Diagnostics: []model.Diagnostic{{
			Scope: GroupWyckoff, Status: model.DiagNoRange,
			Message: "Unable to resolve Wyckoff range.",
		}}}
	}

	last := window[len(window)-1]
	compact := height <= atrWindow*wyckoffCompactAT
	trend := priorTrend(candles, wyckoffLookback)

	swings := swing.Since(swing.Detect(candles, wyckoffSwing, wyckoffSwing), n-wyckoffLookback)
	lows := swingPrices(swing.Filter(swings, model.SwingLow))
	highs := swingPrices(swing.Filter(swings, model.SwingHigh))

	var signals []model.Signal
	levels := map[string]float64{"rangeHigh": rangeHigh, "rangeLow": rangeLow}

	if compact && trend < 0 && len(lows) >= 2 && monotonic(lows, true) {
		score := volumeSupport(window, in.VolumeMA).accumulation
		if score > 0.5 {
			signals = append(signals, in.newSignal(signalSpec{
				pattern:     "Accumulation",
				category:    GroupWyckoff,
				direction:   model.Bullish,
				status:      model.StatusDeveloping,
				confidence:  math.Min(0.9, 0.6+score*0.3),
				confirmedAt: last.Time,
				trigger:     rangeMid,
				keyLevels:   levels,
				context:     map[string]any{"compactRange": compact, "risingLows": true, "priorTrend": trend},
			}))
		}
	}

	if compact && trend > 0 && len(highs) >= 2 && monotonic(highs, false) {
		score := volumeSupport(window, in.VolumeMA).distribution
		if score > 0.5 {
			signals = append(signals, in.newSignal(signalSpec{
				pattern:     "Distribution",
				category:    GroupWyckoff,
				direction:   model.Bearish,
				status:      model.StatusDeveloping,
				confidence:  math.Min(0.9, 0.6+score*0.3),
				confirmedAt: last.Time,
				trigger:     rangeMid,
				keyLevels:   levels,
				context:     map[string]any{"compactRange": compact, "fallingHighs": true, "priorTrend": trend},
			}))
		}
	}

	// Springs and upthrusts pierce the range formed before the newest bar.
	atr := firstPositive(indicator.Last(in.ATR), atrWindow)
	priorHigh, priorLow := priceRange(window[:len(window)-1])
	prior := map[string]float64{"rangeHigh": priorHigh, "rangeLow": priorLow}

	if last.Low < priorLow-atr*wyckoffPierce && last.Close > priorLow {
		signals = append(signals, in.newSignal(signalSpec{
			pattern:     "Spring",
			category:    GroupWyckoff,
			direction:   model.Bullish,
			status:      model.StatusConfirmed,
			confidence:  0.65,
			confirmedAt: last.Time,
			trigger:     last.Close,
			keyLevels:   prior,
			context:     map[string]any{"atr": atr},
		}))
	}
	if last.High > priorHigh+atr*wyckoffPierce && last.Close < priorHigh {
		signals = append(signals, in.newSignal(signalSpec{
			pattern:     "Upthrust",
			category:    GroupWyckoff,
			direction:   model.Bearish,
			status:      model.StatusConfirmed,
			confidence:  0.65,
			confirmedAt: last.Time,
			trigger:     last.Close,
			keyLevels:   prior,
			context:     map[string]any{"atr": atr},
		}))
	}

	return Result{Signals: signals}
}

// priceRange returns the highest high and lowest low of candles.
func priceRange(candles []model.Candle) (high, low float64) {
	high, low = math.Inf(-1), math.Inf(1)
	for _, c := range candles {
		high = math.Max(high, c.High)
		low = math.Min(low, c.Low)
	}
	return high, low
}

// priorTrend is the close-to-close move of the lookback candles that
// precede the last lookback candles. Zero if there are none.
func priorTrend(candles []model.Candle, lookback int) float64 {
	end := len(candles) - lookback
	start := max(0, end-lookback)
	if end <= start {
		return 0
	}
	return candles[end-1].Close - candles[start].Close
}

func swingPrices(swings []model.Swing) []float64 {
	out := make([]float64, len(swings))
	for i, s := range swings {
		out[i] = s.Price
	}
	return out
}

type volumeScores struct {
	accumulation float64
	distribution float64
}

// volumeSupport compares the volume on candles closing near their lows
// (accumulation) or highs (distribution) with 1.5x the average volume MA
// over the same span.
func volumeSupport(window []model.Candle, volMA []float64) volumeScores {
	var lowVols, highVols []float64
	for _, c := range window {
		r := c.High - c.Low
		if !model.Finite(r) || r <= 0 {
			continue
		}
		if c.Close <= c.Low+r*0.25 {
			lowVols = append(lowVols, c.Volume)
		}
		if c.Close >= c.High-r*0.25 {
			highVols = append(highVols, c.Volume)
		}
	}
	sample := indicator.Mean(volMA, len(volMA)-len(window), len(volMA)-1)
	score := func(vols []float64) float64 {
		v := average(vols)
		if !indicator.Defined(v) || !indicator.Defined(sample) || sample <= 0 {
			return 0
		}
		return clamp(v/(sample*1.5), 0, 1)
	}
	return volumeScores{accumulation: score(lowVols), distribution: score(highVols)}
}
