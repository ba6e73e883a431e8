package strategy

import (
	"signalflow/internal/model"
	"signalflow/internal/smc"
)

// smcSignals maps indicator zones and signals into strategy signals with
// strategy-level statuses and confidences.
func smcSignals(payload smc.Payload, timeframe, contractCode string) []model.Signal {
	out := make([]model.Signal, 0, len(payload.Zones)+len(payload.Signals))
	for _, z := range payload.Zones {
		if s, ok := zoneSignal(z); ok {
			out = append(out, newSignal(s, timeframe, contractCode))
		}
	}
	for _, sig := range payload.Signals {
		if s, ok := overlaySignal(sig); ok {
			out = append(out, newSignal(s, timeframe, contractCode))
		}
	}
	return dedupe(out)
}

func zoneSignal(z model.Zone) (signalSpec, bool) {
	s := signalSpec{
		category:    smc.Category,
		direction:   z.Direction,
		confirmedAt: z.StartTime,
		trigger:     z.Bottom,
		keyLevels:   map[string]float64{"top": z.Top, "bottom": z.Bottom},
		context:     map[string]any{"extend": z.Extend, "filled": z.Filled},
		source:      "indicator",
	}

	switch z.IndicatorKey {
	case smc.KeyFairValueGap:
		s.pattern = "Fair Value Gap"
		s.status = pick(z.Filled, model.StatusFilled, model.StatusActive)
		s.confidence = clampRatio(z.ATRMultiple, 0.2, 2)
	case smc.KeyOrderBlock:
		s.pattern = "Order Block"
		s.status = pick(z.Filled, model.StatusMitigated, model.StatusActive)
		s.confidence = clampRatio(z.Size, 0.25, 8)
	case smc.KeyEqualHighs:
		s.pattern = "Equal Highs"
		s.direction = model.Bearish
		s.status = model.StatusLiquidity
		s.confidence = clampRatio(float64(z.Touches), 2, 6)
	case smc.KeyEqualLows:
		s.pattern = "Equal Lows"
		s.direction = model.Bullish
		s.status = model.StatusLiquidity
		s.confidence = clampRatio(float64(z.Touches), 2, 6)
	case smc.KeyBreakerBlock:
		retest := z.RetestRatio
		if !z.Retested {
			retest = 0.3
		}
		s.pattern = "Breaker Block"
		s.status = pick(z.Filled, model.StatusValidated, model.StatusWatchlist)
		s.confidence = clampRatio(retest, 0.1, 1)
	case smc.KeyKillzone:
		s.pattern = "ICT Killzone"
		if s.direction == "" {
			s.direction = model.Neutral
		}
		s.status = model.StatusSession
		s.confidence = 0.6
		s.keyLevels = map[string]float64{"windowTop": z.Top, "windowBottom": z.Bottom}
	case smc.KeyOpeningRange:
		s.pattern = smc.PatternOpeningRange
		s.direction = model.Neutral
		s.status = model.StatusRange
		s.confidence = 0.55
		s.keyLevels = map[string]float64{"rangeHigh": z.Top, "rangeLow": z.Bottom}
	default:
		return s, false
	}
	return s, true
}

func overlaySignal(sig model.Signal) (signalSpec, bool) {
	trigger := sig.TriggerPrice
	if v, ok := sig.KeyLevels["trigger"]; ok && v != 0 {
		trigger = v
	}
	source := sig.IndicatorKey
	if source == "" {
		source = "indicator"
	}
	s := signalSpec{
		category:    smc.Category,
		direction:   sig.Direction,
		status:      model.StatusConfirmed,
		confirmedAt: sig.ConfirmedAt,
		trigger:     trigger,
		keyLevels:   sig.KeyLevels,
		context:     sig.Context,
		source:      source,
	}

	switch sig.IndicatorKey {
	case smc.KeyStructure:
		if sig.Pattern == smc.PatternCHOCH {
			s.pattern = "Change of Character"
			s.confidence = 0.65
		} else {
			s.pattern = "Break of Structure"
			s.confidence = 0.7
		}
	case smc.KeyLiquiditySweep:
		mult := 0.1
		if v, ok := sig.Context["atrMultiple"].(float64); ok {
			mult = v
		}
		s.pattern = smc.PatternSweep
		s.confidence = clampRatio(mult, 0.1, 0.6)
	case smc.KeyOpeningRange:
		s.pattern = smc.PatternOpeningRange
		s.confidence = 0.7
	default:
		return s, false
	}
	if s.keyLevels == nil {
		s.keyLevels = map[string]float64{}
	}
	if s.context == nil {
		s.context = map[string]any{}
	}
	return s, true
}

func pick(cond bool, yes, no string) string {
	if cond {
		return yes
	}
	return no
}
