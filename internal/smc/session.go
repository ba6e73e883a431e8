package smc

import (
	"fmt"
	"math"

	"signalflow/internal/indicator"
	"signalflow/internal/markethours"
	"signalflow/internal/model"
)

// Session parameters.
const (
	KillzoneLookback = 500

	OpeningRangeMinutes = 30

	orbVolumeMultiplier = 1.5
	orbATRBuffer        = 0.5
	orbVolumeLookback   = 20
)

func candleTimes(candles []model.Candle) []int64 {
	out := make([]int64, len(candles))
	for i, c := range candles {
		out[i] = c.Time
	}
	return out
}

// Killzones returns one zone per Eastern day and killzone window, spanning
// the candles inside the window from their lowest low to highest high. A
// window with no finite high or low takes the day's extreme instead.
func Killzones(candles []model.Candle, contractCode string) []model.Zone {
	if len(candles) == 0 {
		return nil
	}
	slice, _ := tail(candles, KillzoneLookback)
	windows := markethours.KillzoneWindows(contractCode)

	var zones []model.Zone
	for _, day := range markethours.GroupByEasternDay(candleTimes(slice)) {
		dayHi, dayLo := math.Inf(-1), math.Inf(1)
		for _, e := range day.Entries {
			c := slice[e.Index]
			if model.Finite(c.High) {
				dayHi = math.Max(dayHi, c.High)
			}
			if model.Finite(c.Low) {
				dayLo = math.Min(dayLo, c.Low)
			}
		}
		for _, w := range windows {
			var first, last int64
			hi, lo := math.Inf(-1), math.Inf(1)
			for _, e := range day.Entries {
				if !w.Contains(e.Minutes) {
					continue
				}
				c := slice[e.Index]
				if first == 0 || c.Time < first {
					first = c.Time
				}
				if c.Time > last {
					last = c.Time
				}
				if model.Finite(c.High) {
					hi = math.Max(hi, c.High)
				}
				if model.Finite(c.Low) {
					lo = math.Min(lo, c.Low)
				}
			}
			if first == 0 {
				continue
			}
			if !model.Finite(hi) {
				hi = dayHi
			}
			if !model.Finite(lo) {
				lo = dayLo
			}
			if !model.Finite(hi) || !model.Finite(lo) {
				continue
			}
			zones = append(zones, model.Zone{
				ID:           fmt.Sprintf("killzone-%s-%d", w.Slug(), first),
				StartTime:    first,
				EndTime:      last,
				Top:          hi,
				Bottom:       lo,
				Direction:    model.Neutral,
				Label:        w.Label,
				IndicatorKey: KeyKillzone,
			})
		}
	}
	return zones
}

// OpeningRange builds the 09:30-10:00 ET range for each day and signals the
// first close beyond it by 0.5 ATR on 1.5x average volume, at most once per
// direction per day.
func OpeningRange(candles []model.Candle) ([]model.Zone, []model.Signal) {
	if len(candles) < 10 {
		return nil, nil
	}
	atr := indicator.ATR(candles, atrPeriod)
	volMA := indicator.VolumeMA(candles, orbVolumeLookback)
	rangeEnd := markethours.OpenMinutes + OpeningRangeMinutes
	opening := markethours.Window{Label: "Opening Range", StartMinutes: markethours.OpenMinutes, EndMinutes: rangeEnd}

	var zones []model.Zone
	var signals []model.Signal
	for _, day := range markethours.GroupByEasternDay(candleTimes(candles)) {
		var in []int
		hi, lo := math.Inf(-1), math.Inf(1)
		for _, e := range day.Entries {
			if !opening.Contains(e.Minutes) {
				continue
			}
			c := candles[e.Index]
			in = append(in, e.Index)
			if model.Finite(c.High) {
				hi = math.Max(hi, c.High)
			}
			if model.Finite(c.Low) {
				lo = math.Min(lo, c.Low)
			}
		}
		if len(in) < 2 || !model.Finite(hi) || !model.Finite(lo) {
			continue
		}

		startTime := candles[in[0]].Time
		rangeID := fmt.Sprintf("orb-%d", startTime)
		zones = append(zones, model.Zone{
			ID:           rangeID,
			StartTime:    startTime,
			EndTime:      candles[in[len(in)-1]].Time,
			Top:          hi,
			Bottom:       lo,
			Direction:    model.Neutral,
			Label:        opening.Label,
			IndicatorKey: KeyOpeningRange,
		})

		var bullDone, bearDone bool
		for _, e := range day.Entries {
			if e.Minutes < rangeEnd {
				continue
			}
			c := candles[e.Index]
			if !c.Valid() {
				continue
			}
			a, ok := positiveATR(atr, e.Index)
			if !ok {
				continue
			}
			avg := volMA[e.Index]
			volOK := !indicator.Defined(avg) || avg == 0 || c.Volume >= avg*orbVolumeMultiplier
			if !volOK {
				continue
			}
			if !bullDone && c.Close >= hi+a*orbATRBuffer {
				signals = append(signals, orbSignal(rangeID, c, model.Bullish, hi, lo))
				bullDone = true
			}
			if !bearDone && c.Close <= lo-a*orbATRBuffer {
				signals = append(signals, orbSignal(rangeID, c, model.Bearish, hi, lo))
				bearDone = true
			}
		}
	}
	return zones, signals
}

func orbSignal(rangeID string, c model.Candle, dir model.Direction, hi, lo float64) model.Signal {
	return model.Signal{
		ID:           fmt.Sprintf("%s-%s-%d", rangeID, dirSlug(dir), c.Time),
		Pattern:      PatternOpeningRange,
		Category:     Category,
		Direction:    dir,
		Status:       model.StatusConfirmed,
		Confidence:   0.7,
		ConfirmedAt:  c.Time,
		TriggerPrice: c.Close,
		KeyLevels:    map[string]float64{"rangeHigh": hi, "rangeLow": lo, "trigger": c.Close},
		Source:       "smc",
		IndicatorKey: KeyOpeningRange,
	}
}
