// Package pattern detects classical chart formations (head and shoulders,
// double tops and bottoms, triangles, flags, cup and handle) over swing
// points, confirming each on an ATR-scaled breakout with a volume check.
package pattern

import (
	"fmt"
	"math"
	"sort"

	"signalflow/internal/indicator"
	"signalflow/internal/model"
	"signalflow/internal/swing"
)

// MinCandles is the shortest window Detect will analyse.
const MinCandles = 30

// Category is set on every chart pattern signal.
const Category = "Chart Pattern"

const (
	swingLeft   = 3
	swingRight  = 3
	atrPeriod   = indicator.DefaultATRPeriod
	volumeMALen = 20
)

// Detector runs all chart pattern detectors with a fixed profile set.
type Detector struct {
	Profiles Profiles
}

// NewDetector creates a Detector with the built-in profiles.
func NewDetector() *Detector {
	return &Detector{Profiles: DefaultProfiles()}
}

var defaultDetector = NewDetector()

// Detect runs every chart pattern detector with the built-in profiles.
func Detect(candles []model.Candle, timeframe string, contract model.Contract) []model.Signal {
	return defaultDetector.Detect(candles, timeframe, contract)
}

// Detect returns confirmed chart pattern signals sorted by confirmation
// time. Windows shorter than MinCandles produce nil.
func (d *Detector) Detect(candles []model.Candle, timeframe string, contract model.Contract) []model.Signal {
	if len(candles) < MinCandles {
		return nil
	}
	norm := model.NormalizeCandles(candles)
	if len(norm) < MinCandles {
		return nil
	}

	in := &input{
		candles:   norm,
		swings:    swing.Detect(norm, swingLeft, swingRight),
		atr:       indicator.ATR(norm, atrPeriod),
		volMA:     indicator.VolumeMA(norm, volumeMALen),
		profile:   d.Profiles.Resolve(contract.Code),
		timeframe: timeframe,
		contract:  contract,
	}

	detectors := []func(*input) []model.Signal{
		detectHeadAndShoulders,
		detectInverseHeadAndShoulders,
		detectDoubleTop,
		detectDoubleBottom,
		detectAscendingTriangle,
		detectDescendingTriangle,
		detectBullFlag,
		detectBearFlag,
		detectCupAndHandle,
	}
	var out []model.Signal
	for _, detect := range detectors {
		out = append(out, dedupe(detect(in))...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ConfirmedAt < out[j].ConfirmedAt })
	return out
}

type input struct {
	candles   []model.Candle
	swings    []model.Swing
	atr       []float64
	volMA     []float64
	profile   Profile
	timeframe string
	contract  model.Contract
}

// breakout describes a close through level by atrMult x ATR on volume.
type breakout struct {
	from    int
	level   float64
	atrMult float64
	volMult float64
	above   bool
}

// find returns the first confirming bar index, or -1. Missing ATR or
// volume averages fall back to the latest value in the series.
func (in *input) find(b breakout) int {
	if !model.Finite(b.level) {
		return -1
	}
	fallbackATR := lastOrZero(in.atr)
	fallbackVol := lastOrZero(in.volMA)
	for i := b.from; i < len(in.candles); i++ {
		c := in.candles[i]
		atr := fallbackATR
		if i < len(in.atr) && indicator.Defined(in.atr[i]) {
			atr = in.atr[i]
		}
		if atr == 0 {
			continue
		}
		avgVol := fallbackVol
		if i < len(in.volMA) && indicator.Defined(in.volMA[i]) {
			avgVol = in.volMA[i]
		}
		volOK := avgVol == 0 || c.Volume >= avgVol*b.volMult
		if !volOK {
			continue
		}
		if b.above && c.Close >= b.level+atr*b.atrMult {
			return i
		}
		if !b.above && c.Close <= b.level-atr*b.atrMult {
			return i
		}
	}
	return -1
}

func lastOrZero(series []float64) float64 {
	v := indicator.Last(series)
	if !indicator.Defined(v) {
		return 0
	}
	return v
}

type formation struct {
	pattern    string
	direction  model.Direction
	index      int
	keyLevels  map[string]float64
	context    map[string]any
	confidence float64
}

func (in *input) signal(s formation) (model.Signal, bool) {
	c := in.candles[s.index]
	for _, v := range s.keyLevels {
		if !model.Finite(v) {
			return model.Signal{}, false
		}
	}
	if s.context == nil {
		s.context = map[string]any{}
	}
	s.context["triggerVolume"] = c.Volume
	return model.Signal{
		ID:           fmt.Sprintf("%s-%d", s.pattern, c.Time),
		Pattern:      s.pattern,
		Category:     Category,
		Direction:    s.direction,
		Status:       model.StatusConfirmed,
		Timeframe:    in.timeframe,
		ContractCode: in.contract.Code,
		Confidence:   clamp(s.confidence, 0, 1),
		ConfirmedAt:  c.Time,
		TriggerPrice: c.Close,
		KeyLevels:    s.keyLevels,
		Context:      s.context,
		Source:       "pattern",
	}, true
}

// dedupe keeps the first signal per pattern and confirmation time.
func dedupe(list []model.Signal) []model.Signal {
	seen := make(map[string]struct{}, len(list))
	out := list[:0]
	for _, s := range list {
		key := fmt.Sprintf("%s-%d", s.Pattern, s.ConfirmedAt)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}
	return out
}

// pctDiff returns (a-b)/b, or 0 when b is zero.
func pctDiff(a, b float64) float64 {
	if b == 0 || !model.Finite(a) || !model.Finite(b) {
		return 0
	}
	return (a - b) / b
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// sequence reports whether swings alternate as types with ascending indices.
func sequence(swings []model.Swing, types ...model.SwingType) bool {
	if len(swings) != len(types) {
		return false
	}
	for i, s := range swings {
		if s.Type != types[i] {
			return false
		}
		if i > 0 && swings[i-1].Index >= s.Index {
			return false
		}
	}
	return true
}
