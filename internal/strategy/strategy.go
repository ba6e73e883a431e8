// Package strategy evaluates strategy groups over a candle window and
// returns one Bundle of signals per group plus the ranked action queue.
//
// Groups are registered on an Engine. Each receives the same Input (the
// normalized candles with ATR and volume averages precomputed) and returns
// signals and diagnostics. Chart patterns and SMC mappings sit beside the
// groups; chart patterns are reported but excluded from the action queue.
package strategy

import (
	"log/slog"
	"math"
	"strconv"

	"signalflow/internal/indicator"
	"signalflow/internal/model"
	"signalflow/internal/pattern"
	"signalflow/internal/smc"
	"signalflow/internal/synth"
)

// Group names, also used as diagnostic scopes.
const (
	GroupWyckoff     = "Wyckoff"
	GroupVolume      = "Volume"
	GroupCandlestick = "Candlestick"
	GroupIndicator   = "Indicator"
)

const volumeMALen = 20

// Bundle is the result of one strategy evaluation.
type Bundle struct {
	Chart       []model.Signal     `json:"chart"`
	SMC         []model.Signal     `json:"smc"`
	Wyckoff     []model.Signal     `json:"wyckoff"`
	Volume      []model.Signal     `json:"volume"`
	Candlestick []model.Signal     `json:"candlestick"`
	Indicator   []model.Signal     `json:"indicator"`
	Actions     []model.Action     `json:"actions"`
	Diagnostics []model.Diagnostic `json:"diagnostics"`
}

func emptyBundle() Bundle {
	return Bundle{
		Chart:       []model.Signal{},
		SMC:         []model.Signal{},
		Wyckoff:     []model.Signal{},
		Volume:      []model.Signal{},
		Candlestick: []model.Signal{},
		Indicator:   []model.Signal{},
		Actions:     []model.Action{},
		Diagnostics: []model.Diagnostic{},
	}
}

func (b *Bundle) set(group string, signals []model.Signal) {
	switch group {
	case GroupWyckoff:
		b.Wyckoff = signals
	case GroupVolume:
		b.Volume = signals
	case GroupCandlestick:
		b.Candlestick = signals
	case GroupIndicator:
		b.Indicator = signals
	}
}

// Input is the shared, precomputed view every group evaluates.
type Input struct {
	Candles      []model.Candle
	ATR          []float64
	VolumeMA     []float64
	Timeframe    string
	ContractCode string
}

// Result is what one group produced.
type Result struct {
	Signals     []model.Signal
	Diagnostics []model.Diagnostic
}

// Group is one family of strategies.
type Group interface {
	// Name identifies the group in the Bundle and in diagnostics.
	Name() string

	// Evaluate runs the group over in. Must not modify in.
	Evaluate(in *Input) Result
}

// Engine runs registered groups and synthesizes their actions.
type Engine struct {
	groups []Group
	synth  *synth.Synthesizer
	chart  *pattern.Detector
}

// NewEngine creates an Engine with the built-in groups registered.
// s may be nil to use the wall clock.
func NewEngine(s *synth.Synthesizer) *Engine {
	if s == nil {
		s = synth.New()
	}
	e := &Engine{synth: s, chart: pattern.NewDetector()}
	e.Register(wyckoffGroup{})
	e.Register(volumeGroup{})
	e.Register(candlestickGroup{})
	e.Register(indicatorGroup{})
	return e
}

// Register adds a strategy group. A group registered under an existing
// name replaces it.
func (e *Engine) Register(g Group) {
	for i, existing := range e.groups {
		if existing.Name() == g.Name() {
			e.groups[i] = g
			return
		}
	}
	e.groups = append(e.groups, g)
	slog.Debug("registered strategy group", "component", "strategy", "group", g.Name())
}

// SetPatternDetector replaces the chart-pattern detector used when no
// precomputed pattern signals are passed.
func (e *Engine) SetPatternDetector(d *pattern.Detector) {
	e.chart = d
}

// Evaluate runs every group over candles. payload carries the SMC overlays
// to map into strategy signals. A nil patternSignals runs chart-pattern
// detection; a non-nil slice is used as is.
func (e *Engine) Evaluate(candles []model.Candle, timeframe string, contract model.Contract,
	payload smc.Payload, patternSignals []model.Signal) Bundle {

	bundle := emptyBundle()
	candles = model.NormalizeCandles(candles)
	if len(candles) == 0 {
		bundle.Diagnostics = append(bundle.Diagnostics, model.Diagnostic{
			Scope:   "Strategy",
			Status:  model.DiagInsufficientData,
			Message: "No candles to evaluate.",
		})
		return bundle
	}

	in := &Input{
		Candles:      candles,
		ATR:          indicator.ATR(candles, indicator.DefaultATRPeriod),
		VolumeMA:     indicator.VolumeMA(candles, volumeMALen),
		Timeframe:    timeframe,
		ContractCode: contract.Code,
	}

	if patternSignals != nil {
		bundle.Chart = patternSignals
	} else {
		bundle.Chart = e.chart.Detect(candles, timeframe, contract)
	}

	bundle.SMC = smcSignals(payload, timeframe, contract.Code)

	groups := make([][]model.Signal, 0, len(e.groups)+1)
	groups = append(groups, bundle.SMC)
	for _, g := range e.groups {
		res := g.Evaluate(in)
		signals := dedupe(res.Signals)
		bundle.set(g.Name(), signals)
		bundle.Diagnostics = append(bundle.Diagnostics, res.Diagnostics...)
		groups = append(groups, signals)
	}

	bundle.Actions = e.synth.Synthesize(groups...)
	slog.Debug("strategy evaluation",
		"component", "strategy",
		"contract", contract.Code,
		"timeframe", timeframe,
		"candles", len(candles),
		"actions", len(bundle.Actions))
	return bundle
}

var defaultEngine = NewEngine(nil)

// Evaluate runs the default Engine.
func Evaluate(candles []model.Candle, timeframe string, contract model.Contract,
	payload smc.Payload, patternSignals []model.Signal) Bundle {
	return defaultEngine.Evaluate(candles, timeframe, contract, payload, patternSignals)
}

// signalSpec holds the fields a strategy sets on a new signal.
type signalSpec struct {
	pattern     string
	category    string
	direction   model.Direction
	status      string
	confidence  float64
	confirmedAt int64
	trigger     float64
	keyLevels   map[string]float64
	context     map[string]any
	source      string
}

func (in *Input) newSignal(s signalSpec) model.Signal {
	return newSignal(s, in.Timeframe, in.ContractCode)
}

// newSignal builds a signal with ID "<pattern>-<confirmedAt>".
func newSignal(s signalSpec, timeframe, contractCode string) model.Signal {
	source := s.source
	if source == "" {
		source = "strategy"
	}
	return model.Signal{
		ID:           s.pattern + "-" + strconv.FormatInt(s.confirmedAt, 10),
		Pattern:      s.pattern,
		Category:     s.category,
		Direction:    s.direction,
		Status:       s.status,
		Timeframe:    timeframe,
		ContractCode: contractCode,
		Confidence:   clamp(s.confidence, 0, 1),
		ConfirmedAt:  s.confirmedAt,
		TriggerPrice: s.trigger,
		KeyLevels:    finiteLevels(s.keyLevels),
		Context:      s.context,
		Source:       source,
	}
}

// finiteLevels drops undefined key levels.
func finiteLevels(levels map[string]float64) map[string]float64 {
	if levels == nil {
		return nil
	}
	out := make(map[string]float64, len(levels))
	for k, v := range levels {
		if model.Finite(v) {
			out[k] = v
		}
	}
	return out
}

// dedupe keeps the first signal per ID.
func dedupe(signals []model.Signal) []model.Signal {
	out := make([]model.Signal, 0, len(signals))
	seen := make(map[string]bool, len(signals))
	for _, s := range signals {
		if seen[s.ID] {
			continue
		}
		seen[s.ID] = true
		out = append(out, s)
	}
	return out
}

// clampRatio maps v in [lo, hi] onto a confidence in [0.3, 0.95].
// Non-finite values map to 0.5.
func clampRatio(v, lo, hi float64) float64 {
	if !model.Finite(v) {
		return 0.5
	}
	return math.Max(0.3, math.Min(0.95, (v-lo)/math.Max(hi-lo, 1e-6)))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// average is the mean of the finite values, Undefined if there are none.
func average(values []float64) float64 {
	return indicator.Mean(values, 0, len(values)-1)
}

// stdDev is the population standard deviation of the finite values.
func stdDev(values []float64) float64 {
	mean := average(values)
	if !indicator.Defined(mean) {
		return indicator.Undefined
	}
	var sum float64
	for _, v := range values {
		if indicator.Defined(v) {
			sum += (v - mean) * (v - mean)
		}
	}
	return math.Sqrt(sum / float64(len(values)))
}

// monotonic reports whether values strictly rise (or fall). Needs two values.
func monotonic(values []float64, rising bool) bool {
	if len(values) < 2 {
		return false
	}
	for i := 1; i < len(values); i++ {
		a, b := values[i-1], values[i]
		if !model.Finite(a) || !model.Finite(b) {
			return false
		}
		if rising && b <= a || !rising && b >= a {
			return false
		}
	}
	return true
}

// firstPositive returns v when it is defined and positive, else fallback.
func firstPositive(v, fallback float64) float64 {
	if indicator.Defined(v) && v > 0 {
		return v
	}
	return fallback
}

func at(series []float64, i int) float64 {
	if i < 0 || i >= len(series) {
		return indicator.Undefined
	}
	return series[i]
}
