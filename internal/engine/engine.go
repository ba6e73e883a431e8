// Package engine re-runs the full analysis pipeline whenever a symbol's
// candle history changes.
//
// It consumes aggregator events from the bus. Finalized candles and history
// seeds trigger a pass; partial (forming) candles do not. Each pass takes
// the symbol snapshot, resamples it to the configured timeframe and runs
// chart-pattern detection, the indicator payload and the strategy groups,
// then hands the result to a ResultSink.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"signalflow/internal/marketdata/bus"
	"signalflow/internal/marketdata/tfbuilder"
	"signalflow/internal/metrics"
	"signalflow/internal/model"
	"signalflow/internal/pattern"
	"signalflow/internal/smc"
	"signalflow/internal/strategy"
	"signalflow/internal/synth"

	"github.com/google/uuid"
)

// DefaultSelections is every overlay the indicator payload can build.
var DefaultSelections = []string{
	"Moving Average Cross",
	"VWAP Cross",
	"Bollinger Squeeze",
	"Keltner Channel",
	"Fair Value Gap",
	"Order Block",
	"Break of Structure",
	"Liquidity Sweep",
	"Equal Highs",
	"Equal Lows",
	"Breaker Block",
	"ICT Killzone",
	"Opening Range Breakout",
}

// Snapshotter returns the finalized one-minute history of a symbol.
// *agg.Aggregator satisfies it.
type Snapshotter interface {
	Snapshot(symbol string) []model.Candle
}

// ResultSink receives every completed analysis pass.
type ResultSink interface {
	PublishResult(ctx context.Context, r Result) error
}

// Result is one analysis pass over a symbol.
type Result struct {
	RunID     string          `json:"runId"`
	Symbol    string          `json:"symbol"`
	Contract  model.Contract  `json:"contract"`
	Timeframe string          `json:"timeframe"`
	Trigger   bus.Kind        `json:"trigger"`
	Candles   int             `json:"candles"`
	LastTime  int64           `json:"lastTime"`
	Payload   smc.Payload     `json:"payload"`
	Bundle    strategy.Bundle `json:"bundle"`
	Duration  time.Duration   `json:"durationNs"`
	At        time.Time       `json:"at"`
}

// Config configures the Engine.
type Config struct {
	// Timeframe the 1m history is resampled to. Defaults to "1m".
	Timeframe string

	// Selections are the indicator overlays to build. Defaults to DefaultSelections.
	Selections []string

	// Profiles drive chart-pattern thresholds. Defaults to pattern.DefaultProfiles().
	Profiles *pattern.Profiles

	// ReplayClock scores action recency against the newest candle instead
	// of the wall clock. Used for backtests.
	ReplayClock bool
}

func (c *Config) defaults() {
	if c.Timeframe == "" {
		c.Timeframe = "1m"
	}
	if len(c.Selections) == 0 {
		c.Selections = DefaultSelections
	}
	if c.Profiles == nil {
		p := pattern.DefaultProfiles()
		c.Profiles = &p
	}
}

// Engine runs analysis passes. Passes are serialized.
type Engine struct {
	cfg      Config
	snap     Snapshotter
	sink     ResultSink // optional
	prom     *metrics.Metrics
	patterns *pattern.Detector
	strategy *strategy.Engine

	mu       sync.Mutex
	lastTime int64 // newest candle of the running pass, guarded by mu
	latest   map[string]Result

	// Optional hooks
	OnResult func(r Result)
}

// New creates an Engine. sink may be nil.
func New(cfg Config, snap Snapshotter, sink ResultSink) *Engine {
	cfg.defaults()
	e := &Engine{
		cfg:      cfg,
		snap:     snap,
		sink:     sink,
		patterns: &pattern.Detector{Profiles: *cfg.Profiles},
		latest:   make(map[string]Result),
	}
	s := synth.New()
	if cfg.ReplayClock {
		s.Now = func() time.Time { return time.Unix(e.lastTime, 0) }
	}
	e.strategy = strategy.NewEngine(s)
	e.strategy.SetPatternDetector(e.patterns)
	return e
}

// SetMetrics attaches Prometheus metrics.
func (e *Engine) SetMetrics(m *metrics.Metrics) { e.prom = m }

// Timeframe returns the analysis timeframe.
func (e *Engine) Timeframe() string { return e.cfg.Timeframe }

// Run consumes bus events until ctx is cancelled or events is closed.
func (e *Engine) Run(ctx context.Context, events <-chan bus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Kind != bus.KindCandle && ev.Kind != bus.KindSeed {
				continue
			}
			if _, err := e.Analyze(ctx, ev.Symbol, ev.Kind); err != nil {
				slog.Error("analysis publish failed", "component", "engine", "symbol", ev.Symbol, "error", err)
			}
		}
	}
}

// Analyze runs one pass over the current snapshot of symbol. The returned
// error only reports a sink failure; the Result is valid either way.
func (e *Engine) Analyze(ctx context.Context, symbol string, trigger bus.Kind) (Result, error) {
	return e.AnalyzeWindow(ctx, symbol, e.snap.Snapshot(symbol), trigger)
}

// AnalyzeWindow runs one pass over an explicit 1m window.
func (e *Engine) AnalyzeWindow(ctx context.Context, symbol string, candles []model.Candle, trigger bus.Kind) (Result, error) {
	res := e.run(symbol, candles, trigger)

	if e.OnResult != nil {
		e.OnResult(res)
	}
	if e.sink == nil {
		return res, nil
	}
	if err := e.sink.PublishResult(ctx, res); err != nil {
		return res, fmt.Errorf("publish result %s: %w", res.RunID, err)
	}
	return res, nil
}

func (e *Engine) run(symbol string, candles []model.Candle, trigger bus.Kind) Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	tf := e.cfg.Timeframe
	contract := e.contract(symbol)
	window := tfbuilder.Resample(candles, tf)

	res := Result{
		RunID:     uuid.NewString(),
		Symbol:    symbol,
		Contract:  contract,
		Timeframe: tf,
		Trigger:   trigger,
		Candles:   len(window),
		At:        start,
	}
	if n := len(window); n > 0 {
		res.LastTime = window[n-1].Time
	}
	e.lastTime = res.LastTime

	patterns := e.patterns.Detect(window, tf, contract)
	if patterns == nil {
		patterns = []model.Signal{}
	}
	res.Payload = smc.BuildIndicatorPayload(e.cfg.Selections, window, tf, contract)
	res.Bundle = e.strategy.Evaluate(window, tf, contract, res.Payload, patterns)
	res.Duration = time.Since(start)

	e.latest[symbol] = res
	e.observe(res)

	slog.Debug("analysis pass",
		"component", "engine",
		"run", res.RunID,
		"symbol", symbol,
		"timeframe", tf,
		"trigger", trigger,
		"candles", res.Candles,
		"actions", len(res.Bundle.Actions),
		"elapsed", res.Duration)
	return res
}

// Latest returns the most recent pass for symbol.
func (e *Engine) Latest(symbol string) (Result, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.latest[symbol]
	return r, ok
}

func (e *Engine) contract(symbol string) model.Contract {
	c, ok := model.ResolveContract(symbol)
	if !ok {
		c, _ = model.ResolveContract(model.DefaultContractCode)
	}
	return c
}

func (e *Engine) observe(r Result) {
	if e.prom == nil {
		return
	}
	e.prom.AnalysisDur.Observe(r.Duration.Seconds())
	e.prom.AnalysisRuns.Inc()
	e.prom.ActionsQueued.Set(float64(len(r.Bundle.Actions)))
	groups := map[string][]model.Signal{
		"chart":       r.Bundle.Chart,
		"smc":         r.Bundle.SMC,
		"wyckoff":     r.Bundle.Wyckoff,
		"volume":      r.Bundle.Volume,
		"candlestick": r.Bundle.Candlestick,
		"indicator":   r.Bundle.Indicator,
	}
	for g, s := range groups {
		if len(s) > 0 {
			e.prom.SignalsTotal.WithLabelValues(g).Add(float64(len(s)))
		}
	}
}
