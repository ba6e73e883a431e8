package smc

import (
	"fmt"
	"log/slog"
	"strings"

	"signalflow/internal/indicator"
	"signalflow/internal/model"
)

// Payload is the overlay bundle for a set of indicator selections.
type Payload struct {
	Series      []indicator.Line   `json:"series"`
	Zones       []model.Zone       `json:"zones"`
	Signals     []model.Signal     `json:"signals"`
	Diagnostics []model.Diagnostic `json:"diagnostics"`
}

// Aliases maps display labels to indicator keys. Labels that are not
// listed are used as keys directly.
var Aliases = map[string]string{
	"Moving Average Cross":   KeyMACross,
	"VWAP Rejection":         KeyVWAP,
	"VWAP Break":             KeyVWAP,
	"VWAP Cross":             KeyVWAP,
	"Bollinger Squeeze":      KeyBollinger,
	"Keltner Channel":        KeyKeltner,
	"Keltner Channel Break":  KeyKeltner,
	"Fair Value Gap":         KeyFairValueGap,
	"Order Block":            KeyOrderBlock,
	"Break of Structure":     KeyStructure,
	"Change of Character":    KeyStructure,
	"Liquidity Sweep":        KeyLiquiditySweep,
	"Equal Highs":            KeyEqualHighs,
	"Equal Lows":             KeyEqualLows,
	"Breaker Block":          KeyBreakerBlock,
	"ICT Killzone":           KeyKillzone,
	"Opening Range Breakout": KeyOpeningRange,
}

type built struct {
	series  []indicator.Line
	zones   []model.Zone
	signals []model.Signal
}

type overlay struct {
	minBars int
	build   func(candles []model.Candle, contract model.Contract) built
}

var overlays = map[string]overlay{
	KeyMACross: {minBars: 30, build: func(c []model.Candle, _ model.Contract) built {
		return built{series: lines(c,
			lineSpec{"ema-9", "EMA 9", indicator.EMACloses(c, 9)},
			lineSpec{"ema-21", "EMA 21", indicator.EMACloses(c, 21)},
		)}
	}},
	KeyVWAP: {minBars: 2, build: func(c []model.Candle, _ model.Contract) built {
		return built{series: lines(c, lineSpec{"vwap", "VWAP", indicator.VWAP(c)})}
	}},
	KeyBollinger: {minBars: 25, build: func(c []model.Candle, _ model.Contract) built {
		b := indicator.Bollinger(c, 20, 2)
		return built{series: lines(c,
			lineSpec{"bb-upper", "BB Upper", b.Upper},
			lineSpec{"bb-mid", "BB Basis", b.Middle},
			lineSpec{"bb-lower", "BB Lower", b.Lower},
		)}
	}},
	KeyKeltner: {minBars: 20, build: func(c []model.Candle, _ model.Contract) built {
		b := indicator.Keltner(c, 20, 1.5)
		return built{series: lines(c,
			lineSpec{"kc-upper", "Keltner Upper", b.Upper},
			lineSpec{"kc-middle", "Keltner Basis", b.Middle},
			lineSpec{"kc-lower", "Keltner Lower", b.Lower},
		)}
	}},
	KeyFairValueGap: {minBars: 10, build: func(c []model.Candle, _ model.Contract) built {
		return built{zones: FairValueGaps(c)}
	}},
	KeyOrderBlock: {minBars: 20, build: func(c []model.Candle, _ model.Contract) built {
		return built{zones: OrderBlocks(c)}
	}},
	KeyStructure: {minBars: 30, build: func(c []model.Candle, _ model.Contract) built {
		return built{signals: StructureBreaks(c)}
	}},
	KeyLiquiditySweep: {minBars: 40, build: func(c []model.Candle, _ model.Contract) built {
		return built{signals: LiquiditySweeps(c)}
	}},
	KeyEqualHighs: {minBars: 40, build: func(c []model.Candle, _ model.Contract) built {
		return built{zones: EqualLevels(c, SideHigh)}
	}},
	KeyEqualLows: {minBars: 40, build: func(c []model.Candle, _ model.Contract) built {
		return built{zones: EqualLevels(c, SideLow)}
	}},
	KeyBreakerBlock: {minBars: 50, build: func(c []model.Candle, _ model.Contract) built {
		return built{zones: BreakerBlocks(c)}
	}},
	KeyKillzone: {minBars: 10, build: func(c []model.Candle, contract model.Contract) built {
		return built{zones: Killzones(c, contract.Code)}
	}},
	KeyOpeningRange: {minBars: 60, build: func(c []model.Candle, _ model.Contract) built {
		zones, signals := OpeningRange(c)
		return built{zones: zones, signals: signals}
	}},
}

type lineSpec struct {
	id, title string
	values    []float64
}

// lines drops specs with no defined values.
func lines(candles []model.Candle, specs ...lineSpec) []indicator.Line {
	var out []indicator.Line
	for _, s := range specs {
		pts := indicator.Points(candles, s.values)
		if len(pts) == 0 {
			continue
		}
		out = append(out, indicator.Line{ID: s.id, Title: s.title, Points: pts})
	}
	return out
}

// ResolveKey maps a selection label to its indicator key.
func ResolveKey(label string) string {
	if key, ok := Aliases[label]; ok {
		return key
	}
	return label
}

// BuildIndicatorPayload builds the overlays for each selection in order.
// Selections sharing a key are built once. Every selection yields exactly
// one diagnostic explaining what was applied or why nothing was.
func BuildIndicatorPayload(selections []string, candles []model.Candle, timeframe string, contract model.Contract) Payload {
	var p Payload
	candles = model.NormalizeCandles(candles)
	applied := make(map[string]bool)

	for _, label := range selections {
		key := ResolveKey(label)
		ov, ok := overlays[key]
		switch {
		case !ok:
			p.Diagnostics = append(p.Diagnostics, diag(label, model.DiagTodo, "Not implemented yet"))
			continue
		case applied[key]:
			p.Diagnostics = append(p.Diagnostics, diag(label, model.DiagOK, "Overlay active (shared)"))
			continue
		case len(candles) == 0:
			p.Diagnostics = append(p.Diagnostics, diag(label, model.DiagIdle, "Waiting for data"))
			continue
		case len(candles) < ov.minBars:
			p.Diagnostics = append(p.Diagnostics, diag(label, model.DiagPending, fmt.Sprintf("Needs %d bars", ov.minBars)))
			continue
		}

		b := ov.build(candles, contract)
		zones := annotateZones(b.zones, label, key, timeframe, contract.Code)
		signals := annotateSignals(b.signals, label, key, timeframe, contract.Code)
		if len(b.series) == 0 && len(zones) == 0 && len(signals) == 0 {
			p.Diagnostics = append(p.Diagnostics, diag(label, model.DiagIdle, "Waiting for data"))
			continue
		}

		p.Series = append(p.Series, b.series...)
		p.Zones = append(p.Zones, zones...)
		p.Signals = append(p.Signals, signals...)

		var parts []string
		if n := len(b.series); n > 0 {
			parts = append(parts, fmt.Sprintf("%d series", n))
		}
		if n := len(zones); n > 0 {
			parts = append(parts, fmt.Sprintf("%d zones", n))
		}
		if n := len(signals); n > 0 {
			parts = append(parts, fmt.Sprintf("%d signals", n))
		}
		p.Diagnostics = append(p.Diagnostics, diag(label, model.DiagOK, "Applied ("+strings.Join(parts, ", ")+")"))
		applied[key] = true

		slog.Debug("overlay built", "component", "smc", "key", key,
			"series", len(b.series), "zones", len(zones), "signals", len(signals))
	}
	return p
}

func diag(name, status, msg string) model.Diagnostic {
	return model.Diagnostic{Name: name, Status: status, Message: msg}
}

// annotateZones drops degenerate zones and fills in missing metadata.
func annotateZones(zones []model.Zone, label, key, timeframe, contractCode string) []model.Zone {
	out := make([]model.Zone, 0, len(zones))
	for _, z := range zones {
		if !z.Valid() {
			continue
		}
		if z.Indicator == "" {
			z.Indicator = label
		}
		if z.IndicatorKey == "" {
			z.IndicatorKey = key
		}
		if z.Timeframe == "" {
			z.Timeframe = timeframe
		}
		if z.ContractCode == "" {
			z.ContractCode = contractCode
		}
		out = append(out, z)
	}
	return out
}

// annotateSignals drops signals with a non-finite trigger and fills in
// missing metadata.
func annotateSignals(signals []model.Signal, label, key, timeframe, contractCode string) []model.Signal {
	out := make([]model.Signal, 0, len(signals))
	for _, s := range signals {
		if !model.Finite(s.TriggerPrice) {
			continue
		}
		if s.Indicator == "" {
			s.Indicator = label
		}
		if s.IndicatorKey == "" {
			s.IndicatorKey = key
		}
		if s.Timeframe == "" {
			s.Timeframe = timeframe
		}
		if s.ContractCode == "" {
			s.ContractCode = contractCode
		}
		out = append(out, s)
	}
	return out
}
