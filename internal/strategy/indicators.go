package strategy

import (
	"math"
	"strings"

	"signalflow/internal/indicator"
	"signalflow/internal/markethours"
	"signalflow/internal/marketdata/tfbuilder"
	"signalflow/internal/model"
)

const (
	macdFast   = 12
	macdSlow   = 26
	macdSignal = 9

	bollingerPeriod  = 20
	bollingerK       = 2
	bollingerSqueeze = 0.05

	keltnerPeriod     = 20
	keltnerMultiplier = 1.5

	rsiPeriod = 14

	atrExpansionMult = 1.5
	momentumATRMult  = 1.5
	momentumVolMult  = 1.5
	vwapRejectionATR = 0.1
	ribbonATRRatio   = 0.3
	meanReversionLen = 20
)

var ribbonLengths = []int{8, 13, 21, 34, 55}

// maLengths picks the fast/slow EMA pair for the moving-average cross.
func maLengths(contractCode string) (fast, slow int) {
	if strings.HasPrefix(strings.ToUpper(contractCode), "GC") {
		return 20, 50
	}
	return 9, 21
}

type indicatorGroup struct{}

func (indicatorGroup) Name() string { return GroupIndicator }

// Evaluate runs the single-bar indicator strategies on the newest candle
// and scans recent history for the gold RSI + Keltner setup.
func (indicatorGroup) Evaluate(in *Input) Result {
	candles := in.Candles
	n := len(candles)
	var res Result
	if n < max(macdSlow+macdSignal, bollingerPeriod+5) {
		res.Diagnostics = append(res.Diagnostics, model.Diagnostic{
			Scope: GroupIndicator, Status: model.DiagInsufficientData,
			Message: "Need more history for indicator strategies.",
		})
	}

	last := candles[n-1]
	atr := indicator.CurrentATR(candles, in.ATR)
	hasATR := model.Finite(atr) && atr > 0
	onLast := func(s signalSpec) model.Signal {
		s.category = GroupIndicator
		s.confirmedAt = last.Time
		if s.trigger == 0 {
			s.trigger = last.Close
		}
		return in.newSignal(s)
	}

	fastLen, slowLen := maLengths(in.ContractCode)
	fast := indicator.EMACloses(candles, fastLen)
	slow := indicator.EMACloses(candles, slowLen)
	if dir, ok := crossover(fast, slow); ok {
		res.Signals = append(res.Signals, onLast(signalSpec{
			pattern:    "Moving Average Cross",
			direction:  dir,
			status:     model.StatusConfirmed,
			confidence: 0.65,
			keyLevels:  map[string]float64{"fast": indicator.Last(fast), "slow": indicator.Last(slow)},
		}))
	}

	macd := indicator.MACD(candles, macdFast, macdSlow, macdSignal)
	if dir, ok := crossover(macd.MACD, macd.Signal); ok {
		res.Signals = append(res.Signals, onLast(signalSpec{
			pattern:    "MACD Crossover",
			direction:  dir,
			status:     model.StatusConfirmed,
			confidence: 0.65,
		}))
	}

	bb := indicator.Bollinger(candles, bollingerPeriod, bollingerK)
	if u, l, m := indicator.Last(bb.Upper), indicator.Last(bb.Lower), indicator.Last(bb.Middle); indicator.Defined(u) &&
		indicator.Defined(l) && indicator.Defined(m) && m != 0 {
		if bw := (u - l) / m; bw <= bollingerSqueeze {
			res.Signals = append(res.Signals, onLast(signalSpec{
				pattern:    "Bollinger Squeeze",
				direction:  model.Neutral,
				status:     model.StatusCompression,
				confidence: 0.6,
				context:    map[string]any{"bandwidth": bw},
			}))
		}
	}

	if hasATR {
		w := indicator.Mean(in.ATR, len(in.ATR)-10, len(in.ATR)-2)
		if indicator.Defined(w) && w > 0 && atr >= w*atrExpansionMult {
			res.Signals = append(res.Signals, onLast(signalSpec{
				pattern:    "ATR Expansion",
				direction:  model.Neutral,
				status:     model.StatusVolatility,
				confidence: math.Min(0.9, atr/(w*atrExpansionMult)),
			}))
		}

		vol := firstPositive(at(in.VolumeMA, n-1), indicator.Mean(in.VolumeMA, n-5, n-1))
		if last.Range() >= atr*momentumATRMult && indicator.Defined(vol) && vol > 0 &&
			last.Volume >= vol*momentumVolMult {
			dir := model.Bearish
			if last.Close > last.Open {
				dir = model.Bullish
			}
			res.Signals = append(res.Signals, onLast(signalSpec{
				pattern:    "Momentum Breakout",
				direction:  dir,
				status:     model.StatusConfirmed,
				confidence: 0.7,
			}))
		}

		if vwap := indicator.Last(indicator.VWAP(candles)); indicator.Defined(vwap) {
			price := last.Close
			dist := math.Abs(price - vwap)
			switch {
			case dist <= atr*vwapRejectionATR:
				dir := model.Bullish
				if price < vwap {
					dir = model.Bearish
				}
				res.Signals = append(res.Signals, onLast(signalSpec{
					pattern:    "VWAP Rejection",
					direction:  dir,
					status:     model.StatusReaction,
					confidence: 0.55,
					trigger:    price,
					keyLevels:  map[string]float64{"vwap": vwap},
				}))
			case dist >= atr:
				dir := model.Bearish
				if price > vwap {
					dir = model.Bullish
				}
				res.Signals = append(res.Signals, onLast(signalSpec{
					pattern:    "VWAP Break",
					direction:  dir,
					status:     model.StatusConfirmed,
					confidence: 0.6,
					trigger:    price,
					keyLevels:  map[string]float64{"vwap": vwap},
				}))
			}
		}

		if spread, ok := ribbonSpread(candles); ok && spread <= atr*ribbonATRRatio {
			res.Signals = append(res.Signals, onLast(signalSpec{
				pattern:    "EMA Ribbon Compression",
				direction:  model.Neutral,
				status:     model.StatusCompression,
				confidence: 0.6,
				context:    map[string]any{"spread": spread},
			}))
		}

		closes := indicator.Closes(candles[max(0, n-meanReversionLen):])
		mean, std := average(closes), stdDev(closes)
		if indicator.Defined(mean) && indicator.Defined(std) && std > 0 {
			if dev := math.Abs(last.Close - mean); dev >= std*2 {
				dir := model.Bullish
				if last.Close > mean {
					dir = model.Bearish
				}
				res.Signals = append(res.Signals, onLast(signalSpec{
					pattern:    "Mean Reversion",
					direction:  dir,
					status:     model.StatusSetup,
					confidence: 0.55,
					keyLevels:  map[string]float64{"mean": mean, "deviation": dev},
				}))
			}
		}
	}

	rk := rsiKeltner(in)
	res.Signals = append(res.Signals, rk.Signals...)
	res.Diagnostics = append(res.Diagnostics, rk.Diagnostics...)

	res.Diagnostics = append(res.Diagnostics, model.Diagnostic{
		Scope:  GroupIndicator,
		Status: model.DiagTodo,
		Message: "Additional indicator strategies (Supertrend, ADX, Ichimoku, Delta, OI, Fibonacci, " +
			"OBV, CMF, Hull, Parabolic SAR, Pivot) pending implementation.",
	})
	return res
}

// crossover reports whether fast crossed slow on the last bar.
func crossover(fast, slow []float64) (model.Direction, bool) {
	prevFast, lastFast, ok := indicator.LastDefinedPair(fast)
	if !ok {
		return "", false
	}
	prevSlow, lastSlow, ok := indicator.LastDefinedPair(slow)
	if !ok {
		return "", false
	}
	// Golden cross: fast crosses above slow
	if prevFast <= prevSlow && lastFast > lastSlow {
		return model.Bullish, true
	}
	// Death cross: fast crosses below slow
	if prevFast >= prevSlow && lastFast < lastSlow {
		return model.Bearish, true
	}
	return "", false
}

// ribbonSpread is the distance between the highest and lowest EMA of the
// ribbon on the last bar.
func ribbonSpread(candles []model.Candle) (float64, bool) {
	hi, lo := math.Inf(-1), math.Inf(1)
	for _, length := range ribbonLengths {
		v := indicator.Last(indicator.EMACloses(candles, length))
		if !indicator.Defined(v) {
			return 0, false
		}
		hi = math.Max(hi, v)
		lo = math.Min(lo, v)
	}
	return hi - lo, true
}

const (
	rkPattern       = "RSI + Keltner Intraday (Gold)"
	rkScope         = "RSI+Keltner"
	rkBullThreshold = 55
	rkBearThreshold = 45
	rkLookback      = 150
	rkMaxLoss       = 50
	rkMinMicros     = 1
	rkMaxMicros     = 3
)

// rsiKeltner scans the last 150 bars of a 1-5 minute gold chart for a
// close through a Keltner band on the bar RSI crosses 55 (or 45).
func rsiKeltner(in *Input) Result {
	gold := markethours.IsGold(in.ContractCode)
	intraday := tfbuilder.IsMinuteRange(in.Timeframe, 1, 5)

	switch {
	case gold && !intraday:
		return Result{Diagnostics: []model.Diagnostic{{
			Scope: rkScope, Status: model.DiagTimeframe,
			Message: "RSI + Keltner intraday strategy requires a 1-5 minute chart.",
		}}}
	case in.ContractCode != "" && !gold:
		return Result{Diagnostics: []model.Diagnostic{{
			Scope: rkScope, Status: model.DiagInstrument,
			Message: "RSI + Keltner intraday strategy is limited to gold futures (GC/MGC).",
		}}}
	case !gold:
		return Result{}
	}

	candles := in.Candles
	rsi := indicator.RSISeries(candles, rsiPeriod)
	kc := indicator.Keltner(candles, keltnerPeriod, keltnerMultiplier)
	if countDefined(rsi) < 2 || countDefined(kc.Upper) == 0 {
		return Result{Diagnostics: []model.Diagnostic{{
			Scope: rkScope, Status: model.DiagInsufficientData,
			Message: "Need additional history to evaluate RSI + Keltner intraday strategy.",
		}}}
	}

	var signals []model.Signal
	for i := max(1, len(candles)-rkLookback); i < len(candles); i++ {
		c, prev := candles[i], candles[i-1]
		r, prevR := rsi[i], rsi[i-1]
		if !indicator.Defined(r) || !indicator.Defined(prevR) {
			continue
		}
		upper, lower := kc.Upper[i], kc.Lower[i]

		if prevUpper := kc.Upper[i-1]; indicator.Defined(upper) && indicator.Defined(prevUpper) &&
			prev.Close <= prevUpper && c.Close > upper &&
			prevR < rkBullThreshold && r >= rkBullThreshold {
			signals = append(signals, rkSignal(in, i, model.Bullish, r, kc.Middle[i], upper, lower))
		}
		if prevLower := kc.Lower[i-1]; indicator.Defined(lower) && indicator.Defined(prevLower) &&
			prev.Close >= prevLower && c.Close < lower &&
			prevR > rkBearThreshold && r <= rkBearThreshold {
			signals = append(signals, rkSignal(in, i, model.Bearish, r, kc.Middle[i], upper, lower))
		}
	}
	return Result{Signals: signals}
}

func rkSignal(in *Input, i int, dir model.Direction, rsi, basis, upper, lower float64) model.Signal {
	c := in.Candles[i]
	width := 0.3
	if a := at(in.ATR, i); indicator.Defined(upper) && indicator.Defined(lower) && indicator.Defined(a) && a > 0 {
		width = clamp(math.Abs(upper-lower)/(a*2), 0, 1)
	}
	distance := math.Min(1, math.Abs(rsi-50)/40)
	return in.newSignal(signalSpec{
		pattern:     rkPattern,
		category:    GroupIndicator,
		direction:   dir,
		status:      model.StatusConfirmed,
		confidence:  clamp(0.5+distance*0.3+width*0.2, 0.55, 0.9),
		confirmedAt: c.Time,
		trigger:     c.Close,
		keyLevels: map[string]float64{
			"upperBand": upper,
			"lowerBand": lower,
			"basis":     basis,
			"rsi":       rsi,
		},
		context: map[string]any{
			"maxLoss":        rkMaxLoss,
			"sizeRange":      map[string]int{"min": rkMinMicros, "max": rkMaxMicros},
			"timeframeScope": "1-5m",
		},
	})
}

func countDefined(series []float64) int {
	n := 0
	for _, v := range series {
		if indicator.Defined(v) {
			n++
		}
	}
	return n
}
