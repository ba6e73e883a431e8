package strategy

import (
	"math"

	"signalflow/internal/indicator"
	"signalflow/internal/model"
)

type candlestickGroup struct{}

func (candlestickGroup) Name() string { return GroupCandlestick }

// Evaluate classifies the last one to three candles.
func (candlestickGroup) Evaluate(in *Input) Result {
	candles := in.Candles
	n := len(candles)
	if n < 3 {
		return Result{Diagnostics: []model.Diagnostic{{
			Scope: GroupCandlestick, Status: model.DiagInsufficientData,
			Message: "Need 3+ candles for candlestick patterns.",
		}}}
	}

	last, prev, prev2 := candles[n-1], candles[n-2], candles[n-3]
	atr := indicator.CurrentATR(candles, in.ATR)
	single := func(pattern string, dir model.Direction, status string, confidence float64) model.Signal {
		return in.newSignal(signalSpec{
			pattern:     pattern,
			category:    GroupCandlestick,
			direction:   dir,
			status:      status,
			confidence:  confidence,
			confirmedAt: last.Time,
			trigger:     last.Close,
			keyLevels:   map[string]float64{"low": last.Low, "high": last.High},
		})
	}

	var signals []model.Signal

	if r := last.Range(); model.Finite(atr) && atr > 0 && r > 0 {
		body := last.Body()
		bodyRatio := body / r
		smallBody := bodyRatio <= 0.3 && body <= atr*0.6
		trend := prev.Close - prev2.Close

		if smallBody && last.LowerWick()/r >= 0.5 && trend < 0 {
			signals = append(signals, single("Hammer", model.Bullish, model.StatusConfirmed, 0.65))
		}
		if smallBody && last.UpperWick()/r >= 0.5 && trend > 0 {
			signals = append(signals, single("Hanging Man", model.Bearish, model.StatusConfirmed, 0.65))
		}
		if bodyRatio <= 0.1 {
			signals = append(signals, single("Doji", model.Neutral, model.StatusSignal, 0.5))
		}
	}

	prevBody := prev.Close - prev.Open
	lastBody := last.Close - last.Open
	if math.Abs(lastBody) > math.Abs(prevBody) && sign(lastBody) != sign(prevBody) &&
		last.Open <= prev.BodyHigh() && last.Close >= prev.BodyLow() {
		dir := model.Bearish
		if lastBody > 0 {
			dir = model.Bullish
		}
		signals = append(signals, in.newSignal(signalSpec{
			pattern:     "Engulfing",
			category:    GroupCandlestick,
			direction:   dir,
			status:      model.StatusConfirmed,
			confidence:  0.7,
			confirmedAt: last.Time,
			trigger:     last.Close,
			keyLevels:   map[string]float64{"engulfOpen": prev.Open, "engulfClose": prev.Close},
		}))
	}

	starRef := atr
	if !model.Finite(starRef) || starRef <= 0 {
		starRef = prev.Range()
	}
	firstBody := prev2.Close - prev2.Open
	smallMiddle := prev.Body() <= starRef*0.3
	star := func(pattern string, dir model.Direction) model.Signal {
		return in.newSignal(signalSpec{
			pattern:     pattern,
			category:    GroupCandlestick,
			direction:   dir,
			status:      model.StatusConfirmed,
			confidence:  0.7,
			confirmedAt: last.Time,
			trigger:     last.Close,
		})
	}
	if firstBody < 0 && smallMiddle && lastBody > 0 && last.Close > prev2.Open {
		signals = append(signals, star("Morning Star", model.Bullish))
	}
	if firstBody > 0 && smallMiddle && lastBody < 0 && last.Close < prev2.Open {
		signals = append(signals, star("Evening Star", model.Bearish))
	}

	return Result{Signals: signals}
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
