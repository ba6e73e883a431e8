package strategy

import (
	"math"

	"signalflow/internal/indicator"
	"signalflow/internal/model"
)

const (
	volumeMinCandles   = 20
	climaxVolumeMult   = 2
	climaxWickATR      = 0.5
	pullbackBars       = 4
	pullbackRefBars    = 6
	pullbackVolumeMult = 0.5
)

type volumeGroup struct{}

func (volumeGroup) Name() string { return GroupVolume }

// Evaluate checks the newest bar for a volume climax and the last four
// bars for a low-volume pullback against the preceding move.
func (volumeGroup) Evaluate(in *Input) Result {
	candles := in.Candles
	n := len(candles)
	if n < volumeMinCandles {
		return Result{Diagnostics: []model.Diagnostic{{
			Scope: GroupVolume, Status: model.DiagInsufficientData,
			Message: "Need 20+ candles for volume studies.",
		}}}
	}

	last := candles[n-1]
	atr := indicator.CurrentATR(candles, in.ATR)
	avgVol := firstPositive(at(in.VolumeMA, n-1), indicator.Mean(in.VolumeMA, n-5, n-1))
	if !model.Finite(atr) || atr <= 0 || !indicator.Defined(avgVol) || avgVol <= 0 {
		return Result{}
	}

	var signals []model.Signal

	upper, lower := last.UpperWick(), last.LowerWick()
	wick := math.Max(upper, lower)
	if last.Volume >= avgVol*climaxVolumeMult && wick >= atr*climaxWickATR {
		dir := model.Bearish
		if lower > upper {
			dir = model.Bullish
		}
		signals = append(signals, in.newSignal(signalSpec{
			pattern:     "Volume Climax",
			category:    GroupVolume,
			direction:   dir,
			status:      model.StatusConfirmed,
			confidence:  math.Min(0.95, last.Volume/(avgVol*2.2)),
			confirmedAt: last.Time,
			trigger:     last.Close,
			keyLevels:   map[string]float64{"high": last.High, "low": last.Low},
			context:     map[string]any{"wick": wick},
		}))
	}

	pb := candles[n-pullbackBars:]
	ref := candles[max(0, n-pullbackBars-pullbackRefBars) : n-pullbackBars]
	var trendMove float64
	if len(ref) > 0 {
		trendMove = pb[0].Close - ref[0].Close
	}
	pbMove := pb[len(pb)-1].Close - pb[0].Close
	vols := make([]float64, len(pb))
	for i, c := range pb {
		vols[i] = c.Volume
	}
	pbVol := average(vols)

	if trendMove*pbMove < 0 && pbVol <= avgVol*pullbackVolumeMult {
		dir := model.Bearish
		if trendMove > 0 {
			dir = model.Bullish
		}
		end := pb[len(pb)-1]
		signals = append(signals, in.newSignal(signalSpec{
			pattern:     "Low Volume Pullback",
			category:    GroupVolume,
			direction:   dir,
			status:      model.StatusDeveloping,
			confidence:  0.6,
			confirmedAt: end.Time,
			trigger:     end.Close,
			keyLevels:   map[string]float64{"start": pb[0].Close, "end": end.Close},
			context:     map[string]any{"pullbackVolume": pbVol, "avgVolume": avgVol},
		}))
	}

	return Result{Signals: signals}
}
