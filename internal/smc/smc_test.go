package smc

import (
	"math"
	"strconv"
	"strings"
	"testing"
	"time"

	"signalflow/internal/markethours"
	"signalflow/internal/model"
)

const baseTime int64 = 1_700_000_000

func doji(i int, c float64) model.Candle {
	return model.Candle{Time: baseTime + int64(i)*60, Open: c, High: c + 0.5, Low: c - 0.5, Close: c, Volume: 100}
}

// wave oscillates 100..102..98 with period 8: pivot highs (102.5) at
// 2, 10, 18, ... and pivot lows (97.5) at 6, 14, 22, ...
func wave(n int) []model.Candle {
	steps := []float64{100, 101, 102, 101, 100, 99, 98, 99}
	out := make([]model.Candle, n)
	for i := range out {
		out[i] = doji(i, steps[i%len(steps)])
	}
	return out
}

func appendCloses(candles []model.Candle, closes ...float64) []model.Candle {
	for _, c := range closes {
		candles = append(candles, doji(len(candles), c))
	}
	return candles
}

// upBreak is a 20-bar range, a small bearish bar at 21 and a bullish
// impulse at 22 that closes well above the pivot high at 18.
func upBreak() []model.Candle {
	candles := appendCloses(wave(20), 100)
	candles = append(candles,
		model.Candle{Time: baseTime + 21*60, Open: 101.5, High: 102, Low: 100.5, Close: 101, Volume: 100},
		model.Candle{Time: baseTime + 22*60, Open: 101, High: 104.5, Low: 100.5, Close: 104, Volume: 100},
	)
	return appendCloses(candles, 105, 106)
}

func TestFairValueGaps_SingleBullishGap(t *testing.T) {
	var candles []model.Candle
	for i := 0; i < 15; i++ {
		candles = append(candles, model.Candle{Time: baseTime + int64(i)*60, Open: 99.5, High: 100, Low: 99, Close: 99.5})
	}
	candles = append(candles,
		model.Candle{Time: baseTime + 15*60, Open: 100, High: 110.5, Low: 99.5, Close: 110},
		model.Candle{Time: baseTime + 16*60, Open: 110.2, High: 111, Low: 110, Close: 110.8},
	)

	zones := FairValueGaps(candles)
	if len(zones) != 1 {
		t.Fatalf("expected exactly one gap, got %d: %+v", len(zones), zones)
	}
	z := zones[0]
	if z.Bottom != 100 || z.Top != 110 || z.Direction != model.Bullish {
		t.Errorf("unexpected gap %+v", z)
	}
	if z.Filled || !z.Extend {
		t.Error("gap followed only by a bullish candle must stay open")
	}
	if z.StartTime != candles[15].Time || z.IndicatorKey != KeyFairValueGap {
		t.Errorf("unexpected metadata %+v", z)
	}
}

func TestFairValueGaps_FilledByOpposingBody(t *testing.T) {
	var candles []model.Candle
	for i := 0; i < 15; i++ {
		candles = append(candles, model.Candle{Time: baseTime + int64(i)*60, Open: 99.5, High: 100, Low: 99, Close: 99.5})
	}
	candles = append(candles,
		model.Candle{Time: baseTime + 15*60, Open: 100, High: 110.5, Low: 99.5, Close: 110},
		model.Candle{Time: baseTime + 16*60, Open: 110.2, High: 111, Low: 110, Close: 110.8},
		// bullish candle inside the gap is ignored
		model.Candle{Time: baseTime + 17*60, Open: 104, High: 109, Low: 103, Close: 108},
		// bearish body covering 60% of the band fills it
		model.Candle{Time: baseTime + 18*60, Open: 109, High: 109.5, Low: 102.5, Close: 103},
	)
	zones := FairValueGaps(candles)
	if len(zones) == 0 {
		t.Fatal("expected a gap")
	}
	z := zones[0]
	if !z.Filled || z.Extend {
		t.Fatalf("expected filled gap, got %+v", z)
	}
	if z.EndTime != candles[18].Time {
		t.Errorf("expected fill at the bearish candle, got %d", z.EndTime)
	}
	if math.Abs(z.FillRatio-0.6) > 1e-9 {
		t.Errorf("expected fill ratio 0.6, got %v", z.FillRatio)
	}
}

func TestStructureBreaks_BOSWithoutPriorTrend(t *testing.T) {
	candles := upBreak()
	signals := StructureBreaks(candles)
	if len(signals) != 1 {
		t.Fatalf("expected a single BOS, got %+v", signals)
	}
	s := signals[0]
	if s.Pattern != PatternBOS || s.Direction != model.Bullish {
		t.Errorf("expected bullish BOS, got %s %s", s.Direction, s.Pattern)
	}
	if s.ConfirmedAt != candles[22].Time || s.KeyLevels["trigger"] != 102.5 {
		t.Errorf("unexpected break %+v", s)
	}
}

func TestStructureBreaks_CHOCHAfterBearishTrend(t *testing.T) {
	candles := appendCloses(wave(20), 100, 99, 96, 97, 98, 99, 100, 101, 102, 103, 104)
	signals := StructureBreaks(candles)

	var patterns []string
	for _, s := range signals {
		patterns = append(patterns, string(s.Direction)+" "+s.Pattern)
	}
	want := []string{"bearish BOS", "bullish BOS", "bullish CHOCH"}
	if strings.Join(patterns, ",") != strings.Join(want, ",") {
		t.Fatalf("got %v, want %v", patterns, want)
	}
	if signals[0].ConfirmedAt != candles[22].Time {
		t.Errorf("bearish break should land on bar 22")
	}
	choch := signals[2]
	wantID := "choch-bull-" + strconv.FormatInt(candles[18].Time, 10) + "-" + strconv.FormatInt(candles[29].Time, 10)
	if choch.ID != wantID {
		t.Errorf("choch id = %s, want %s", choch.ID, wantID)
	}
}

func TestOrderBlocks_BullishBlockBeforeImpulse(t *testing.T) {
	candles := upBreak()
	zones := OrderBlocks(candles)
	if len(zones) != 1 {
		t.Fatalf("expected one order block, got %+v", zones)
	}
	z := zones[0]
	if z.Direction != model.Bullish || z.Label != "Bullish OB" {
		t.Errorf("unexpected block %+v", z)
	}
	if z.Top != 101.5 || z.Bottom != 101 || z.StartTime != candles[21].Time {
		t.Errorf("block should be the bearish body at bar 21, got %+v", z)
	}
	if z.Filled || !z.Extend {
		t.Error("price never came back, block must stay open")
	}
}

func TestBreakerBlocks_FlipsInvalidatedBlock(t *testing.T) {
	candles := upBreak()
	// close back below the bullish block bottom, then retest from below
	candles = appendCloses(candles, 103, 102, 100)
	candles = append(candles, model.Candle{Time: baseTime + int64(len(candles))*60, Open: 101.4, High: 101.8, Low: 100.6, Close: 100.9, Volume: 100})

	zones := BreakerBlocks(candles)
	if len(zones) != 1 {
		t.Fatalf("expected one breaker, got %+v", zones)
	}
	z := zones[0]
	if z.Direction != model.Bearish || z.Label != "Breaker Block" {
		t.Errorf("unexpected breaker %+v", z)
	}
	if z.StartTime != candles[27].Time {
		t.Errorf("breaker should start at the invalidating close, got %d", z.StartTime)
	}
	if !z.Filled || !z.Retested || z.RetestRatio < 0.3 {
		t.Errorf("expected bearish retest, got %+v", z)
	}
}

func TestLiquiditySweeps_WickThroughPivotHigh(t *testing.T) {
	candles := wave(20)
	candles = append(candles, model.Candle{Time: baseTime + 20*60, Open: 101, High: 102.7, Low: 100.8, Close: 101.2, Volume: 100})
	candles = appendCloses(candles, 101, 100, 99)

	signals := LiquiditySweeps(candles)
	if len(signals) != 2 {
		t.Fatalf("expected two sweeps (pivots 2 and 10), got %+v", signals)
	}
	s := signals[0]
	if s.Direction != model.Bearish || s.Pattern != PatternSweep {
		t.Errorf("unexpected sweep %+v", s)
	}
	if s.ConfirmedAt != candles[20].Time || s.KeyLevels["swing"] != 102.5 {
		t.Errorf("unexpected sweep levels %+v", s)
	}
	if s.Context["sweepIndex"] != 20 {
		t.Errorf("expected sweep index 20, got %v", s.Context["sweepIndex"])
	}
}

func TestEqualLevels_ClustersPivotHighs(t *testing.T) {
	zones := EqualLevels(wave(40), SideHigh)
	if len(zones) != 1 {
		t.Fatalf("expected one equal-highs zone, got %+v", zones)
	}
	z := zones[0]
	if z.Touches != 3 || z.Direction != model.Bearish || !z.Extend {
		t.Errorf("unexpected zone %+v", z)
	}
	if math.Abs((z.Top+z.Bottom)/2-102.5) > 1e-9 || math.Abs(z.Top-z.Bottom-0.3) > 1e-9 {
		t.Errorf("expected 0.3 band centred on 102.5, got %v..%v", z.Bottom, z.Top)
	}
}

func easternCandles(start time.Time, step time.Duration, n int, price func(i int) (float64, float64)) []model.Candle {
	out := make([]model.Candle, n)
	for i := range out {
		c, v := price(i)
		out[i] = model.Candle{
			Time:   start.Add(time.Duration(i) * step).Unix(),
			Open:   c,
			High:   c + 0.5,
			Low:    c - 0.5,
			Close:  c,
			Volume: v,
		}
	}
	return out
}

func TestKillzones_GoldNarrowerNewYork(t *testing.T) {
	start := time.Date(2025, 6, 10, 1, 0, 0, 0, markethours.Eastern)
	candles := easternCandles(start, 5*time.Minute, 133, func(i int) (float64, float64) { return 100 + float64(i%5), 100 })

	check := func(code string, nyEnd string) {
		zones := Killzones(candles, code)
		if len(zones) != 2 {
			t.Fatalf("%s: expected two killzones, got %+v", code, zones)
		}
		london, ny := zones[0], zones[1]
		if london.Label != "London Killzone" || markethours.EasternClock(london.StartTime).Minutes != 120 {
			t.Errorf("%s: unexpected london zone %+v", code, london)
		}
		end := time.Unix(ny.EndTime, 0).In(markethours.Eastern).Format("15:04")
		if end != nyEnd {
			t.Errorf("%s: new york window should end at %s, got %s", code, nyEnd, end)
		}
		if !strings.HasPrefix(ny.ID, "killzone-new-york-killzone-") {
			t.Errorf("unexpected id %s", ny.ID)
		}
	}
	check("ESZ5", "10:55")
	check("MGCZ5", "09:55")
}

func TestKillzones_FallsBackToDayRange(t *testing.T) {
	start := time.Date(2025, 6, 10, 1, 0, 0, 0, markethours.Eastern)
	candles := easternCandles(start, 5*time.Minute, 133, func(i int) (float64, float64) { return 100 + float64(i%5), 100 })
	london := markethours.KillzoneWindows("ESZ5")[0]
	blanked := 0
	for i := range candles {
		if london.Contains(markethours.EasternClock(candles[i].Time).Minutes) {
			candles[i].High, candles[i].Low = math.NaN(), math.NaN()
			blanked++
		}
	}
	if blanked == 0 {
		t.Fatal("fixture has no candles in the first window")
	}

	zones := Killzones(candles, "ESZ5")
	if len(zones) != 2 {
		t.Fatalf("expected two killzones, got %+v", zones)
	}
	z := zones[0]
	if z.Label != london.Label {
		t.Fatalf("expected %s first, got %+v", london.Label, z)
	}
	if z.Top != 104.5 || z.Bottom != 99.5 {
		t.Errorf("expected day range 99.5..104.5, got %v..%v", z.Bottom, z.Top)
	}
}

func TestOpeningRange_OneBreakoutPerDirection(t *testing.T) {
	start := time.Date(2025, 6, 10, 9, 0, 0, 0, markethours.Eastern)
	candles := easternCandles(start, time.Minute, 121, func(i int) (float64, float64) {
		switch i {
		case 75, 90: // 10:15 and 10:30
			return 102, 1000
		}
		return 100, 100
	})

	zones, signals := OpeningRange(candles)
	if len(zones) != 1 || zones[0].Top != 100.5 || zones[0].Bottom != 99.5 {
		t.Fatalf("unexpected opening range %+v", zones)
	}
	if len(signals) != 1 {
		t.Fatalf("expected one breakout, got %+v", signals)
	}
	if signals[0].Direction != model.Bullish || signals[0].ConfirmedAt != candles[75].Time {
		t.Errorf("unexpected breakout %+v", signals[0])
	}
}

func TestBuildIndicatorPayload_Diagnostics(t *testing.T) {
	candles := wave(40)
	selections := []string{"Moving Average Cross", "VWAP Rejection", "VWAP Break", "Gann Fan", "Breaker Block"}
	p := BuildIndicatorPayload(selections, candles, "1m", model.Contract{Code: "MNQZ5"})

	want := []model.Diagnostic{
		{Name: "Moving Average Cross", Status: model.DiagOK, Message: "Applied (2 series)"},
		{Name: "VWAP Rejection", Status: model.DiagOK, Message: "Applied (1 series)"},
		{Name: "VWAP Break", Status: model.DiagOK, Message: "Overlay active (shared)"},
		{Name: "Gann Fan", Status: model.DiagTodo, Message: "Not implemented yet"},
		{Name: "Breaker Block", Status: model.DiagPending, Message: "Needs 50 bars"},
	}
	if len(p.Diagnostics) != len(want) {
		t.Fatalf("got %d diagnostics, want %d: %+v", len(p.Diagnostics), len(want), p.Diagnostics)
	}
	for i := range want {
		if p.Diagnostics[i] != want[i] {
			t.Errorf("diagnostic %d = %+v, want %+v", i, p.Diagnostics[i], want[i])
		}
	}
	if len(p.Series) != 3 {
		t.Errorf("expected ema-9, ema-21 and vwap lines, got %d", len(p.Series))
	}
}

func TestBuildIndicatorPayload_EmptyWindow(t *testing.T) {
	p := BuildIndicatorPayload([]string{"Order Block"}, nil, "1m", model.Contract{})
	if len(p.Diagnostics) != 1 || p.Diagnostics[0].Status != model.DiagIdle {
		t.Fatalf("expected idle diagnostic, got %+v", p.Diagnostics)
	}
	if len(p.Zones) != 0 || len(p.Signals) != 0 || len(p.Series) != 0 {
		t.Error("empty window must not produce overlays")
	}
}

func TestBuildIndicatorPayload_AnnotatesZonesAndSignals(t *testing.T) {
	candles := upBreak()
	for len(candles) < 30 {
		candles = appendCloses(candles, 106)
	}
	p := BuildIndicatorPayload([]string{"Order Block", "Break of Structure"}, candles, "1m", model.Contract{Code: "MNQZ5"})
	if len(p.Zones) == 0 || len(p.Signals) == 0 {
		t.Fatalf("expected zones and signals, got %+v", p)
	}
	for _, z := range p.Zones {
		if z.Indicator != "Order Block" || z.Timeframe != "1m" || z.ContractCode != "MNQZ5" || z.Top < z.Bottom {
			t.Errorf("zone not annotated: %+v", z)
		}
	}
	for _, s := range p.Signals {
		if s.Indicator != "Break of Structure" || s.IndicatorKey != KeyStructure || s.Confidence < 0 || s.Confidence > 1 {
			t.Errorf("signal not annotated: %+v", s)
		}
	}
}
