package indicator

import (
	"math"
	"testing"

	"github.com/markcheno/go-talib"

	"signalflow/internal/model"
)

// ────────────────────────────────────────────────────────────
// Helpers
// ────────────────────────────────────────────────────────────

func bar(t int64, o, h, l, c, v float64) model.Candle {
	return model.Candle{Time: t, Open: o, High: h, Low: l, Close: c, Volume: v, Completed: true}
}

func closesToCandles(closes ...float64) []model.Candle {
	out := make([]model.Candle, len(closes))
	for i, c := range closes {
		out[i] = bar(int64(i+1)*60, c, c+0.5, c-0.5, c, 100)
	}
	return out
}

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f, diff=%.6f)", label, got, want, tol, math.Abs(got-want))
	}
}

// ────────────────────────────────────────────────────────────
// SMA Correctness
// ────────────────────────────────────────────────────────────

func TestSMA_Correctness_Period3(t *testing.T) {
	// SMA after 3: (100+102+104)/3 = 102
	// SMA after 4: (102+104+103)/3 = 103
	// SMA after 5: (104+103+105)/3 = 104
	sma := NewSMA(3)
	prices := []float64{100, 102, 104, 103, 105}
	expected := []float64{0, 0, 102.0, 103.0, 104.0}
	ready := []bool{false, false, true, true, true}

	for i, p := range prices {
		sma.Update(p)
		if sma.Ready() != ready[i] {
			t.Errorf("value %d: Ready()=%v, want %v", i, sma.Ready(), ready[i])
		}
		if ready[i] {
			assertClose(t, "SMA(3)", sma.Value(), expected[i], 1e-9)
		}
	}
}

func TestSMASeries_MatchesTalib(t *testing.T) {
	values := []float64{10, 11, 12, 13, 14, 15, 16, 15, 13, 12, 14, 18}
	got := SMASeries(values, 5)
	want := talib.Sma(values, 5)
	for i := range values {
		if i < 4 {
			if Defined(got[i]) {
				t.Errorf("index %d: expected undefined, got %f", i, got[i])
			}
			continue
		}
		assertClose(t, "SMA(5)", got[i], want[i], 1e-9)
	}
}

// ────────────────────────────────────────────────────────────
// EMA Correctness
// ────────────────────────────────────────────────────────────

func TestEMA_SeededAtFirstFullWindow(t *testing.T) {
	// period 3, multiplier 0.5. Seed is the third value (30), then
	// 40 -> 35, 50 -> 42.5
	got := EMASeries([]float64{10, 20, 30, 40, 50}, 3)
	if Defined(got[0]) || Defined(got[1]) {
		t.Fatalf("expected undefined before index 2, got %v", got[:2])
	}
	assertClose(t, "EMA seed", got[2], 30, 1e-9)
	assertClose(t, "EMA[3]", got[3], 35, 1e-9)
	assertClose(t, "EMA[4]", got[4], 42.5, 1e-9)
}

func TestEMA_SkipsNonFinite(t *testing.T) {
	got := EMASeries([]float64{10, math.NaN(), 20, 30}, 2)
	if Defined(got[1]) {
		t.Error("NaN input must yield undefined output")
	}
	// seed at the second finite value (20), then 30 -> 20 + (10 * 2/3)
	assertClose(t, "EMA seed", got[2], 20, 1e-9)
	assertClose(t, "EMA next", got[3], 20+10*2.0/3.0, 1e-9)
}

func TestEMA_PeriodOneIsUndefined(t *testing.T) {
	for _, v := range EMASeries([]float64{1, 2, 3}, 1) {
		if Defined(v) {
			t.Fatal("period <= 1 must produce no values")
		}
	}
}

// ────────────────────────────────────────────────────────────
// ATR Correctness
// ────────────────────────────────────────────────────────────

func TestATR_WilderSeedAndSmoothing(t *testing.T) {
	candles := []model.Candle{
		bar(60, 10, 11, 9, 10, 1),   // TR n/a
		bar(120, 10, 12, 10, 11, 1), // TR = max(2, 2, 0) = 2
		bar(180, 11, 12, 8, 9, 1),   // TR = max(4, 1, 3) = 4
		bar(240, 9, 10, 9, 10, 1),   // TR = max(1, 1, 0) = 1
		bar(300, 10, 13, 10, 12, 1), // TR = 3
	}
	atr := ATR(candles, 2)

	if len(atr) != len(candles) {
		t.Fatalf("ATR length %d, want %d", len(atr), len(candles))
	}
	if Defined(atr[0]) || Defined(atr[1]) {
		t.Errorf("expected undefined at indices < period, got %v", atr[:2])
	}
	assertClose(t, "ATR[2] seed", atr[2], (2+4)/2.0, 1e-9)
	assertClose(t, "ATR[3]", atr[3], (3*1+1)/2.0, 1e-9)
	assertClose(t, "ATR[4]", atr[4], (2*1+3)/2.0, 1e-9)
}

func TestATR_PositiveOnNonDegenerateData(t *testing.T) {
	var candles []model.Candle
	price := 100.0
	for i := 0; i < 60; i++ {
		price += math.Sin(float64(i)/3) * 2
		candles = append(candles, bar(int64(i)*60, price, price+1, price-1, price+0.2, 10))
	}
	atr := ATR(candles, DefaultATRPeriod)
	for i, v := range atr {
		if i < DefaultATRPeriod {
			if Defined(v) {
				t.Fatalf("index %d: expected undefined", i)
			}
			continue
		}
		if !Defined(v) || v <= 0 {
			t.Fatalf("index %d: expected positive ATR, got %f", i, v)
		}
	}
}

func TestATR_ShortInput(t *testing.T) {
	if got := ATR([]model.Candle{bar(60, 1, 2, 0, 1, 1)}, 14); len(got) != 1 || Defined(got[0]) {
		t.Errorf("single candle: expected one undefined slot, got %v", got)
	}
	if got := ATR(nil, 14); len(got) != 0 {
		t.Errorf("nil: expected empty, got %v", got)
	}
}

func TestLastPositiveAndAverageRange(t *testing.T) {
	series := []float64{math.NaN(), 2, 0, math.NaN()}
	if v, ok := LastPositive(series, 3); !ok || v != 2 {
		t.Errorf("LastPositive = %v,%v want 2,true", v, ok)
	}
	if _, ok := LastPositive(series[:1], 0); ok {
		t.Error("expected no positive value")
	}

	candles := closesToCandles(1, 2, 3)
	assertClose(t, "AverageRange", AverageRange(candles, 50), 1.0, 1e-9)
}

// ────────────────────────────────────────────────────────────
// RSI Correctness
// ────────────────────────────────────────────────────────────

func TestRSI_AllGainsIs100(t *testing.T) {
	rsi := RSISeries(closesToCandles(1, 2, 3, 4, 5, 6), 3)
	for i := 0; i < 3; i++ {
		if Defined(rsi[i]) {
			t.Errorf("index %d: expected undefined", i)
		}
	}
	for i := 3; i < len(rsi); i++ {
		assertClose(t, "RSI all gains", rsi[i], 100, 1e-9)
	}
}

func TestRSI_FlatIs50(t *testing.T) {
	rsi := RSISeries(closesToCandles(5, 5, 5, 5, 5), 3)
	assertClose(t, "RSI flat", rsi[4], 50, 1e-9)
}

func TestRSI_Wilder(t *testing.T) {
	// changes: +2, -1, +1 -> avgGain=1, avgLoss=1/3, RS=3, RSI=75
	// next -2: avgGain=(1*2+0)/3=2/3, avgLoss=(1/3*2+2)/3=8/9
	rsi := RSISeries(closesToCandles(10, 12, 11, 12, 10), 3)
	assertClose(t, "RSI seed", rsi[3], 75, 1e-9)
	rs := (2.0 / 3.0) / (8.0 / 9.0)
	assertClose(t, "RSI smoothed", rsi[4], 100-100/(1+rs), 1e-9)
}

// ────────────────────────────────────────────────────────────
// Bands, VWAP, MACD
// ────────────────────────────────────────────────────────────

func TestBollinger_PopulationStdDev(t *testing.T) {
	// window 2,4,4,4,5,5,7,9: mean 5, population std dev 2
	candles := closesToCandles(2, 4, 4, 4, 5, 5, 7, 9)
	bb := Bollinger(candles, 8, 2)
	assertClose(t, "BB middle", bb.Middle[7], 5, 1e-9)
	assertClose(t, "BB upper", bb.Upper[7], 9, 1e-9)
	assertClose(t, "BB lower", bb.Lower[7], 1, 1e-9)
	if Defined(bb.Middle[6]) {
		t.Error("expected undefined before the window fills")
	}
}

func TestKeltner_BasisPlusMinusATR(t *testing.T) {
	var candles []model.Candle
	for i := 0; i < 30; i++ {
		p := 100 + float64(i%5)
		candles = append(candles, bar(int64(i)*60, p, p+1, p-1, p, 10))
	}
	kc := Keltner(candles, 20, 1.5)
	atr := ATR(candles, 20)
	last := len(candles) - 1
	if !Defined(kc.Middle[last]) {
		t.Fatal("expected a defined basis at the last candle")
	}
	assertClose(t, "KC width", kc.Upper[last]-kc.Lower[last], 2*1.5*atr[last], 1e-9)
	if Defined(kc.Middle[19]) {
		t.Error("ATR(20) is undefined at index 19, so is the channel")
	}
}

func TestVWAP_Cumulative(t *testing.T) {
	candles := []model.Candle{
		bar(60, 10, 12, 9, 9, 0),   // no volume yet
		bar(120, 10, 12, 9, 9, 10), // tp 10
		bar(180, 10, 22, 19, 19, 30),
	}
	v := VWAP(candles)
	if Defined(v[0]) {
		t.Error("expected undefined VWAP before any volume")
	}
	assertClose(t, "VWAP[1]", v[1], 10, 1e-9)
	assertClose(t, "VWAP[2]", v[2], (10*10+20*30)/40.0, 1e-9)
}

func TestMACD_Alignment(t *testing.T) {
	var closes []float64
	for i := 0; i < 60; i++ {
		closes = append(closes, 100+math.Sin(float64(i)/4)*5)
	}
	m := MACD(closesToCandles(closes...), 12, 26, 9)
	if Defined(m.MACD[24]) || !Defined(m.MACD[25]) {
		t.Error("MACD line should start at index 25")
	}
	if Defined(m.Signal[32]) || !Defined(m.Signal[33]) {
		t.Error("signal line should start at index 33")
	}
}

func TestPoints_SkipsUndefined(t *testing.T) {
	candles := closesToCandles(1, 2, 3)
	pts := Points(candles, []float64{math.NaN(), 5, 6})
	if len(pts) != 2 || pts[0].Time != candles[1].Time || pts[1].Value != 6 {
		t.Errorf("unexpected points %+v", pts)
	}
}
