package swing

import (
	"testing"

	"signalflow/internal/model"
)

func candle(i int, h, l, c float64) model.Candle {
	return model.Candle{Time: int64(i) * 60, Open: c, High: h, Low: l, Close: c}
}

// zigzag builds closes with a clear peak at index 3 and trough at index 7.
func zigzag() []model.Candle {
	closes := []float64{10, 11, 12, 15, 12, 11, 10, 7, 10, 11, 12}
	out := make([]model.Candle, len(closes))
	for i, c := range closes {
		out[i] = candle(i, c+0.5, c-0.5, c)
	}
	return out
}

func TestDetect_PeakAndTrough(t *testing.T) {
	swings := Detect(zigzag(), 3, 3)
	if len(swings) != 2 {
		t.Fatalf("expected 2 swings, got %d: %+v", len(swings), swings)
	}
	if swings[0].Type != model.SwingHigh || swings[0].Index != 3 || swings[0].Price != 15.5 {
		t.Errorf("unexpected high %+v", swings[0])
	}
	if swings[1].Type != model.SwingLow || swings[1].Index != 7 || swings[1].Price != 6.5 {
		t.Errorf("unexpected low %+v", swings[1])
	}
	if swings[0].Close != 15 {
		t.Errorf("expected close at pivot 15, got %f", swings[0].Close)
	}
}

func TestDetect_MonotonicRampHasNoInteriorPivots(t *testing.T) {
	for _, dir := range []float64{1, -1} {
		var candles []model.Candle
		for i := 0; i < 40; i++ {
			c := 100 + dir*float64(i)
			candles = append(candles, candle(i, c+0.5, c-0.5, c))
		}
		if got := Detect(candles, 3, 3); len(got) != 0 {
			t.Errorf("direction %v: expected no pivots inside a ramp, got %+v", dir, got)
		}
	}
}

func TestDetect_RightSideTieRejects(t *testing.T) {
	candles := zigzag()
	// equal high to the right removes the peak
	candles[5].High = candles[3].High
	for _, s := range Detect(candles, 3, 3) {
		if s.Index == 3 {
			t.Fatal("a right-side equal high must disqualify the pivot")
		}
	}
}

func TestDetect_ShortInput(t *testing.T) {
	if got := Detect(zigzag()[:5], 3, 3); len(got) != 0 {
		t.Errorf("expected nothing for a window shorter than left+right+1, got %+v", got)
	}
	if got := Detect(nil, 3, 3); got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestPivotMarkers_AllowsEqualNeighbours(t *testing.T) {
	candles := []model.Candle{
		candle(0, 10, 9, 9.5),
		candle(1, 12, 9, 11),
		candle(2, 12, 10, 11),
		candle(3, 11, 8, 9),
		candle(4, 10, 9, 9.5),
	}
	m := PivotMarkers(candles, 1, 1)
	if !m.IsHigh(1) || !m.IsHigh(2) {
		t.Errorf("both equal highs should be markers: %v", m.Highs)
	}
	if !m.IsLow(3) {
		t.Errorf("expected low marker at 3: %v", m.Lows)
	}
	if got := m.HighIndices(); len(got) != 2 || got[0] != 1 {
		t.Errorf("unexpected high indices %v", got)
	}
}

func TestLastPivotIndex(t *testing.T) {
	got := LastPivotIndex([]bool{false, true, false, false, true, false}, 6)
	want := []int{-1, 1, 1, 1, 4, 4}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("index %d: got %d want %d (%v)", i, got[i], want[i], got)
		}
	}
}

func TestFilterAndSince(t *testing.T) {
	swings := Detect(zigzag(), 3, 3)
	if len(Filter(swings, model.SwingLow)) != 1 {
		t.Error("expected one low")
	}
	if len(Since(swings, 4)) != 1 {
		t.Error("expected one swing at or after index 4")
	}
}
