// Package swing finds local pivot highs and lows over a candle window.
package swing

import "signalflow/internal/model"

// Detect returns confirmed swings in index order.
//
// Bar i is a swing high when no bar in [i-left, i-1] has a high or close
// above bar i's high, and no bar in [i+1, i+right] reaches it (>=). Lows
// are the mirror. A bar that qualifies as both is reported as a high.
// The first left and last right bars can never be swings.
func Detect(candles []model.Candle, left, right int) []model.Swing {
	if len(candles) == 0 || left < 0 || right < 0 {
		return nil
	}
	var out []model.Swing
	for i := left; i < len(candles)-right; i++ {
		cur := candles[i]
		if !cur.Valid() {
			continue
		}
		isHigh, isLow := true, true
		for j := 1; j <= left; j++ {
			prev := candles[i-j]
			if prev.High > cur.High || prev.Close > cur.High {
				isHigh = false
			}
			if prev.Low < cur.Low || prev.Close < cur.Low {
				isLow = false
			}
		}
		for j := 1; j <= right; j++ {
			next := candles[i+j]
			if next.High >= cur.High || next.Close >= cur.High {
				isHigh = false
			}
			if next.Low <= cur.Low || next.Close <= cur.Low {
				isLow = false
			}
		}
		switch {
		case isHigh:
			out = append(out, model.Swing{Type: model.SwingHigh, Index: i, Time: cur.Time, Price: cur.High, Close: cur.Close})
		case isLow:
			out = append(out, model.Swing{Type: model.SwingLow, Index: i, Time: cur.Time, Price: cur.Low, Close: cur.Close})
		}
	}
	return out
}

// Filter returns the swings of type t.
func Filter(swings []model.Swing, t model.SwingType) []model.Swing {
	var out []model.Swing
	for _, s := range swings {
		if s.Type == t {
			out = append(out, s)
		}
	}
	return out
}

// Since returns the swings at or after index from.
func Since(swings []model.Swing, from int) []model.Swing {
	var out []model.Swing
	for _, s := range swings {
		if s.Index >= from {
			out = append(out, s)
		}
	}
	return out
}

// Markers are wick-only fractal pivots, used by the structure detectors.
// Unlike Detect, equal neighbours do not disqualify a pivot, so one bar can
// be both a high and a low marker.
type Markers struct {
	Highs []bool
	Lows  []bool
}

// IsHigh reports whether i is a pivot high marker.
func (m Markers) IsHigh(i int) bool { return i >= 0 && i < len(m.Highs) && m.Highs[i] }

// IsLow reports whether i is a pivot low marker.
func (m Markers) IsLow(i int) bool { return i >= 0 && i < len(m.Lows) && m.Lows[i] }

// HighIndices returns the pivot high indices in ascending order.
func (m Markers) HighIndices() []int { return indices(m.Highs) }

// LowIndices returns the pivot low indices in ascending order.
func (m Markers) LowIndices() []int { return indices(m.Lows) }

func indices(set []bool) []int {
	var out []int
	for i, ok := range set {
		if ok {
			out = append(out, i)
		}
	}
	return out
}

// PivotMarkers flags bar i as a high when no neighbour in [i-left, i+right]
// has a strictly greater high, and as a low when none has a strictly lower low.
func PivotMarkers(candles []model.Candle, left, right int) Markers {
	m := Markers{Highs: make([]bool, len(candles)), Lows: make([]bool, len(candles))}
	for i := left; i < len(candles)-right; i++ {
		cur := candles[i]
		if !cur.Valid() {
			continue
		}
		isHigh, isLow := true, true
		for off := -left; off <= right; off++ {
			if off == 0 {
				continue
			}
			cmp := candles[i+off]
			if !model.Finite(cmp.High) || cmp.High > cur.High {
				isHigh = false
			}
			if !model.Finite(cmp.Low) || cmp.Low < cur.Low {
				isLow = false
			}
			if !isHigh && !isLow {
				break
			}
		}
		m.Highs[i] = isHigh
		m.Lows[i] = isLow
	}
	return m
}

// LastPivotIndex returns, for every index, the most recent pivot at or
// before it, or -1.
func LastPivotIndex(set []bool, n int) []int {
	out := make([]int, n)
	last := -1
	for i := 0; i < n; i++ {
		if i < len(set) && set[i] {
			last = i
		}
		out[i] = last
	}
	return out
}
