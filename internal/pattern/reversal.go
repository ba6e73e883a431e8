package pattern

import (
	"math"

	"signalflow/internal/model"
)

const (
	high = model.SwingHigh
	low  = model.SwingLow
)

func detectHeadAndShoulders(in *input) []model.Signal {
	return headAndShoulders(in, false)
}

func detectInverseHeadAndShoulders(in *input) []model.Signal {
	return headAndShoulders(in, true)
}

// headAndShoulders scans five alternating swings. The regular form is
// high-low-high-low-high with a bearish neckline break; inverse is the mirror.
func headAndShoulders(in *input, inverse bool) []model.Signal {
	var out []model.Signal
	p := in.profile
	for i := 2; i < len(in.swings)-2; i++ {
		w := in.swings[i-2 : i+3]
		if inverse {
			if !sequence(w, low, high, low, high, low) {
				continue
			}
		} else if !sequence(w, high, low, high, low, high) {
			continue
		}
		leftShoulder, leftTrough, head, rightTrough, rightShoulder := w[0], w[1], w[2], w[3], w[4]

		diffLeft := math.Abs(pctDiff(head.Price, leftShoulder.Price))
		diffRight := math.Abs(pctDiff(head.Price, rightShoulder.Price))
		if diffLeft < p.HeadShoulderDiffMin || diffRight < p.HeadShoulderDiffMin {
			continue
		}
		if diffLeft > p.HeadShoulderDiffMax*2 || diffRight > p.HeadShoulderDiffMax*2 {
			continue
		}

		neckline := (leftTrough.Price + rightTrough.Price) / 2
		idx := in.find(breakout{
			from:    rightShoulder.Index + 1,
			level:   neckline,
			atrMult: 1,
			volMult: p.HeadShoulderVolumeMultiplier,
			above:   inverse,
		})
		if idx < 0 {
			continue
		}

		leftDist := math.Abs(float64(head.Index - leftShoulder.Index))
		rightDist := math.Abs(float64(rightShoulder.Index - head.Index))
		symmetry := 1 - math.Min(leftDist, rightDist)/math.Max(math.Max(leftDist, rightDist), 1)
		confidence := clamp((diffLeft+diffRight)/(p.HeadShoulderDiffMin*3)*0.6+symmetry*0.3, 0.5, 0.95)

		name, dir := "Head and Shoulders", model.Bearish
		if inverse {
			name, dir = "Inverse Head and Shoulders", model.Bullish
		}
		sig, ok := in.signal(formation{
			pattern:   name,
			direction: dir,
			index:     idx,
			keyLevels: map[string]float64{
				"neckline":      neckline,
				"head":          head.Price,
				"leftShoulder":  leftShoulder.Price,
				"rightShoulder": rightShoulder.Price,
			},
			context: map[string]any{
				"leftShoulderTime":  leftShoulder.Time,
				"headTime":          head.Time,
				"rightShoulderTime": rightShoulder.Time,
			},
			confidence: confidence,
		})
		if ok {
			out = append(out, sig)
		}
	}
	return out
}

func detectDoubleTop(in *input) []model.Signal {
	return double(in, true)
}

func detectDoubleBottom(in *input) []model.Signal {
	return double(in, false)
}

// double scans three alternating swings whose outer extremes match within
// tolerance, confirmed by a close 0.6 ATR through the middle swing on 1.2x
// average volume.
func double(in *input, top bool) []model.Signal {
	var out []model.Signal
	tolerance := in.profile.DoubleBottomTolerance
	if top {
		tolerance = in.profile.DoubleTopTolerance
	}
	for i := 2; i < len(in.swings); i++ {
		w := in.swings[i-2 : i+1]
		if top {
			if !sequence(w, high, low, high) {
				continue
			}
		} else if !sequence(w, low, high, low) {
			continue
		}
		first, middle, second := w[0], w[1], w[2]

		diff := math.Abs(pctDiff(second.Price, first.Price))
		if diff > tolerance {
			continue
		}
		idx := in.find(breakout{
			from:    second.Index + 1,
			level:   middle.Price,
			atrMult: 0.6,
			volMult: 1.2,
			above:   !top,
		})
		if idx < 0 {
			continue
		}
		confidence := clamp(1-diff/(tolerance+1e-6), 0.5, 0.9)

		s := formation{index: idx, confidence: confidence}
		if top {
			s.pattern, s.direction = "Double Top", model.Bearish
			s.keyLevels = map[string]float64{"resistance": (first.Price + second.Price) / 2, "trigger": middle.Price}
			s.context = map[string]any{"firstHighTime": first.Time, "secondHighTime": second.Time}
		} else {
			s.pattern, s.direction = "Double Bottom", model.Bullish
			s.keyLevels = map[string]float64{"support": (first.Price + second.Price) / 2, "trigger": middle.Price}
			s.context = map[string]any{"firstLowTime": first.Time, "secondLowTime": second.Time}
		}
		if sig, ok := in.signal(s); ok {
			out = append(out, sig)
		}
	}
	return out
}
