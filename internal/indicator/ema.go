package indicator

// EMA calculates Exponential Moving Average.
// The average is seeded with the value at which the window first fills
// (the period-th input), then smoothed with multiplier 2/(period+1).
type EMA struct {
	period     int
	multiplier float64
	current    float64
	count      int
}

// NewEMA creates a new EMA indicator with the given period.
func NewEMA(period int) *EMA {
	return &EMA{
		period:     period,
		multiplier: 2.0 / float64(period+1),
	}
}

func (e *EMA) Name() string { return "EMA" }

func (e *EMA) Update(v float64) {
	e.count++
	if e.count <= e.period {
		e.current = v
		return
	}
	e.current = (v-e.current)*e.multiplier + e.current
}

func (e *EMA) Value() float64 { return e.current }
func (e *EMA) Ready() bool    { return e.period > 1 && e.count >= e.period }

// Reset clears the EMA state for reuse.
func (e *EMA) Reset() {
	e.current = 0
	e.count = 0
}

// EMASeries returns the EMA of values. Non-finite inputs are skipped and
// do not count towards the seed.
func EMASeries(values []float64, period int) []float64 {
	if period <= 1 {
		return undefinedSeries(len(values))
	}
	return Run(NewEMA(period), values)
}
