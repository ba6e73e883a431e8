package model

// SwingType marks a pivot as a high or a low.
type SwingType string

const (
	SwingHigh SwingType = "high"
	SwingLow  SwingType = "low"
)

// Swing is a local extremum that dominates its left/right window.
type Swing struct {
	Type  SwingType `json:"type"`
	Index int       `json:"index"`
	Time  int64     `json:"time"`
	Price float64   `json:"price"`
	Close float64   `json:"close"`
}
