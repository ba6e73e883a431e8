package model

// Direction of a zone, signal or action bias.
type Direction string

const (
	Bullish Direction = "bullish"
	Bearish Direction = "bearish"
	Neutral Direction = "neutral"
)

// Zone is a price band anchored in time. Top is always >= Bottom.
// Open zones (Filled=false, Extend=true) run to the right edge.
type Zone struct {
	ID           string    `json:"id"`
	StartTime    int64     `json:"startTime"`
	EndTime      int64     `json:"endTime"`
	Extend       bool      `json:"extend"`
	Top          float64   `json:"top"`
	Bottom       float64   `json:"bottom"`
	Direction    Direction `json:"direction"`
	Filled       bool      `json:"filled"`
	Label        string    `json:"label"`
	IndicatorKey string    `json:"indicatorKey,omitempty"`
	Indicator    string    `json:"indicator,omitempty"`
	Timeframe    string    `json:"timeframe,omitempty"`
	ContractCode string    `json:"contractCode,omitempty"`

	Size        float64 `json:"size,omitempty"`
	ATRMultiple float64 `json:"atrMultiple,omitempty"`
	FillRatio   float64 `json:"fillRatio,omitempty"`
	Touches     int     `json:"touches,omitempty"`
	RetestRatio float64 `json:"retestRatio,omitempty"`
	Retested    bool    `json:"retested,omitempty"`
}

// Valid reports whether the zone has finite bounds with Top >= Bottom.
func (z Zone) Valid() bool {
	return finite(z.Top) && finite(z.Bottom) && z.Top >= z.Bottom
}
