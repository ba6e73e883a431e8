package model

// Tick is a normalized trade or quote update.
// Quotes carry Quantity 0 so they shape wicks without adding volume.
type Tick struct {
	Price       float64 `json:"price"`
	Quantity    float64 `json:"quantity"`
	TimestampMs int64   `json:"timestampMs"`
}

// HistoricalBar is one bar returned by a backfill provider.
// Time is epoch seconds; Completed defaults to true when absent upstream.
type HistoricalBar struct {
	Time      int64   `json:"time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Completed *bool   `json:"completed,omitempty"`
	Source    string  `json:"source,omitempty"`
}
