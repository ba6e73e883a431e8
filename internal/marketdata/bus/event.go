package bus

import "signalflow/internal/model"

// Kind of aggregator event.
type Kind string

const (
	KindSeed    Kind = "seed"
	KindCandle  Kind = "candle"
	KindPartial Kind = "partial"
)

// Event is what the aggregator publishes. Seed events carry the full
// Snapshot; candle and partial events carry a single Candle.
type Event struct {
	Kind     Kind           `json:"type"`
	Symbol   string         `json:"symbol"`
	Candle   model.Candle   `json:"candle"`
	Snapshot []model.Candle `json:"candles,omitempty"`
}

// Clone returns a deep copy of e.
func (e Event) Clone() Event {
	e.Snapshot = model.CloneCandles(e.Snapshot)
	return e
}

// NewEventBus creates a FanOut for aggregator events with defensive copies.
func NewEventBus(bufSize int) *FanOut[Event] {
	return New[Event](bufSize, Event.Clone)
}
