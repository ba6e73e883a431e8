package agg

import "signalflow/internal/model"

// LastPrice is the most recent known price for a symbol.
type LastPrice struct {
	Price       float64 `json:"price"`
	TimestampMs int64   `json:"timestamp"`
	Source      string  `json:"source"`
}

// symbolState is everything the aggregator knows about one symbol.
// It is owned exclusively by its registry entry.
type symbolState struct {
	bucket  int64 // open bucket start, epoch ms
	open    *model.Candle
	history []model.Candle

	lastTrade *LastPrice
	lastQuote *LastPrice

	tradeSampled bool
	quoteSampled bool
}

// registry maps symbol -> isolated state record.
type registry struct {
	entries map[string]*symbolState
}

func newRegistry() registry {
	return registry{entries: make(map[string]*symbolState)}
}

// get returns the state for symbol, creating it on first use.
func (r *registry) get(symbol string) *symbolState {
	st, ok := r.entries[symbol]
	if !ok {
		st = &symbolState{}
		r.entries[symbol] = st
	}
	return st
}

func (r *registry) lookup(symbol string) (*symbolState, bool) {
	st, ok := r.entries[symbol]
	return st, ok
}

func (r *registry) symbols() []string {
	out := make([]string, 0, len(r.entries))
	for s := range r.entries {
		out = append(out, s)
	}
	return out
}

// appendHistory appends c and evicts the oldest entries beyond limit.
func (st *symbolState) appendHistory(c model.Candle, limit int) {
	st.history = append(st.history, c)
	if excess := len(st.history) - limit; excess > 0 {
		copy(st.history, st.history[excess:])
		st.history = st.history[:limit]
	}
}

func (st *symbolState) latest() (model.Candle, bool) {
	if len(st.history) == 0 {
		return model.Candle{}, false
	}
	return st.history[len(st.history)-1], true
}
