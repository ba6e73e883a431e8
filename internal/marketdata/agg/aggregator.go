package agg

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"signalflow/internal/marketdata/bus"
	"signalflow/internal/marketdata/payload"
	"signalflow/internal/model"
)

const (
	// BucketMs is the candle granularity.
	BucketMs = 60_000

	DefaultHistoryLimit  = 4320
	MaxHistoryLimit      = 10000
	DefaultSweepInterval = 5 * time.Second

	maxSampleBytes = 256
)

// Publisher receives aggregator events. *bus.FanOut[bus.Event] satisfies it.
type Publisher interface {
	Publish(ev bus.Event)
}

// InputKind distinguishes trades from quotes on the input channel.
type InputKind int

const (
	InputTrade InputKind = iota
	InputQuote
)

// Input is one raw market-data payload for a symbol.
type Input struct {
	Symbol  string
	Kind    InputKind
	Payload []byte
}

// Config configures the Aggregator.
type Config struct {
	// HistoryLimit caps finalized candles kept per symbol.
	// Defaults to 4320; values above 10000 are clamped.
	HistoryLimit int

	// SweepInterval is how often Run finalizes elapsed buckets. Defaults to 5s.
	SweepInterval time.Duration
}

func (c *Config) defaults() {
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = DefaultHistoryLimit
	}
	if c.HistoryLimit > MaxHistoryLimit {
		c.HistoryLimit = MaxHistoryLimit
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
}

// Aggregator builds one-minute OHLCV candles from trade and quote ticks and
// keeps a bounded, strictly ascending history per symbol.
type Aggregator struct {
	mu  sync.Mutex
	reg registry

	cfg Config
	pub Publisher
	now func() time.Time

	// Metrics hooks (optional, set externally)
	OnDroppedTick func()
	OnMalformed   func()
	OnFinalized   func(symbol string, c model.Candle)
}

// New creates an Aggregator. pub may be nil.
func New(cfg Config, pub Publisher) *Aggregator {
	cfg.defaults()
	return &Aggregator{
		reg: newRegistry(),
		cfg: cfg,
		pub: pub,
		now: time.Now,
	}
}

// HistoryLimit returns the effective per-symbol cap.
func (a *Aggregator) HistoryLimit() int { return a.cfg.HistoryLimit }

// Run consumes inputs and sweeps elapsed buckets every SweepInterval.
// in may be nil when ticks are delivered through HandleTrade/HandleQuote.
// Blocks until ctx is cancelled. Open buckets are left open on exit: an
// unfinished minute is never marked completed.
func (a *Aggregator) Run(ctx context.Context, in <-chan Input) {
	ticker := time.NewTicker(a.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-in:
			if !ok {
				in = nil
				continue
			}
			switch msg.Kind {
			case InputQuote:
				_ = a.HandleQuote(msg.Symbol, msg.Payload)
			default:
				_ = a.HandleTrade(msg.Symbol, msg.Payload)
			}

		case <-ticker.C:
			a.FinalizeOpenBuckets(a.now())
		}
	}
}

// HandleTrade normalizes a trade payload and folds it into the symbol's candle.
// Malformed payloads are logged once per symbol and returned as *payload.ParseError.
func (a *Aggregator) HandleTrade(symbol string, raw []byte) error {
	tick, err := payload.Trade(raw)
	if err != nil {
		a.malformed(symbol, false, raw, err)
		return err
	}
	a.Ingest(symbol, tick, false)
	return nil
}

// HandleQuote is HandleTrade for quotes: the tick moves high/low/close but
// never adds volume.
func (a *Aggregator) HandleQuote(symbol string, raw []byte) error {
	tick, err := payload.Quote(raw)
	if err != nil {
		a.malformed(symbol, true, raw, err)
		return err
	}
	tick.Quantity = 0
	a.Ingest(symbol, tick, true)
	return nil
}

// Ingest folds an already-normalized tick into the symbol's open bucket.
func (a *Aggregator) Ingest(symbol string, tick model.Tick, quote bool) {
	if symbol == "" || !model.Finite(tick.Price) {
		a.dropped()
		return
	}

	a.mu.Lock()
	events, ok := a.ingest(symbol, tick, quote)
	a.mu.Unlock()

	if !ok {
		a.dropped()
		return
	}
	a.flush(events)
}

// ingest updates the symbol's state and returns the events to publish.
// ok is false for a late tick. Caller holds mu.
func (a *Aggregator) ingest(symbol string, tick model.Tick, quote bool) (events []bus.Event, ok bool) {
	bucket := floorBucket(tick.TimestampMs)
	st := a.reg.get(symbol)

	if st.open != nil && bucket < st.bucket {
		// Late tick for a bucket that is already closed
		return nil, false
	}
	if last, ok := st.latest(); ok && st.open == nil && bucket/1000 < last.Time {
		return nil, false
	}

	lp := &LastPrice{Price: tick.Price, TimestampMs: tick.TimestampMs, Source: model.SourceTrade}
	if quote {
		lp.Source = model.SourceQuote
		st.lastQuote = lp
	} else {
		st.lastTrade = lp
	}

	source := model.SourceTrade
	if quote {
		source = model.SourceQuote
	}

	if st.open != nil && bucket != st.bucket {
		if c, kept := a.finalize(symbol, st); kept {
			events = append(events, bus.Event{Kind: bus.KindCandle, Symbol: symbol, Candle: c})
		}
	}

	if st.open == nil {
		st.bucket = bucket
		if last, ok := st.latest(); ok && last.Time == bucket/1000 {
			// Resume a seeded bar for the current minute
			st.history = st.history[:len(st.history)-1]
			last.Completed = false
			st.open = &last
			a.apply(st.open, tick, source)
		} else {
			st.open = &model.Candle{
				Time:   bucket / 1000,
				Open:   tick.Price,
				High:   tick.Price,
				Low:    tick.Price,
				Close:  tick.Price,
				Volume: tick.Quantity,
				Source: source,
			}
		}
	} else {
		a.apply(st.open, tick, source)
	}
	return append(events, bus.Event{Kind: bus.KindPartial, Symbol: symbol, Candle: *st.open}), true
}

func (a *Aggregator) apply(c *model.Candle, tick model.Tick, source string) {
	c.High = math.Max(c.High, tick.Price)
	c.Low = math.Min(c.Low, tick.Price)
	c.Close = tick.Price
	c.Volume += tick.Quantity
	if source == model.SourceQuote {
		c.Source = source
	}
}

// FinalizeOpenBuckets closes every open bucket whose minute has fully
// elapsed (bucket <= now - 60s). Returns the number of candles appended to
// history; a bucket dropped to keep history ascending is not counted.
func (a *Aggregator) FinalizeOpenBuckets(now time.Time) int {
	cutoff := now.UnixMilli() - BucketMs

	a.mu.Lock()
	var events []bus.Event
	for symbol, st := range a.reg.entries {
		if st.open == nil || st.bucket > cutoff {
			continue
		}
		if c, kept := a.finalize(symbol, st); kept {
			events = append(events, bus.Event{Kind: bus.KindCandle, Symbol: symbol, Candle: c})
		}
	}
	a.mu.Unlock()

	a.flush(events)
	return len(events)
}

// finalize freezes the open candle and appends it to history. It reports
// false when the candle was dropped instead. Caller holds mu.
func (a *Aggregator) finalize(symbol string, st *symbolState) (model.Candle, bool) {
	c := *st.open
	c.Completed = true
	st.open = nil
	st.bucket = 0

	if last, ok := st.latest(); ok && last.Time >= c.Time {
		// Keep history strictly ascending
		slog.Warn("finalized candle not after history tail, dropping",
			"component", "agg", "symbol", symbol, "time", c.Time, "tail", last.Time)
		return c, false
	}
	st.appendHistory(c, a.cfg.HistoryLimit)
	return c, true
}

// SeedHistory atomically replaces the symbol's history with bars, drops any
// open bucket and seeds the last price from the newest bar. Bars are
// sorted ascending, de-duplicated by time (last wins) and trimmed to the cap.
// Returns the number of candles kept.
func (a *Aggregator) SeedHistory(symbol string, bars []model.HistoricalBar) int {
	if symbol == "" || len(bars) == 0 {
		return 0
	}
	candles := normalizeBars(bars)
	if len(candles) == 0 {
		return 0
	}
	if len(candles) > a.cfg.HistoryLimit {
		candles = candles[len(candles)-a.cfg.HistoryLimit:]
	}

	a.mu.Lock()
	st := a.reg.get(symbol)
	st.open = nil
	st.bucket = 0
	st.history = model.CloneCandles(candles)

	last := candles[len(candles)-1]
	st.lastTrade = &LastPrice{Price: last.Close, TimestampMs: last.Time * 1000, Source: "seed"}
	kept := len(st.history)
	a.mu.Unlock()

	a.flush([]bus.Event{{Kind: bus.KindSeed, Symbol: symbol, Snapshot: model.CloneCandles(candles)}})
	return kept
}

// Snapshot returns a copy of the symbol's finalized history, ascending.
func (a *Aggregator) Snapshot(symbol string) []model.Candle {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.reg.lookup(symbol)
	if !ok {
		return []model.Candle{}
	}
	out := model.CloneCandles(st.history)
	if out == nil {
		out = []model.Candle{}
	}
	return out
}

// LatestCandle returns the newest finalized candle.
func (a *Aggregator) LatestCandle(symbol string) (model.Candle, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.reg.lookup(symbol)
	if !ok {
		return model.Candle{}, false
	}
	return st.latest()
}

// OpenCandle returns the in-progress candle, if any.
func (a *Aggregator) OpenCandle(symbol string) (model.Candle, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.reg.lookup(symbol)
	if !ok || st.open == nil {
		return model.Candle{}, false
	}
	return *st.open, true
}

// LastPrice returns the last trade, else the last quote, else the close of
// the newest finalized candle.
func (a *Aggregator) LastPrice(symbol string) (LastPrice, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.reg.lookup(symbol)
	if !ok {
		return LastPrice{}, false
	}
	if st.lastTrade != nil {
		return *st.lastTrade, true
	}
	if st.lastQuote != nil {
		return *st.lastQuote, true
	}
	if c, ok := st.latest(); ok && model.Finite(c.Close) {
		return LastPrice{Price: c.Close, TimestampMs: c.Time * 1000, Source: model.SourceCandle}, true
	}
	return LastPrice{}, false
}

// Symbols lists every symbol the aggregator has state for.
func (a *Aggregator) Symbols() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reg.symbols()
}

// flush publishes events and runs the finalize hook. Called without mu so
// subscribers and hooks may call back into the aggregator.
func (a *Aggregator) flush(events []bus.Event) {
	for _, ev := range events {
		if a.pub != nil {
			a.pub.Publish(ev)
		}
		if ev.Kind == bus.KindCandle && a.OnFinalized != nil {
			a.OnFinalized(ev.Symbol, ev.Candle)
		}
	}
}

func (a *Aggregator) dropped() {
	if a.OnDroppedTick != nil {
		a.OnDroppedTick()
	}
}

// malformed logs the first bad payload per symbol and kind, then stays quiet.
func (a *Aggregator) malformed(symbol string, quote bool, raw []byte, err error) {
	if a.OnMalformed != nil {
		a.OnMalformed()
	}

	a.mu.Lock()
	st := a.reg.get(symbol)
	first := false
	if quote && !st.quoteSampled {
		st.quoteSampled, first = true, true
	} else if !quote && !st.tradeSampled {
		st.tradeSampled, first = true, true
	}
	a.mu.Unlock()

	if !first {
		return
	}
	sample := raw
	if len(sample) > maxSampleBytes {
		sample = sample[:maxSampleBytes]
	}
	kind := "trade"
	if quote {
		kind = "quote"
	}
	slog.Warn("unable to normalize payload",
		"component", "agg", "symbol", symbol, "kind", kind, "error", err, "sample", string(sample))
}

func floorBucket(tsMs int64) int64 {
	b := tsMs / BucketMs * BucketMs
	if tsMs < 0 && tsMs%BucketMs != 0 {
		b -= BucketMs
	}
	return b
}

// normalizeBars converts backfill bars into completed candles sorted by time.
func normalizeBars(bars []model.HistoricalBar) []model.Candle {
	out := make([]model.Candle, 0, len(bars))
	for _, b := range bars {
		ts := b.Time
		if ts > 10_000_000_000 {
			ts /= 1000
		}
		c := model.Candle{
			Time:      ts,
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
			Completed: b.Completed == nil || *b.Completed,
			Source:    b.Source,
		}
		if c.Source == "" {
			c.Source = model.SourceHistory
		}
		if !model.Finite(c.Volume) {
			c.Volume = 0
		}
		if ts <= 0 || !c.Valid() {
			continue
		}
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Time < out[j].Time })

	// Drop duplicate timestamps, keeping the last occurrence
	dedup := out[:0]
	for i, c := range out {
		if i+1 < len(out) && out[i+1].Time == c.Time {
			continue
		}
		dedup = append(dedup, c)
	}
	return dedup
}
