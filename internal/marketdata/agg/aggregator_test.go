package agg

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"signalflow/internal/marketdata/bus"
	"signalflow/internal/marketdata/payload"
	"signalflow/internal/model"
)

// base is 2025-11-03 14:30:00 UTC, minute aligned.
const base int64 = 1762180200000

type recorder struct {
	events []bus.Event
}

func (r *recorder) Publish(ev bus.Event) { r.events = append(r.events, ev.Clone()) }

func (r *recorder) count(kind bus.Kind) int {
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func trade(price, qty float64, tsMs int64) []byte {
	return []byte(fmt.Sprintf(`{"price":%v,"volume":%v,"timestamp":%d}`, price, qty, tsMs))
}

func TestAggregator_BasicCandle(t *testing.T) {
	rec := &recorder{}
	agg := New(Config{}, rec)

	agg.HandleTrade("MGCZ5", trade(2400, 1, base+5_000))
	agg.HandleTrade("MGCZ5", trade(2405, 2, base+20_000))
	agg.HandleTrade("MGCZ5", trade(2398, 3, base+50_000))

	if got := len(agg.Snapshot("MGCZ5")); got != 0 {
		t.Fatalf("expected no finalized candle yet, got %d", got)
	}

	// Next minute finalizes exactly one candle
	agg.HandleTrade("MGCZ5", trade(2401, 1, base+65_000))

	snap := agg.Snapshot("MGCZ5")
	if len(snap) != 1 {
		t.Fatalf("expected 1 candle, got %d", len(snap))
	}
	c := snap[0]
	if c.Time != base/1000 {
		t.Errorf("expected time=%d, got %d", base/1000, c.Time)
	}
	if c.Open != 2400 || c.High != 2405 || c.Low != 2398 || c.Close != 2398 {
		t.Errorf("unexpected OHLC %+v", c)
	}
	if c.Volume != 6 {
		t.Errorf("expected volume=6, got %v", c.Volume)
	}
	if !c.Completed {
		t.Error("expected completed=true")
	}
	if rec.count(bus.KindPartial) != 4 {
		t.Errorf("expected 4 partial events, got %d", rec.count(bus.KindPartial))
	}
	if rec.count(bus.KindCandle) != 1 {
		t.Errorf("expected 1 candle event, got %d", rec.count(bus.KindCandle))
	}

	open, ok := agg.OpenCandle("MGCZ5")
	if !ok || open.Time != (base+60_000)/1000 || open.Open != 2401 {
		t.Errorf("unexpected open candle %+v ok=%v", open, ok)
	}
}

func TestAggregator_BucketFloor(t *testing.T) {
	agg := New(Config{}, nil)
	for _, ts := range []int64{base, base + 59_999, base + 60_000, base + 119_999, base + 180_001} {
		agg.HandleTrade("X", trade(10, 1, ts))
	}
	snap := agg.Snapshot("X")
	if len(snap) != 2 {
		t.Fatalf("expected 2 finalized candles, got %d", len(snap))
	}
	for _, c := range snap {
		if c.Time*1000%BucketMs != 0 {
			t.Errorf("candle time %d not minute aligned", c.Time)
		}
	}
	if snap[0].Volume != 2 || snap[1].Volume != 2 {
		t.Errorf("expected 2 ticks per bucket, got %v and %v", snap[0].Volume, snap[1].Volume)
	}
}

func TestAggregator_QuoteShapesWickWithoutVolume(t *testing.T) {
	agg := New(Config{}, nil)
	agg.HandleTrade("MNQZ5", trade(100, 5, base+1_000))
	if err := agg.HandleQuote("MNQZ5", []byte(fmt.Sprintf(`{"bestBid":104,"size":50,"timestamp":%d}`, base+2_000))); err != nil {
		t.Fatalf("unexpected quote error: %v", err)
	}

	open, ok := agg.OpenCandle("MNQZ5")
	if !ok {
		t.Fatal("expected open candle")
	}
	if open.High != 104 {
		t.Errorf("expected quote to lift high to 104, got %v", open.High)
	}
	if open.Close != 104 {
		t.Errorf("expected close=104, got %v", open.Close)
	}
	if open.Volume != 5 {
		t.Errorf("expected quote to add no volume, got %v", open.Volume)
	}
	if open.Source != model.SourceQuote {
		t.Errorf("expected source=quote, got %s", open.Source)
	}
}

func TestAggregator_SweepFinalizesQuietSymbol(t *testing.T) {
	rec := &recorder{}
	agg := New(Config{}, rec)
	agg.HandleTrade("CLZ5", trade(60, 1, base+10_000))

	if n := agg.FinalizeOpenBuckets(time.UnixMilli(base + 59_000)); n != 0 {
		t.Fatalf("bucket still open, expected 0 finalized, got %d", n)
	}
	if n := agg.FinalizeOpenBuckets(time.UnixMilli(base + 60_000)); n != 1 {
		t.Fatalf("expected 1 finalized, got %d", n)
	}
	if got := len(agg.Snapshot("CLZ5")); got != 1 {
		t.Fatalf("expected 1 candle in history, got %d", got)
	}
	if n := agg.FinalizeOpenBuckets(time.UnixMilli(base + 600_000)); n != 0 {
		t.Errorf("expected nothing left to finalize, got %d", n)
	}
	if rec.count(bus.KindCandle) != 1 {
		t.Errorf("expected 1 candle event, got %d", rec.count(bus.KindCandle))
	}
}

func TestAggregator_HistoryCapFIFO(t *testing.T) {
	agg := New(Config{HistoryLimit: 5}, nil)
	for i := int64(0); i < 12; i++ {
		agg.HandleTrade("GCZ5", trade(float64(100+i), 1, base+i*BucketMs))
	}
	snap := agg.Snapshot("GCZ5")
	if len(snap) != 5 {
		t.Fatalf("expected history capped at 5, got %d", len(snap))
	}
	// 11 finalized (0..10), oldest 6 evicted
	if snap[0].Open != 106 {
		t.Errorf("expected oldest kept open=106, got %v", snap[0].Open)
	}
	for i := 1; i < len(snap); i++ {
		if snap[i].Time <= snap[i-1].Time {
			t.Fatalf("history not strictly ascending at %d", i)
		}
	}
}

func TestAggregator_HistoryLimitClamped(t *testing.T) {
	if got := New(Config{HistoryLimit: 50_000}, nil).HistoryLimit(); got != MaxHistoryLimit {
		t.Errorf("expected clamp to %d, got %d", MaxHistoryLimit, got)
	}
	if got := New(Config{}, nil).HistoryLimit(); got != DefaultHistoryLimit {
		t.Errorf("expected default %d, got %d", DefaultHistoryLimit, got)
	}
}

func TestAggregator_SeedRoundTrip(t *testing.T) {
	rec := &recorder{}
	agg := New(Config{}, rec)

	bars := []model.HistoricalBar{
		{Time: base/1000 + 120, Open: 3, High: 4, Low: 2, Close: 3.5, Volume: 10},
		{Time: base / 1000, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10},
		{Time: (base + 60_000), Open: 2, High: 3, Low: 1.5, Close: 2.5, Volume: 10}, // ms, normalized
	}
	if n := agg.SeedHistory("MGCZ5", bars); n != 3 {
		t.Fatalf("expected 3 seeded, got %d", n)
	}

	snap := agg.Snapshot("MGCZ5")
	if len(snap) != 3 {
		t.Fatalf("expected 3 candles, got %d", len(snap))
	}
	for i, want := range []int64{base / 1000, base/1000 + 60, base/1000 + 120} {
		if snap[i].Time != want {
			t.Errorf("candle %d: expected time=%d, got %d", i, want, snap[i].Time)
		}
		if !snap[i].Completed || snap[i].Source != model.SourceHistory {
			t.Errorf("candle %d: expected completed history bar, got %+v", i, snap[i])
		}
	}

	lp, ok := agg.LastPrice("MGCZ5")
	if !ok || lp.Price != 3.5 || lp.Source != "seed" {
		t.Errorf("expected last price 3.5 from seed, got %+v", lp)
	}
	if rec.count(bus.KindSeed) != 1 {
		t.Errorf("expected 1 seed event, got %d", rec.count(bus.KindSeed))
	}
	if len(rec.events[0].Snapshot) != 3 {
		t.Errorf("seed event should carry full snapshot, got %d", len(rec.events[0].Snapshot))
	}
}

func TestAggregator_SeedReplacesOpenBucket(t *testing.T) {
	agg := New(Config{}, nil)
	agg.HandleTrade("MGCZ5", trade(50, 1, base+5_000))
	agg.SeedHistory("MGCZ5", []model.HistoricalBar{{Time: base/1000 - 60, Open: 1, High: 1, Low: 1, Close: 1}})
	if _, ok := agg.OpenCandle("MGCZ5"); ok {
		t.Error("expected open bucket dropped by seed")
	}
}

func TestAggregator_SnapshotIsCopy(t *testing.T) {
	agg := New(Config{}, nil)
	agg.SeedHistory("MGCZ5", []model.HistoricalBar{{Time: 60, Open: 1, High: 1, Low: 1, Close: 1}})
	snap := agg.Snapshot("MGCZ5")
	snap[0].Close = 99
	if agg.Snapshot("MGCZ5")[0].Close != 1 {
		t.Error("snapshot mutation leaked into aggregator history")
	}
}

func TestAggregator_SymbolIsolation(t *testing.T) {
	agg := New(Config{}, nil)
	agg.HandleTrade("A", trade(100, 1, base+1_000))
	before, _ := agg.OpenCandle("A")

	agg.HandleTrade("B", trade(200, 7, base+1_000))
	agg.HandleTrade("B", trade(300, 7, base+61_000))
	agg.FinalizeOpenBuckets(time.UnixMilli(base + 30_000))

	after, _ := agg.OpenCandle("A")
	if before != after {
		t.Errorf("symbol A state changed by symbol B ticks: %+v -> %+v", before, after)
	}
	if len(agg.Snapshot("A")) != 0 {
		t.Error("symbol A should have no finalized candles")
	}
	if len(agg.Snapshot("B")) != 1 {
		t.Error("symbol B should have 1 finalized candle")
	}
}

func TestAggregator_MalformedDropped(t *testing.T) {
	agg := New(Config{}, nil)
	malformed := 0
	agg.OnMalformed = func() { malformed++ }

	err := agg.HandleTrade("MGCZ5", []byte(`{"volume":3}`))
	if !errors.Is(err, payload.ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
	_ = agg.HandleTrade("MGCZ5", []byte(`nope`))

	if malformed != 2 {
		t.Errorf("expected 2 malformed payloads counted, got %d", malformed)
	}
	if _, ok := agg.OpenCandle("MGCZ5"); ok {
		t.Error("malformed payload must not open a candle")
	}
}

func TestAggregator_LateTickDropped(t *testing.T) {
	agg := New(Config{}, nil)
	dropped := 0
	agg.OnDroppedTick = func() { dropped++ }

	agg.HandleTrade("MGCZ5", trade(10, 1, base+70_000))
	agg.HandleTrade("MGCZ5", trade(99, 1, base+10_000))

	if dropped != 1 {
		t.Errorf("expected 1 dropped tick, got %d", dropped)
	}
	open, _ := agg.OpenCandle("MGCZ5")
	if open.High != 10 {
		t.Errorf("late tick mutated open candle: %+v", open)
	}
}

func TestAggregator_LastPriceFallbacks(t *testing.T) {
	agg := New(Config{}, nil)
	if _, ok := agg.LastPrice("none"); ok {
		t.Error("expected no price for unknown symbol")
	}

	agg.HandleQuote("Q", []byte(fmt.Sprintf(`{"bid":7,"timestamp":%d}`, base)))
	lp, _ := agg.LastPrice("Q")
	if lp.Source != model.SourceQuote || lp.Price != 7 {
		t.Errorf("expected quote last price, got %+v", lp)
	}

	agg.HandleTrade("Q", trade(8, 1, base+1_000))
	lp, _ = agg.LastPrice("Q")
	if lp.Source != model.SourceTrade || lp.Price != 8 {
		t.Errorf("expected trade to win over quote, got %+v", lp)
	}
}

func TestAggregator_RunSweeps(t *testing.T) {
	rec := &recorder{}
	agg := New(Config{SweepInterval: 10 * time.Millisecond}, nil)
	fo := bus.NewEventBus(16)
	agg.pub = fo
	events := fo.Subscribe()
	agg.now = func() time.Time { return time.UnixMilli(base + 120_000) }

	in := make(chan Input, 4)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		agg.Run(ctx, in)
		close(done)
	}()

	in <- Input{Symbol: "MGCZ5", Kind: InputTrade, Payload: trade(5, 1, base+1_000)}
	time.Sleep(100 * time.Millisecond)
	cancel()
	<-done

	for {
		select {
		case ev := <-events:
			rec.events = append(rec.events, ev)
			continue
		default:
		}
		break
	}

	if rec.count(bus.KindCandle) != 1 {
		t.Fatalf("expected sweep to finalize 1 candle, got %d", rec.count(bus.KindCandle))
	}
	if len(agg.Snapshot("MGCZ5")) != 1 {
		t.Errorf("expected 1 candle in history")
	}
}

func TestAggregator_SweepCountsOnlyAppended(t *testing.T) {
	rec := &recorder{}
	agg := New(Config{}, rec)
	finalized := 0
	agg.OnFinalized = func(string, model.Candle) { finalized++ }

	agg.HandleTrade("MGCZ5", trade(2400, 1, base+5_000))
	agg.HandleTrade("MNQZ5", trade(20000, 1, base+5_000))

	// Put a tail at the open minute so MGCZ5's bucket cannot be appended
	agg.mu.Lock()
	agg.reg.get("MGCZ5").history = []model.Candle{
		{Time: base / 1000, Open: 2390, High: 2391, Low: 2389, Close: 2390, Completed: true},
	}
	agg.mu.Unlock()

	if n := agg.FinalizeOpenBuckets(time.UnixMilli(base + 120_000)); n != 1 {
		t.Fatalf("expected 1 finalized, got %d", n)
	}
	if rec.count(bus.KindCandle) != 1 || finalized != 1 {
		t.Errorf("expected one candle event and hook call, got %d/%d", rec.count(bus.KindCandle), finalized)
	}
	snap := agg.Snapshot("MGCZ5")
	if len(snap) != 1 || snap[0].Close != 2390 {
		t.Errorf("dropped bucket must not reach history, got %+v", snap)
	}
	if _, ok := agg.OpenCandle("MGCZ5"); ok {
		t.Error("dropped bucket should no longer be open")
	}
}

// reentrant reads aggregator state from inside Publish.
type reentrant struct {
	agg       *Aggregator
	snapshots []int
	partials  int
}

func (r *reentrant) Publish(ev bus.Event) {
	switch ev.Kind {
	case bus.KindCandle:
		r.snapshots = append(r.snapshots, len(r.agg.Snapshot(ev.Symbol)))
	case bus.KindPartial:
		if _, ok := r.agg.OpenCandle(ev.Symbol); ok {
			r.partials++
		}
	case bus.KindSeed:
		r.agg.LastPrice(ev.Symbol)
	}
}

func TestAggregator_PublishOutsideLock(t *testing.T) {
	agg := New(Config{}, nil)
	pub := &reentrant{agg: agg}
	agg.pub = pub
	hooked := 0
	agg.OnFinalized = func(symbol string, c model.Candle) {
		if last, ok := agg.LatestCandle(symbol); ok && last.Time == c.Time {
			hooked++
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		agg.HandleTrade("MGCZ5", trade(2400, 1, base+5_000))
		agg.HandleTrade("MGCZ5", trade(2401, 1, base+65_000))
		agg.FinalizeOpenBuckets(time.UnixMilli(base + 180_000))
		agg.SeedHistory("MNQZ5", []model.HistoricalBar{
			{Time: base / 1000, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10},
		})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher calling back into the aggregator blocked")
	}

	if len(pub.snapshots) != 2 || pub.snapshots[0] != 1 || pub.snapshots[1] != 2 {
		t.Errorf("candle events should see their candle in history, got %v", pub.snapshots)
	}
	if pub.partials != 2 {
		t.Errorf("expected 2 partial events with an open candle, got %d", pub.partials)
	}
	if hooked != 2 {
		t.Errorf("expected finalize hook to see each candle as the tail, got %d", hooked)
	}
}
